package normalize

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/daystats/internal/domain"
)

const twoDayPayload = `{
  "bucket": [
    {
      "startTimeMillis": "1704067200000",
      "endTimeMillis": "1704153600000",
      "dataset": [
        {"dataSourceId": "derived:com.google.step_count.delta", "point": [
          {"dataTypeName": "com.google.step_count.delta", "value": [{"intVal": 8123}]}
        ]},
        {"dataSourceId": "derived:com.google.activity.summary", "point": [
          {"dataTypeName": "com.google.activity.summary", "value": [{"intVal": 7}, {"intVal": 1800000}, {"intVal": 3}]},
          {"dataTypeName": "com.google.activity.summary", "value": [{"intVal": 7}, {"intVal": 600000}, {"intVal": 1}]},
          {"dataTypeName": "com.google.activity.summary", "value": [{"intVal": 72}, {"intVal": 25200000}, {"intVal": 1}]},
          {"dataTypeName": "com.google.activity.summary", "value": [{"intVal": 5}, {"intVal": 999}, {"intVal": 1}]}
        ]}
      ]
    },
    {
      "startTimeMillis": 1704153600000,
      "endTimeMillis": 1704240000000,
      "dataset": [
        {"point": []},
        {"point": []}
      ]
    }
  ]
}`

func TestNormalizeExtractsStepsAndActivities(t *testing.T) {
	n := New(domain.DefaultActivityCatalog())

	samples, err := n.Normalize([]byte(twoDayPayload))
	require.NoError(t, err)
	require.Len(t, samples, 2)

	first := samples[0]
	require.Equal(t, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), first.Day)
	require.NotNil(t, first.Steps)
	require.EqualValues(t, 8123, *first.Steps)
	require.EqualValues(t, 1704067200000, first.StartMillis)
	require.EqualValues(t, 1704153600000, first.EndMillis)
	require.Equal(t, map[string]int64{
		domain.ActivityWalking:  2400000,
		domain.ActivitySleeping: 25200000,
	}, first.Activities)

	second := samples[1]
	require.Equal(t, time.Date(2024, time.January, 2, 0, 0, 0, 0, time.UTC), second.Day)
	require.Nil(t, second.Steps)
	require.Empty(t, second.Activities)
}

func TestNormalizeUsesInjectedCatalog(t *testing.T) {
	n := New(domain.ActivityCatalog{5: "tilting"})

	samples, err := n.Normalize([]byte(twoDayPayload))
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"tilting": 999}, samples[0].Activities)
}

func TestNormalizeDayKeyIsUTCMidnight(t *testing.T) {
	// 2024-03-10T23:30:00-05:00 is 2024-03-11T04:30:00Z
	start := time.Date(2024, time.March, 10, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))
	raw := `{"bucket":[{"startTimeMillis":"` + itoa(start.UnixMilli()) + `","endTimeMillis":"` + itoa(start.Add(24*time.Hour).UnixMilli()) + `","dataset":[]}]}`

	samples, err := New(nil).Normalize([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, time.March, 11, 0, 0, 0, 0, time.UTC), samples[0].Day)
}

func TestNormalizePlaceholderFallback(t *testing.T) {
	n := New(domain.DefaultActivityCatalog(), WithPlaceholders(true))

	for range 50 {
		samples, err := n.Normalize([]byte(twoDayPayload))
		require.NoError(t, err)

		// real data is never replaced
		require.EqualValues(t, 8123, *samples[0].Steps)
		require.Len(t, samples[0].Activities, 2)

		empty := samples[1]
		require.NotNil(t, empty.Steps)
		require.GreaterOrEqual(t, *empty.Steps, int64(PlaceholderStepsMin))
		require.LessOrEqual(t, *empty.Steps, int64(PlaceholderStepsMax))

		require.Len(t, empty.Activities, 4)
		hour := int64(time.Hour / time.Millisecond)
		assertWithin(t, empty.Activities, domain.ActivitySleeping, 6*hour, 8*hour)
		assertWithin(t, empty.Activities, domain.ActivityWalking, hour/6, 2*hour)
		assertWithin(t, empty.Activities, domain.ActivityStill, 2*hour, 8*hour)
		assertWithin(t, empty.Activities, domain.ActivityInVehicle, hour/6, 2*hour)
	}
}

func TestNormalizePlaceholderUsesInjectedRandom(t *testing.T) {
	n := New(nil, WithPlaceholders(true), WithRandom(func(min, max int64) int64 { return min }))

	samples, err := n.Normalize([]byte(twoDayPayload))
	require.NoError(t, err)
	require.EqualValues(t, PlaceholderStepsMin, *samples[1].Steps)
	require.EqualValues(t, 6*int64(time.Hour/time.Millisecond), samples[1].Activities[domain.ActivitySleeping])
}

func TestNormalizeMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"bucket": [`,
		"missing buckets":   `{}`,
		"missing start":     `{"bucket":[{"endTimeMillis":"1","dataset":[]}]}`,
		"missing end":       `{"bucket":[{"startTimeMillis":"1","dataset":[]}]}`,
		"missing dataset":   `{"bucket":[{"startTimeMillis":"1","endTimeMillis":"2"}]}`,
		"missing point":     `{"bucket":[{"startTimeMillis":"1","endTimeMillis":"2","dataset":[{}]}]}`,
		"bad millis":        `{"bucket":[{"startTimeMillis":"abc","endTimeMillis":"2","dataset":[]}]}`,
		"step no value":     `{"bucket":[{"startTimeMillis":"1","endTimeMillis":"2","dataset":[{"point":[{"dataTypeName":"com.google.step_count.delta","value":[]}]}]}]}`,
		"activity short":    `{"bucket":[{"startTimeMillis":"1","endTimeMillis":"2","dataset":[{"point":[{"dataTypeName":"com.google.activity.summary","value":[{"intVal":7}]}]}]}]}`,
		"activity no code":  `{"bucket":[{"startTimeMillis":"1","endTimeMillis":"2","dataset":[{"point":[{"dataTypeName":"com.google.activity.summary","value":[]}]}]}]}`,
		"no type name":      `{"bucket":[{"startTimeMillis":"1","endTimeMillis":"2","dataset":[{"point":[{"value":[{"intVal":7}]}]}]}]}`,
		"negative duration": `{"bucket":[{"startTimeMillis":"1","endTimeMillis":"2","dataset":[{"point":[{"dataTypeName":"x","value":[{"intVal":7},{"intVal":-5}]}]}]}]}`,
	}

	n := New(nil)
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			samples, err := n.Normalize([]byte(raw))
			require.Error(t, err)
			require.Nil(t, samples)
			require.True(t, errors.Is(err, domain.ErrMalformedPayload))

			var perr *ParseError
			require.ErrorAs(t, err, &perr)
		})
	}
}

func TestNormalizeDropsUnmappedCodeWithoutDuration(t *testing.T) {
	raw := `{"bucket":[{"startTimeMillis":"1704067200000","endTimeMillis":"1704153600000","dataset":[{"point":[
		{"dataTypeName":"com.google.step_count.delta","value":[{"intVal":500}]},
		{"dataTypeName":"com.google.activity.summary","value":[{"intVal":99}]},
		{"dataTypeName":"com.google.activity.summary","value":[{"intVal":7},{"intVal":60000}]}
	]}]}]}`

	samples, err := New(domain.DefaultActivityCatalog()).Normalize([]byte(raw))
	require.NoError(t, err)
	require.Len(t, samples, 1)
	require.EqualValues(t, 500, *samples[0].Steps)
	require.Equal(t, map[string]int64{domain.ActivityWalking: 60000}, samples[0].Activities)
}

func TestNormalizeEmptyBucketList(t *testing.T) {
	samples, err := New(nil).Normalize([]byte(`{"bucket":[]}`))
	require.NoError(t, err)
	require.Empty(t, samples)
}

func assertWithin(t *testing.T, activities map[string]int64, name string, min, max int64) {
	t.Helper()
	v, ok := activities[name]
	require.True(t, ok, "missing %s", name)
	require.GreaterOrEqual(t, v, min, name)
	require.LessOrEqual(t, v, max, name)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
