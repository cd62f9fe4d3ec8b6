package normalize

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// StepCountDataType identifies the step-count data points within a bucket.
const StepCountDataType = "com.google.step_count.delta"

type payload struct {
	Buckets *[]bucket `json:"bucket"`
}

type bucket struct {
	StartTimeMillis *millis   `json:"startTimeMillis"`
	EndTimeMillis   *millis   `json:"endTimeMillis"`
	Dataset         []dataset `json:"dataset"`
}

type dataset struct {
	DataSourceID string   `json:"dataSourceId"`
	Point        *[]point `json:"point"`
}

type point struct {
	DataTypeName string  `json:"dataTypeName"`
	Value        []value `json:"value"`
}

type value struct {
	IntVal *int64 `json:"intVal"`
}

// millis accepts epoch milliseconds encoded either as a JSON number or as a
// decimal string, which is how the provider serialises int64 fields.
type millis int64

func (m *millis) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*m = millis(v)
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = millis(v)
	return nil
}
