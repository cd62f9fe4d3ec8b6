package outbox

import "example.com/daystats/internal/events"

const dayContributedSchema = `{
  "type": "object",
  "title": "DayContributed",
  "properties": {
    "user_id": {"type": "string"},
    "day": {"type": "string", "format": "date-time"},
    "steps": {"type": "integer", "minimum": 0},
    "population_size": {"type": "integer", "minimum": 1},
    "mean": {"type": "number"},
    "std_error_of_mean": {"type": "number", "minimum": 0},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["user_id", "day", "steps", "population_size", "mean", "std_error_of_mean", "occurred_at"],
  "additionalProperties": false
}`

const activitiesReplacedSchema = `{
  "type": "object",
  "title": "ActivitiesReplaced",
  "properties": {
    "user_id": {"type": "string"},
    "day": {"type": "string", "format": "date-time"},
    "durations": {"type": "object", "additionalProperties": {"type": "integer", "minimum": 0}},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["user_id", "day", "durations", "occurred_at"],
  "additionalProperties": false
}`

var schemaCatalog = map[string]string{
	events.TypeDayContributed:     dayContributedSchema,
	events.TypeActivitiesReplaced: activitiesReplacedSchema,
}
