// Package telemetry defines the reading data model and the validation engine
// applied to every inbound payload. Readings are parsed once, validated against
// an immutable rule set, and discarded after the pipeline reaches a terminal
// outcome.
package telemetry

import (
	"encoding/json"
	"math"

	"github.com/c360/telestream/errors"
)

// Field holds one decoded telemetry value. Non-numeric JSON values leave
// IsNumber false so range checks can reject them without a parse failure.
type Field struct {
	Num      float64
	IsNumber bool
}

// Reading is a single parsed telemetry message from one device. It is never
// mutated after ParseReading returns it.
type Reading struct {
	DeviceID  string
	Timestamp int64 // epoch millis, valid only when HasTimestamp
	GPS       map[string]Field
	Battery   map[string]Field
	Sensors   map[string]Field

	HasTimestamp bool

	raw []byte
}

// Raw returns the original payload bytes the reading was parsed from.
func (r *Reading) Raw() []byte {
	return r.raw
}

// GroupField looks up a field by group name and leaf name. The second return
// is false when the group or the field is absent.
func (r *Reading) GroupField(group, name string) (Field, bool) {
	var m map[string]Field
	switch group {
	case "gps":
		m = r.GPS
	case "battery":
		m = r.Battery
	case "sensors":
		m = r.Sensors
	}
	if m == nil {
		return Field{}, false
	}
	f, ok := m[name]
	return f, ok
}

// ParseReading decodes a raw payload into a Reading. The payload must be a
// JSON object; anything else is a parse failure. Missing optional groups stay
// nil rather than defaulted, and non-numeric values inside a group are kept as
// non-number fields for the validator to reject.
func ParseReading(data []byte) (*Reading, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapInvalid(err, "Reading", "ParseReading", "decode payload")
	}
	if doc == nil {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "Reading", "ParseReading", "payload is not an object")
	}

	r := &Reading{raw: data}

	if v, ok := doc["deviceId"].(string); ok {
		r.DeviceID = v
	}

	if v, ok := doc["timestamp"].(float64); ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
		r.Timestamp = int64(math.Round(v))
		r.HasTimestamp = true
	}

	r.GPS = parseGroup(doc["gps"])
	r.Battery = parseGroup(doc["battery"])
	r.Sensors = parseGroup(doc["sensors"])

	return r, nil
}

// parseGroup converts a JSON object into a field map. A non-object group value
// yields nil, which the validator treats the same as an absent group.
func parseGroup(v any) map[string]Field {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}

	fields := make(map[string]Field, len(obj))
	for name, raw := range obj {
		if num, ok := raw.(float64); ok {
			fields[name] = Field{Num: num, IsNumber: true}
		} else {
			fields[name] = Field{}
		}
	}
	return fields
}

// ValidEvent is the bus message published for every reading that passes
// validation. Payload carries the original bytes untouched so downstream
// consumers decide their own projection.
type ValidEvent struct {
	DeviceID   string          `json:"deviceId"`
	ReceivedAt int64           `json:"receivedAt"`
	Payload    json.RawMessage `json:"payload"`
}

// InvalidEvent is the bus message published for every rejected reading. The
// device identifier is present only when the payload parsed far enough to
// carry one.
type InvalidEvent struct {
	DeviceID string   `json:"deviceId,omitempty"`
	Errors   []string `json:"errors"`
	At       int64    `json:"at"`
}
