package telemetry

import (
	"math"
	"time"
)

// Validation error codes. Range and presence codes are suffixed with the leaf
// field name, e.g. "out_of_range_latitude".
const (
	CodeParseError       = "parse_error"
	CodeMissingDeviceID  = "missing_device_id"
	CodeMissingTimestamp = "missing_timestamp"
	CodeStaleTimestamp   = "stale_timestamp"
	CodeFutureTimestamp  = "future_timestamp"

	codeMissingPrefix    = "missing_"
	codeOutOfRangePrefix = "out_of_range_"
)

// Outcome is the result of validating one reading. Errors is empty exactly
// when Valid is true.
type Outcome struct {
	Valid       bool
	Errors      []string
	EvaluatedAt time.Time
}

// Validator evaluates readings against a fixed rule set. It is safe for
// concurrent use; Validate has no side effects.
type Validator struct {
	rules RuleSet
	now   func() time.Time
}

// NewValidator creates a validator for the given rule set.
func NewValidator(rules RuleSet) *Validator {
	return &Validator{
		rules: rules,
		now:   time.Now,
	}
}

// Validate runs every check and accumulates all violations, so a single call
// reports everything wrong with a reading at once.
//
// Timestamps older than MaxAgeMillis are rejected as stale; timestamps ahead
// of the local clock by more than MaxSkewMillis are rejected as future. The
// two cases carry distinct codes so operators can tell clock skew apart from
// delayed delivery.
func (v *Validator) Validate(r *Reading) Outcome {
	now := v.now()
	var errs []string

	if r.DeviceID == "" {
		errs = append(errs, CodeMissingDeviceID)
	}

	if !r.HasTimestamp {
		errs = append(errs, CodeMissingTimestamp)
	} else {
		nowMillis := now.UnixMilli()
		if nowMillis-r.Timestamp > v.rules.MaxAgeMillis {
			errs = append(errs, CodeStaleTimestamp)
		} else if r.Timestamp-nowMillis > v.rules.MaxSkewMillis {
			errs = append(errs, CodeFutureTimestamp)
		}
	}

	for _, path := range v.rules.paths() {
		rule := v.rules.Fields[path]
		group, name, ok := splitPath(path)
		if !ok {
			continue
		}

		field, present := r.GroupField(group, name)
		if !present {
			// Sensor fields are only checked when present
			if rule.Required && group != "sensors" {
				errs = append(errs, codeMissingPrefix+name)
			}
			continue
		}

		if !field.IsNumber || math.IsNaN(field.Num) || math.IsInf(field.Num, 0) ||
			field.Num < rule.Min || field.Num > rule.Max {
			errs = append(errs, codeOutOfRangePrefix+name)
		}
	}

	return Outcome{
		Valid:       len(errs) == 0,
		Errors:      errs,
		EvaluatedAt: now,
	}
}
