package telemetry

import (
	"fmt"
	"sort"
	"strings"
)

// FieldRule constrains one numeric field to an inclusive range. Required
// fields must be present; optional fields are checked only when present.
type FieldRule struct {
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Required bool    `json:"required"`
}

// RuleSet is the process-wide validation configuration. It is loaded once at
// startup and never mutated afterwards; changing rules requires a restart.
// Fields is keyed by dotted path, e.g. "gps.latitude".
type RuleSet struct {
	MaxAgeMillis  int64                `json:"maxAgeMillis"`
	MaxSkewMillis int64                `json:"maxSkewMillis"`
	Fields        map[string]FieldRule `json:"fields"`
}

// Recognized field groups. Sensor fields are validated only when present, so
// their Required flag is ignored.
var knownGroups = map[string]bool{
	"gps":     true,
	"battery": true,
	"sensors": true,
}

// DefaultRules returns the stock drone telemetry rule set.
func DefaultRules() RuleSet {
	return RuleSet{
		MaxAgeMillis:  30000,
		MaxSkewMillis: 30000,
		Fields: map[string]FieldRule{
			"gps.latitude":       {Min: -90, Max: 90, Required: true},
			"gps.longitude":      {Min: -180, Max: 180, Required: true},
			"gps.altitude":       {Min: -1000, Max: 50000, Required: true},
			"battery.voltage":    {Min: 0, Max: 50, Required: true},
			"battery.current":    {Min: -100, Max: 100, Required: true},
			"battery.percentage": {Min: 0, Max: 100, Required: true},
		},
	}
}

// Validate checks the rule set for internal consistency.
func (rs RuleSet) Validate() error {
	if rs.MaxAgeMillis <= 0 {
		return fmt.Errorf("maxAgeMillis must be positive, got %d", rs.MaxAgeMillis)
	}
	if rs.MaxSkewMillis <= 0 {
		return fmt.Errorf("maxSkewMillis must be positive, got %d", rs.MaxSkewMillis)
	}

	for path, rule := range rs.Fields {
		group, _, ok := splitPath(path)
		if !ok {
			return fmt.Errorf("field path %q must be in group.field form", path)
		}
		if !knownGroups[group] {
			return fmt.Errorf("field path %q uses unknown group %q", path, group)
		}
		if rule.Min > rule.Max {
			return fmt.Errorf("field %q has min %v greater than max %v", path, rule.Min, rule.Max)
		}
	}

	return nil
}

// paths returns the declared field paths in a stable order so validation
// errors come out deterministically.
func (rs RuleSet) paths() []string {
	out := make([]string, 0, len(rs.Fields))
	for path := range rs.Fields {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

func splitPath(path string) (group, field string, ok bool) {
	group, field, found := strings.Cut(path, ".")
	if !found || group == "" || field == "" {
		return "", "", false
	}
	return group, field, true
}
