package telemetry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedValidator(rules RuleSet, now time.Time) *Validator {
	v := NewValidator(rules)
	v.now = func() time.Time { return now }
	return v
}

func validPayload(now time.Time) []byte {
	return fmt.Appendf(nil,
		`{"deviceId":"d1","timestamp":%d,"gps":{"latitude":45,"longitude":90,"altitude":100},`+
			`"battery":{"voltage":12,"current":1,"percentage":80}}`,
		now.UnixMilli())
}

func TestValidate_ValidReading(t *testing.T) {
	now := time.Now()
	r, err := ParseReading(validPayload(now))
	require.NoError(t, err)

	outcome := fixedValidator(DefaultRules(), now).Validate(r)

	assert.True(t, outcome.Valid)
	assert.Empty(t, outcome.Errors)
	assert.Equal(t, now, outcome.EvaluatedAt)
}

func TestValidate_OutOfRangeLatitude(t *testing.T) {
	now := time.Now()
	payload := fmt.Appendf(nil,
		`{"deviceId":"d1","timestamp":%d,"gps":{"latitude":95,"longitude":90,"altitude":100},`+
			`"battery":{"voltage":12,"current":1,"percentage":80}}`,
		now.UnixMilli())
	r, err := ParseReading(payload)
	require.NoError(t, err)

	outcome := fixedValidator(DefaultRules(), now).Validate(r)

	assert.False(t, outcome.Valid)
	assert.Equal(t, []string{"out_of_range_latitude"}, outcome.Errors)
}

func TestValidate_BoundaryValuesInclusive(t *testing.T) {
	now := time.Now()
	rules := RuleSet{
		MaxAgeMillis:  30000,
		MaxSkewMillis: 30000,
		Fields: map[string]FieldRule{
			"battery.percentage": {Min: 0, Max: 100, Required: true},
		},
	}

	cases := []struct {
		name  string
		value float64
		valid bool
	}{
		{"at min", 0, true},
		{"at max", 100, true},
		{"below min", -1, false},
		{"above max", 101, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := fmt.Appendf(nil,
				`{"deviceId":"d1","timestamp":%d,"battery":{"percentage":%v}}`,
				now.UnixMilli(), tc.value)
			r, err := ParseReading(payload)
			require.NoError(t, err)

			outcome := fixedValidator(rules, now).Validate(r)
			assert.Equal(t, tc.valid, outcome.Valid)
			if !tc.valid {
				assert.Contains(t, outcome.Errors, "out_of_range_percentage")
			}
		})
	}
}

func TestValidate_AccumulatesAllErrors(t *testing.T) {
	now := time.Now()
	r, err := ParseReading([]byte(`{"deviceId":"d1","battery":{"voltage":12,"current":1,"percentage":80}}`))
	require.NoError(t, err)

	outcome := fixedValidator(DefaultRules(), now).Validate(r)

	assert.False(t, outcome.Valid)
	assert.Contains(t, outcome.Errors, "missing_timestamp")
	assert.Contains(t, outcome.Errors, "missing_latitude")
	assert.Contains(t, outcome.Errors, "missing_longitude")
	assert.Contains(t, outcome.Errors, "missing_altitude")
	assert.Len(t, outcome.Errors, 4)
}

func TestValidate_StaleTimestamp(t *testing.T) {
	now := time.Now()
	old := now.Add(-time.Minute)
	r, err := ParseReading(validPayload(old))
	require.NoError(t, err)

	outcome := fixedValidator(DefaultRules(), now).Validate(r)

	assert.False(t, outcome.Valid)
	assert.Equal(t, []string{"stale_timestamp"}, outcome.Errors)
}

func TestValidate_FutureTimestamp(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Minute)
	r, err := ParseReading(validPayload(future))
	require.NoError(t, err)

	outcome := fixedValidator(DefaultRules(), now).Validate(r)

	assert.False(t, outcome.Valid)
	assert.Equal(t, []string{"future_timestamp"}, outcome.Errors)
}

func TestValidate_TimestampWithinBounds(t *testing.T) {
	now := time.Now()

	// Exactly at the age bound is still acceptable
	atBound := now.Add(-30 * time.Second)
	r, err := ParseReading(validPayload(atBound))
	if err != nil {
		t.Fatal(err)
	}

	outcome := fixedValidator(DefaultRules(), now).Validate(r)
	assert.True(t, outcome.Valid, "errors: %v", outcome.Errors)
}

func TestValidate_MissingDeviceID(t *testing.T) {
	now := time.Now()
	payload := fmt.Appendf(nil,
		`{"timestamp":%d,"gps":{"latitude":45,"longitude":90,"altitude":100},`+
			`"battery":{"voltage":12,"current":1,"percentage":80}}`,
		now.UnixMilli())
	r, err := ParseReading(payload)
	require.NoError(t, err)

	outcome := fixedValidator(DefaultRules(), now).Validate(r)

	assert.False(t, outcome.Valid)
	assert.Equal(t, []string{"missing_device_id"}, outcome.Errors)
}

func TestValidate_NonNumericField(t *testing.T) {
	now := time.Now()
	payload := fmt.Appendf(nil,
		`{"deviceId":"d1","timestamp":%d,"gps":{"latitude":"north","longitude":90,"altitude":100},`+
			`"battery":{"voltage":12,"current":1,"percentage":80}}`,
		now.UnixMilli())
	r, err := ParseReading(payload)
	require.NoError(t, err)

	outcome := fixedValidator(DefaultRules(), now).Validate(r)

	assert.False(t, outcome.Valid)
	assert.Equal(t, []string{"out_of_range_latitude"}, outcome.Errors)
}

func TestValidate_SensorsOnlyCheckedWhenPresent(t *testing.T) {
	now := time.Now()
	rules := RuleSet{
		MaxAgeMillis:  30000,
		MaxSkewMillis: 30000,
		Fields: map[string]FieldRule{
			"sensors.temperature": {Min: -40, Max: 85},
		},
	}

	// Absent sensors group is never an error
	payload := fmt.Appendf(nil, `{"deviceId":"d1","timestamp":%d}`, now.UnixMilli())
	r, err := ParseReading(payload)
	require.NoError(t, err)
	outcome := fixedValidator(rules, now).Validate(r)
	assert.True(t, outcome.Valid, "errors: %v", outcome.Errors)

	// A present sensor field is range checked
	payload = fmt.Appendf(nil, `{"deviceId":"d1","timestamp":%d,"sensors":{"temperature":120}}`, now.UnixMilli())
	r, err = ParseReading(payload)
	require.NoError(t, err)
	outcome = fixedValidator(rules, now).Validate(r)
	assert.False(t, outcome.Valid)
	assert.Equal(t, []string{"out_of_range_temperature"}, outcome.Errors)
}

func TestValidate_ErrorOrderDeterministic(t *testing.T) {
	now := time.Now()
	payload := fmt.Appendf(nil, `{"deviceId":"d1","timestamp":%d}`, now.UnixMilli())
	r, err := ParseReading(payload)
	require.NoError(t, err)

	v := fixedValidator(DefaultRules(), now)
	first := v.Validate(r)
	for range 20 {
		assert.Equal(t, first.Errors, v.Validate(r).Errors)
	}
}

func BenchmarkValidate(b *testing.B) {
	now := time.Now()
	r, err := ParseReading(validPayload(now))
	if err != nil {
		b.Fatal(err)
	}
	v := fixedValidator(DefaultRules(), now)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v.Validate(r)
	}
}
