package forward

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/telestream/telemetry"
)

type fakeBus struct {
	mu       sync.Mutex
	handlers map[string]func(context.Context, []byte)
}

func (f *fakeBus) Subscribe(_ context.Context, subject string, handler func(context.Context, []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = make(map[string]func(context.Context, []byte))
	}
	f.handlers[subject] = handler
	return nil
}

// newTestForwarder builds a started forwarder pointed at url, bypassing NATS.
func newTestForwarder(t *testing.T, url string, headers map[string]string) *Forwarder {
	t.Helper()

	fwd, err := NewForwarder(ForwarderDeps{
		Config: ForwarderConfig{
			URL:     url,
			Timeout: 2 * time.Second,
			Headers: headers,
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	fwd.bus = &fakeBus{}
	require.NoError(t, fwd.Initialize())
	require.NoError(t, fwd.Start(context.Background()))
	t.Cleanup(func() { _ = fwd.Stop(time.Second) })
	return fwd
}

func validEvent(t *testing.T, payload string) []byte {
	t.Helper()
	data, err := json.Marshal(telemetry.ValidEvent{
		DeviceID:   "drone-42",
		ReceivedAt: time.Now().UnixMilli(),
		Payload:    json.RawMessage(payload),
	})
	require.NoError(t, err)
	return data
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "http://localhost:8090/readings", cfg.URL)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, "telemetry.valid", cfg.Subject)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ForwarderConfig)
	}{
		{"empty url", func(c *ForwarderConfig) { c.URL = "" }},
		{"bad scheme", func(c *ForwarderConfig) { c.URL = "nats://localhost:4222" }},
		{"zero timeout", func(c *ForwarderConfig) { c.Timeout = 0 }},
		{"empty subject", func(c *ForwarderConfig) { c.Subject = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestForwardEnrichesReading(t *testing.T) {
	var (
		mu       sync.Mutex
		received map[string]any
		gotType  string
		gotAuth  string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		_ = json.Unmarshal(body, &received)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	fwd := newTestForwarder(t, ts.URL, map[string]string{"Authorization": "Bearer token"})

	before := time.Now().UnixMilli()
	fwd.handleValidReading(context.Background(), validEvent(t,
		`{"deviceId":"drone-42","timestamp":1700000000000,"battery":{"percentage":87.5}}`))

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, received)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "Bearer token", gotAuth)
	assert.Equal(t, "drone-42", received["deviceId"])
	assert.Equal(t, true, received["validationPassed"])
	processedAt, ok := received["processedAt"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, int64(processedAt), before)

	assert.Equal(t, int64(1), fwd.Forwarded())
	assert.Equal(t, int64(0), fwd.Dropped())
}

func TestNon2xxDropsReading(t *testing.T) {
	var attempts int64
	var mu sync.Mutex
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	fwd := newTestForwarder(t, ts.URL, nil)
	fwd.handleValidReading(context.Background(), validEvent(t, `{"deviceId":"drone-42"}`))

	assert.Equal(t, int64(0), fwd.Forwarded())
	assert.Equal(t, int64(1), fwd.Dropped())

	// One attempt only. Failed deliveries are never retried.
	mu.Lock()
	assert.Equal(t, int64(1), attempts)
	mu.Unlock()
}

func TestUnreachableEndpointDropsReading(t *testing.T) {
	fwd := newTestForwarder(t, "http://127.0.0.1:1/readings", nil)
	fwd.handleValidReading(context.Background(), validEvent(t, `{"deviceId":"drone-42"}`))

	assert.Equal(t, int64(0), fwd.Forwarded())
	assert.Equal(t, int64(1), fwd.Dropped())
}

func TestSlowEndpointTimesOut(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()
	defer close(release)

	fwd, err := NewForwarder(ForwarderDeps{
		Config: ForwarderConfig{URL: ts.URL, Timeout: 50 * time.Millisecond},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	fwd.bus = &fakeBus{}
	require.NoError(t, fwd.Start(context.Background()))
	t.Cleanup(func() { _ = fwd.Stop(time.Second) })

	start := time.Now()
	fwd.handleValidReading(context.Background(), validEvent(t, `{"deviceId":"drone-42"}`))
	elapsed := time.Since(start)

	assert.Equal(t, int64(1), fwd.Dropped())
	assert.Less(t, elapsed, time.Second)
}

func TestMalformedEventDropped(t *testing.T) {
	fwd := newTestForwarder(t, "http://localhost:8090/readings", nil)

	fwd.handleValidReading(context.Background(), []byte("not json"))
	assert.Equal(t, int64(1), fwd.Dropped())

	fwd.handleValidReading(context.Background(), []byte(`{"payload":"not an object"}`))
	assert.Equal(t, int64(2), fwd.Dropped())
}

func TestLifecycle(t *testing.T) {
	fwd := newTestForwarder(t, "http://localhost:8090/readings", nil)

	err := fwd.Start(context.Background())
	assert.Error(t, err)

	require.NoError(t, fwd.Stop(time.Second))
	require.NoError(t, fwd.Stop(time.Second))

	// Stopped forwarder ignores readings.
	fwd.handleValidReading(context.Background(), validEvent(t, `{"deviceId":"drone-42"}`))
	assert.Equal(t, int64(0), fwd.Forwarded())
	assert.Equal(t, int64(0), fwd.Dropped())
}

func TestPorts(t *testing.T) {
	fwd, err := NewForwarder(ForwarderDeps{Config: DefaultConfig()})
	require.NoError(t, err)

	inputs := fwd.InputPorts()
	require.Len(t, inputs, 1)
	assert.Equal(t, "nats:telemetry.valid", inputs[0].Config.ResourceID())
	assert.Empty(t, fwd.OutputPorts())

	meta := fwd.Meta()
	assert.Equal(t, "telemetry-forwarder", meta.Name)
	assert.Equal(t, "output", meta.Type)
}
