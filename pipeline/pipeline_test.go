package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/telestream/component"
	"github.com/c360/telestream/telemetry"
)

// fakeBus records publishes and lets tests inject failures.
type fakeBus struct {
	mu         sync.Mutex
	published  map[string][][]byte
	publishErr error
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: make(map[string][][]byte)}
}

func (b *fakeBus) Subscribe(context.Context, string, func(context.Context, []byte)) error {
	return nil
}

func (b *fakeBus) Publish(_ context.Context, subject string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published[subject] = append(b.published[subject], data)
	return nil
}

func (b *fakeBus) messages(subject string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[subject]
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeBus) {
	t.Helper()
	coordinator, err := NewCoordinator(DefaultConfig(), component.Dependencies{})
	require.NoError(t, err)

	bus := newFakeBus()
	coordinator.bus = bus
	return coordinator, bus
}

func telemetryPayload(timestamp int64) []byte {
	return fmt.Appendf(nil,
		`{"deviceId":"d1","timestamp":%d,"gps":{"latitude":45,"longitude":90,"altitude":100},`+
			`"battery":{"voltage":12,"current":1,"percentage":80}}`,
		timestamp)
}

func TestHandleMessage_ValidReading(t *testing.T) {
	coordinator, bus := newTestCoordinator(t)
	payload := telemetryPayload(time.Now().UnixMilli())

	coordinator.handleMessage(context.Background(), payload)

	valid := bus.messages(DefaultValidSubject)
	require.Len(t, valid, 1)
	assert.Empty(t, bus.messages(DefaultInvalidSubject))

	var event telemetry.ValidEvent
	require.NoError(t, json.Unmarshal(valid[0], &event))
	assert.Equal(t, "d1", event.DeviceID)
	assert.NotZero(t, event.ReceivedAt)
	assert.JSONEq(t, string(payload), string(event.Payload))

	snap := coordinator.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.TotalReceived)
	assert.Equal(t, int64(1), snap.ValidCount)
	assert.Equal(t, int64(0), snap.InvalidCount)
	assert.Equal(t, 1.0, snap.ValidationRate)
}

func TestHandleMessage_InvalidReading(t *testing.T) {
	coordinator, bus := newTestCoordinator(t)
	payload := fmt.Appendf(nil,
		`{"deviceId":"d1","timestamp":%d,"gps":{"latitude":95,"longitude":90,"altitude":100},`+
			`"battery":{"voltage":12,"current":1,"percentage":80}}`,
		time.Now().UnixMilli())

	coordinator.handleMessage(context.Background(), payload)

	assert.Empty(t, bus.messages(DefaultValidSubject))
	invalid := bus.messages(DefaultInvalidSubject)
	require.Len(t, invalid, 1)

	var event telemetry.InvalidEvent
	require.NoError(t, json.Unmarshal(invalid[0], &event))
	assert.Equal(t, "d1", event.DeviceID)
	assert.Equal(t, []string{"out_of_range_latitude"}, event.Errors)

	snap := coordinator.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.InvalidCount)
	assert.Equal(t, int64(0), snap.ValidCount)
}

func TestHandleMessage_ParseError(t *testing.T) {
	coordinator, bus := newTestCoordinator(t)

	coordinator.handleMessage(context.Background(), []byte("not json"))

	invalid := bus.messages(DefaultInvalidSubject)
	require.Len(t, invalid, 1)

	var event telemetry.InvalidEvent
	require.NoError(t, json.Unmarshal(invalid[0], &event))
	assert.Empty(t, event.DeviceID)
	assert.Equal(t, []string{"parse_error"}, event.Errors)

	snap := coordinator.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.InvalidCount)
}

func TestHandleMessage_PublishFailureStillCountsValid(t *testing.T) {
	coordinator, bus := newTestCoordinator(t)
	bus.publishErr = fmt.Errorf("connection lost")

	coordinator.handleMessage(context.Background(), telemetryPayload(time.Now().UnixMilli()))

	snap := coordinator.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.ValidCount)
	assert.Equal(t, int64(1), coordinator.errorCount.Load())
}

func TestHandleMessage_CountInvariantUnderConcurrency(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)

	const workers = 10
	const perWorker = 50

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range perWorker {
				if (w+i)%3 == 0 {
					coordinator.handleMessage(context.Background(), []byte("garbage"))
				} else {
					coordinator.handleMessage(context.Background(), telemetryPayload(time.Now().UnixMilli()))
				}
			}
		}(w)
	}
	wg.Wait()

	snap := coordinator.Stats().Snapshot()
	assert.Equal(t, int64(workers*perWorker), snap.TotalReceived)
	assert.Equal(t, snap.TotalReceived, snap.ValidCount+snap.InvalidCount)
	assert.Positive(t, snap.ValidCount)
	assert.Positive(t, snap.InvalidCount)
}

func TestNewCoordinator_RejectsBadRules(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rules.MaxAgeMillis = -1

	_, err := NewCoordinator(cfg, component.Dependencies{})
	assert.Error(t, err)
}

func TestCoordinator_Lifecycle(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)

	require.NoError(t, coordinator.Initialize())
	require.NoError(t, coordinator.Start(context.Background()))
	assert.True(t, coordinator.Health().Healthy)

	// Double start is rejected
	assert.Error(t, coordinator.Start(context.Background()))

	require.NoError(t, coordinator.Stop(time.Second))
	assert.False(t, coordinator.Health().Healthy)

	// Stop is idempotent
	require.NoError(t, coordinator.Stop(time.Second))
}

func TestCoordinator_InitializeWithoutBus(t *testing.T) {
	coordinator, err := NewCoordinator(DefaultConfig(), component.Dependencies{})
	require.NoError(t, err)

	assert.Error(t, coordinator.Initialize())
}

func TestCoordinator_Ports(t *testing.T) {
	coordinator, _ := newTestCoordinator(t)

	inputs := coordinator.InputPorts()
	require.Len(t, inputs, 1)
	assert.Equal(t, "nats:"+DefaultRawSubject, inputs[0].Config.ResourceID())

	outputs := coordinator.OutputPorts()
	require.Len(t, outputs, 2)
	assert.Equal(t, "nats:"+DefaultValidSubject, outputs[0].Config.ResourceID())
	assert.Equal(t, "nats:"+DefaultInvalidSubject, outputs[1].Config.ResourceID())
}
