package mqtt

import (
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMessage implements pahomqtt.Message for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte        { return 1 }
func (m *fakeMessage) Retained() bool   { return false }
func (m *fakeMessage) Topic() string    { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte  { return m.payload }
func (m *fakeMessage) Ack()             {}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "device/+/telemetry", cfg.Topic)
	assert.Equal(t, byte(1), cfg.QoS)
	assert.Equal(t, "ingest.telemetry.raw", cfg.Subject)
}

func TestInputConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*InputConfig)
	}{
		{"missing broker", func(c *InputConfig) { c.BrokerURL = "" }},
		{"missing topic", func(c *InputConfig) { c.Topic = "" }},
		{"invalid qos", func(c *InputConfig) { c.QoS = 3 }},
		{"missing subject", func(c *InputConfig) { c.Subject = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewInput_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QoS = 9

	_, err := NewInput(InputDeps{Config: cfg})
	assert.Error(t, err)
}

func TestInput_InitializeRequiresBus(t *testing.T) {
	in, err := NewInput(InputDeps{Config: DefaultConfig()})
	require.NoError(t, err)

	assert.Error(t, in.Initialize())
}

func TestInput_HandleMessageBuffersPayload(t *testing.T) {
	in, err := NewInput(InputDeps{Config: DefaultConfig()})
	require.NoError(t, err)

	payload := []byte(`{"deviceId":"d1"}`)
	in.handleMessage(nil, &fakeMessage{topic: "device/d1/telemetry", payload: payload})

	assert.Equal(t, 1, in.buffer.Size())
	assert.Equal(t, int64(1), in.messagesReceived.Load())
	assert.Equal(t, int64(len(payload)), in.bytesReceived.Load())

	buffered, ok := in.buffer.Read()
	require.True(t, ok)
	assert.Equal(t, payload, buffered)
}

func TestInput_HandleMessageCopiesPayload(t *testing.T) {
	in, err := NewInput(InputDeps{Config: DefaultConfig()})
	require.NoError(t, err)

	payload := []byte(`{"deviceId":"d1"}`)
	in.handleMessage(nil, &fakeMessage{payload: payload})

	// Mutating the broker's buffer must not affect the queued copy
	payload[0] = 'X'

	buffered, ok := in.buffer.Read()
	require.True(t, ok)
	assert.Equal(t, byte('{'), buffered[0])
}

func TestInput_ConnectionLostCounted(t *testing.T) {
	in, err := NewInput(InputDeps{Config: DefaultConfig()})
	require.NoError(t, err)

	in.handleConnectionLost(nil, assert.AnError)
	assert.Equal(t, int64(1), in.errCount.Load())
}

func TestInput_StopBeforeStart(t *testing.T) {
	in, err := NewInput(InputDeps{Config: DefaultConfig()})
	require.NoError(t, err)

	assert.NoError(t, in.Stop(time.Second))
}

func TestInput_Ports(t *testing.T) {
	in, err := NewInput(InputDeps{Config: DefaultConfig()})
	require.NoError(t, err)

	inputs := in.InputPorts()
	require.Len(t, inputs, 1)
	port, ok := inputs[0].Config.(interface{ ResourceID() string })
	require.True(t, ok)
	assert.Contains(t, port.ResourceID(), "device/+/telemetry")

	outputs := in.OutputPorts()
	require.Len(t, outputs, 1)
	assert.Equal(t, "nats:ingest.telemetry.raw", outputs[0].Config.ResourceID())
}

func TestInput_Meta(t *testing.T) {
	in, err := NewInput(InputDeps{Name: "mqtt-main", Config: DefaultConfig()})
	require.NoError(t, err)

	meta := in.Meta()
	assert.Equal(t, "mqtt-main", meta.Name)
	assert.Equal(t, "ingress", meta.Type)
}

// Interface compliance for the fake against the real paho message type.
var _ pahomqtt.Message = (*fakeMessage)(nil)
