// Package mqtt provides the broker ingress adapter. It subscribes to the
// device telemetry topic and hands raw payloads to the pipeline over the
// internal bus, with no transformation.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/telestream/component"
	"github.com/c360/telestream/errors"
	"github.com/c360/telestream/metric"
	"github.com/c360/telestream/natsclient"
	"github.com/c360/telestream/pkg/buffer"
	"github.com/c360/telestream/pkg/retry"
)

// Metrics holds Prometheus metrics for the MQTT ingress adapter
type Metrics struct {
	messagesReceived prometheus.Counter
	bytesReceived    prometheus.Counter
	messagesDropped  prometheus.Counter
	connectionLost   prometheus.Counter
	publishLatency   prometheus.Histogram
	lastActivity     prometheus.Gauge
}

// newMetrics creates and registers MQTT ingress metrics. A nil registry
// disables metrics.
func newMetrics(registry *metric.MetricsRegistry, componentName string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telestream",
			Subsystem: "mqtt",
			Name:      "messages_received_total",
			Help:      "Total MQTT messages received",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telestream",
			Subsystem: "mqtt",
			Name:      "bytes_received_total",
			Help:      "Total payload bytes received from the broker",
		}),
		messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telestream",
			Subsystem: "mqtt",
			Name:      "messages_dropped_total",
			Help:      "Messages dropped due to buffer overflow",
		}),
		connectionLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telestream",
			Subsystem: "mqtt",
			Name:      "connection_lost_total",
			Help:      "Broker connection losses since start",
		}),
		publishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "telestream",
			Subsystem: "mqtt",
			Name:      "publish_duration_seconds",
			Help:      "Time to publish payloads to the internal bus",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "telestream",
			Subsystem: "mqtt",
			Name:      "last_activity_timestamp",
			Help:      "Unix timestamp of last received message",
		}),
	}

	registry.RegisterCounter(componentName, "messages_received", metrics.messagesReceived)
	registry.RegisterCounter(componentName, "bytes_received", metrics.bytesReceived)
	registry.RegisterCounter(componentName, "messages_dropped", metrics.messagesDropped)
	registry.RegisterCounter(componentName, "connection_lost", metrics.connectionLost)
	registry.RegisterHistogram(componentName, "publish_latency", metrics.publishLatency)
	registry.RegisterGauge(componentName, "last_activity", metrics.lastActivity)

	return metrics
}

// InputConfig holds configuration for the MQTT ingress adapter
type InputConfig struct {
	BrokerURL      string        `json:"broker_url"`
	ClientID       string        `json:"client_id,omitempty"`
	Topic          string        `json:"topic,omitempty"`
	QoS            byte          `json:"qos,omitempty"`
	Username       string        `json:"username,omitempty"`
	Password       string        `json:"password,omitempty"`
	ConnectTimeout time.Duration `json:"connect_timeout,omitempty"`
	KeepAlive      time.Duration `json:"keep_alive,omitempty"`
	Subject        string        `json:"subject,omitempty"` // internal bus subject for raw payloads
}

// DefaultConfig returns sensible defaults for the MQTT ingress adapter
func DefaultConfig() InputConfig {
	return InputConfig{
		BrokerURL:      "tcp://localhost:1883",
		ClientID:       "telestream-ingress",
		Topic:          "device/+/telemetry",
		QoS:            1,
		ConnectTimeout: 10 * time.Second,
		KeepAlive:      30 * time.Second,
		Subject:        "ingest.telemetry.raw",
	}
}

// Validate checks the adapter configuration
func (c *InputConfig) Validate() error {
	if c.BrokerURL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "mqtt-ingress", "Validate", "broker URL required")
	}
	if c.Topic == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "mqtt-ingress", "Validate", "topic required")
	}
	if c.QoS > 2 {
		return errors.WrapInvalid(fmt.Errorf("invalid QoS %d", c.QoS),
			"mqtt-ingress", "Validate", "QoS validation")
	}
	if c.Subject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "mqtt-ingress", "Validate", "bus subject required")
	}
	return nil
}

// InputDeps holds runtime dependencies for the MQTT ingress adapter
type InputDeps struct {
	Name            string
	Config          InputConfig
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Input subscribes to the telemetry topic and republishes raw payloads on the
// internal bus.
type Input struct {
	name    string
	config  InputConfig
	client  pahomqtt.Client
	bus     *natsclient.Client
	logger  *slog.Logger
	buffer  buffer.Buffer[[]byte]
	metrics *Metrics

	retryConfig retry.Config

	// Lifecycle management
	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup

	messagesReceived atomic.Int64
	bytesReceived    atomic.Int64
	errCount         atomic.Int64
	lastActivity     atomic.Value // stores time.Time
}

var _ component.Discoverable = (*Input)(nil)
var _ component.LifecycleComponent = (*Input)(nil)

// newMQTTClient builds a paho client for testing override.
var newMQTTClient = pahomqtt.NewClient

// NewInput creates a new MQTT ingress adapter
func NewInput(deps InputDeps) (*Input, error) {
	cfg := deps.Config
	if cfg.BrokerURL == "" {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	name := deps.Name
	if name == "" {
		name = "mqtt-ingress"
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", name)
	}

	bufferOpts := []buffer.Option[[]byte]{
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
	}
	if deps.MetricsRegistry != nil {
		bufferOpts = append(bufferOpts, buffer.WithMetrics[[]byte](deps.MetricsRegistry, "mqtt_ingress"))
	}

	messageBuffer, err := buffer.NewCircularBuffer(5000, bufferOpts...)
	if err != nil {
		return nil, errors.WrapTransient(err, "mqtt-ingress", "NewInput", "create message buffer")
	}

	in := &Input{
		name:        name,
		config:      cfg,
		bus:         deps.NATSClient,
		logger:      logger,
		buffer:      messageBuffer,
		metrics:     newMetrics(deps.MetricsRegistry, name),
		retryConfig: retry.DefaultConfig(),
		startTime:   time.Now(),
	}
	in.lastActivity.Store(time.Time{})

	return in, nil
}

// Initialize validates dependencies before start
func (in *Input) Initialize() error {
	if in.bus == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "mqtt-ingress", "Initialize", "NATS client required")
	}
	return nil
}

// Start connects to the broker and subscribes to the telemetry topic. A
// connection failure here is fatal to the adapter; losses after startup are
// handled by paho's reconnect and surfaced as operational errors.
func (in *Input) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.running.Load() {
		return nil // already running, idempotent
	}

	in.shutdown = make(chan struct{})
	in.done = make(chan struct{})

	opts := pahomqtt.NewClientOptions().
		AddBroker(in.config.BrokerURL).
		SetClientID(in.config.ClientID).
		SetConnectTimeout(in.config.ConnectTimeout).
		SetKeepAlive(in.config.KeepAlive).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectionLostHandler(in.handleConnectionLost).
		SetOnConnectHandler(in.handleConnect)

	if in.config.Username != "" {
		opts.SetUsername(in.config.Username)
		opts.SetPassword(in.config.Password)
	}

	client := newMQTTClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(in.config.ConnectTimeout) {
		return errors.WrapTransient(errors.ErrConnectionTimeout,
			"mqtt-ingress", "Start", fmt.Sprintf("connect to %s", in.config.BrokerURL))
	}
	if err := token.Error(); err != nil {
		return errors.WrapTransient(err, "mqtt-ingress", "Start",
			fmt.Sprintf("connect to %s", in.config.BrokerURL))
	}

	in.client = client
	in.running.Store(true)
	in.startTime = time.Now()

	// Drain loop publishes buffered payloads to the internal bus
	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		defer close(in.done)
		in.drainLoop(ctx)
	}()

	in.logger.Info("MQTT ingress started",
		"broker", in.config.BrokerURL,
		"topic", in.config.Topic,
		"qos", in.config.QoS,
		"subject", in.config.Subject)

	return nil
}

// handleConnect subscribes on every (re)connect so a broker restart restores
// the subscription.
func (in *Input) handleConnect(client pahomqtt.Client) {
	token := client.Subscribe(in.config.Topic, in.config.QoS, in.handleMessage)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			in.errCount.Add(1)
			in.logger.Error("Failed to subscribe to telemetry topic",
				"topic", in.config.Topic,
				"error", err)
			return
		}
		in.logger.Info("Subscribed to telemetry topic", "topic", in.config.Topic)
	}()
}

// handleConnectionLost surfaces a lost broker connection without crashing the
// process; paho keeps reconnecting in the background.
func (in *Input) handleConnectionLost(_ pahomqtt.Client, err error) {
	in.errCount.Add(1)
	if in.metrics != nil {
		in.metrics.connectionLost.Inc()
	}
	in.logger.Error("MQTT broker connection lost", "error", err)
}

// handleMessage buffers one raw payload. Payload bytes are copied because
// paho reuses its receive buffers.
func (in *Input) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	payload := msg.Payload()

	in.messagesReceived.Add(1)
	in.bytesReceived.Add(int64(len(payload)))
	now := time.Now()
	in.lastActivity.Store(now)

	if in.metrics != nil {
		in.metrics.messagesReceived.Inc()
		in.metrics.bytesReceived.Add(float64(len(payload)))
		in.metrics.lastActivity.Set(float64(now.Unix()))
	}

	data := make([]byte, len(payload))
	copy(data, payload)

	if err := in.buffer.Write(data); err != nil {
		if in.metrics != nil {
			in.metrics.messagesDropped.Inc()
		}
	}
}

// drainLoop publishes buffered payloads to the internal bus in batches.
func (in *Input) drainLoop(ctx context.Context) {
	const maxBatchSize = 100

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-in.shutdown:
			// Flush what is buffered before exiting
			in.publishBatch(ctx, in.buffer.ReadBatch(maxBatchSize))
			return
		case <-ticker.C:
			for {
				batch := in.buffer.ReadBatch(maxBatchSize)
				if len(batch) == 0 {
					break
				}
				in.publishBatch(ctx, batch)
			}
		}
	}
}

func (in *Input) publishBatch(ctx context.Context, batch [][]byte) {
	for _, data := range batch {
		start := time.Now()

		err := retry.Do(ctx, in.retryConfig, func() error {
			return in.bus.Publish(ctx, in.config.Subject, data)
		})
		if err != nil {
			in.errCount.Add(1)
			in.logger.Error("Failed to publish payload to internal bus",
				"subject", in.config.Subject,
				"error", err)
			continue
		}

		if in.metrics != nil {
			in.metrics.publishLatency.Observe(time.Since(start).Seconds())
		}
	}
}

// Stop unsubscribes, disconnects from the broker and drains the buffer.
func (in *Input) Stop(timeout time.Duration) error {
	if !in.running.Load() {
		return nil
	}
	in.running.Store(false)

	in.mu.Lock()
	if in.client != nil {
		if token := in.client.Unsubscribe(in.config.Topic); token != nil {
			token.WaitTimeout(timeout)
		}
	}
	if in.shutdown != nil {
		select {
		case <-in.shutdown:
		default:
			close(in.shutdown)
		}
	}
	in.mu.Unlock()

	select {
	case <-in.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"mqtt-ingress", "Stop", "graceful shutdown")
	}

	in.mu.Lock()
	if in.client != nil {
		in.client.Disconnect(250)
		in.client = nil
	}
	_ = in.buffer.Close()
	in.mu.Unlock()

	in.logger.Info("MQTT ingress stopped")
	return nil
}

// Meta returns the component metadata
func (in *Input) Meta() component.Metadata {
	return component.Metadata{
		Name:        in.name,
		Type:        "ingress",
		Description: fmt.Sprintf("MQTT subscriber on %s feeding %s", in.config.Topic, in.config.Subject),
		Version:     "1.0.0",
	}
}

// InputPorts returns the broker subscription port
func (in *Input) InputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "mqtt_subscription",
			Direction:   component.DirectionInput,
			Required:    true,
			Description: "Device telemetry topic subscription",
			Config: component.MQTTPort{
				Broker: in.config.BrokerURL,
				Topic:  in.config.Topic,
				QoS:    in.config.QoS,
			},
		},
	}
}

// OutputPorts returns the internal bus output port
func (in *Input) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "raw_output",
			Direction:   component.DirectionOutput,
			Required:    true,
			Description: "Raw telemetry payloads for the pipeline",
			Config:      component.NATSPort{Subject: in.config.Subject},
		},
	}
}

// Health returns the current health status of the adapter
func (in *Input) Health() component.HealthStatus {
	in.mu.RLock()
	connected := in.client != nil && in.client.IsConnected()
	in.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    in.running.Load() && connected,
		LastCheck:  time.Now(),
		ErrorCount: int(in.errCount.Load()),
		Uptime:     time.Since(in.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (in *Input) DataFlow() component.FlowMetrics {
	messages := in.messagesReceived.Load()
	bytes := in.bytesReceived.Load()
	errCount := in.errCount.Load()
	lastActivity, _ := in.lastActivity.Load().(time.Time)

	var messagesPerSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(in.startTime).Seconds(); uptime > 0 {
		messagesPerSecond = float64(messages) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if messages > 0 {
		errorRate = float64(errCount) / float64(messages)
	}

	return component.FlowMetrics{
		MessagesPerSecond: messagesPerSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}
