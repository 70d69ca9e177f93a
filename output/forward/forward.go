// Package forward provides the downstream forwarder. Each validated reading
// is enriched and delivered to an external HTTP endpoint as a single
// timeout-bounded POST. Delivery is best effort: a failed attempt is logged,
// counted, and dropped so one slow endpoint can never back up the pipeline.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/telestream/component"
	"github.com/c360/telestream/errors"
	"github.com/c360/telestream/metric"
	"github.com/c360/telestream/natsclient"
	"github.com/c360/telestream/telemetry"
)

// Metrics holds Prometheus metrics for the forwarder
type Metrics struct {
	forwarded       prometheus.Counter
	dropped         *prometheus.CounterVec
	requestDuration prometheus.Histogram
	bytesForwarded  prometheus.Counter
}

// newMetrics creates and registers forwarder metrics. A nil registry disables
// metrics.
func newMetrics(registry *metric.MetricsRegistry, componentName string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telestream",
			Subsystem: "forward",
			Name:      "readings_forwarded_total",
			Help:      "Readings delivered to the downstream endpoint",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telestream",
			Subsystem: "forward",
			Name:      "readings_dropped_total",
			Help:      "Readings dropped after a failed delivery attempt",
		}, []string{"reason"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "telestream",
			Subsystem: "forward",
			Name:      "request_duration_seconds",
			Help:      "Downstream POST round-trip duration",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		bytesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telestream",
			Subsystem: "forward",
			Name:      "bytes_forwarded_total",
			Help:      "Total payload bytes delivered downstream",
		}),
	}

	registry.RegisterCounter(componentName, "readings_forwarded", metrics.forwarded)
	registry.RegisterCounterVec(componentName, "readings_dropped", metrics.dropped)
	registry.RegisterHistogram(componentName, "request_duration", metrics.requestDuration)
	registry.RegisterCounter(componentName, "bytes_forwarded", metrics.bytesForwarded)

	return metrics
}

// ForwarderConfig holds configuration for the downstream forwarder
type ForwarderConfig struct {
	URL     string            `json:"url"`
	Timeout time.Duration     `json:"timeout,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Subject string            `json:"subject,omitempty"` // validated readings are consumed from here
}

// DefaultConfig returns the default forwarder configuration
func DefaultConfig() ForwarderConfig {
	return ForwarderConfig{
		URL:     "http://localhost:8090/readings",
		Timeout: 5 * time.Second,
		Subject: "telemetry.valid",
	}
}

// Validate checks the configuration for usable values
func (c ForwarderConfig) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "forwarder", "Validate", "url required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return errors.WrapInvalid(err, "forwarder", "Validate", "parse url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "forwarder", "Validate",
			fmt.Sprintf("unsupported url scheme %q", u.Scheme))
	}
	if c.Timeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "forwarder", "Validate",
			"timeout must be positive")
	}
	if c.Subject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "forwarder", "Validate",
			"bus subject required")
	}
	return nil
}

// messageBus is the slice of the NATS client the forwarder uses.
type messageBus interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
}

// ForwarderDeps bundles the dependencies for NewForwarder
type ForwarderDeps struct {
	Name            string
	Config          ForwarderConfig
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Forwarder consumes validated readings from the bus and POSTs each one to
// the configured endpoint exactly once.
type Forwarder struct {
	name       string
	config     ForwarderConfig
	bus        messageBus
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *Metrics

	// Lifecycle management
	running     bool
	startTime   time.Time
	shutdown    chan struct{}
	done        chan struct{}
	mu          sync.RWMutex
	lifecycleMu sync.Mutex

	forwarded    atomic.Int64
	dropped      atomic.Int64
	bytesSent    atomic.Int64
	lastActivity atomic.Value // stores time.Time
}

var (
	_ component.Discoverable       = (*Forwarder)(nil)
	_ component.LifecycleComponent = (*Forwarder)(nil)
)

// NewForwarder creates the downstream forwarder from deps. Zero-valued config
// fields fall back to defaults before validation.
func NewForwarder(deps ForwarderDeps) (*Forwarder, error) {
	cfg := deps.Config
	def := DefaultConfig()
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Subject == "" {
		cfg.Subject = def.Subject
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	name := deps.Name
	if name == "" {
		name = "telemetry-forwarder"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	f := &Forwarder{
		name:    name,
		config:  cfg,
		logger:  logger.With("component", name),
		metrics: newMetrics(deps.MetricsRegistry, name),
		// The client timeout bounds the whole request. There is no retry:
		// a reading that misses its window is dropped.
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	if deps.NATSClient != nil {
		f.bus = deps.NATSClient
	}
	f.lastActivity.Store(time.Time{})
	return f, nil
}

// Initialize verifies the forwarder has a bus to consume from
func (f *Forwarder) Initialize() error {
	if f.bus == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "forwarder", "Initialize",
			"internal bus client required")
	}
	return nil
}

// Start subscribes to validated readings
func (f *Forwarder) Start(ctx context.Context) error {
	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()

	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "forwarder", "Start", "check state")
	}
	f.shutdown = make(chan struct{})
	f.done = make(chan struct{})
	f.mu.Unlock()

	if err := f.bus.Subscribe(ctx, f.config.Subject, f.handleValidReading); err != nil {
		return errors.Wrap(err, "forwarder", "Start",
			fmt.Sprintf("subscribe to %s", f.config.Subject))
	}

	f.mu.Lock()
	f.running = true
	f.startTime = time.Now()
	f.mu.Unlock()

	f.logger.Info("forwarder started", "url", f.config.URL, "timeout", f.config.Timeout)
	return nil
}

// Stop marks the forwarder stopped. In-flight requests finish on their own
// client timeout.
func (f *Forwarder) Stop(_ time.Duration) error {
	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return nil
	}
	f.running = false
	close(f.shutdown)
	close(f.done)

	f.logger.Info("forwarder stopped",
		"forwarded", f.forwarded.Load(),
		"dropped", f.dropped.Load())
	return nil
}

// handleValidReading enriches one validated reading and delivers it downstream
func (f *Forwarder) handleValidReading(ctx context.Context, data []byte) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	f.mu.RLock()
	running := f.running
	f.mu.RUnlock()
	if !running {
		return
	}
	f.lastActivity.Store(time.Now())

	body, deviceID, err := f.buildRequestBody(data)
	if err != nil {
		f.drop("decode", "", err)
		return
	}

	start := time.Now()
	err = f.post(ctx, body)
	if f.metrics != nil {
		f.metrics.requestDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		f.drop("delivery", deviceID, err)
		return
	}

	f.forwarded.Add(1)
	f.bytesSent.Add(int64(len(body)))
	if f.metrics != nil {
		f.metrics.forwarded.Inc()
		f.metrics.bytesForwarded.Add(float64(len(body)))
	}
}

// buildRequestBody decodes the bus event and enriches the reading with
// processing metadata before encoding the outbound document.
func (f *Forwarder) buildRequestBody(data []byte) (body []byte, deviceID string, err error) {
	var event telemetry.ValidEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, "", errors.WrapInvalid(err, "forwarder", "buildRequestBody", "decode event")
	}

	var doc map[string]any
	if err := json.Unmarshal(event.Payload, &doc); err != nil {
		return nil, event.DeviceID, errors.WrapInvalid(err, "forwarder", "buildRequestBody", "decode reading")
	}

	doc["processedAt"] = time.Now().UnixMilli()
	doc["validationPassed"] = true

	body, err = json.Marshal(doc)
	if err != nil {
		return nil, event.DeviceID, errors.Wrap(err, "forwarder", "buildRequestBody", "encode document")
	}
	return body, event.DeviceID, nil
}

// post performs the single delivery attempt
func (f *Forwarder) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.config.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range f.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned %s", resp.Status)
	}
	return nil
}

// drop records a failed delivery. The reading is gone after this.
func (f *Forwarder) drop(reason, deviceID string, err error) {
	f.dropped.Add(1)
	if f.metrics != nil {
		f.metrics.dropped.WithLabelValues(reason).Inc()
	}
	f.logger.Error("reading dropped",
		"reason", reason,
		"device_id", deviceID,
		"error", err)
}

// Forwarded returns the number of readings delivered downstream
func (f *Forwarder) Forwarded() int64 {
	return f.forwarded.Load()
}

// Dropped returns the number of readings dropped after failed deliveries
func (f *Forwarder) Dropped() int64 {
	return f.dropped.Load()
}

// Meta returns component metadata
func (f *Forwarder) Meta() component.Metadata {
	return component.Metadata{
		Name:        f.name,
		Type:        "output",
		Description: fmt.Sprintf("Best-effort HTTP forwarder delivering validated readings to %s", f.config.URL),
		Version:     "1.0.0",
	}
}

// InputPorts returns the bus subscription
func (f *Forwarder) InputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "valid_readings",
			Direction:   component.DirectionInput,
			Required:    true,
			Description: "Validated readings to deliver downstream",
			Config: component.NATSPort{
				Subject: f.config.Subject,
			},
		},
	}
}

// OutputPorts returns no bus ports; delivery leaves the system over HTTP
func (f *Forwarder) OutputPorts() []component.Port {
	return []component.Port{}
}

// Health reports whether the forwarder is consuming
func (f *Forwarder) Health() component.HealthStatus {
	f.mu.RLock()
	running := f.running
	start := f.startTime
	f.mu.RUnlock()

	uptime := time.Duration(0)
	if running && !start.IsZero() {
		uptime = time.Since(start)
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(f.dropped.Load()),
		Uptime:     uptime,
	}
}

// DataFlow reports forwarder throughput
func (f *Forwarder) DataFlow() component.FlowMetrics {
	forwarded := f.forwarded.Load()
	dropped := f.dropped.Load()

	var perSecond, bytesPerSecond float64
	f.mu.RLock()
	start := f.startTime
	f.mu.RUnlock()
	if !start.IsZero() {
		if uptime := time.Since(start).Seconds(); uptime > 0 {
			perSecond = float64(forwarded) / uptime
			bytesPerSecond = float64(f.bytesSent.Load()) / uptime
		}
	}

	var errorRate float64
	if total := forwarded + dropped; total > 0 {
		errorRate = float64(dropped) / float64(total)
	}

	lastAct := time.Time{}
	if v := f.lastActivity.Load(); v != nil {
		lastAct = v.(time.Time)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastAct,
	}
}
