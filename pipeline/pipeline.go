// Package pipeline coordinates telemetry processing: it consumes raw payloads
// from the internal bus, validates them, and fans the outcome out to the
// valid and invalid subjects. The coordinator never knows which transport a
// payload arrived on.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/telestream/component"
	"github.com/c360/telestream/errors"
	"github.com/c360/telestream/telemetry"
)

// Bus subjects wiring the pipeline to its adapters and consumers.
const (
	DefaultRawSubject     = "ingest.telemetry.raw"
	DefaultValidSubject   = "telemetry.valid"
	DefaultInvalidSubject = "telemetry.invalid"
)

// messageBus is the slice of the NATS client the coordinator uses.
type messageBus interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
	Publish(ctx context.Context, subject string, data []byte) error
}

// Config holds coordinator configuration
type Config struct {
	RawSubject     string            `json:"raw_subject,omitempty"`
	ValidSubject   string            `json:"valid_subject,omitempty"`
	InvalidSubject string            `json:"invalid_subject,omitempty"`
	Rules          telemetry.RuleSet `json:"rules"`
}

// DefaultConfig returns the default coordinator configuration
func DefaultConfig() Config {
	return Config{
		RawSubject:     DefaultRawSubject,
		ValidSubject:   DefaultValidSubject,
		InvalidSubject: DefaultInvalidSubject,
		Rules:          telemetry.DefaultRules(),
	}
}

// Coordinator subscribes to raw payloads and routes validation outcomes.
type Coordinator struct {
	name           string
	rawSubject     string
	validSubject   string
	invalidSubject string

	validator *telemetry.Validator
	bus       messageBus
	stats     *Stats
	logger    *slog.Logger
	metrics   *pipelineMetrics

	// Lifecycle management
	running     bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex

	errorCount   atomic.Int64
	lastActivity atomic.Value // stores time.Time
}

// NewCoordinator creates a pipeline coordinator from configuration.
func NewCoordinator(cfg Config, deps component.Dependencies) (*Coordinator, error) {
	if cfg.RawSubject == "" {
		cfg.RawSubject = DefaultRawSubject
	}
	if cfg.ValidSubject == "" {
		cfg.ValidSubject = DefaultValidSubject
	}
	if cfg.InvalidSubject == "" {
		cfg.InvalidSubject = DefaultInvalidSubject
	}

	if err := cfg.Rules.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Pipeline", "NewCoordinator", "validate rule set")
	}

	name := "telemetry-pipeline"

	metrics, err := newPipelineMetrics(deps.MetricsRegistry, name)
	if err != nil {
		deps.GetLogger().Error("Failed to initialize pipeline metrics", "error", err)
		metrics = nil // Continue without metrics
	}

	var bus messageBus
	if deps.NATSClient != nil {
		bus = deps.NATSClient
	}

	c := &Coordinator{
		name:           name,
		rawSubject:     cfg.RawSubject,
		validSubject:   cfg.ValidSubject,
		invalidSubject: cfg.InvalidSubject,
		validator:      telemetry.NewValidator(cfg.Rules),
		bus:            bus,
		stats:          NewStats(),
		logger:         deps.GetLoggerWithComponent(name),
		metrics:        metrics,
	}
	c.lastActivity.Store(time.Time{})

	return c, nil
}

// Stats exposes the coordinator's counters for the operational endpoint.
func (p *Coordinator) Stats() *Stats {
	return p.stats
}

// Initialize prepares the coordinator
func (p *Coordinator) Initialize() error {
	if p.bus == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "Pipeline", "Initialize", "NATS client required")
	}
	return nil
}

// Start subscribes to the raw payload subject
func (p *Coordinator) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Pipeline", "Start", "check running state")
	}

	if err := p.bus.Subscribe(ctx, p.rawSubject, p.handleMessage); err != nil {
		return errors.WrapTransient(err, "Pipeline", "Start", fmt.Sprintf("subscribe to %s", p.rawSubject))
	}

	p.mu.Lock()
	p.running = true
	p.startTime = time.Now()
	p.mu.Unlock()

	p.logger.Info("Pipeline coordinator started",
		"raw_subject", p.rawSubject,
		"valid_subject", p.validSubject,
		"invalid_subject", p.invalidSubject)

	return nil
}

// Stop stops the coordinator. In-flight messages finish on their own; the
// subscription itself is torn down when the NATS client closes.
func (p *Coordinator) Stop(_ time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.running {
		return nil
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.stats.Close()

	p.logger.Info("Pipeline coordinator stopped")
	return nil
}

// handleMessage runs one payload through parse, validate and fan-out. It is
// invoked concurrently by the bus and must not block other invocations.
func (p *Coordinator) handleMessage(ctx context.Context, raw []byte) {
	start := time.Now()
	p.lastActivity.Store(start)

	reading, err := telemetry.ParseReading(raw)
	if err != nil {
		p.logger.Debug("Payload failed to parse", "size_bytes", len(raw), "error", err)
		p.reject(ctx, "", []string{telemetry.CodeParseError}, start)
		return
	}

	outcome := p.validator.Validate(reading)
	if !outcome.Valid {
		p.logger.Debug("Reading rejected",
			"device_id", reading.DeviceID,
			"errors", outcome.Errors)
		p.reject(ctx, reading.DeviceID, outcome.Errors, start)
		return
	}

	p.accept(ctx, reading, start)
}

// accept publishes a validated reading to the valid subject. A publish
// failure is an internal error, not a validation failure: the reading still
// counts as valid.
func (p *Coordinator) accept(ctx context.Context, reading *telemetry.Reading, start time.Time) {
	event := telemetry.ValidEvent{
		DeviceID:   reading.DeviceID,
		ReceivedAt: start.UnixMilli(),
		Payload:    json.RawMessage(reading.Raw()),
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.errorCount.Add(1)
		p.metrics.recordError(p.name, "encode")
		p.logger.Error("Failed to encode valid event", "device_id", reading.DeviceID, "error", err)
	} else if err := p.bus.Publish(ctx, p.validSubject, data); err != nil {
		p.errorCount.Add(1)
		p.metrics.recordError(p.name, "publish")
		p.logger.Error("Failed to publish valid reading",
			"device_id", reading.DeviceID,
			"subject", p.validSubject,
			"error", err)
	}

	elapsed := time.Since(start)
	p.stats.RecordValid(elapsed)
	p.metrics.recordOutcome(p.name, true, elapsed)
	p.refreshRate()
}

// reject publishes an invalid event carrying the full error list.
func (p *Coordinator) reject(ctx context.Context, deviceID string, codes []string, start time.Time) {
	event := telemetry.InvalidEvent{
		DeviceID: deviceID,
		Errors:   codes,
		At:       start.UnixMilli(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.errorCount.Add(1)
		p.metrics.recordError(p.name, "encode")
	} else if err := p.bus.Publish(ctx, p.invalidSubject, data); err != nil {
		p.errorCount.Add(1)
		p.metrics.recordError(p.name, "publish")
		p.logger.Error("Failed to publish invalid event",
			"device_id", deviceID,
			"subject", p.invalidSubject,
			"error", err)
	}

	elapsed := time.Since(start)
	p.stats.RecordInvalid(elapsed)
	p.metrics.recordOutcome(p.name, false, elapsed)
	p.metrics.recordRejection(p.name, codes)
	p.refreshRate()
}

func (p *Coordinator) refreshRate() {
	snap := p.stats.Snapshot()
	if snap.TotalReceived%100 == 0 {
		p.metrics.updateValidationRate(snap.ValidCount, snap.TotalReceived)
	}
}

// Discoverable interface implementation

// Meta returns metadata describing the coordinator.
func (p *Coordinator) Meta() component.Metadata {
	return component.Metadata{
		Name:        p.name,
		Type:        "processor",
		Description: "Telemetry validation and fan-out coordinator",
		Version:     "1.0.0",
	}
}

// InputPorts returns the raw payload subscription.
func (p *Coordinator) InputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "raw_input",
			Direction:   component.DirectionInput,
			Required:    true,
			Description: "Raw telemetry payloads from ingress adapters",
			Config:      component.NATSPort{Subject: p.rawSubject},
		},
	}
}

// OutputPorts returns the valid and invalid fan-out subjects.
func (p *Coordinator) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "valid_output",
			Direction:   component.DirectionOutput,
			Required:    true,
			Description: "Validated readings",
			Config:      component.NATSPort{Subject: p.validSubject},
		},
		{
			Name:        "invalid_output",
			Direction:   component.DirectionOutput,
			Required:    false,
			Description: "Rejected readings with error codes",
			Config:      component.NATSPort{Subject: p.invalidSubject},
		},
	}
}

// Health returns the current health status of the coordinator.
func (p *Coordinator) Health() component.HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    p.running,
		LastCheck:  time.Now(),
		ErrorCount: int(p.errorCount.Load()),
		Uptime:     time.Since(p.startTime),
	}
}

// DataFlow returns current data flow metrics for the coordinator.
func (p *Coordinator) DataFlow() component.FlowMetrics {
	snap := p.stats.Snapshot()

	var errorRate float64
	if snap.TotalReceived > 0 {
		errorRate = float64(snap.InvalidCount) / float64(snap.TotalReceived)
	}

	lastActivity, _ := p.lastActivity.Load().(time.Time)

	return component.FlowMetrics{
		ErrorRate:    errorRate,
		LastActivity: lastActivity,
	}
}
