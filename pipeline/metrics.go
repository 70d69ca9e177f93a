package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/telestream/metric"
)

// pipelineMetrics holds Prometheus metrics for pipeline processing.
type pipelineMetrics struct {
	readingsTotal *prometheus.CounterVec // By component and status (valid/invalid)
	rejections    *prometheus.CounterVec // By component and error code
	errors        *prometheus.CounterVec // By component and error_type (publish)

	processingDuration *prometheus.HistogramVec // By component

	validationRate prometheus.Gauge
}

// newPipelineMetrics creates and registers pipeline metrics with the provided
// registry. A nil registry disables metrics.
func newPipelineMetrics(registry *metric.MetricsRegistry, componentName string) (*pipelineMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &pipelineMetrics{
		readingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telestream",
			Subsystem: "pipeline",
			Name:      "readings_total",
			Help:      "Total number of readings processed by validation status",
		}, []string{"component", "status"}),

		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telestream",
			Subsystem: "pipeline",
			Name:      "rejections_total",
			Help:      "Total number of validation rejections by error code",
		}, []string{"component", "code"}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telestream",
			Subsystem: "pipeline",
			Name:      "errors_total",
			Help:      "Total number of pipeline processing errors",
		}, []string{"component", "error_type"}),

		processingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "telestream",
			Subsystem: "pipeline",
			Name:      "processing_duration_seconds",
			Help:      "End-to-end processing duration per reading",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"component"}),

		validationRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "telestream",
			Subsystem: "pipeline",
			Name:      "validation_rate",
			Help:      "Current validation pass rate (valid / total readings)",
		}),
	}

	if err := registry.RegisterCounterVec(componentName, "readings_total", m.readingsTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(componentName, "rejections", m.rejections); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(componentName, "errors", m.errors); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec(componentName, "processing_duration", m.processingDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(componentName, "validation_rate", m.validationRate); err != nil {
		return nil, err
	}

	return m, nil
}

// recordOutcome records one completed pipeline run.
func (m *pipelineMetrics) recordOutcome(componentName string, valid bool, duration time.Duration) {
	if m == nil {
		return
	}

	status := "invalid"
	if valid {
		status = "valid"
	}

	m.readingsTotal.WithLabelValues(componentName, status).Inc()
	m.processingDuration.WithLabelValues(componentName).Observe(duration.Seconds())
}

// recordRejection records the individual error codes of a rejected reading.
func (m *pipelineMetrics) recordRejection(componentName string, codes []string) {
	if m == nil {
		return
	}

	for _, code := range codes {
		m.rejections.WithLabelValues(componentName, code).Inc()
	}
}

// recordError records an internal processing error such as a publish failure.
func (m *pipelineMetrics) recordError(componentName, errorType string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(componentName, errorType).Inc()
}

// updateValidationRate refreshes the pass-rate gauge.
func (m *pipelineMetrics) updateValidationRate(valid, total int64) {
	if m == nil || total == 0 {
		return
	}
	m.validationRate.Set(float64(valid) / float64(total))
}
