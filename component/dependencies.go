package component

import (
	"log/slog"

	"github.com/c360/telestream/metric"
	"github.com/c360/telestream/natsclient"
)

// Dependencies provides all external dependencies needed by components.
// Components receive this bundle at construction rather than individual
// fields.
type Dependencies struct {
	NATSClient      *natsclient.Client      // internal bus client
	MetricsRegistry *metric.MetricsRegistry // Prometheus registry (can be nil)
	Logger          *slog.Logger            // structured logger (can be nil, defaults to slog.Default())
}

// GetLogger returns the configured logger or a default logger if none is provided
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger configured with component context
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}
