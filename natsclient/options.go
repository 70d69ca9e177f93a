package natsclient

import (
	"fmt"
	"log"
	"time"

	"github.com/c360/telestream/metric"
)

// Logger interface for client logging
type Logger interface {
	Printf(format string, v ...any)
	Errorf(format string, v ...any)
	Debugf(format string, v ...any)
}

// defaultLogger uses the standard library log package
type defaultLogger struct{}

func (l *defaultLogger) Printf(format string, v ...any) {
	log.Printf("[NATS] "+format, v...)
}

func (l *defaultLogger) Errorf(format string, v ...any) {
	log.Printf("[NATS ERROR] "+format, v...)
}

func (l *defaultLogger) Debugf(format string, v ...any) {
	log.Printf("[NATS DEBUG] "+format, v...)
}

// ClientOption configures a Client
type ClientOption func(*Client) error

// WithMaxReconnects sets the maximum number of reconnection attempts.
// Use -1 for infinite reconnects.
func WithMaxReconnects(max int) ClientOption {
	return func(c *Client) error {
		if max < -1 {
			return fmt.Errorf("max reconnects must be >= -1, got %d", max)
		}
		c.maxReconnects = max
		return nil
	}
}

// WithReconnectWait sets the wait time between reconnection attempts
func WithReconnectWait(wait time.Duration) ClientOption {
	return func(c *Client) error {
		if wait < 0 {
			return fmt.Errorf("reconnect wait must be non-negative, got %v", wait)
		}
		c.reconnectWait = wait
		return nil
	}
}

// WithPingInterval sets the interval for ping messages
func WithPingInterval(interval time.Duration) ClientOption {
	return func(c *Client) error {
		if interval <= 0 {
			return fmt.Errorf("ping interval must be positive, got %v", interval)
		}
		c.pingInterval = interval
		return nil
	}
}

// WithHealthInterval sets the interval for health checks.
// Use 0 to disable health monitoring.
func WithHealthInterval(interval time.Duration) ClientOption {
	return func(c *Client) error {
		if interval < 0 {
			return fmt.Errorf("health interval must be non-negative, got %v", interval)
		}
		c.healthInterval = interval
		return nil
	}
}

// WithLogger sets a custom logger
func WithLogger(logger Logger) ClientOption {
	return func(c *Client) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithDisconnectCallback sets a callback for disconnect events
func WithDisconnectCallback(fn func(error)) ClientOption {
	return func(c *Client) error {
		c.onDisconnect = fn
		return nil
	}
}

// WithReconnectCallback sets a callback for reconnect events
func WithReconnectCallback(fn func()) ClientOption {
	return func(c *Client) error {
		c.onReconnect = fn
		return nil
	}
}

// WithHealthChangeCallback sets a callback for health status changes
func WithHealthChangeCallback(fn func(bool)) ClientOption {
	return func(c *Client) error {
		c.onHealthChange = fn
		return nil
	}
}

// WithCircuitBreakerThreshold sets the failure threshold for opening the circuit
func WithCircuitBreakerThreshold(threshold int32) ClientOption {
	return func(c *Client) error {
		if threshold <= 0 {
			return fmt.Errorf("circuit breaker threshold must be positive, got %d", threshold)
		}
		c.circuitThreshold = threshold
		return nil
	}
}

// WithMaxBackoff sets the maximum backoff duration for the circuit breaker
func WithMaxBackoff(max time.Duration) ClientOption {
	return func(c *Client) error {
		if max <= 0 {
			return fmt.Errorf("max backoff must be positive, got %v", max)
		}
		c.maxBackoff = max
		return nil
	}
}

// WithCredentials sets username/password authentication
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithToken sets token authentication
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithTLS enables TLS with the given certificate files
func WithTLS(certFile, keyFile, caFile string) ClientOption {
	return func(c *Client) error {
		c.tlsEnabled = true
		c.tlsCertFile = certFile
		c.tlsKeyFile = keyFile
		c.tlsCAFile = caFile
		return nil
	}
}

// WithName sets the client connection name
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithTimeout sets the connection timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %v", timeout)
		}
		c.timeout = timeout
		return nil
	}
}

// WithDrainTimeout sets the drain timeout for graceful shutdown
func WithDrainTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) error {
		if timeout <= 0 {
			return fmt.Errorf("drain timeout must be positive, got %v", timeout)
		}
		c.drainTimeout = timeout
		return nil
	}
}

// WithMetrics wires the client to the platform metrics registry so connection
// status, reconnects and RTT are exported
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) error {
		if registry == nil {
			return fmt.Errorf("metrics registry cannot be nil")
		}
		c.coreMetrics = registry.CoreMetrics()
		return nil
	}
}
