// Package config loads and validates the service configuration. Configuration
// is layered: built-in defaults, then JSON file layers, then TELESTREAM_*
// environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/c360/telestream/telemetry"
)

// Config represents the complete application configuration
type Config struct {
	Version string            `json:"version"`
	Service ServiceConfig     `json:"service"`
	NATS    NATSConfig        `json:"nats"`
	MQTT    MQTTConfig        `json:"mqtt"`
	Socket  SocketConfig      `json:"socket"`
	Forward ForwardConfig     `json:"forward"`
	Rules   telemetry.RuleSet `json:"rules"`
	Metrics MetricsConfig     `json:"metrics"`
	Logging LoggingConfig     `json:"logging"`
}

// ServiceConfig identifies this deployment
type ServiceConfig struct {
	Name        string `json:"name"`
	Environment string `json:"environment,omitempty"` // "prod", "dev", "test"
}

// NATSConfig defines internal bus connection settings
type NATSConfig struct {
	URL           string        `json:"url"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	TLS           TLSConfig     `json:"tls,omitempty"`
}

// TLSConfig for secure broker connections
type TLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// MQTTConfig defines the telemetry broker subscription
type MQTTConfig struct {
	BrokerURL      string        `json:"broker_url"`
	ClientID       string        `json:"client_id,omitempty"`
	Topic          string        `json:"topic,omitempty"`
	QoS            byte          `json:"qos,omitempty"`
	Username       string        `json:"username,omitempty"`
	Password       string        `json:"password,omitempty"`
	ConnectTimeout time.Duration `json:"connect_timeout,omitempty"`
	KeepAlive      time.Duration `json:"keep_alive,omitempty"`
}

// SocketConfig defines the websocket ingress/broadcast listener
type SocketConfig struct {
	Host         string        `json:"host,omitempty"`
	Port         int           `json:"port"`
	Path         string        `json:"path,omitempty"`
	MaxClients   int           `json:"max_clients,omitempty"`
	ReadLimit    int64         `json:"read_limit,omitempty"`
	WriteTimeout time.Duration `json:"write_timeout,omitempty"`
	PingInterval time.Duration `json:"ping_interval,omitempty"`
}

// ForwardConfig defines downstream delivery of validated readings
type ForwardConfig struct {
	Enabled bool              `json:"enabled"`
	URL     string            `json:"url,omitempty"`
	Timeout time.Duration     `json:"timeout,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// MetricsConfig defines the operational HTTP endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// LoggingConfig defines structured log output
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`  // debug, info, warn, error
	Format string `json:"format,omitempty"` // json, text
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return errors.New("service.name is required")
	}

	if c.NATS.URL == "" {
		return errors.New("nats.url is required")
	}

	if c.MQTT.BrokerURL == "" {
		return errors.New("mqtt.broker_url is required")
	}
	if c.MQTT.Topic == "" {
		return errors.New("mqtt.topic is required")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}

	if c.Socket.Port < 1 || c.Socket.Port > 65535 {
		return fmt.Errorf("socket.port must be in 1-65535, got %d", c.Socket.Port)
	}

	if c.Forward.Enabled {
		if c.Forward.URL == "" {
			return errors.New("forward.url is required when forwarding is enabled")
		}
		u, err := url.Parse(c.Forward.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("forward.url %q is not a valid URL", c.Forward.URL)
		}
		if c.Forward.Timeout <= 0 {
			return fmt.Errorf("forward.timeout must be positive, got %v", c.Forward.Timeout)
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be in 1-65535, got %d", c.Metrics.Port)
		}
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format %q is not one of json, text", c.Logging.Format)
	}

	if err := c.Rules.Validate(); err != nil {
		return fmt.Errorf("rules: %w", err)
	}

	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}

	return &clone
}

// String returns a JSON representation of the config with credentials redacted
func (c *Config) String() string {
	clone := c.Clone()
	if clone.NATS.Password != "" {
		clone.NATS.Password = "[redacted]"
	}
	if clone.NATS.Token != "" {
		clone.NATS.Token = "[redacted]"
	}
	if clone.MQTT.Password != "" {
		clone.MQTT.Password = "[redacted]"
	}

	data, _ := json.MarshalIndent(clone, "", "  ")
	return string(data)
}

// SaveToFile saves the configuration to a JSON file
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
