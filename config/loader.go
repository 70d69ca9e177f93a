package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c360/telestream/telemetry"
)

// EnvPrefix is the prefix for all environment variable overrides.
const EnvPrefix = "TELESTREAM"

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: EnvPrefix,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, file layers and environment overrides in that order.
func (l *Loader) Load() (*Config, error) {
	cfg := l.getDefaults()

	for _, path := range l.layers {
		rawConfig, err := l.loadRawJSON(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg = l.mergeFromMap(cfg, rawConfig)
	}

	l.applyEnvOverrides(cfg)

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// getDefaults returns default configuration
func (l *Loader) getDefaults() *Config {
	return &Config{
		Version: "1.0.0",
		Service: ServiceConfig{
			Name:        "telestream",
			Environment: "dev",
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		MQTT: MQTTConfig{
			BrokerURL:      "tcp://localhost:1883",
			ClientID:       "telestream-ingress",
			Topic:          "device/+/telemetry",
			QoS:            1,
			ConnectTimeout: 10 * time.Second,
			KeepAlive:      30 * time.Second,
		},
		Socket: SocketConfig{
			Host:         "0.0.0.0",
			Port:         8081,
			Path:         "/telemetry",
			MaxClients:   256,
			ReadLimit:    1 << 20,
			WriteTimeout: 5 * time.Second,
			PingInterval: 30 * time.Second,
		},
		Forward: ForwardConfig{
			Enabled: true,
			URL:     "http://localhost:8090/readings",
			Timeout: 5 * time.Second,
		},
		Rules: telemetry.DefaultRules(),
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadRawJSON loads configuration from a JSON file as a map
func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return nil, err
	}

	l.parseDurations(rawConfig)

	return rawConfig, nil
}

// Duration-valued keys per config section. File layers may write these as Go
// duration strings ("5s", "2m"); they are normalized to nanoseconds before
// unmarshaling.
var durationKeys = map[string][]string{
	"nats":    {"reconnect_wait"},
	"mqtt":    {"connect_timeout", "keep_alive"},
	"socket":  {"write_timeout", "ping_interval"},
	"forward": {"timeout"},
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func (l *Loader) parseDurations(data map[string]any) {
	for section, keys := range durationKeys {
		obj, ok := data[section].(map[string]any)
		if !ok {
			continue
		}
		for _, key := range keys {
			if s, ok := obj[key].(string); ok {
				if d, err := time.ParseDuration(s); err == nil {
					obj[key] = d.Nanoseconds()
				}
			}
		}
	}
}

// mergeFromMap merges configuration from a raw map, only overriding fields
// present in the map
func (l *Loader) mergeFromMap(base *Config, override map[string]any) *Config {
	if override == nil {
		return base
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return base
	}

	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return base
	}

	mergedMap := l.deepMergeMaps(baseMap, override)

	mergedJSON, err := json.Marshal(mergedMap)
	if err != nil {
		return base
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return base
	}

	return &merged
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func (l *Loader) deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any)

	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}

		if baseMap, baseOk := base[k].(map[string]any); baseOk {
			if overrideMap, overrideOk := v.(map[string]any); overrideOk {
				result[k] = l.deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}

		result[k] = v
	}

	return result
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) {
	l.setString(&cfg.Service.Name, "SERVICE_NAME")
	l.setString(&cfg.Service.Environment, "ENVIRONMENT")

	l.setString(&cfg.NATS.URL, "NATS_URL")
	l.setString(&cfg.NATS.Username, "NATS_USERNAME")
	l.setString(&cfg.NATS.Password, "NATS_PASSWORD")
	l.setString(&cfg.NATS.Token, "NATS_TOKEN")

	l.setString(&cfg.MQTT.BrokerURL, "MQTT_BROKER_URL")
	l.setString(&cfg.MQTT.ClientID, "MQTT_CLIENT_ID")
	l.setString(&cfg.MQTT.Topic, "MQTT_TOPIC")
	l.setString(&cfg.MQTT.Username, "MQTT_USERNAME")
	l.setString(&cfg.MQTT.Password, "MQTT_PASSWORD")

	l.setInt(&cfg.Socket.Port, "SOCKET_PORT")

	l.setString(&cfg.Forward.URL, "FORWARD_URL")
	if val := l.lookup("FORWARD_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Forward.Timeout = d
		}
	}

	l.setInt(&cfg.Metrics.Port, "METRICS_PORT")

	l.setString(&cfg.Logging.Level, "LOG_LEVEL")
	l.setString(&cfg.Logging.Format, "LOG_FORMAT")
}

func (l *Loader) lookup(key string) string {
	val := os.Getenv(l.envPrefix + "_" + key)
	if err := validateEnvVar(key, val); err != nil {
		return ""
	}
	return val
}

func (l *Loader) setString(target *string, key string) {
	if val := l.lookup(key); val != "" {
		*target = val
	}
}

func (l *Loader) setInt(target *int, key string) {
	if val := l.lookup(key); val != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			*target = n
		}
	}
}
