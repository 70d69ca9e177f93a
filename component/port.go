package component

import "fmt"

// Direction for data flow
type Direction string

// Direction constants for port data flow
const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Port describes any I/O interface
type Port struct {
	Name        string    `json:"name"`
	Direction   Direction `json:"direction"`
	Required    bool      `json:"required"`
	Description string    `json:"description"`
	Config      Portable  `json:"config"`
}

// Portable identifies a concrete port binding
type Portable interface {
	ResourceID() string // Unique identifier for conflict detection
	IsExclusive() bool  // Whether multiple components can share
	Type() string       // Port type identifier
}

// NATSPort - internal bus pub/sub
type NATSPort struct {
	Subject string `json:"subject"`
	Queue   string `json:"queue,omitempty"`
}

// ResourceID returns unique identifier for NATS ports
func (n NATSPort) ResourceID() string {
	return fmt.Sprintf("nats:%s", n.Subject)
}

// IsExclusive returns false as multiple components can subscribe
func (n NATSPort) IsExclusive() bool {
	return false
}

// Type returns the port type identifier
func (n NATSPort) Type() string {
	return "nats"
}

// MQTTPort - external broker subscription
type MQTTPort struct {
	Broker string `json:"broker"`
	Topic  string `json:"topic"`
	QoS    byte   `json:"qos"`
}

// ResourceID returns unique identifier for MQTT ports
func (m MQTTPort) ResourceID() string {
	return fmt.Sprintf("mqtt:%s:%s", m.Broker, m.Topic)
}

// IsExclusive returns false as shared subscriptions are possible
func (m MQTTPort) IsExclusive() bool {
	return false
}

// Type returns the port type identifier
func (m MQTTPort) Type() string {
	return "mqtt"
}

// NetworkPort - TCP/HTTP network bindings
type NetworkPort struct {
	Protocol string `json:"protocol"` // "tcp", "http", "ws"
	Host     string `json:"host"`     // "0.0.0.0", "localhost"
	Port     int    `json:"port"`     // 8081, 9090
}

// ResourceID returns unique identifier for network ports
func (n NetworkPort) ResourceID() string {
	return fmt.Sprintf("%s:%s:%d", n.Protocol, n.Host, n.Port)
}

// IsExclusive returns true as network ports are exclusive
func (n NetworkPort) IsExclusive() bool {
	return true
}

// Type returns the port type identifier
func (n NetworkPort) Type() string {
	return "network"
}

// HTTPPort - outbound HTTP delivery target
type HTTPPort struct {
	URL    string `json:"url"`
	Method string `json:"method"`
}

// ResourceID returns unique identifier for HTTP ports
func (h HTTPPort) ResourceID() string {
	return fmt.Sprintf("http:%s:%s", h.Method, h.URL)
}

// IsExclusive returns false as multiple components may target one endpoint
func (h HTTPPort) IsExclusive() bool {
	return false
}

// Type returns the port type identifier
func (h HTTPPort) Type() string {
	return "http"
}
