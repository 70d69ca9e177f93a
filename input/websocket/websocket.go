// Package websocket provides the socket gateway. A single WebSocket endpoint
// serves two roles: inbound frames from connected devices are published raw to
// the internal bus, and validated readings coming off the bus are broadcast to
// every connected observer as a sanitized projection.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/telestream/component"
	"github.com/c360/telestream/errors"
	"github.com/c360/telestream/metric"
	"github.com/c360/telestream/natsclient"
	"github.com/c360/telestream/telemetry"
)

// Metrics holds Prometheus metrics for the socket gateway
type Metrics struct {
	clientsConnected  prometheus.Gauge
	connectionsTotal  prometheus.Counter
	framesReceived    prometheus.Counter
	messagesBroadcast prometheus.Counter
	bytesSent         prometheus.Counter
	clientsDropped    *prometheus.CounterVec
	broadcastDuration prometheus.Histogram
	errorsTotal       *prometheus.CounterVec
}

// newMetrics creates and registers socket gateway metrics. A nil registry
// disables metrics.
func newMetrics(registry *metric.MetricsRegistry, componentName string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "telestream",
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telestream",
			Subsystem: "websocket",
			Name:      "connections_total",
			Help:      "Total client connections accepted",
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telestream",
			Subsystem: "websocket",
			Name:      "frames_received_total",
			Help:      "Total inbound telemetry frames received from clients",
		}),
		messagesBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telestream",
			Subsystem: "websocket",
			Name:      "messages_broadcast_total",
			Help:      "Total validated readings broadcast to observers",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telestream",
			Subsystem: "websocket",
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent to connected clients",
		}),
		clientsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telestream",
			Subsystem: "websocket",
			Name:      "clients_dropped_total",
			Help:      "Clients disconnected by the server",
		}, []string{"reason"}),
		broadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "telestream",
			Subsystem: "websocket",
			Name:      "broadcast_duration_seconds",
			Help:      "Time to broadcast one reading to all connected clients",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telestream",
			Subsystem: "websocket",
			Name:      "errors_total",
			Help:      "Gateway errors by type",
		}, []string{"error_type"}),
	}

	registry.RegisterGauge(componentName, "clients_connected", metrics.clientsConnected)
	registry.RegisterCounter(componentName, "connections_total", metrics.connectionsTotal)
	registry.RegisterCounter(componentName, "frames_received", metrics.framesReceived)
	registry.RegisterCounter(componentName, "messages_broadcast", metrics.messagesBroadcast)
	registry.RegisterCounter(componentName, "bytes_sent", metrics.bytesSent)
	registry.RegisterCounterVec(componentName, "clients_dropped", metrics.clientsDropped)
	registry.RegisterHistogram(componentName, "broadcast_duration", metrics.broadcastDuration)
	registry.RegisterCounterVec(componentName, "errors_total", metrics.errorsTotal)

	return metrics
}

// ServerConfig holds configuration for the socket gateway
type ServerConfig struct {
	Host         string        `json:"host,omitempty"`
	Port         int           `json:"port,omitempty"`
	Path         string        `json:"path,omitempty"`
	MaxClients   int           `json:"max_clients,omitempty"`
	ReadLimit    int64         `json:"read_limit,omitempty"`
	WriteTimeout time.Duration `json:"write_timeout,omitempty"`
	PingInterval time.Duration `json:"ping_interval,omitempty"`
	RawSubject   string        `json:"raw_subject,omitempty"`   // inbound frames are published here
	ValidSubject string        `json:"valid_subject,omitempty"` // validated readings are consumed from here
}

// DefaultConfig returns the default socket gateway configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8081,
		Path:         "/telemetry",
		MaxClients:   256,
		ReadLimit:    1 << 20,
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
		RawSubject:   "ingest.telemetry.raw",
		ValidSubject: "telemetry.valid",
	}
}

// Validate checks the configuration for usable values
func (c ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "websocket-gateway", "Validate",
			fmt.Sprintf("port %d out of range 1-65535", c.Port))
	}
	if c.Path == "" || c.Path[0] != '/' {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "websocket-gateway", "Validate",
			fmt.Sprintf("path %q must start with /", c.Path))
	}
	if c.MaxClients < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "websocket-gateway", "Validate",
			"max_clients must be positive")
	}
	if c.ReadLimit < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "websocket-gateway", "Validate",
			"read_limit must be positive")
	}
	if c.WriteTimeout <= 0 || c.PingInterval <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "websocket-gateway", "Validate",
			"write_timeout and ping_interval must be positive")
	}
	if c.RawSubject == "" || c.ValidSubject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "websocket-gateway", "Validate",
			"raw and valid bus subjects required")
	}
	return nil
}

// messageBus is the slice of the NATS client the gateway uses.
type messageBus interface {
	Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error
	Publish(ctx context.Context, subject string, data []byte) error
}

// ServerDeps bundles the dependencies for NewServer
type ServerDeps struct {
	Name            string
	Config          ServerConfig
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// MessageEnvelope wraps every broadcast frame with type discrimination so
// observers can route on the type field.
type MessageEnvelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Projection is the sanitized view of a validated reading sent to observers.
// Raw sensor data and internal bookkeeping never cross this boundary.
type Projection struct {
	DeviceID  string       `json:"deviceId"`
	Timestamp int64        `json:"timestamp"`
	GPS       *GPSView     `json:"gps,omitempty"`
	Battery   *BatteryView `json:"battery,omitempty"`
	Status    string       `json:"status"`
}

// GPSView carries device position for observers
type GPSView struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// BatteryView exposes only the battery charge level
type BatteryView struct {
	Percentage float64 `json:"percentage"`
}

// client tracks one WebSocket connection
type client struct {
	conn        *gorillaws.Conn
	connectedAt time.Time
	closed      atomic.Bool
	closeOnce   sync.Once
	writeMu     sync.Mutex // gorilla connections do not allow concurrent writes
}

// Server is the dual-role WebSocket gateway. Inbound frames from clients flow
// to the raw bus subject exactly as received, and validated readings flow back
// out to every connected client.
type Server struct {
	name    string
	config  ServerConfig
	bus     messageBus
	logger  *slog.Logger
	metrics *Metrics

	httpServer *http.Server
	upgrader   gorillaws.Upgrader
	clients    map[*gorillaws.Conn]*client
	clientsMu  sync.RWMutex

	// Lifecycle management
	running     bool
	startTime   time.Time
	shutdown    chan struct{}
	done        chan struct{}
	mu          sync.RWMutex
	lifecycleMu sync.Mutex
	wg          *sync.WaitGroup

	framesReceived atomic.Int64
	broadcasts     atomic.Int64
	bytesSent      atomic.Int64
	errCount       atomic.Int64
	lastActivity   atomic.Value // stores time.Time
}

var (
	_ component.Discoverable       = (*Server)(nil)
	_ component.LifecycleComponent = (*Server)(nil)
)

// NewServer creates the socket gateway from deps. Zero-valued config fields
// fall back to defaults before validation.
func NewServer(deps ServerDeps) (*Server, error) {
	cfg := deps.Config
	def := DefaultConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.MaxClients == 0 {
		cfg.MaxClients = def.MaxClients
	}
	if cfg.ReadLimit == 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.RawSubject == "" {
		cfg.RawSubject = def.RawSubject
	}
	if cfg.ValidSubject == "" {
		cfg.ValidSubject = def.ValidSubject
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	name := deps.Name
	if name == "" {
		name = "websocket-gateway"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		name:    name,
		config:  cfg,
		logger:  logger.With("component", name),
		metrics: newMetrics(deps.MetricsRegistry, name),
		clients: make(map[*gorillaws.Conn]*client),
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
	}
	if deps.NATSClient != nil {
		s.bus = deps.NATSClient
	}
	s.lastActivity.Store(time.Time{})
	return s, nil
}

// Initialize verifies the gateway has a bus to talk to
func (s *Server) Initialize() error {
	if s.bus == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "websocket-gateway", "Initialize",
			"internal bus client required")
	}
	return nil
}

// Start begins serving the WebSocket endpoint and subscribes to validated
// readings for broadcast.
func (s *Server) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "websocket-gateway", "Start", "check state")
	}
	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})
	s.wg = &sync.WaitGroup{}
	s.startTime = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleUpgrade)
	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Unlock()

	if s.bus != nil {
		if err := s.bus.Subscribe(ctx, s.config.ValidSubject, s.handleValidReading); err != nil {
			s.mu.Lock()
			s.httpServer = nil
			close(s.shutdown)
			close(s.done)
			s.mu.Unlock()
			return errors.Wrap(err, "websocket-gateway", "Start",
				fmt.Sprintf("subscribe to %s", s.config.ValidSubject))
		}
	}

	s.wg.Add(2)
	go s.runServer()
	go s.pingLoop()

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.logger.Info("socket gateway started",
		"addr", s.httpServer.Addr,
		"path", s.config.Path,
		"max_clients", s.config.MaxClients)
	return nil
}

// Stop shuts the HTTP server down, closes every client connection, and waits
// for goroutines to drain.
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.shutdown)
	server := s.httpServer
	wg := s.wg
	s.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http shutdown error", "error", err)
		}
	}

	s.closeAllClients()

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-time.After(timeout):
		s.logger.Warn("gateway goroutines did not exit before timeout")
	}

	s.mu.Lock()
	s.httpServer = nil
	close(s.done)
	s.mu.Unlock()

	s.logger.Info("socket gateway stopped")
	return nil
}

// runServer blocks in ListenAndServe until Stop shuts the server down
func (s *Server) runServer() {
	defer s.wg.Done()

	s.mu.RLock()
	server := s.httpServer
	s.mu.RUnlock()
	if server == nil {
		return
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.errCount.Add(1)
		s.recordError("listen")
		s.logger.Error("socket gateway server failed", "error", err)
	}
}

// handleUpgrade upgrades an HTTP request to a WebSocket connection and starts
// the per-client read pump.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	full := len(s.clients) >= s.config.MaxClients
	s.clientsMu.RUnlock()
	if full {
		s.recordError("capacity")
		http.Error(w, "client capacity reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.errCount.Add(1)
		s.recordError("upgrade")
		return
	}
	conn.SetReadLimit(s.config.ReadLimit)

	cl := &client{conn: conn, connectedAt: time.Now()}

	s.clientsMu.Lock()
	s.clients[conn] = cl
	count := len(s.clients)
	s.clientsMu.Unlock()

	if s.metrics != nil {
		s.metrics.connectionsTotal.Inc()
		s.metrics.clientsConnected.Set(float64(count))
	}
	s.logger.Debug("client connected", "remote", conn.RemoteAddr().String(), "clients", count)

	// The request context dies when this handler returns, so the pump runs
	// against the background context until the connection closes.
	s.wg.Add(1)
	go s.readPump(context.Background(), cl)
}

// readPump reads frames from one client and publishes them raw to the bus.
// Frames pass through untouched; validation happens downstream.
func (s *Server) readPump(ctx context.Context, cl *client) {
	defer s.wg.Done()
	defer s.removeClient(cl, "read_error")

	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(2 * s.config.PingInterval))
	})
	_ = cl.conn.SetReadDeadline(time.Now().Add(2 * s.config.PingInterval))

	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		msgType, data, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != gorillaws.TextMessage && msgType != gorillaws.BinaryMessage {
			continue
		}

		s.framesReceived.Add(1)
		s.lastActivity.Store(time.Now())
		if s.metrics != nil {
			s.metrics.framesReceived.Inc()
		}

		if err := s.bus.Publish(ctx, s.config.RawSubject, data); err != nil {
			s.errCount.Add(1)
			s.recordError("bus_publish")
			s.logger.Error("publish inbound frame failed", "error", err)
		}
	}
}

// handleValidReading receives a validated reading from the bus, builds the
// sanitized projection, and broadcasts it to all connected clients.
func (s *Server) handleValidReading(ctx context.Context, data []byte) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if !running {
		return
	}

	var event telemetry.ValidEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.errCount.Add(1)
		s.recordError("event_decode")
		return
	}

	projection, err := buildProjection(&event)
	if err != nil {
		s.errCount.Add(1)
		s.recordError("projection")
		return
	}

	payload, err := json.Marshal(projection)
	if err != nil {
		s.errCount.Add(1)
		s.recordError("projection_encode")
		return
	}

	envelope := MessageEnvelope{
		Type:      "telemetry",
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Payload:   payload,
	}
	frame, err := json.Marshal(envelope)
	if err != nil {
		s.errCount.Add(1)
		s.recordError("envelope_encode")
		return
	}

	s.lastActivity.Store(time.Now())
	s.broadcast(frame)
}

// buildProjection extracts the observer-safe fields from a validated reading.
// The full GPS group survives, battery is reduced to its charge percentage,
// and raw sensor values are dropped entirely.
func buildProjection(event *telemetry.ValidEvent) (*Projection, error) {
	reading, err := telemetry.ParseReading(event.Payload)
	if err != nil {
		return nil, err
	}

	p := &Projection{
		DeviceID:  reading.DeviceID,
		Timestamp: reading.Timestamp,
		Status:    "active",
	}

	lat, okLat := reading.GroupField("gps", "latitude")
	lon, okLon := reading.GroupField("gps", "longitude")
	alt, okAlt := reading.GroupField("gps", "altitude")
	if okLat && okLon && okAlt && lat.IsNumber && lon.IsNumber && alt.IsNumber {
		p.GPS = &GPSView{Latitude: lat.Num, Longitude: lon.Num, Altitude: alt.Num}
	}

	if pct, ok := reading.GroupField("battery", "percentage"); ok && pct.IsNumber {
		p.Battery = &BatteryView{Percentage: pct.Num}
	}

	return p, nil
}

// broadcast sends one frame to every connected client. A failed or slow write
// drops only that client; the rest of the fan-out is unaffected.
func (s *Server) broadcast(frame []byte) {
	start := time.Now()

	s.clientsMu.RLock()
	snapshot := make([]*client, 0, len(s.clients))
	for _, cl := range s.clients {
		if !cl.closed.Load() {
			snapshot = append(snapshot, cl)
		}
	}
	s.clientsMu.RUnlock()

	var wg sync.WaitGroup
	for _, cl := range snapshot {
		wg.Add(1)
		go func(cl *client) {
			defer wg.Done()
			if err := s.writeFrame(cl, frame); err != nil {
				s.errCount.Add(1)
				s.recordError("client_write")
				s.removeClient(cl, "slow_or_failed_write")
				return
			}
			s.bytesSent.Add(int64(len(frame)))
			if s.metrics != nil {
				s.metrics.bytesSent.Add(float64(len(frame)))
			}
		}(cl)
	}
	wg.Wait()

	s.broadcasts.Add(1)
	if s.metrics != nil {
		s.metrics.messagesBroadcast.Inc()
		s.metrics.broadcastDuration.Observe(time.Since(start).Seconds())
	}
}

// writeFrame writes one frame to a client under its write lock with the
// configured deadline.
func (s *Server) writeFrame(cl *client, frame []byte) error {
	cl.writeMu.Lock()
	defer cl.writeMu.Unlock()
	_ = cl.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return cl.conn.WriteMessage(gorillaws.TextMessage, frame)
}

// removeClient closes and forgets one client exactly once
func (s *Server) removeClient(cl *client, reason string) {
	cl.closeOnce.Do(func() {
		cl.closed.Store(true)

		s.clientsMu.Lock()
		delete(s.clients, cl.conn)
		count := len(s.clients)
		s.clientsMu.Unlock()

		_ = cl.conn.Close()

		if s.metrics != nil {
			s.metrics.clientsDropped.WithLabelValues(reason).Inc()
			s.metrics.clientsConnected.Set(float64(count))
		}
		s.logger.Debug("client disconnected", "reason", reason, "clients", count)
	})
}

// closeAllClients closes every connection during shutdown
func (s *Server) closeAllClients() {
	s.clientsMu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, cl := range s.clients {
		clients = append(clients, cl)
	}
	s.clientsMu.Unlock()

	for _, cl := range clients {
		s.removeClient(cl, "shutdown")
	}
}

// pingLoop pings all clients at the configured interval so dead connections
// fail their next read deadline and get reaped.
func (s *Server) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.clientsMu.RLock()
			snapshot := make([]*client, 0, len(s.clients))
			for _, cl := range s.clients {
				if !cl.closed.Load() {
					snapshot = append(snapshot, cl)
				}
			}
			s.clientsMu.RUnlock()

			for _, cl := range snapshot {
				cl.writeMu.Lock()
				_ = cl.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				err := cl.conn.WriteMessage(gorillaws.PingMessage, nil)
				cl.writeMu.Unlock()
				if err != nil {
					s.removeClient(cl, "ping_failed")
				}
			}
		}
	}
}

func (s *Server) recordError(errorType string) {
	if s.metrics != nil {
		s.metrics.errorsTotal.WithLabelValues(errorType).Inc()
	}
}

// ClientCount returns the number of currently connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Meta returns component metadata
func (s *Server) Meta() component.Metadata {
	return component.Metadata{
		Name: s.name,
		Type: "gateway",
		Description: fmt.Sprintf("WebSocket gateway on %s:%d%s for device ingress and observer broadcast",
			s.config.Host, s.config.Port, s.config.Path),
		Version: "1.0.0",
	}
}

// InputPorts returns the bus subscription and the network listener
func (s *Server) InputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "valid_readings",
			Direction:   component.DirectionInput,
			Required:    true,
			Description: "Validated readings consumed for observer broadcast",
			Config: component.NATSPort{
				Subject: s.config.ValidSubject,
			},
		},
		{
			Name:        "websocket_listener",
			Direction:   component.DirectionInput,
			Required:    true,
			Description: fmt.Sprintf("WebSocket endpoint at ws://%s:%d%s", s.config.Host, s.config.Port, s.config.Path),
			Config: component.NetworkPort{
				Protocol: "websocket",
				Host:     s.config.Host,
				Port:     s.config.Port,
			},
		},
	}
}

// OutputPorts returns the raw bus subject inbound frames are published to
func (s *Server) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "raw_frames",
			Direction:   component.DirectionOutput,
			Required:    true,
			Description: "Inbound telemetry frames published raw for validation",
			Config: component.NATSPort{
				Subject: s.config.RawSubject,
			},
		},
	}
}

// Health reports whether the gateway is serving
func (s *Server) Health() component.HealthStatus {
	s.mu.RLock()
	running := s.running
	serving := s.httpServer != nil
	start := s.startTime
	s.mu.RUnlock()

	uptime := time.Duration(0)
	if running && !start.IsZero() {
		uptime = time.Since(start)
	}

	return component.HealthStatus{
		Healthy:    running && serving,
		LastCheck:  time.Now(),
		ErrorCount: int(s.errCount.Load()),
		Uptime:     uptime,
	}
}

// DataFlow reports gateway throughput
func (s *Server) DataFlow() component.FlowMetrics {
	frames := s.framesReceived.Load()
	broadcasts := s.broadcasts.Load()
	bytes := s.bytesSent.Load()

	var perSecond, bytesPerSecond float64
	s.mu.RLock()
	start := s.startTime
	s.mu.RUnlock()
	if !start.IsZero() {
		if uptime := time.Since(start).Seconds(); uptime > 0 {
			perSecond = float64(frames+broadcasts) / uptime
			bytesPerSecond = float64(bytes) / uptime
		}
	}

	var errorRate float64
	if total := frames + broadcasts; total > 0 {
		errorRate = float64(s.errCount.Load()) / float64(total)
	}

	lastAct := time.Time{}
	if v := s.lastActivity.Load(); v != nil {
		lastAct = v.(time.Time)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastAct,
	}
}
