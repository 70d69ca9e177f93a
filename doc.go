// Package telestream provides a streaming pipeline for drone telemetry:
// readings arrive over MQTT and WebSocket, are validated against a
// configurable rule set, and fan out to a downstream HTTP consumer and to
// connected WebSocket observers.
//
// # Architecture
//
// Every component communicates over an internal NATS bus. Ingress adapters
// publish raw payload bytes; the pipeline coordinator validates and routes;
// consumers of validated readings subscribe independently, so a failure in
// one fan-out path never affects another.
//
//	┌──────────────┐    ┌───────────────────┐
//	│ MQTT ingress │    │ WebSocket gateway │  (ingress role)
//	└──────┬───────┘    └─────────┬─────────┘
//	       │                      │
//	       └──── ingest.telemetry.raw ────┐
//	                                      ↓
//	                          ┌───────────────────────┐
//	                          │  Pipeline Coordinator  │
//	                          │  parse → validate →    │
//	                          │  record → route        │
//	                          └─────┬───────────┬─────┘
//	                                │           │
//	                    telemetry.valid   telemetry.invalid
//	                          │     │
//	            ┌─────────────┘     └─────────────┐
//	            ↓                                 ↓
//	    ┌───────────────┐             ┌───────────────────┐
//	    │ HTTP forwarder │             │ WebSocket gateway │
//	    │ (single POST,  │             │ (broadcast role,  │
//	    │  no retry)     │             │  sanitized view)  │
//	    └───────────────┘             └───────────────────┘
//
// # Packages
//
// Domain:
//   - telemetry: reading model, rule set, validator
//   - pipeline: coordinator and rolling pipeline statistics
//
// Adapters:
//   - input/mqtt: broker ingress (device/+/telemetry)
//   - input/websocket: socket gateway, ingress and observer broadcast
//   - output/forward: best-effort HTTP delivery of validated readings
//
// Infrastructure:
//   - natsclient: internal bus connection management with circuit breaker
//   - component: lifecycle, discovery, and the component manager
//   - config: layered JSON configuration with environment overrides
//   - metric: Prometheus registry and the operational HTTP endpoint
//   - errors: classified error handling
//   - pkg/buffer: generic circular buffer with overflow policies
//   - pkg/retry: exponential backoff for connection establishment
//
// # Binary
//
// Build and run:
//
//	go build ./cmd/telestream
//	./telestream --config configs/example.json
//
// The /stats endpoint on the metrics server serves the pipeline counters:
// total received, valid, invalid, validation rate, and the average
// processing time over the last thousand readings.
package telestream
