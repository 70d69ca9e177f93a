// Package metric provides Prometheus metrics infrastructure for Telestream:
// a registry wrapping prometheus.Registry with duplicate tracking, core
// platform metrics shared by all components, and the HTTP server exposing
// /metrics, /stats, and /healthz.
package metric
