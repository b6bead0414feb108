// Package metrics exposes Prometheus gauges/counters/histograms for the
// node supervisor and the central controller (github.com/prometheus/client_golang),
// plus a small dependency-free component-health registry (HealthHandler,
// ReadyHandler, LivenessHandler). ReadyHandler and LivenessHandler serve
// the HTTP APIs' /api/ready and /api/live endpoints; HealthHandler is not
// mounted by either API.
//
// Collector samples workload status counts on an interval; everything
// else is updated inline at the call site (heartbeat outcome, deployment
// terminal status, API request duration).
package metrics
