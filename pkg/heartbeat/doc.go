// Package heartbeat implements the node-side periodic reporter that POSTs
// workload state and host system metrics to the central controller's
// /api/heartbeat endpoint. See CollectSystemMetrics for the gopsutil-based
// sampling used to fill out the payload's System field.
package heartbeat
