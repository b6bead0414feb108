// Package types defines the data structures shared across mctl: workload
// specs and run state (workload.go), and the controller-side fleet model —
// clients, their heartbeat-reported workloads, and deployments (fleet.go).
// Every other package depends on this one; this one depends on nothing.
package types
