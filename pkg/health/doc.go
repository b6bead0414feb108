/*
Package health provides two related mechanisms:

  - Sweeper: the node supervisor's periodic liveness + memory sweep over
    running workloads (signal-0 equivalent via gopsutil, RSS vs 90% of
    memory_limit_mb).
  - Checker: a pluggable per-workload probe interface (HTTP, TCP, Exec)
    usable by the plugin registry's HealthCheck extension point, modeled
    on Docker-style consecutive-failure/retry semantics via Status.Update.

The two are independent: Sweeper always runs for every workload with a
pid; Checker implementations are opt-in, attached by a workload's plugin
configuration.
*/
package health
