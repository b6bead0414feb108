package metrics

import (
	"time"

	"github.com/cuemby/mctl/pkg/types"
)

// WorkloadSource is implemented by pkg/orchestrator: a snapshot of every
// workload's current runtime state.
type WorkloadSource interface {
	ListWorkloadStates() []types.WorkloadState
}

// Collector periodically samples a WorkloadSource into the WorkloadsTotal
// gauge, the way a Prometheus exporter would rather than updating the
// gauge inline on every state transition.
type Collector struct {
	source WorkloadSource
	stopCh chan struct{}
}

// NewCollector builds a Collector over source.
func NewCollector(source WorkloadSource) *Collector {
	return &Collector{source: source, stopCh: make(chan struct{})}
}

// Start begins sampling on a 15-second interval, matching Prometheus's
// recommended minimum scrape interval.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts sampling.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	counts := make(map[types.WorkloadStatus]int)
	for _, state := range c.source.ListWorkloadStates() {
		counts[state.Status]++
	}
	for _, status := range []types.WorkloadStatus{
		types.StatusRegistered, types.StatusStarting, types.StatusRunning,
		types.StatusStopping, types.StatusStopped, types.StatusFailed, types.StatusCompleted,
	} {
		WorkloadsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
