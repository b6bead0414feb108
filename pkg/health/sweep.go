package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/cuemby/mctl/pkg/log"
)

const defaultSweepInterval = 10 * time.Second
const memoryWarnThreshold = 0.9

// WorkloadView is the subset of orchestrator state the sweep needs: the
// list of currently running workloads and a way to mark one failed.
// pkg/orchestrator implements this over its runner set.
type WorkloadView interface {
	RunningWorkloads() []RunningWorkload
	MarkFailed(name, reason string)
}

// RunningWorkload is a minimal snapshot of one running workload, enough to
// drive a liveness and memory check.
type RunningWorkload struct {
	Name          string
	PID           int
	MemoryLimitMB *int
}

// ProcessChecker abstracts process liveness/RSS lookups so tests can fake
// them without spawning real processes.
type ProcessChecker interface {
	Alive(pid int) bool
	RSSMBytes(pid int) (float64, error)
}

// GopsutilChecker is the default ProcessChecker, backed by gopsutil.
type GopsutilChecker struct{}

func (GopsutilChecker) Alive(pid int) bool {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	running, err := proc.IsRunning()
	if err != nil {
		// Matches the source's PermissionError path: existence could not
		// be disproved, so treat the process as alive.
		return true
	}
	return running
}

func (GopsutilChecker) RSSMBytes(pid int) (float64, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return float64(info.RSS) / (1024 * 1024), nil
}

// Sweeper runs a periodic liveness + memory sweep over every running
// workload, the node-side counterpart to the Checker interface above
// (which models pluggable per-workload HTTP/TCP/exec probes).
type Sweeper struct {
	view     WorkloadView
	proc     ProcessChecker
	interval time.Duration

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSweeper constructs a Sweeper. interval defaults to 10s when zero; a
// nil proc defaults to GopsutilChecker.
func NewSweeper(view WorkloadView, proc ProcessChecker, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if proc == nil {
		proc = GopsutilChecker{}
	}
	return &Sweeper{view: view, proc: proc, interval: interval}
}

// Start begins the periodic sweep in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	go s.run(ctx, stopCh, doneCh)
}

// Stop cancels the sweep and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

func (s *Sweeper) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep checks every running workload's liveness and, when a memory limit
// is configured, its RSS against the 90% warning threshold. Exported so
// tests can invoke it synchronously.
func (s *Sweeper) Sweep() {
	for _, wl := range s.view.RunningWorkloads() {
		if !s.proc.Alive(wl.PID) {
			s.view.MarkFailed(wl.Name, fmt.Sprintf("Process %d not found", wl.PID))
			continue
		}
		s.checkMemory(wl)
	}
}

func (s *Sweeper) checkMemory(wl RunningWorkload) {
	if wl.MemoryLimitMB == nil {
		return
	}
	rssMB, err := s.proc.RSSMBytes(wl.PID)
	if err != nil {
		// Missing RSS source is non-fatal per spec.
		log.Logger.Debug().Err(err).Str("workload_name", wl.Name).Msg("could not read RSS for memory check")
		return
	}
	limit := float64(*wl.MemoryLimitMB)
	if rssMB > limit*memoryWarnThreshold {
		log.Logger.Warn().
			Str("workload_name", wl.Name).
			Float64("rss_mb", rssMB).
			Float64("limit_mb", limit).
			Msg("workload memory usage above 90% of its limit")
	}
}
