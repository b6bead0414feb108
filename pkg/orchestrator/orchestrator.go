// Package orchestrator is the node-side composition root: it owns one
// Runner per registered workload, wires the cron scheduler for
// run_mode=schedule workloads, drives hot-reload diffing, and exposes the
// accessor interfaces pkg/ipc, pkg/health, pkg/metrics and pkg/heartbeat
// need to observe and drive it.
package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/mctl/pkg/config"
	"github.com/cuemby/mctl/pkg/cronsched"
	"github.com/cuemby/mctl/pkg/health"
	"github.com/cuemby/mctl/pkg/log"
	"github.com/cuemby/mctl/pkg/mctlerr"
	"github.com/cuemby/mctl/pkg/metrics"
	"github.com/cuemby/mctl/pkg/reconciler"
	"github.com/cuemby/mctl/pkg/registry"
	"github.com/cuemby/mctl/pkg/runner"
	"github.com/cuemby/mctl/pkg/types"
)

const defaultStopTimeout = 10 * time.Second

// Orchestrator owns every workload's Runner, keyed by name, plus the cron
// scheduler that triggers run_mode=schedule workloads.
type Orchestrator struct {
	registry  *registry.Registry
	launcher  runner.Launcher
	recorder  runner.RunRecorder
	stateSink runner.StateSink
	cron      *cronsched.Scheduler
	loader    *config.Loader
	logDir    string
	logger    zerolog.Logger

	mu      sync.RWMutex
	runners map[string]*runner.Runner
}

// New builds an Orchestrator. recorder/stateSink may be nil (disables run
// history / crash-recovery snapshotting, useful in tests). loader is used
// only by Reload, to re-read workload specs from their source directory;
// it may be nil for orchestrators that are never hot-reloaded.
func New(launcher runner.Launcher, recorder runner.RunRecorder, stateSink runner.StateSink, loader *config.Loader) *Orchestrator {
	return &Orchestrator{
		registry:  registry.New(),
		launcher:  launcher,
		recorder:  recorder,
		stateSink: stateSink,
		cron:      cronsched.New(),
		loader:    loader,
		logger:    log.WithComponent("orchestrator"),
		runners:   make(map[string]*runner.Runner),
	}
}

// SetLogDir enables persisted per-workload stdout/stderr capture
// (dir/<name>.log) on every runner constructed from this point on. Must be
// called before LoadAndStart/addWorkload for it to take effect.
func (o *Orchestrator) SetLogDir(dir string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.logDir = dir
}

// Logs returns the last n lines of a workload's persisted log file.
func (o *Orchestrator) Logs(name string, n int) ([]string, error) {
	o.mu.RLock()
	_, ok := o.runners[name]
	logDir := o.logDir
	o.mu.RUnlock()
	if !ok {
		return nil, mctlerr.New(mctlerr.KindNotFound, "unknown workload: "+name)
	}
	lines, err := runner.TailLines(logDir, name, n)
	if err != nil {
		return nil, mctlerr.Wrap(mctlerr.KindUpstream, "read log file", err)
	}
	return lines, nil
}

// LoadAndStart registers every spec and starts it: forever/n_times
// workloads start immediately, schedule workloads are armed on the cron
// scheduler and fire on their own trigger.
func (o *Orchestrator) LoadAndStart(ctx context.Context, specs []types.WorkloadSpec) error {
	o.cron.Start()
	for _, spec := range specs {
		if err := o.addWorkload(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) addWorkload(ctx context.Context, spec types.WorkloadSpec) error {
	if err := o.registry.Register(spec); err != nil {
		return mctlerr.Wrap(mctlerr.KindConflict, "register workload", err)
	}

	r, err := runner.New(spec, o.launcher, o.recorder, o.stateSink)
	if err != nil {
		o.registry.Unregister(spec.Name)
		return mctlerr.Wrap(mctlerr.KindValidation, "construct runner", err)
	}

	o.mu.Lock()
	r.SetLogDir(o.logDir)
	o.runners[spec.Name] = r
	o.mu.Unlock()

	if spec.RunMode == types.RunModeSchedule {
		name := spec.Name
		if err := o.cron.Add(name, spec.Schedule, func(string) { o.startRunner(ctx, name) }); err != nil {
			return mctlerr.Wrap(mctlerr.KindValidation, "schedule workload", err)
		}
		return nil
	}

	r.Start(ctx)
	return nil
}

func (o *Orchestrator) startRunner(ctx context.Context, name string) {
	o.mu.RLock()
	r, ok := o.runners[name]
	o.mu.RUnlock()
	if !ok {
		return
	}
	r.Start(ctx)
}

func (o *Orchestrator) removeWorkload(name string) {
	o.mu.Lock()
	r, ok := o.runners[name]
	delete(o.runners, name)
	o.mu.Unlock()
	if !ok {
		return
	}
	o.cron.Remove(name)
	r.Stop(defaultStopTimeout)
	_ = o.registry.Unregister(name)
}

func (o *Orchestrator) restartWorkload(ctx context.Context, spec types.WorkloadSpec) {
	o.removeWorkload(spec.Name)
	if err := o.addWorkload(ctx, spec); err != nil {
		o.logger.Error().Err(err).Str("workload_name", spec.Name).Msg("restart on reload failed")
	}
}

// applier adapts Orchestrator to reconciler.Applier. It is a separate type
// because reconciler.Applier's Restart(spec) and ipc.Handler's
// Restart(name) would otherwise collide on one method name.
type applier struct{ o *Orchestrator }

func (a applier) StartAdded(spec types.WorkloadSpec) {
	if err := a.o.addWorkload(context.Background(), spec); err != nil {
		a.o.logger.Error().Err(err).Str("workload_name", spec.Name).Msg("start added workload failed")
	}
}

func (a applier) StopRemoved(spec types.WorkloadSpec) {
	a.o.removeWorkload(spec.Name)
}

func (a applier) Restart(spec types.WorkloadSpec) {
	a.o.restartWorkload(context.Background(), spec)
}

// --- ipc.Handler ---

// List returns every workload's current state, sorted by name.
func (o *Orchestrator) List() []types.WorkloadState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]types.WorkloadState, 0, len(o.runners))
	for _, r := range o.runners {
		out = append(out, r.State())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Spec.Name < out[j].Spec.Name })
	return out
}

// Status returns one workload's current state.
func (o *Orchestrator) Status(name string) (types.WorkloadState, error) {
	o.mu.RLock()
	r, ok := o.runners[name]
	o.mu.RUnlock()
	if !ok {
		return types.WorkloadState{}, mctlerr.New(mctlerr.KindNotFound, "unknown workload: "+name)
	}
	return r.State(), nil
}

// Start starts a registered but stopped workload.
func (o *Orchestrator) Start(name string) error {
	o.mu.RLock()
	r, ok := o.runners[name]
	o.mu.RUnlock()
	if !ok {
		return mctlerr.New(mctlerr.KindNotFound, "unknown workload: "+name)
	}
	r.Start(context.Background())
	return nil
}

// Stop stops a running workload.
func (o *Orchestrator) Stop(name string) error {
	o.mu.RLock()
	r, ok := o.runners[name]
	o.mu.RUnlock()
	if !ok {
		return mctlerr.New(mctlerr.KindNotFound, "unknown workload: "+name)
	}
	r.Stop(defaultStopTimeout)
	return nil
}

// Restart stops then starts a named workload, keeping its existing spec
// (unlike the reconciler.Applier restart path, which is driven by a diff
// carrying a new spec).
func (o *Orchestrator) Restart(name string) error {
	o.mu.RLock()
	r, ok := o.runners[name]
	o.mu.RUnlock()
	if !ok {
		return mctlerr.New(mctlerr.KindNotFound, "unknown workload: "+name)
	}
	r.Stop(defaultStopTimeout)
	r.Start(context.Background())
	return nil
}

// Reload re-reads specs from the workload config directory, diffs them
// against the live registry, and applies the diff.
func (o *Orchestrator) Reload() (reconciler.Diff, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReloadDuration)

	if o.loader == nil {
		return reconciler.Diff{}, mctlerr.New(mctlerr.KindValidation, "reload unsupported: no config loader configured")
	}
	newSpecs, err := o.loader.LoadAll()
	if err != nil {
		return reconciler.Diff{}, mctlerr.Wrap(mctlerr.KindValidation, "load workload configs", err)
	}
	diff := reconciler.Compute(o.registry.List(), newSpecs)
	reconciler.Apply(diff, applier{o})
	metrics.ReloadsTotal.Inc()
	return diff, nil
}

// Shutdown stops every runner and the cron scheduler.
func (o *Orchestrator) Shutdown() error {
	o.cron.Stop()
	o.mu.RLock()
	runners := make([]*runner.Runner, 0, len(o.runners))
	for _, r := range o.runners {
		runners = append(runners, r)
	}
	o.mu.RUnlock()

	var wg sync.WaitGroup
	for _, r := range runners {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Stop(defaultStopTimeout)
		}()
	}
	wg.Wait()
	return nil
}

// --- health.WorkloadView ---

// RunningWorkloads returns a liveness-sweep snapshot of every currently
// running workload.
func (o *Orchestrator) RunningWorkloads() []health.RunningWorkload {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []health.RunningWorkload
	for _, r := range o.runners {
		state := r.State()
		if !state.IsRunning() || state.PID == nil {
			continue
		}
		out = append(out, health.RunningWorkload{Name: state.Spec.Name, PID: *state.PID, MemoryLimitMB: state.Spec.MemoryLimitMB})
	}
	return out
}

// MarkFailed is called by the health sweeper when a running workload's
// process has died without the runner observing it (liveness check
// failure).
func (o *Orchestrator) MarkFailed(name, reason string) {
	o.mu.RLock()
	r, ok := o.runners[name]
	o.mu.RUnlock()
	if !ok {
		return
	}
	o.logger.Warn().Str("workload_name", name).Str("reason", reason).Msg("marking workload failed")
	r.Stop(defaultStopTimeout)
}

// --- metrics.WorkloadSource / heartbeat.Source ---

// ListWorkloadStates returns every workload's current state (unsorted),
// satisfying both metrics.WorkloadSource and heartbeat.Source.
func (o *Orchestrator) ListWorkloadStates() []types.WorkloadState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]types.WorkloadState, 0, len(o.runners))
	for _, r := range o.runners {
		out = append(out, r.State())
	}
	return out
}
