// Package runner supervises one workload's child process: launch, wait,
// restart per its run-mode strategy, graceful stop, and timeout handling.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/mctl/pkg/log"
	"github.com/cuemby/mctl/pkg/metrics"
	"github.com/cuemby/mctl/pkg/runmode"
	"github.com/cuemby/mctl/pkg/types"
)

const stderrTailBytes = 500

// RunRecorder persists append-only run records (pkg/storage's node DB).
type RunRecorder interface {
	RecordStart(ctx context.Context, workloadName string, startedAt time.Time) (int64, error)
	RecordFinish(ctx context.Context, runID int64, finishedAt time.Time, exitCode *int, errMsg string, durationMS int64) error
}

// StateSink persists WorkloadState snapshots for crash recovery. Optional:
// a nil sink disables snapshotting.
type StateSink interface {
	SaveState(ctx context.Context, state types.WorkloadState) error
}

// Runner supervises exactly one workload's lifecycle. The supervision loop
// runs in its own goroutine; all state reads/writes go through the mutex so
// the local command socket and the node HTTP API can read state
// concurrently with the loop.
type Runner struct {
	launcher  Launcher
	recorder  RunRecorder
	stateSink StateSink
	logger    zerolog.Logger
	logDir    string

	mu    sync.Mutex
	spec  types.WorkloadSpec
	state types.WorkloadState

	strategy runmode.Strategy

	stopRequested bool
	stopCh        chan struct{}
	doneCh        chan struct{}

	cmdMu  sync.Mutex
	cmd    *exec.Cmd
	waiter *cmdWaiter
}

// cmdWaiter funnels exec.Cmd.Wait() through a single goroutine: calling Wait
// twice on the same *exec.Cmd is invalid, but both the supervision loop
// (waitBounded) and a concurrent Stop (terminateChild) need to observe the
// child's exit. done is closed once err is set, so any number of receivers
// can block on it safely.
type cmdWaiter struct {
	done chan struct{}
	err  error
}

// New constructs a Runner for spec. The runner starts in StatusRegistered
// and does nothing until Start is called.
func New(spec types.WorkloadSpec, launcher Launcher, recorder RunRecorder, stateSink StateSink) (*Runner, error) {
	strategy, err := runmode.Get(spec.RunMode)
	if err != nil {
		return nil, err
	}
	return &Runner{
		launcher:  launcher,
		recorder:  recorder,
		stateSink: stateSink,
		logger:    log.WithComponent("runner").With().Str("workload_name", spec.Name).Logger(),
		spec:      spec,
		state:     types.WorkloadState{Spec: spec, Status: types.StatusRegistered},
		strategy:  strategy,
	}, nil
}

// Start launches the background supervision goroutine. Idempotent: calling
// Start while already running logs and does nothing.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.state.IsRunning() {
		r.mu.Unlock()
		r.logger.Warn().Msg("start requested but workload is already running")
		return
	}
	r.stopRequested = false
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.state.Status = types.StatusStarting
	r.mu.Unlock()

	go r.supervise(ctx)
}

// Stop requests graceful termination: signals the child, waits up to
// timeout, escalates to a forcible kill, then cancels supervision.
// Idempotent: stopping an already-stopped workload is a no-op.
func (r *Runner) Stop(timeout time.Duration) {
	r.mu.Lock()
	if !r.state.IsRunning() {
		r.mu.Unlock()
		r.logger.Debug().Msg("stop requested but workload is not running")
		return
	}
	r.stopRequested = true
	stopCh := r.stopCh
	doneCh := r.doneCh
	r.mu.Unlock()

	close(stopCh)
	r.terminateChild(timeout)

	select {
	case <-doneCh:
	case <-time.After(timeout + time.Second):
		r.logger.Warn().Msg("supervision loop did not exit promptly after stop")
	}

	r.mu.Lock()
	r.state.Status = types.StatusStopped
	now := time.Now()
	r.state.LastStopped = &now
	r.state.PID = nil
	r.mu.Unlock()
}

func (r *Runner) terminateChild(timeout time.Duration) {
	r.cmdMu.Lock()
	cmd := r.cmd
	waiter := r.waiter
	r.cmdMu.Unlock()
	if cmd == nil || cmd.Process == nil || waiter == nil {
		return
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-waiter.done:
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		<-waiter.done
	}
}

// State returns a point-in-time copy of the workload's runtime state.
func (r *Runner) State() types.WorkloadState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// IsRunning reports whether the workload's status is starting or running.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.IsRunning()
}

// Spec returns the spec this runner was constructed with.
func (r *Runner) Spec() types.WorkloadSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spec
}

// SetLogDir enables persisted combined stdout/stderr capture to
// <dir>/<workload-name>.log, appended across restarts. Must be called
// before Start; a zero value (the default) disables file logging, matching
// a supervisor that never configured a log directory.
func (r *Runner) SetLogDir(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logDir = dir
}

func (r *Runner) supervise(ctx context.Context) {
	doneCh := r.mustDoneCh()
	defer close(doneCh)

	for {
		if r.wasStopRequested() {
			return
		}

		if err := r.runOnce(ctx); err != nil {
			r.logger.Error().Err(err).Msg("unexpected supervision error")
			r.setStatus(types.StatusFailed)
			return
		}

		if r.wasStopRequested() {
			return
		}

		r.mu.Lock()
		runCount := r.state.RunCount
		spec := r.spec
		r.mu.Unlock()

		if r.strategy.IsComplete(spec, runCount) {
			r.setStatus(types.StatusCompleted)
			return
		}
		if !r.strategy.ShouldRestart(spec, runCount, 0) {
			return
		}

		if !r.sleepRestartDelay(spec.RestartDelaySeconds) {
			return
		}
	}
}

func (r *Runner) mustDoneCh() chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doneCh
}

func (r *Runner) wasStopRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopRequested
}

func (r *Runner) setStatus(status types.WorkloadStatus) {
	r.mu.Lock()
	r.state.Status = status
	r.mu.Unlock()
}

func (r *Runner) sleepRestartDelay(seconds float64) bool {
	r.mu.Lock()
	stopCh := r.stopCh
	r.mu.Unlock()

	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stopCh:
		return false
	}
}

// runOnce launches one child invocation, waits for it to finish (bounded
// by spec.TimeoutSeconds if set), and records the result.
func (r *Runner) runOnce(ctx context.Context) error {
	r.mu.Lock()
	spec := r.spec
	logDir := r.logDir
	r.mu.Unlock()

	argv, err := r.launcher.Build(spec)
	if err != nil {
		return fmt.Errorf("build launch command: %w", err)
	}
	argv = wrapWithLimits(argv, spec.MemoryLimitMB, spec.CPUNice)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	tail := newTailBuffer(stderrTailBytes)

	logFile, err := openWorkloadLogFile(logDir, spec.Name)
	if err != nil {
		r.logger.Warn().Err(err).Msg("could not open workload log file, continuing without persisted logs")
	}
	if logFile != nil {
		defer logFile.Close()
		cmd.Stdout = logFile
		cmd.Stderr = io.MultiWriter(logFile, tail)
	} else {
		cmd.Stderr = tail
	}

	startedAt := time.Now()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start child: %w", err)
	}

	waiter := &cmdWaiter{done: make(chan struct{})}
	go func() {
		waiter.err = cmd.Wait()
		close(waiter.done)
	}()

	r.cmdMu.Lock()
	r.cmd = cmd
	r.waiter = waiter
	r.cmdMu.Unlock()

	pid := cmd.Process.Pid
	r.mu.Lock()
	r.state.Status = types.StatusRunning
	r.state.PID = &pid
	r.state.RunCount++
	r.state.LastStarted = &startedAt
	r.mu.Unlock()

	var runID int64
	if r.recorder != nil {
		runID, _ = r.recorder.RecordStart(ctx, spec.Name, startedAt)
	}
	if r.stateSink != nil {
		_ = r.stateSink.SaveState(ctx, r.State())
	}

	exitErr := r.waitBounded(waiter, cmd, spec.TimeoutSeconds)
	finishedAt := time.Now()

	r.cmdMu.Lock()
	r.cmd = nil
	r.waiter = nil
	r.cmdMu.Unlock()

	exitCode, errMsg := interpretExit(exitErr, tail.String())

	outcome := "success"
	if errMsg != "" {
		outcome = "failure"
	}
	metrics.RunsTotal.WithLabelValues(spec.Name, outcome).Inc()

	r.mu.Lock()
	r.state.PID = nil
	if errMsg != "" {
		r.state.LastError = errMsg
	}
	r.mu.Unlock()

	if r.recorder != nil {
		durationMS := finishedAt.Sub(startedAt).Milliseconds()
		_ = r.recorder.RecordFinish(ctx, runID, finishedAt, exitCode, errMsg, durationMS)
	}

	return nil
}

// openWorkloadLogFile opens dir/name.log for append, creating dir and the
// file as needed. A blank dir disables file logging (nil, nil).
func openWorkloadLogFile(dir, name string) (*os.File, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, name+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// waitBounded waits for cmd to exit (via waiter, so it never calls cmd.Wait
// itself), killing it if timeoutSeconds elapses first. Per spec, timeout
// applies to one invocation, not across restarts.
func (r *Runner) waitBounded(waiter *cmdWaiter, cmd *exec.Cmd, timeoutSeconds *float64) error {
	if timeoutSeconds == nil {
		<-waiter.done
		return waiter.err
	}

	timer := time.NewTimer(time.Duration(*timeoutSeconds * float64(time.Second)))
	defer timer.Stop()

	select {
	case <-waiter.done:
		return waiter.err
	case <-timer.C:
		_ = cmd.Process.Kill()
		<-waiter.done
		return fmt.Errorf("timed out after %.2fs", *timeoutSeconds)
	}
}

// interpretExit derives an exit code and error message from cmd.Wait()'s
// error, per spec's "read up to the last 500 bytes of stderr as last_error
// on non-zero exit" rule.
func interpretExit(err error, stderrTail string) (*int, string) {
	if err == nil {
		code := 0
		return &code, ""
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		code := exitErr.ExitCode()
		msg := stderrTail
		if msg == "" {
			msg = exitErr.Error()
		}
		return &code, msg
	}
	// Process failed to start/wait correctly, or was killed on timeout.
	return nil, err.Error()
}
