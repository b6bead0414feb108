package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/mctl/pkg/types"
)

// shLauncher builds argv that runs an arbitrary shell snippet, letting
// tests control child behavior without a real mctlworker binary.
type shLauncher struct {
	script string
}

func (l shLauncher) Build(types.WorkloadSpec) ([]string, error) {
	return []string{"/bin/sh", "-c", l.script}, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	starts  int
	finishes []struct {
		exitCode *int
		errMsg   string
	}
}

func (f *fakeRecorder) RecordStart(context.Context, string, time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return int64(f.starts), nil
}

func (f *fakeRecorder) RecordFinish(_ context.Context, _ int64, _ time.Time, exitCode *int, errMsg string, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishes = append(f.finishes, struct {
		exitCode *int
		errMsg   string
	}{exitCode, errMsg})
	return nil
}

func waitForStatus(t *testing.T, r *Runner, status types.WorkloadStatus, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if r.State().Status == status {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("status never reached %q, last was %q", status, r.State().Status)
}

func TestRunnerNTimesCompletion(t *testing.T) {
	maxRuns := 3
	spec := types.WorkloadSpec{
		Name:                "counter",
		RunMode:             types.RunModeNTimes,
		MaxRuns:             &maxRuns,
		RestartDelaySeconds: 0,
	}
	rec := &fakeRecorder{}
	r, err := New(spec, shLauncher{script: "exit 0"}, rec, nil)
	if err != nil {
		t.Fatal(err)
	}

	r.Start(context.Background())
	waitForStatus(t, r, types.StatusCompleted, 3*time.Second)

	state := r.State()
	if state.RunCount != 3 {
		t.Errorf("expected run_count=3, got %d", state.RunCount)
	}
	if rec.starts != 3 {
		t.Errorf("expected 3 recorded starts, got %d", rec.starts)
	}
}

func TestRunnerForeverRestartsAfterFailure(t *testing.T) {
	spec := types.WorkloadSpec{
		Name:                "svc",
		RunMode:             types.RunModeForever,
		RestartDelaySeconds: 0.05,
	}
	rec := &fakeRecorder{}
	r, err := New(spec, shLauncher{script: "echo boom 1>&2; exit 1"}, rec, nil)
	if err != nil {
		t.Fatal(err)
	}

	r.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.State().RunCount >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	state := r.State()
	if state.RunCount < 2 {
		t.Fatalf("expected at least 2 runs, got %d", state.RunCount)
	}
	if state.Status != types.StatusRunning {
		t.Errorf("expected status running after restart, got %q", state.Status)
	}
	if state.LastError == "" {
		t.Error("expected last_error to contain stderr tail")
	}
	r.Stop(time.Second)
}

func TestRunnerStopOnAlreadyStoppedIsNoop(t *testing.T) {
	spec := types.WorkloadSpec{Name: "idle", RunMode: types.RunModeForever}
	r, err := New(spec, shLauncher{script: "exit 0"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	r.Stop(time.Second) // never started
	if r.State().Status != types.StatusRegistered {
		t.Errorf("expected state unchanged, got %q", r.State().Status)
	}
}

func TestRunnerStartIsIdempotentWhileRunning(t *testing.T) {
	spec := types.WorkloadSpec{Name: "svc", RunMode: types.RunModeForever, RestartDelaySeconds: 1}
	r, err := New(spec, shLauncher{script: "sleep 5"}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	r.Start(context.Background())
	waitForStatus(t, r, types.StatusRunning, time.Second)

	firstPID := r.State().PID
	r.Start(context.Background()) // should no-op
	time.Sleep(50 * time.Millisecond)
	if r.State().PID == nil || *r.State().PID != *firstPID {
		t.Error("expected idempotent Start to leave the running child untouched")
	}
	r.Stop(time.Second)
}
