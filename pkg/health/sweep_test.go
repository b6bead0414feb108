package health

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeProcChecker struct {
	mu    sync.Mutex
	alive map[int]bool
	rss   map[int]float64
}

func (f *fakeProcChecker) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

func (f *fakeProcChecker) RSSMBytes(pid int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rss[pid], nil
}

type fakeView struct {
	mu      sync.Mutex
	running []RunningWorkload
	failed  map[string]string
}

func (v *fakeView) RunningWorkloads() []RunningWorkload {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]RunningWorkload(nil), v.running...)
}

func (v *fakeView) MarkFailed(name, reason string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failed == nil {
		v.failed = map[string]string{}
	}
	v.failed[name] = reason
}

func TestSweepMarksDeadProcessFailed(t *testing.T) {
	view := &fakeView{running: []RunningWorkload{{Name: "collector", PID: 4242}}}
	proc := &fakeProcChecker{alive: map[int]bool{}}

	s := NewSweeper(view, proc, time.Second)
	s.Sweep()

	view.mu.Lock()
	reason, marked := view.failed["collector"]
	view.mu.Unlock()
	if !marked {
		t.Fatal("expected collector to be marked failed")
	}
	if reason != "Process 4242 not found" {
		t.Errorf("unexpected reason: %q", reason)
	}
}

func TestSweepLeavesAliveProcessUntouched(t *testing.T) {
	view := &fakeView{running: []RunningWorkload{{Name: "collector", PID: 4242}}}
	proc := &fakeProcChecker{alive: map[int]bool{4242: true}, rss: map[int]float64{}}

	s := NewSweeper(view, proc, time.Second)
	s.Sweep()

	view.mu.Lock()
	_, marked := view.failed["collector"]
	view.mu.Unlock()
	if marked {
		t.Fatal("expected no failure for a live process")
	}
}

func TestSweepMemoryWarningDoesNotChangeState(t *testing.T) {
	limit := 100
	view := &fakeView{running: []RunningWorkload{{Name: "hog", PID: 1, MemoryLimitMB: &limit}}}
	proc := &fakeProcChecker{alive: map[int]bool{1: true}, rss: map[int]float64{1: 95}}

	s := NewSweeper(view, proc, time.Second)
	s.Sweep() // should log a warning but not mark failed

	view.mu.Lock()
	_, marked := view.failed["hog"]
	view.mu.Unlock()
	if marked {
		t.Fatal("memory warning must not change workload state")
	}
}

func TestSweeperStartStop(t *testing.T) {
	view := &fakeView{}
	proc := &fakeProcChecker{alive: map[int]bool{}}
	s := NewSweeper(view, proc, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	s.Stop()
}
