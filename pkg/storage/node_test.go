package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/mctl/pkg/types"
)

func openTestNodeStore(t *testing.T) *NodeStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.db")
	s, err := OpenNodeStore(path)
	if err != nil {
		t.Fatalf("OpenNodeStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadWorkloadState(t *testing.T) {
	s := openTestNodeStore(t)
	ctx := context.Background()

	pid := 4242
	state := types.WorkloadState{
		Spec:     types.WorkloadSpec{Name: "worker-a", WorkloadType: types.WorkloadTypeScript, RunMode: types.RunModeForever},
		Status:   types.StatusRunning,
		PID:      &pid,
		RunCount: 2,
	}
	if err := s.SaveState(ctx, state); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	loaded, err := s.LoadAllStates(ctx)
	if err != nil {
		t.Fatalf("LoadAllStates: %v", err)
	}
	got, ok := loaded["worker-a"]
	if !ok {
		t.Fatal("expected worker-a to be persisted")
	}
	if got.Status != types.StatusRunning || got.RunCount != 2 || got.PID == nil || *got.PID != pid {
		t.Errorf("unexpected loaded state: %+v", got)
	}
}

func TestSaveStateUpsertsOnConflict(t *testing.T) {
	s := openTestNodeStore(t)
	ctx := context.Background()

	base := types.WorkloadState{
		Spec:   types.WorkloadSpec{Name: "worker-a", WorkloadType: types.WorkloadTypeScript, RunMode: types.RunModeForever},
		Status: types.StatusStarting,
	}
	if err := s.SaveState(ctx, base); err != nil {
		t.Fatalf("SaveState #1: %v", err)
	}

	base.Status = types.StatusRunning
	base.RunCount = 1
	if err := s.SaveState(ctx, base); err != nil {
		t.Fatalf("SaveState #2: %v", err)
	}

	loaded, err := s.LoadAllStates(ctx)
	if err != nil {
		t.Fatalf("LoadAllStates: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(loaded))
	}
	if loaded["worker-a"].Status != types.StatusRunning {
		t.Errorf("expected upserted status running, got %s", loaded["worker-a"].Status)
	}
}

func TestRecordStartAndFinish(t *testing.T) {
	s := openTestNodeStore(t)
	ctx := context.Background()

	runID, err := s.RecordStart(ctx, "worker-a", time.Now())
	if err != nil {
		t.Fatalf("RecordStart: %v", err)
	}

	exitCode := 0
	if err := s.RecordFinish(ctx, runID, time.Now(), &exitCode, "", 150); err != nil {
		t.Fatalf("RecordFinish: %v", err)
	}

	history, err := s.RunHistory(ctx, "worker-a", 10)
	if err != nil {
		t.Fatalf("RunHistory: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected one run record, got %d", len(history))
	}
	if history[0].ExitCode == nil || *history[0].ExitCode != 0 {
		t.Errorf("unexpected exit code: %+v", history[0].ExitCode)
	}
}

func TestPruneOlderThanDeletesOldRuns(t *testing.T) {
	s := openTestNodeStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	if _, err := s.db.ExecContext(ctx, `INSERT INTO run_history (workload_name, started_at) VALUES (?, ?)`, "worker-a", old); err != nil {
		t.Fatalf("seed old run: %v", err)
	}
	if _, err := s.RecordStart(ctx, "worker-a", time.Now()); err != nil {
		t.Fatalf("RecordStart recent: %v", err)
	}

	deleted, err := s.PruneOlderThan(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 row deleted, got %d", deleted)
	}

	remaining, err := s.RunHistory(ctx, "worker-a", 10)
	if err != nil {
		t.Fatalf("RunHistory: %v", err)
	}
	if len(remaining) != 1 {
		t.Errorf("expected 1 remaining row, got %d", len(remaining))
	}
}
