package reconciler

import (
	"sort"
	"testing"

	"github.com/cuemby/mctl/pkg/types"
)

func spec(name string, module string) types.WorkloadSpec {
	return types.WorkloadSpec{
		Name:         name,
		WorkloadType: types.WorkloadTypeScript,
		RunMode:      types.RunModeForever,
		ModulePath:   module,
		EntryPoint:   "run",
	}
}

func names(specs []types.WorkloadSpec) []string {
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.Name)
	}
	sort.Strings(out)
	return out
}

func TestComputeAddedRemovedRestartedUnchanged(t *testing.T) {
	a := spec("a", "pkg.a")
	b := spec("b", "pkg.b")
	c := spec("c", "pkg.c")

	old := []types.WorkloadSpec{a, b}
	next := []types.WorkloadSpec{b, c}

	diff := Compute(old, next)

	if got := names(diff.Added); len(got) != 1 || got[0] != "c" {
		t.Errorf("Added = %v, want [c]", got)
	}
	if got := names(diff.Removed); len(got) != 1 || got[0] != "a" {
		t.Errorf("Removed = %v, want [a]", got)
	}
	if len(diff.Restarted) != 0 {
		t.Errorf("Restarted = %v, want empty", names(diff.Restarted))
	}
	if got := names(diff.Unchanged); len(got) != 1 || got[0] != "b" {
		t.Errorf("Unchanged = %v, want [b]", got)
	}
}

func TestComputeChangedSpecIsRestarted(t *testing.T) {
	oldA := spec("a", "pkg.a")
	newA := spec("a", "pkg.a_v2")

	diff := Compute([]types.WorkloadSpec{oldA}, []types.WorkloadSpec{newA})

	if got := names(diff.Restarted); len(got) != 1 || got[0] != "a" {
		t.Errorf("Restarted = %v, want [a]", got)
	}
	if len(diff.Added) != 0 || len(diff.Removed) != 0 || len(diff.Unchanged) != 0 {
		t.Errorf("expected only Restarted to be populated, got %+v", diff)
	}
}

func TestComputeEmptyBothSides(t *testing.T) {
	diff := Compute(nil, nil)
	if len(diff.Added)+len(diff.Removed)+len(diff.Restarted)+len(diff.Unchanged) != 0 {
		t.Errorf("expected empty diff, got %+v", diff)
	}
}

type recordingApplier struct {
	started   []string
	stopped   []string
	restarted []string
}

func (r *recordingApplier) StartAdded(spec types.WorkloadSpec)  { r.started = append(r.started, spec.Name) }
func (r *recordingApplier) StopRemoved(spec types.WorkloadSpec) { r.stopped = append(r.stopped, spec.Name) }
func (r *recordingApplier) Restart(spec types.WorkloadSpec)     { r.restarted = append(r.restarted, spec.Name) }

func TestApplyDispatchesEachGroup(t *testing.T) {
	diff := Diff{
		Added:     []types.WorkloadSpec{spec("c", "pkg.c")},
		Removed:   []types.WorkloadSpec{spec("a", "pkg.a")},
		Restarted: []types.WorkloadSpec{spec("d", "pkg.d")},
		Unchanged: []types.WorkloadSpec{spec("b", "pkg.b")},
	}
	applier := &recordingApplier{}
	Apply(diff, applier)

	if len(applier.started) != 1 || applier.started[0] != "c" {
		t.Errorf("started = %v, want [c]", applier.started)
	}
	if len(applier.stopped) != 1 || applier.stopped[0] != "a" {
		t.Errorf("stopped = %v, want [a]", applier.stopped)
	}
	if len(applier.restarted) != 1 || applier.restarted[0] != "d" {
		t.Errorf("restarted = %v, want [d]", applier.restarted)
	}
}
