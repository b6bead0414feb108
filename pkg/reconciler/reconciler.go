// Package reconciler implements hot-reload: re-reading workload config
// files and diffing them against the live registry by name, so the
// orchestrator can apply exactly the adds/removes/restarts needed.
package reconciler

import (
	"github.com/cuemby/mctl/pkg/types"
)

// Diff is the result of comparing an old spec set against a newly loaded
// one, grouped the way spec.md's hot-reload operation names them.
type Diff struct {
	Added     []types.WorkloadSpec
	Removed   []types.WorkloadSpec
	Restarted []types.WorkloadSpec
	Unchanged []types.WorkloadSpec
}

// Compute diffs oldSpecs against newSpecs by name. A name present in both
// with an identical spec (WorkloadSpec.Equal) is Unchanged; present in
// both with a different spec is Restarted (the new spec is returned);
// present only in newSpecs is Added; present only in oldSpecs is Removed.
func Compute(oldSpecs, newSpecs []types.WorkloadSpec) Diff {
	oldByName := make(map[string]types.WorkloadSpec, len(oldSpecs))
	for _, s := range oldSpecs {
		oldByName[s.Name] = s
	}
	newByName := make(map[string]types.WorkloadSpec, len(newSpecs))
	for _, s := range newSpecs {
		newByName[s.Name] = s
	}

	var diff Diff
	for name, newSpec := range newByName {
		oldSpec, existed := oldByName[name]
		switch {
		case !existed:
			diff.Added = append(diff.Added, newSpec)
		case oldSpec.Equal(newSpec):
			diff.Unchanged = append(diff.Unchanged, newSpec)
		default:
			diff.Restarted = append(diff.Restarted, newSpec)
		}
	}
	for name, oldSpec := range oldByName {
		if _, stillPresent := newByName[name]; !stillPresent {
			diff.Removed = append(diff.Removed, oldSpec)
		}
	}
	return diff
}

// Applier performs the side effects a Diff implies. pkg/orchestrator
// implements this over its registry and runner set.
type Applier interface {
	StartAdded(spec types.WorkloadSpec)
	StopRemoved(spec types.WorkloadSpec)
	Restart(spec types.WorkloadSpec)
}

// Apply runs diff's removes, then adds, then restarts against applier.
// Ordering is not observable by callers per spec, but is fixed here for
// determinism.
func Apply(diff Diff, applier Applier) {
	for _, spec := range diff.Removed {
		applier.StopRemoved(spec)
	}
	for _, spec := range diff.Added {
		applier.StartAdded(spec)
	}
	for _, spec := range diff.Restarted {
		applier.Restart(spec)
	}
}
