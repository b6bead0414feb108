// Package reconciler computes the add/remove/restart diff between two
// workload spec sets, by name, using WorkloadSpec.Equal to decide whether
// a name present in both sets actually changed.
//
//	diff := reconciler.Compute(oldSpecs, newSpecs)
//	reconciler.Apply(diff, applier)
//
// It does not own a loop or a timer; the orchestrator decides when to
// reload config from disk and calls Compute/Apply with the result.
package reconciler
