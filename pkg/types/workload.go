// Package types holds the data model shared across the node supervisor and
// the central controller: workload specs and runtime state, run records,
// fleet client/deployment records.
package types

import (
	"sort"
	"time"
)

// WorkloadType identifies what kind of child process a workload launches.
// Built-in values are reserved; additional names may be registered by
// plugins (see pkg/plugin).
type WorkloadType string

const (
	WorkloadTypeAgent   WorkloadType = "agent"
	WorkloadTypeScript  WorkloadType = "script"
	WorkloadTypeService WorkloadType = "service"
)

// RunMode selects the restart/completion policy for a workload (pkg/runmode).
type RunMode string

const (
	RunModeSchedule RunMode = "schedule"
	RunModeForever  RunMode = "forever"
	RunModeNTimes   RunMode = "n_times"
)

// WorkloadStatus is the runner's lifecycle state machine.
type WorkloadStatus string

const (
	StatusRegistered WorkloadStatus = "registered"
	StatusStarting   WorkloadStatus = "starting"
	StatusRunning    WorkloadStatus = "running"
	StatusStopping   WorkloadStatus = "stopping"
	StatusStopped    WorkloadStatus = "stopped"
	StatusFailed     WorkloadStatus = "failed"
	StatusCompleted  WorkloadStatus = "completed"
)

// WorkloadSpec is an immutable, value-equal workload definition, unique by
// Name within a node. Two specs are equal iff every attribute is equal;
// Equal is the authority the reconciler (pkg/reconciler) uses to decide
// whether a workload needs to be restarted on reload.
type WorkloadSpec struct {
	Name                string
	WorkloadType        WorkloadType
	RunMode             RunMode
	ModulePath          string
	EntryPoint          string
	Schedule            string
	MaxRuns             *int
	Params              map[string]any
	RestartDelaySeconds float64
	TimeoutSeconds      *float64
	Tags                []string
	Version             string
	MemoryLimitMB       *int
	CPUNice             *int
}

// Equal reports whether two specs are value-equal across every attribute,
// per spec's diffing-by-structural-equality invariant. Params is compared
// key-by-key (map equality is already order-independent); Tags is an
// ordered sequence and compared element-wise.
func (s WorkloadSpec) Equal(o WorkloadSpec) bool {
	if s.Name != o.Name || s.WorkloadType != o.WorkloadType || s.RunMode != o.RunMode ||
		s.ModulePath != o.ModulePath || s.EntryPoint != o.EntryPoint || s.Schedule != o.Schedule ||
		s.RestartDelaySeconds != o.RestartDelaySeconds || s.Version != o.Version {
		return false
	}
	if !intPtrEqual(s.MaxRuns, o.MaxRuns) || !float64PtrEqual(s.TimeoutSeconds, o.TimeoutSeconds) ||
		!intPtrEqual(s.MemoryLimitMB, o.MemoryLimitMB) || !intPtrEqual(s.CPUNice, o.CPUNice) {
		return false
	}
	if len(s.Tags) != len(o.Tags) {
		return false
	}
	for i := range s.Tags {
		if s.Tags[i] != o.Tags[i] {
			return false
		}
	}
	return paramsEqual(s.Params, o.Params)
}

func intPtrEqual(a, b *int) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

func float64PtrEqual(a, b *float64) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

func paramsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if !paramValueEqual(av, bv) {
			return false
		}
	}
	return true
}

func paramValueEqual(a, b any) bool {
	am, aok := a.(map[string]any)
	bm, bok := b.(map[string]any)
	if aok && bok {
		return paramsEqual(am, bm)
	}
	if aok != bok {
		return false
	}
	as, aok := a.([]any)
	bs, bok := b.([]any)
	if aok && bok {
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !paramValueEqual(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

// SortedTags returns a copy of Tags sorted lexically, useful for stable
// display; Tags itself remains order-preserving as loaded from config.
func (s WorkloadSpec) SortedTags() []string {
	out := append([]string(nil), s.Tags...)
	sort.Strings(out)
	return out
}

// WorkloadState is the mutable runtime state paired with a spec. It is
// owned exclusively by pkg/runner and read by every other component
// through a snapshot accessor (never shared by pointer across goroutines).
type WorkloadState struct {
	Spec          WorkloadSpec
	Status        WorkloadStatus
	PID           *int
	RunCount      int
	LastStarted   *time.Time
	LastStopped   *time.Time
	LastHeartbeat *time.Time
	LastError     string
}

// Clone returns a value copy safe to hand to callers outside the runner's
// single-writer goroutine.
func (s WorkloadState) Clone() WorkloadState {
	clone := s
	if s.PID != nil {
		pid := *s.PID
		clone.PID = &pid
	}
	if s.LastStarted != nil {
		t := *s.LastStarted
		clone.LastStarted = &t
	}
	if s.LastStopped != nil {
		t := *s.LastStopped
		clone.LastStopped = &t
	}
	if s.LastHeartbeat != nil {
		t := *s.LastHeartbeat
		clone.LastHeartbeat = &t
	}
	return clone
}

// IsRunning reports whether the workload is starting or running.
func (s WorkloadState) IsRunning() bool {
	return s.Status == StatusStarting || s.Status == StatusRunning
}

// RunRecord is an append-only row per child-process invocation.
type RunRecord struct {
	ID           int64      `db:"id"`
	WorkloadName string     `db:"workload_name"`
	StartedAt    time.Time  `db:"started_at"`
	FinishedAt   *time.Time `db:"finished_at"`
	ExitCode     *int       `db:"exit_code"`
	ErrorMessage string     `db:"error_message"`
	DurationMS   *int64     `db:"duration_ms"`
}
