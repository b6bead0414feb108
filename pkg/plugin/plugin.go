// Package plugin is the extensibility contract: WorkloadType, HealthCheck
// and LogProcessor plugins register themselves at init time (the Go
// equivalent of the host packaging system's entry-point mechanism), and a
// Registry holds the resulting static table looked up by name.
package plugin

import (
	"context"
	"sync"

	"github.com/cuemby/mctl/pkg/log"
	"github.com/cuemby/mctl/pkg/types"
)

// BuiltinWorkloadTypes are reserved and never shadowed by a plugin.
var BuiltinWorkloadTypes = map[string]bool{"agent": true, "script": true, "service": true}

// WorkloadType defines a custom workload type. Returning an empty argv
// from BuildLaunchCommand means "use the default launcher".
type WorkloadType interface {
	Name() string
	ValidateConfig(params map[string]any) error
	BuildLaunchCommand(spec types.WorkloadSpec) []string
}

// HealthCheck provides a custom health probe for a running workload.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context, state types.WorkloadState) (healthy bool, details any, err error)
}

// LogProcessor transforms or drops a workload's log lines. Returning
// ok=false drops the line.
type LogProcessor interface {
	Name() string
	Process(ctx context.Context, workloadName, line string) (out string, ok bool)
}

// Task is one cmd/mctlworker entry point: the Go analogue of the source's
// dynamically-imported `module.entry_point` function. Run receives the
// decoded --params-json body.
type Task interface {
	Name() string
	Run(ctx context.Context, params map[string]any) error
}

// Registry is the static plugin table. The zero value is usable; New is
// provided for symmetry with the rest of the codebase's constructors.
type Registry struct {
	mu            sync.RWMutex
	workloadTypes map[string]WorkloadType
	healthChecks  map[string]HealthCheck
	logProcessors map[string]LogProcessor
	tasks         map[string]Task
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		workloadTypes: make(map[string]WorkloadType),
		healthChecks:  make(map[string]HealthCheck),
		logProcessors: make(map[string]LogProcessor),
		tasks:         make(map[string]Task),
	}
}

// Default is the process-wide registry populated by plugin packages'
// init() functions via RegisterWorkloadType et al.
var Default = New()

// RegisterWorkloadType adds p to the default registry. Call from a plugin
// package's init(). Load failures for one plugin must not be fatal to the
// process: callers discovering plugins dynamically should recover panics
// and log them, matching the host's load-one-plugin-at-a-time semantics.
func RegisterWorkloadType(p WorkloadType) { Default.RegisterWorkloadType(p) }

// RegisterHealthCheck adds p to the default registry.
func RegisterHealthCheck(p HealthCheck) { Default.RegisterHealthCheck(p) }

// RegisterLogProcessor adds p to the default registry.
func RegisterLogProcessor(p LogProcessor) { Default.RegisterLogProcessor(p) }

// RegisterTask adds t to the default registry under module:entryPoint. Call
// from a task package's init().
func RegisterTask(module, entryPoint string, t Task) { Default.RegisterTask(module, entryPoint, t) }

// TaskKey builds the registry key cmd/mctlworker looks tasks up by,
// matching its --module/--entry-point flag pair.
func TaskKey(module, entryPoint string) string { return module + ":" + entryPoint }

func (r *Registry) RegisterWorkloadType(p WorkloadType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workloadTypes[p.Name()] = p
	log.WithComponent("plugin").Info().Str("kind", "workload_type").Str("name", p.Name()).Msg("plugin registered")
}

func (r *Registry) RegisterHealthCheck(p HealthCheck) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthChecks[p.Name()] = p
	log.WithComponent("plugin").Info().Str("kind", "health_check").Str("name", p.Name()).Msg("plugin registered")
}

func (r *Registry) RegisterLogProcessor(p LogProcessor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logProcessors[p.Name()] = p
	log.WithComponent("plugin").Info().Str("kind", "log_processor").Str("name", p.Name()).Msg("plugin registered")
}

func (r *Registry) RegisterTask(module, entryPoint string, t Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[TaskKey(module, entryPoint)] = t
	log.WithComponent("plugin").Info().Str("kind", "task").Str("module", module).Str("entry_point", entryPoint).Msg("plugin registered")
}

// WorkloadType looks up a workload type plugin by name.
func (r *Registry) WorkloadType(name string) (WorkloadType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.workloadTypes[name]
	return p, ok
}

// HealthCheck looks up a health check plugin by name.
func (r *Registry) HealthCheck(name string) (HealthCheck, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.healthChecks[name]
	return p, ok
}

// LogProcessors returns every registered log processor, applied in
// registration order is not guaranteed; callers needing a fixed pipeline
// order should apply a specific subset by name.
func (r *Registry) LogProcessors() []LogProcessor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LogProcessor, 0, len(r.logProcessors))
	for _, p := range r.logProcessors {
		out = append(out, p)
	}
	return out
}

// Task looks up a worker entry point by module:entryPoint.
func (r *Registry) Task(module, entryPoint string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[TaskKey(module, entryPoint)]
	return t, ok
}

// KnownWorkloadTypes returns every valid workload type name: built-ins
// plus every registered plugin.
func (r *Registry) KnownWorkloadTypes() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(BuiltinWorkloadTypes)+len(r.workloadTypes))
	for name := range BuiltinWorkloadTypes {
		out[name] = true
	}
	for name := range r.workloadTypes {
		out[name] = true
	}
	return out
}
