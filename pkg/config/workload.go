package config

import (
	"fmt"

	"github.com/cuemby/mctl/pkg/types"
)

// ConfigError wraps a parse/validation failure with the file it came from,
// matching the source's ConfigError(path, message) shape.
type ConfigError struct {
	Path    string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

const defaultEntryPoint = "run"
const defaultRestartDelay = 5.0

// WorkloadFileConfig is the on-disk shape of a single workload definition.
type WorkloadFileConfig struct {
	Name          string         `yaml:"name"`
	Type          string         `yaml:"type"`
	RunMode       string         `yaml:"run_mode"`
	Module        string         `yaml:"module"`
	EntryPoint    string         `yaml:"entry_point"`
	Schedule      string         `yaml:"schedule"`
	MaxRuns       *int           `yaml:"max_runs"`
	Params        map[string]any `yaml:"params"`
	RestartDelay  *float64       `yaml:"restart_delay"`
	Timeout       *float64       `yaml:"timeout"`
	Tags          []string       `yaml:"tags"`
	MemoryLimitMB *int           `yaml:"memory_limit_mb"`
	CPUNice       *int           `yaml:"cpu_nice"`
	Version       string         `yaml:"version"`
	Vars          map[string]any `yaml:"vars"`
}

// MultiWorkloadConfig is the on-disk shape of a file declaring several
// workloads under a top-level `workloads:` key.
type MultiWorkloadConfig struct {
	Workloads []WorkloadFileConfig `yaml:"workloads"`
}

// ToSpec applies defaults and cross-field validation, converting the
// on-disk shape into the runner's WorkloadSpec.
func (c WorkloadFileConfig) ToSpec(path string) (types.WorkloadSpec, error) {
	if c.Name == "" {
		return types.WorkloadSpec{}, &ConfigError{Path: path, Message: "workload is missing required field 'name'"}
	}

	runMode := types.RunMode(c.RunMode)
	switch runMode {
	case types.RunModeSchedule:
		if c.Schedule == "" {
			return types.WorkloadSpec{}, &ConfigError{Path: path, Message: fmt.Sprintf("workload %q: schedule is required when run_mode=schedule", c.Name)}
		}
	case types.RunModeNTimes:
		if c.MaxRuns == nil {
			return types.WorkloadSpec{}, &ConfigError{Path: path, Message: fmt.Sprintf("workload %q: max_runs is required when run_mode=n_times", c.Name)}
		}
	case types.RunModeForever:
	default:
		return types.WorkloadSpec{}, &ConfigError{Path: path, Message: fmt.Sprintf("workload %q: invalid run_mode %q", c.Name, c.RunMode)}
	}

	if c.MemoryLimitMB != nil && *c.MemoryLimitMB <= 0 {
		return types.WorkloadSpec{}, &ConfigError{Path: path, Message: fmt.Sprintf("workload %q: memory_limit_mb must be > 0", c.Name)}
	}
	if c.CPUNice != nil && (*c.CPUNice < -20 || *c.CPUNice > 19) {
		return types.WorkloadSpec{}, &ConfigError{Path: path, Message: fmt.Sprintf("workload %q: cpu_nice must be between -20 and 19", c.Name)}
	}

	entryPoint := c.EntryPoint
	if entryPoint == "" {
		entryPoint = defaultEntryPoint
	}
	restartDelay := defaultRestartDelay
	if c.RestartDelay != nil {
		restartDelay = *c.RestartDelay
	}

	return types.WorkloadSpec{
		Name:                c.Name,
		WorkloadType:        types.WorkloadType(c.Type),
		RunMode:             runMode,
		ModulePath:          c.Module,
		EntryPoint:          entryPoint,
		Schedule:            c.Schedule,
		MaxRuns:             c.MaxRuns,
		Params:              c.Params,
		RestartDelaySeconds: restartDelay,
		TimeoutSeconds:      c.Timeout,
		Tags:                c.Tags,
		Version:             c.Version,
		MemoryLimitMB:       c.MemoryLimitMB,
		CPUNice:             c.CPUNice,
	}, nil
}
