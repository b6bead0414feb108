// Package runmode implements the restart/completion policy for each
// types.RunMode: forever, n_times, and schedule.
package runmode

import (
	"fmt"

	"github.com/cuemby/mctl/pkg/types"
)

// Strategy decides whether a finished run should restart or is the
// workload's final run, given its spec, how many runs have happened so
// far, and the exit code of the run that just finished.
type Strategy interface {
	ShouldRestart(spec types.WorkloadSpec, runCount int, exitCode int) bool
	IsComplete(spec types.WorkloadSpec, runCount int) bool
}

type foreverStrategy struct{}

func (foreverStrategy) ShouldRestart(types.WorkloadSpec, int, int) bool { return true }
func (foreverStrategy) IsComplete(types.WorkloadSpec, int) bool         { return false }

type nTimesStrategy struct{}

func (nTimesStrategy) ShouldRestart(spec types.WorkloadSpec, runCount int, _ int) bool {
	return runCount < maxRuns(spec)
}

func (nTimesStrategy) IsComplete(spec types.WorkloadSpec, runCount int) bool {
	return runCount >= maxRuns(spec)
}

func maxRuns(spec types.WorkloadSpec) int {
	if spec.MaxRuns == nil {
		return 0
	}
	return *spec.MaxRuns
}

// scheduleStrategy backs run_mode=schedule workloads: the cron scheduler
// (pkg/cronsched) launches one run per trigger, so the runner itself never
// restarts a schedule-mode workload; each run is complete on exit.
type scheduleStrategy struct{}

func (scheduleStrategy) ShouldRestart(types.WorkloadSpec, int, int) bool { return false }
func (scheduleStrategy) IsComplete(types.WorkloadSpec, int) bool         { return true }

var strategies = map[types.RunMode]Strategy{
	types.RunModeForever:  foreverStrategy{},
	types.RunModeNTimes:   nTimesStrategy{},
	types.RunModeSchedule: scheduleStrategy{},
}

// UnknownRunModeError is returned by Get for a run mode with no registered
// strategy.
type UnknownRunModeError struct {
	RunMode types.RunMode
}

func (e *UnknownRunModeError) Error() string {
	return fmt.Sprintf("unknown run mode: %s", e.RunMode)
}

// Get returns the Strategy for the given run mode.
func Get(mode types.RunMode) (Strategy, error) {
	s, ok := strategies[mode]
	if !ok {
		return nil, &UnknownRunModeError{RunMode: mode}
	}
	return s, nil
}
