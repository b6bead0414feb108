package runner

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/mctl/pkg/types"
)

// Launcher builds the argv for a workload's worker process. The default
// implementation targets cmd/mctlworker. The runner always launches the
// argv its Launcher builds; pkg/plugin's WorkloadType.BuildLaunchCommand
// is not consulted.
type Launcher interface {
	Build(spec types.WorkloadSpec) ([]string, error)
}

// WorkerLauncher builds the standard argv contract: a fixed worker binary
// invoked with --module, --entry-point, --params-json, --workload-name,
// and --log-file when a log directory is configured.
type WorkerLauncher struct {
	WorkerBinary string
	LogDir       string
}

func (l WorkerLauncher) Build(spec types.WorkloadSpec) ([]string, error) {
	paramsJSON, err := json.Marshal(spec.Params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", spec.Name, err)
	}

	argv := []string{
		l.WorkerBinary,
		"--module", spec.ModulePath,
		"--entry-point", spec.EntryPoint,
		"--params-json", string(paramsJSON),
		"--workload-name", spec.Name,
	}
	if l.LogDir != "" {
		argv = append(argv, "--log-file", filepath.Join(l.LogDir, spec.Name+".log"))
	}
	return argv, nil
}
