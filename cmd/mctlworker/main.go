// Command mctlworker is the subprocess every workload runs as: it looks up
// a task by --module/--entry-point in the static plugin registry and
// invokes it with the decoded --params-json body. This is the Go analogue
// of the source's `python -m master_control.engine._worker`, minus
// dynamic import — Go has no runtime equivalent of importlib, so tasks
// must register themselves at compile time via pkg/plugin.RegisterTask.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/mctl/pkg/log"
	"github.com/cuemby/mctl/pkg/plugin"

	_ "github.com/cuemby/mctl/cmd/mctlworker/tasks"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mctlworker",
	Short: "Run one workload's task to completion",
	RunE: func(cmd *cobra.Command, args []string) error {
		module, _ := cmd.Flags().GetString("module")
		entryPoint, _ := cmd.Flags().GetString("entry-point")
		paramsJSON, _ := cmd.Flags().GetString("params-json")
		workloadName, _ := cmd.Flags().GetString("workload-name")
		// --log-file mirrors the source's argv contract but is a no-op here:
		// runner.go already redirects this process's stdout/stderr to that
		// file from the parent side (os/exec.Cmd.Stdout/Stderr), so there is
		// nothing left for the child to open.
		_, _ = cmd.Flags().GetString("log-file")

		log.Init(log.Config{Level: log.InfoLevel})
		logger := log.WithWorkload(workloadName)

		task, ok := plugin.Default.Task(module, entryPoint)
		if !ok {
			fmt.Fprintf(os.Stderr, "module %q has no entry point %q\n", module, entryPoint)
			os.Exit(1)
		}

		var params map[string]any
		if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
			fmt.Fprintf(os.Stderr, "invalid --params-json: %v\n", err)
			os.Exit(1)
		}

		if err := task.Run(context.Background(), params); err != nil {
			logger.Error().Err(err).Msg("task failed")
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().String("module", "", "task module path (registry key)")
	rootCmd.Flags().String("entry-point", "", "task entry point name")
	rootCmd.Flags().String("params-json", "{}", "JSON-encoded task parameters")
	rootCmd.Flags().String("workload-name", "worker", "workload name, used for logging")
	rootCmd.Flags().String("log-file", "", "accepted for argv compatibility and ignored; the parent captures output")
	_ = rootCmd.MarkFlagRequired("module")
	_ = rootCmd.MarkFlagRequired("entry-point")
}
