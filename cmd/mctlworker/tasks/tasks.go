// Package tasks is the static table of worker entry points built into this
// binary. The workload body itself is out of scope (spec treats it as a
// contract, not an implementation) — echo exists only so the registry, the
// argv contract, and cmd/mctlworker's lookup path have something real to
// exercise end to end.
package tasks

import (
	"context"
	"fmt"

	"github.com/cuemby/mctl/pkg/log"
	"github.com/cuemby/mctl/pkg/plugin"
)

func init() {
	plugin.RegisterTask("mctl.tasks.echo", "run", echoTask{})
}

type echoTask struct{}

func (echoTask) Name() string { return "echo" }

func (echoTask) Run(ctx context.Context, params map[string]any) error {
	log.Info(fmt.Sprintf("echo: %v", params))
	return nil
}
