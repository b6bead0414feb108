package runner

import (
	"fmt"
	"runtime"

	"github.com/cuemby/mctl/pkg/log"
)

// wrapWithLimits mirrors the source's preexec_fn: a hook applied to the
// child after fork, before the worker image replaces it, enforcing an
// address-space cap and a niceness value. Go's os/exec has no pre-exec
// hook, so the equivalent is built the way a shell would do it: wrap argv
// in `sh -c 'ulimit -v ...; exec nice -n ... "$@"' -- argv...`. On
// platforms without a POSIX shell (windows), limits are skipped and
// logged, matching spec's "when unsupported, limits are ignored and
// logged" guidance.
func wrapWithLimits(argv []string, memoryLimitMB, cpuNice *int) []string {
	if memoryLimitMB == nil && cpuNice == nil {
		return argv
	}
	if runtime.GOOS == "windows" {
		log.Logger.Warn().Msg("resource limits requested but unsupported on this platform, ignoring")
		return argv
	}

	script := `exec "$@"`
	if cpuNice != nil {
		script = fmt.Sprintf(`exec nice -n %d "$@"`, *cpuNice)
	}
	if memoryLimitMB != nil {
		kb := *memoryLimitMB * 1024
		script = fmt.Sprintf(`ulimit -v %d; %s`, kb, script)
	}

	wrapped := make([]string, 0, len(argv)+4)
	wrapped = append(wrapped, "/bin/sh", "-c", script, "--")
	wrapped = append(wrapped, argv...)
	return wrapped
}
