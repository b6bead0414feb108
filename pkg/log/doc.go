/*
Package log provides structured logging shared by the node supervisor
(mctld) and the central controller (mctlcentral), built on zerolog.

Initialize once at process start:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers carry context without repeating fields at every call
site:

	runnerLog := log.WithComponent("runner").With().
		Str("workload_name", spec.Name).Logger()
	runnerLog.Info().Int("run_count", state.RunCount).Msg("workload started")

	clientLog := log.WithClient("node-3")
	clientLog.Warn().Msg("client marked stale")

Never log secrets: deploy tokens and bearer credentials must not reach
log fields.
*/
package log
