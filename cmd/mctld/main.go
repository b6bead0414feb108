// Command mctld is the per-node supervisor: it loads workload specs from a
// config directory, runs them under pkg/orchestrator, serves the local
// command socket and the node HTTP API, and (when fleet.enabled) reports
// heartbeats to a central controller.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/mctl/pkg/config"
	"github.com/cuemby/mctl/pkg/health"
	"github.com/cuemby/mctl/pkg/heartbeat"
	"github.com/cuemby/mctl/pkg/ipc"
	"github.com/cuemby/mctl/pkg/log"
	"github.com/cuemby/mctl/pkg/metrics"
	"github.com/cuemby/mctl/pkg/nodeapi"
	"github.com/cuemby/mctl/pkg/orchestrator"
	"github.com/cuemby/mctl/pkg/runner"
	"github.com/cuemby/mctl/pkg/storage"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "mctld",
	Short:   "Run the mctl node supervisor",
	Version: Version,
	RunE:    runDaemon,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("mctld version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs as JSON")

	rootCmd.Flags().String("config-dir", "./config", "directory of workload files plus daemon.yaml/inventory.yaml")
	rootCmd.Flags().String("data-dir", "./mctld-data", "directory for the node database, logs and command socket")
	rootCmd.Flags().String("worker-binary", "mctlworker", "path to the mctlworker binary new workloads are launched with")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
	logger := log.WithComponent("mctld")

	configDir, _ := cmd.Flags().GetString("config-dir")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	workerBinary, _ := cmd.Flags().GetString("worker-binary")

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	daemonCfg, err := config.LoadDaemonConfig(filepath.Join(configDir, "daemon.yaml"))
	if err != nil {
		return fmt.Errorf("load daemon config: %w", err)
	}

	nodeStore, err := storage.OpenNodeStore(filepath.Join(dataDir, "node.db"))
	if err != nil {
		return fmt.Errorf("open node database: %w", err)
	}
	defer nodeStore.Close()
	metrics.RegisterComponent("storage", true, "")

	loader := config.NewLoader(configDir)
	specs, err := loader.LoadAll()
	if err != nil {
		return fmt.Errorf("load workload configs: %w", err)
	}

	launcher := runner.WorkerLauncher{WorkerBinary: workerBinary, LogDir: logDir}
	orch := orchestrator.New(launcher, nodeStore, nodeStore, loader)
	orch.SetLogDir(logDir)
	metrics.RegisterComponent("registry", true, "")

	collector := metrics.NewCollector(orch)
	collector.Start()
	defer collector.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := orch.LoadAndStart(ctx, specs); err != nil {
		return fmt.Errorf("start workloads: %w", err)
	}

	sweeper := health.NewSweeper(orch, health.GopsutilChecker{}, 0)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	socketPath := filepath.Join(dataDir, "mctld.sock")
	ipcServer, err := ipc.New(socketPath, orch)
	if err != nil {
		return fmt.Errorf("start command socket: %w", err)
	}
	ipcServer.Start()
	defer ipcServer.Stop()
	metrics.RegisterComponent("ipc", true, "")

	httpServer := nodeapi.New(orch, daemonCfg.Fleet.APIToken, Version)
	apiAddr := fmt.Sprintf("%s:%d", emptyDefault(daemonCfg.Fleet.APIHost, "0.0.0.0"), daemonCfg.Fleet.APIPort)
	srv := &http.Server{Addr: apiAddr, Handler: httpServer}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("node API server stopped")
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	var reporter *heartbeat.Reporter
	if daemonCfg.Fleet.Enabled {
		reporter = heartbeat.New(orch, heartbeat.Config{
			ClientName:      daemonCfg.Fleet.ClientName,
			CentralAPIURL:   daemonCfg.Fleet.CentralAPIURL,
			IntervalSeconds: daemonCfg.Fleet.HeartbeatIntervalSecond,
			APIToken:        daemonCfg.Fleet.APIToken,
		}, func() *string { v, _ := config.ReadVersionFile(configDir); return v })
		reporter.Start()
		defer reporter.Stop()
	}

	logger.Info().Str("config_dir", configDir).Str("api_addr", apiAddr).Int("workload_count", len(specs)).Msg("mctld started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	return orch.Shutdown()
}

func emptyDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
