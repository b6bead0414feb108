// Command mctlcentral is the fleet controller: it serves the heartbeat
// ingest/fleet-inspection/deployment HTTP API, proxies commands to node
// daemons, and drives rolling deployments.
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

	"github.com/cuemby/mctl/pkg/central"
	"github.com/cuemby/mctl/pkg/config"
	"github.com/cuemby/mctl/pkg/deployer"
	"github.com/cuemby/mctl/pkg/fleetclient"
	"github.com/cuemby/mctl/pkg/log"
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
	Use:     "mctlcentral",
	Short:   "Run the mctl fleet controller",
	Version: Version,
	RunE:    runController,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("mctlcentral version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs as JSON")
	rootCmd.Flags().String("config-dir", "./config", "directory holding daemon.yaml and inventory.yaml")
}

func runController(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
	logger := log.WithComponent("mctlcentral")

	configDir, _ := cmd.Flags().GetString("config-dir")
	daemonCfg, err := config.LoadDaemonConfig(filepath.Join(configDir, "daemon.yaml"))
	if err != nil {
		return fmt.Errorf("load daemon config: %w", err)
	}

	dbPath := daemonCfg.Central.DBPath
	if dbPath == "" {
		dbPath = "./mctlcentral.db"
	}
	fleetStore, err := storage.OpenFleetStore(dbPath)
	if err != nil {
		return fmt.Errorf("open fleet database: %w", err)
	}
	defer fleetStore.Close()

	client := fleetclient.New(daemonCfg.Central.APIToken, 15*time.Second)
	dep := deployer.New(fleetStore, client, daemonCfg.Central.DeployScriptPath, daemonCfg.Central.InventoryPath)

	staleAfter := time.Duration(daemonCfg.Central.StaleThresholdSeconds * float64(time.Second))
	controller := central.New(fleetStore, client, dep, daemonCfg.Central.APIToken, staleAfter, 0)
	controller.StartReaper(0)
	defer controller.StopReaper()

	addr := fmt.Sprintf("%s:%d", emptyDefault(daemonCfg.Central.Host, "0.0.0.0"), daemonCfg.Central.Port)
	srv := &http.Server{Addr: addr, Handler: controller}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("central API server stopped")
		}
	}()

	logger.Info().Str("addr", addr).Str("db_path", dbPath).Msg("mctlcentral started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func emptyDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
