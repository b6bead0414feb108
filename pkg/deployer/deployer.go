// Package deployer drives a rolling Deployment from creation to terminal
// state: push files to a batch in parallel, reload each client, poll for
// health, and on failure either roll back or mark the deployment failed.
package deployer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/mctl/pkg/log"
	"github.com/cuemby/mctl/pkg/mctlerr"
	"github.com/cuemby/mctl/pkg/metrics"
	"github.com/cuemby/mctl/pkg/types"
)

const (
	healthPollInterval = 5 * time.Second
	stderrTailBytes    = 500
)

// Store is the subset of pkg/storage.FleetStore the deployer needs.
type Store interface {
	ListClients(ctx context.Context) ([]types.ClientRecord, error)
	GetClient(ctx context.Context, name string) (types.ClientRecord, error)
	CreateDeployment(ctx context.Context, d types.Deployment) error
	GetDeployment(ctx context.Context, id string) (types.Deployment, error)
	UpdateDeploymentStatus(ctx context.Context, id string, status types.DeploymentStatus, errMsg string, startedAt, completedAt *time.Time) error
	ListDeploymentClients(ctx context.Context, deploymentID string) ([]types.DeploymentClient, error)
	UpdateDeploymentClient(ctx context.Context, dc types.DeploymentClient) error
	UpdateClientDeployedVersion(ctx context.Context, clientName, version string) error
	ResolveClientEndpoint(ctx context.Context, name string) (string, int, error)
}

// FleetClient is the subset of pkg/fleetclient.Client the deployer needs.
type FleetClient interface {
	ReloadConfigs(ctx context.Context, host string, port int) error
	HealthCheck(ctx context.Context, host string, port int) (map[string]any, error)
}

// Deployer orchestrates rolling deployments across fleet clients, using an
// external script for file transfer and the fleet HTTP client for reload
// and health-check gating.
type Deployer struct {
	store         Store
	fleetClient   FleetClient
	deployScript  string
	inventoryPath string
	logger        zerolog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New builds a Deployer. deployScript is invoked as a child process for
// file transfer; inventoryPath is passed through to it.
func New(store Store, fleetClient FleetClient, deployScript, inventoryPath string) *Deployer {
	return &Deployer{
		store:         store,
		fleetClient:   fleetClient,
		deployScript:  deployScript,
		inventoryPath: inventoryPath,
		logger:        log.WithComponent("deployer"),
		active:        make(map[string]context.CancelFunc),
	}
}

// Start resolves targets, persists the deployment and its per-client rows
// in one commit, and launches the batch execution as a background task.
// Returns the new deployment's ID.
func (d *Deployer) Start(ctx context.Context, req types.DeploymentRequest) (string, error) {
	targets := req.TargetClients
	if len(targets) == 0 {
		clients, err := d.store.ListClients(ctx)
		if err != nil {
			return "", err
		}
		for _, c := range clients {
			if c.Status == types.ClientOnline {
				targets = append(targets, c.Name)
			}
		}
	}
	if len(targets) == 0 {
		return "", mctlerr.New(mctlerr.KindValidation, "no target clients available for deployment")
	}

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	deployment := types.Deployment{
		ID:            uuid.NewString(),
		Version:       req.Version,
		Status:        types.DeploymentPending,
		BatchSize:     batchSize,
		TargetClients: targets,
		CreatedAt:     time.Now(),
	}
	if err := d.store.CreateDeployment(ctx, deployment); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.active[deployment.ID] = cancel
	d.mu.Unlock()

	go d.execute(runCtx, deployment.ID, req)

	return deployment.ID, nil
}

// Cancel stops an in-progress deployment, marking it failed with
// "Cancelled by user".
func (d *Deployer) Cancel(ctx context.Context, deploymentID string) error {
	d.mu.Lock()
	cancel, ok := d.active[deploymentID]
	d.mu.Unlock()
	if ok {
		cancel()
	}
	now := time.Now()
	return d.store.UpdateDeploymentStatus(ctx, deploymentID, types.DeploymentFailed, "Cancelled by user", nil, &now)
}

func (d *Deployer) execute(ctx context.Context, deploymentID string, req types.DeploymentRequest) {
	timer := metrics.NewTimer()
	defer func() {
		d.mu.Lock()
		delete(d.active, deploymentID)
		d.mu.Unlock()
	}()

	now := time.Now()
	if err := d.store.UpdateDeploymentStatus(ctx, deploymentID, types.DeploymentInProgress, "", &now, nil); err != nil {
		d.logger.Error().Err(err).Str("deployment", deploymentID).Msg("mark deployment in_progress")
		return
	}

	clients, err := d.store.ListDeploymentClients(ctx, deploymentID)
	if err != nil {
		d.fail(ctx, deploymentID, err.Error())
		return
	}
	batches := groupByBatch(clients)

	for batchNum, batch := range batches {
		d.logger.Info().Str("deployment", deploymentID).Int("batch", batchNum).Msg("deploying batch")

		if err := ctx.Err(); err != nil {
			return // cancelled between batches
		}

		failed := d.pushBatch(ctx, deploymentID, batch, req.Version)
		if len(failed) > 0 {
			d.handleFailure(ctx, deploymentID, batchNum, req.AutoRollback, fmt.Sprintf("deploy failed for: %s", joinNames(failed)))
			return
		}

		failed = d.reloadBatch(ctx, deploymentID, batch)
		if len(failed) > 0 {
			d.handleFailure(ctx, deploymentID, batchNum, req.AutoRollback, fmt.Sprintf("reload failed for: %s", joinNames(failed)))
			return
		}

		if !d.waitForHealth(ctx, batch, req.HealthCheckTimeout) {
			d.handleFailure(ctx, deploymentID, batchNum, req.AutoRollback, "health check timeout")
			return
		}

		for _, c := range batch {
			if err := d.store.UpdateDeploymentClient(ctx, types.DeploymentClient{DeploymentID: deploymentID, ClientName: c.ClientName, Status: types.DeployClientHealthy}); err != nil {
				d.logger.Warn().Err(err).Str("client", c.ClientName).Msg("mark client healthy")
			}
			if err := d.store.UpdateClientDeployedVersion(ctx, c.ClientName, req.Version); err != nil {
				d.logger.Warn().Err(err).Str("client", c.ClientName).Msg("update client deployed version")
			}
		}
		d.logger.Info().Str("deployment", deploymentID).Int("batch", batchNum).Msg("batch complete")
	}

	completedAt := time.Now()
	if err := d.store.UpdateDeploymentStatus(ctx, deploymentID, types.DeploymentCompleted, "", nil, &completedAt); err != nil {
		d.logger.Error().Err(err).Str("deployment", deploymentID).Msg("mark deployment completed")
	}
	timer.ObserveDuration(metrics.DeploymentDuration)
	metrics.DeploymentsTotal.WithLabelValues(string(types.DeploymentCompleted)).Inc()
}

func (d *Deployer) fail(ctx context.Context, deploymentID, errMsg string) {
	completedAt := time.Now()
	if err := d.store.UpdateDeploymentStatus(ctx, deploymentID, types.DeploymentFailed, errMsg, nil, &completedAt); err != nil {
		d.logger.Error().Err(err).Str("deployment", deploymentID).Msg("mark deployment failed")
	}
	metrics.DeploymentsTotal.WithLabelValues(string(types.DeploymentFailed)).Inc()
}

func (d *Deployer) handleFailure(ctx context.Context, deploymentID string, failedBatch int, autoRollback bool, errMsg string) {
	d.logger.Error().Str("deployment", deploymentID).Str("error", errMsg).Msg("batch failed")
	if autoRollback {
		d.rollback(ctx, deploymentID, failedBatch)
		return
	}
	d.fail(ctx, deploymentID, errMsg)
}

// pushBatch deploys files to every client in the batch in parallel,
// recording each one's previous_version before attempting the transfer.
// Returns the names of clients that failed.
func (d *Deployer) pushBatch(ctx context.Context, deploymentID string, batch []types.DeploymentClient, version string) []string {
	var mu sync.Mutex
	var failed []string

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range batch {
		c := c
		g.Go(func() error {
			if err := d.deploySingleClient(gctx, deploymentID, c.ClientName, version); err != nil {
				mu.Lock()
				failed = append(failed, c.ClientName)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

func (d *Deployer) deploySingleClient(ctx context.Context, deploymentID, clientName, version string) error {
	if err := d.store.UpdateDeploymentClient(ctx, types.DeploymentClient{DeploymentID: deploymentID, ClientName: clientName, Status: types.DeployClientDeploying}); err != nil {
		d.logger.Warn().Err(err).Str("client", clientName).Msg("mark client deploying")
	}

	client, err := d.store.GetClient(ctx, clientName)
	if err == nil {
		if err := d.store.UpdateDeploymentClient(ctx, types.DeploymentClient{
			DeploymentID: deploymentID, ClientName: clientName, Status: types.DeployClientDeploying,
			PreviousVersion: client.DeployedVersion,
		}); err != nil {
			d.logger.Warn().Err(err).Str("client", clientName).Msg("record previous version")
		}
	}

	if err := d.runDeployScript(ctx, clientName, version); err != nil {
		if uerr := d.store.UpdateDeploymentClient(ctx, types.DeploymentClient{DeploymentID: deploymentID, ClientName: clientName, Status: types.DeployClientFailed, Error: err.Error()}); uerr != nil {
			d.logger.Warn().Err(uerr).Str("client", clientName).Msg("mark client failed")
		}
		return err
	}
	return nil
}

func (d *Deployer) runDeployScript(ctx context.Context, clientName, version string) error {
	if d.deployScript == "" {
		return nil // no-op transport, useful for tests/local single-node
	}
	cmd := exec.CommandContext(ctx, d.deployScript,
		"--client", clientName, "--inventory", d.inventoryPath, "--sync-only", "--version", version)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		tail := tailBytes(stderr.Bytes(), stderrTailBytes)
		if len(tail) == 0 {
			tail = tailBytes(stdout.Bytes(), stderrTailBytes)
		}
		return mctlerr.Wrap(mctlerr.KindUpstream, string(tail), err)
	}
	return nil
}

func tailBytes(b []byte, n int) []byte {
	if len(b) <= n {
		return bytes.TrimSpace(b)
	}
	return bytes.TrimSpace(b[len(b)-n:])
}

// reloadBatch sequentially tells each client to reload its configuration.
func (d *Deployer) reloadBatch(ctx context.Context, deploymentID string, batch []types.DeploymentClient) []string {
	var failed []string
	for _, c := range batch {
		host, port, err := d.store.ResolveClientEndpoint(ctx, c.ClientName)
		if err != nil {
			failed = append(failed, c.ClientName)
			continue
		}
		if err := d.fleetClient.ReloadConfigs(ctx, host, port); err != nil {
			d.logger.Warn().Err(err).Str("client", c.ClientName).Msg("reload failed")
			if uerr := d.store.UpdateDeploymentClient(ctx, types.DeploymentClient{DeploymentID: deploymentID, ClientName: c.ClientName, Status: types.DeployClientFailed, Error: "reload: " + err.Error()}); uerr != nil {
				d.logger.Warn().Err(uerr).Str("client", c.ClientName).Msg("mark client reload failure")
			}
			failed = append(failed, c.ClientName)
			continue
		}
		if err := d.store.UpdateDeploymentClient(ctx, types.DeploymentClient{DeploymentID: deploymentID, ClientName: c.ClientName, Status: types.DeployClientDeployed}); err != nil {
			d.logger.Warn().Err(err).Str("client", c.ClientName).Msg("mark client deployed")
		}
	}
	return failed
}

// waitForHealth polls every client's health endpoint every 5s until all
// pass or the timeout elapses. The poll loop is cancellable.
func (d *Deployer) waitForHealth(ctx context.Context, batch []types.DeploymentClient, timeoutSeconds float64) bool {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 60
	}
	deadline := time.Now().Add(time.Duration(timeoutSeconds * float64(time.Second)))

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return false
		}
		if d.allHealthy(ctx, batch) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(healthPollInterval):
		}
	}
	return false
}

func (d *Deployer) allHealthy(ctx context.Context, batch []types.DeploymentClient) bool {
	for _, c := range batch {
		host, port, err := d.store.ResolveClientEndpoint(ctx, c.ClientName)
		if err != nil {
			return false
		}
		resp, err := d.fleetClient.HealthCheck(ctx, host, port)
		if err != nil {
			return false
		}
		if status, _ := resp["status"].(string); status != "ok" {
			return false
		}
	}
	return true
}

// rollback reverts every client in batches <= failedBatch whose status
// indicates it was touched by this deployment, re-pushing its recorded
// previous_version. Rollback failures are logged but do not abort
// rollback of other clients.
func (d *Deployer) rollback(ctx context.Context, deploymentID string, failedBatch int) {
	d.logger.Warn().Str("deployment", deploymentID).Int("failed_batch", failedBatch).Msg("rolling back deployment")
	if err := d.store.UpdateDeploymentStatus(ctx, deploymentID, types.DeploymentRollingBack, "", nil, nil); err != nil {
		d.logger.Error().Err(err).Msg("mark deployment rolling_back")
	}

	clients, err := d.store.ListDeploymentClients(ctx, deploymentID)
	if err != nil {
		d.logger.Error().Err(err).Msg("list deployment clients for rollback")
		return
	}

	rollbackable := map[types.DeploymentClientStatus]bool{
		types.DeployClientDeploying: true, types.DeployClientDeployed: true,
		types.DeployClientHealthy: true, types.DeployClientFailed: true,
	}

	for _, c := range clients {
		if c.BatchNumber > failedBatch || !rollbackable[c.Status] {
			continue
		}
		if c.PreviousVersion != nil && *c.PreviousVersion != "" {
			if err := d.runDeployScript(ctx, c.ClientName, *c.PreviousVersion); err != nil {
				d.logger.Error().Err(err).Str("client", c.ClientName).Msg("rollback deploy script failed")
			} else if host, port, err := d.store.ResolveClientEndpoint(ctx, c.ClientName); err == nil {
				if err := d.fleetClient.ReloadConfigs(ctx, host, port); err != nil {
					d.logger.Error().Err(err).Str("client", c.ClientName).Msg("rollback reload failed")
				}
			}
		}
		if err := d.store.UpdateDeploymentClient(ctx, types.DeploymentClient{DeploymentID: deploymentID, ClientName: c.ClientName, Status: types.DeployClientRolledBack}); err != nil {
			d.logger.Error().Err(err).Str("client", c.ClientName).Msg("mark client rolled_back")
		}
	}

	completedAt := time.Now()
	if err := d.store.UpdateDeploymentStatus(ctx, deploymentID, types.DeploymentRolledBack, "", nil, &completedAt); err != nil {
		d.logger.Error().Err(err).Msg("mark deployment rolled_back")
	}
	metrics.DeploymentsRolledBackTotal.Inc()
	metrics.DeploymentsTotal.WithLabelValues(string(types.DeploymentRolledBack)).Inc()
}

func groupByBatch(clients []types.DeploymentClient) [][]types.DeploymentClient {
	maxBatch := -1
	for _, c := range clients {
		if c.BatchNumber > maxBatch {
			maxBatch = c.BatchNumber
		}
	}
	batches := make([][]types.DeploymentClient, maxBatch+1)
	for _, c := range clients {
		batches[c.BatchNumber] = append(batches[c.BatchNumber], c)
	}
	return batches
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}
