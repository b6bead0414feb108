// Package central is the controller-side composition root: the fleet HTTP
// API (heartbeat ingest, client/workload inspection, command proxying,
// deployment lifecycle), plus a background stale-client reaper. It wires
// pkg/storage.FleetStore, pkg/fleetclient.Client and pkg/deployer.Deployer
// together the way pkg/orchestrator wires the node-side packages.
package central

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/cuemby/mctl/pkg/fleetclient"
	"github.com/cuemby/mctl/pkg/log"
	"github.com/cuemby/mctl/pkg/mctlerr"
	"github.com/cuemby/mctl/pkg/metrics"
	"github.com/cuemby/mctl/pkg/types"
)

const (
	defaultStaleThreshold = 90 * time.Second
	defaultReapInterval   = 30 * time.Second
	defaultLogLines       = 50
	maxLogLines           = 10000
	defaultNodeAPIPort    = 9100
)

// Store is the subset of pkg/storage.FleetStore the controller's HTTP
// surface and reaper need, beyond what pkg/deployer.Store already covers.
type Store interface {
	UpsertHeartbeat(ctx context.Context, host string, apiPort int, payload types.HeartbeatPayload) error
	MarkStaleClients(ctx context.Context, threshold time.Duration) (int64, error)
	GetClient(ctx context.Context, name string) (types.ClientRecord, error)
	ListClients(ctx context.Context) ([]types.ClientRecord, error)
	ListClientWorkloads(ctx context.Context, clientName string) ([]types.ClientWorkloadRecord, error)
	GetClientWorkload(ctx context.Context, clientName, workloadName string) (types.ClientWorkloadRecord, error)
	ListDeployments(ctx context.Context, limit int) ([]types.Deployment, error)
	GetDeployment(ctx context.Context, id string) (types.Deployment, error)
}

// Deployer is the subset of pkg/deployer.Deployer the HTTP surface drives.
type Deployer interface {
	Start(ctx context.Context, req types.DeploymentRequest) (string, error)
	Cancel(ctx context.Context, deploymentID string) error
}

// FleetClient is the subset of pkg/fleetclient.Client the HTTP surface
// proxies commands through, narrowed to an interface (mirroring
// pkg/deployer's own FleetClient) so tests can substitute a fake instead of
// making real HTTP calls.
type FleetClient interface {
	StartWorkload(ctx context.Context, host string, port int, name string) (fleetclient.CommandResponse, error)
	StopWorkload(ctx context.Context, host string, port int, name string) (fleetclient.CommandResponse, error)
	RestartWorkload(ctx context.Context, host string, port int, name string) (fleetclient.CommandResponse, error)
	ReloadConfigs(ctx context.Context, host string, port int) error
	GetLogs(ctx context.Context, host string, port int, name string, lines int) ([]string, error)
}

// Controller is the central composition root: HTTP server plus background
// stale-client reaper.
type Controller struct {
	store       Store
	fleetClient FleetClient
	deployer    Deployer
	apiToken    string
	staleAfter  time.Duration
	nodeAPIPort int
	logger      zerolog.Logger
	router      chi.Router

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Controller. apiToken guards the /api/fleet/* routes only;
// empty disables auth on them too. /api/heartbeat, /api/ready, /api/live
// and /metrics never require the token: nodes must always be able to reach
// heartbeat ingestion — spec gives /health the same no-auth treatment on
// the node side; heartbeat ingestion is this process's equivalent
// inbound-from-untrusted-peer route.
// nodeAPIPort <= 0 defaults to the daemon config's fleet.api_port default
// (9100); it is the port the controller assumes every heartbeating node's
// HTTP API listens on, since the heartbeat payload itself carries no port.
func New(store Store, fleetClient FleetClient, deployer Deployer, apiToken string, staleAfter time.Duration, nodeAPIPort int) *Controller {
	if staleAfter <= 0 {
		staleAfter = defaultStaleThreshold
	}
	if nodeAPIPort <= 0 {
		nodeAPIPort = defaultNodeAPIPort
	}
	c := &Controller{
		store:       store,
		fleetClient: fleetClient,
		deployer:    deployer,
		apiToken:    apiToken,
		staleAfter:  staleAfter,
		nodeAPIPort: nodeAPIPort,
		logger:      log.WithComponent("central"),
	}
	metrics.SetCriticalComponents("store")
	metrics.RegisterComponent("store", true, "")
	c.router = c.buildRouter()
	return c
}

func (c *Controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.router.ServeHTTP(w, r)
}

// StartReaper begins the background loop that marks clients stale when
// their last heartbeat exceeds staleAfter, ticking every interval.
func (c *Controller) StartReaper(interval time.Duration) {
	if interval <= 0 {
		interval = defaultReapInterval
	}
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.reapLoop(interval)
}

// StopReaper stops the background reaper loop, blocking until it exits.
func (c *Controller) StopReaper() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	<-c.doneCh
}

func (c *Controller) reapLoop(interval time.Duration) {
	defer close(c.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx := context.Background()
			n, err := c.store.MarkStaleClients(ctx, c.staleAfter)
			if err != nil {
				c.logger.Error().Err(err).Msg("mark stale clients failed")
				continue
			}
			if n > 0 {
				c.logger.Info().Int64("count", n).Msg("marked clients stale")
			}
			c.sampleFleetClientCounts(ctx)
		case <-c.stopCh:
			return
		}
	}
}

// sampleFleetClientCounts refreshes the FleetClientsTotal gauge, the way
// pkg/metrics.Collector samples workload counts on the node side.
func (c *Controller) sampleFleetClientCounts(ctx context.Context) {
	clients, err := c.store.ListClients(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("list clients for metrics failed")
		return
	}
	counts := make(map[types.ClientStatus]int)
	for _, cl := range clients {
		counts[cl.Status]++
	}
	for _, status := range []types.ClientStatus{types.ClientUnknown, types.ClientDiscovered, types.ClientOnline, types.ClientOffline} {
		metrics.FleetClientsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (c *Controller) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metrics.HTTPMiddleware)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/heartbeat", c.handleHeartbeat)
		r.Get("/ready", metrics.ReadyHandler())
		r.Get("/live", metrics.LivenessHandler())

		r.Group(func(r chi.Router) {
			r.Use(c.authenticate)
			r.Get("/fleet/clients", c.handleListClients)
			r.Get("/fleet/clients/{client}", c.handleGetClient)
			r.Get("/fleet/clients/{client}/workloads", c.handleListClientWorkloads)
			r.Get("/fleet/clients/{client}/workloads/{workload}", c.handleGetClientWorkload)
			r.Post("/fleet/clients/{client}/workloads/{workload}/start", c.handleClientCommand(c.proxyStart))
			r.Post("/fleet/clients/{client}/workloads/{workload}/stop", c.handleClientCommand(c.proxyStop))
			r.Post("/fleet/clients/{client}/workloads/{workload}/restart", c.handleClientCommand(c.proxyRestart))
			r.Get("/fleet/clients/{client}/workloads/{workload}/logs", c.handleWorkloadLogs)
			r.Post("/fleet/clients/{client}/reload", c.handleClientReload)
			r.Post("/fleet/deployments", c.handleCreateDeployment)
			r.Get("/fleet/deployments", c.handleListDeployments)
			r.Get("/fleet/deployments/{id}", c.handleGetDeployment)
			r.Post("/fleet/deployments/{id}/cancel", c.handleCancelDeployment)
		})
	})
	return r
}

func (c *Controller) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.apiToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token != c.apiToken {
			writeError(w, mctlerr.New(mctlerr.KindValidation, "unauthorized"), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *Controller) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var payload types.HeartbeatPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, mctlerr.Wrap(mctlerr.KindValidation, "decode heartbeat", err), http.StatusBadRequest)
		return
	}

	host := remoteHost(r.RemoteAddr)
	if err := c.store.UpsertHeartbeat(r.Context(), host, c.nodeAPIPort, payload); err != nil {
		writeErrorFromKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// remoteHost strips the port from a net/http RemoteAddr, falling back to
// the raw value if it isn't in host:port form (matching the source's
// "use the client's IP as the host if we don't have it in inventory" rule).
func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func (c *Controller) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := c.store.ListClients(r.Context())
	if err != nil {
		writeErrorFromKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clients)
}

func (c *Controller) handleGetClient(w http.ResponseWriter, r *http.Request) {
	client, err := c.store.GetClient(r.Context(), chi.URLParam(r, "client"))
	if err != nil {
		writeErrorFromKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

func (c *Controller) handleListClientWorkloads(w http.ResponseWriter, r *http.Request) {
	rows, err := c.store.ListClientWorkloads(r.Context(), chi.URLParam(r, "client"))
	if err != nil {
		writeErrorFromKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (c *Controller) handleGetClientWorkload(w http.ResponseWriter, r *http.Request) {
	row, err := c.store.GetClientWorkload(r.Context(), chi.URLParam(r, "client"), chi.URLParam(r, "workload"))
	if err != nil {
		writeErrorFromKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (c *Controller) proxyStart(ctx context.Context, host string, port int, name string) (fleetclient.CommandResponse, error) {
	return c.fleetClient.StartWorkload(ctx, host, port, name)
}

func (c *Controller) proxyStop(ctx context.Context, host string, port int, name string) (fleetclient.CommandResponse, error) {
	return c.fleetClient.StopWorkload(ctx, host, port, name)
}

func (c *Controller) proxyRestart(ctx context.Context, host string, port int, name string) (fleetclient.CommandResponse, error) {
	return c.fleetClient.RestartWorkload(ctx, host, port, name)
}

func (c *Controller) handleClientCommand(proxy func(ctx context.Context, host string, port int, name string) (fleetclient.CommandResponse, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client, err := c.store.GetClient(r.Context(), chi.URLParam(r, "client"))
		if err != nil {
			writeErrorFromKind(w, err)
			return
		}
		resp, err := proxy(r.Context(), client.Host, client.APIPort, chi.URLParam(r, "workload"))
		if err != nil {
			writeErrorFromKind(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (c *Controller) handleWorkloadLogs(w http.ResponseWriter, r *http.Request) {
	client, err := c.store.GetClient(r.Context(), chi.URLParam(r, "client"))
	if err != nil {
		writeErrorFromKind(w, err)
		return
	}

	lines := defaultLogLines
	if raw := r.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLogLines {
			writeError(w, mctlerr.New(mctlerr.KindValidation, "lines must be an integer between 1 and 10000"), http.StatusBadRequest)
			return
		}
		lines = n
	}

	name := chi.URLParam(r, "workload")
	out, err := c.fleetClient.GetLogs(r.Context(), client.Host, client.APIPort, name, lines)
	if err != nil {
		writeErrorFromKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "lines": out})
}

func (c *Controller) handleClientReload(w http.ResponseWriter, r *http.Request) {
	client, err := c.store.GetClient(r.Context(), chi.URLParam(r, "client"))
	if err != nil {
		writeErrorFromKind(w, err)
		return
	}
	if err := c.fleetClient.ReloadConfigs(r.Context(), client.Host, client.APIPort); err != nil {
		writeErrorFromKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (c *Controller) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	var req types.DeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, mctlerr.Wrap(mctlerr.KindValidation, "decode deployment request", err), http.StatusBadRequest)
		return
	}
	id, err := c.deployer.Start(r.Context(), req)
	if err != nil {
		writeErrorFromKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (c *Controller) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	deployments, err := c.store.ListDeployments(r.Context(), limit)
	if err != nil {
		writeErrorFromKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deployments)
}

func (c *Controller) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	dep, err := c.store.GetDeployment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErrorFromKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dep)
}

func (c *Controller) handleCancelDeployment(w http.ResponseWriter, r *http.Request) {
	if err := c.deployer.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeErrorFromKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error, status int) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeErrorFromKind(w http.ResponseWriter, err error) {
	kind, ok := mctlerr.KindOf(err)
	if !ok {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	switch kind {
	case mctlerr.KindNotFound:
		writeError(w, err, http.StatusNotFound)
	case mctlerr.KindValidation:
		writeError(w, err, http.StatusBadRequest)
	case mctlerr.KindConflict:
		writeError(w, err, http.StatusConflict)
	default:
		writeError(w, err, http.StatusBadGateway)
	}
}
