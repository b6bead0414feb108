// Package heartbeat periodically reports this node's workload states and
// system metrics to the central controller. Failures are logged and
// swallowed: the next interval retries naturally, so there is no inline
// retry or backoff here (see spec's heartbeat failure semantics).
package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/mctl/pkg/log"
	"github.com/cuemby/mctl/pkg/metrics"
	"github.com/cuemby/mctl/pkg/types"
	"github.com/rs/zerolog"
)

// Source is implemented by pkg/orchestrator.
type Source interface {
	ListWorkloadStates() []types.WorkloadState
}

// Config mirrors pkg/config's FleetConfig fields the reporter needs.
type Config struct {
	ClientName      string
	CentralAPIURL   string
	IntervalSeconds float64
	APIToken        string
}

// Reporter is the background heartbeat task.
type Reporter struct {
	source Source
	cfg    Config
	client *http.Client
	logger zerolog.Logger

	deployedVersion func() *string

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Reporter. deployedVersion is called fresh on every tick so
// a version file change (post-deploy) is reflected without a restart.
func New(source Source, cfg Config, deployedVersion func() *string) *Reporter {
	return &Reporter{
		source:          source,
		cfg:             cfg,
		client:          &http.Client{Timeout: 10 * time.Second},
		logger:          log.WithComponent("heartbeat"),
		deployedVersion: deployedVersion,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
}

// Start begins the periodic reporting loop.
func (r *Reporter) Start() {
	go r.run()
}

// Stop halts the loop and waits for it to exit.
func (r *Reporter) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reporter) run() {
	defer close(r.doneCh)
	interval := time.Duration(r.cfg.IntervalSeconds * float64(time.Second))
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.sendHeartbeat()
	for {
		select {
		case <-ticker.C:
			r.sendHeartbeat()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Reporter) sendHeartbeat() {
	if r.cfg.CentralAPIURL == "" {
		return
	}

	payload := r.buildPayload()
	body, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error().Err(err).Msg("marshal heartbeat payload")
		metrics.HeartbeatsTotal.WithLabelValues("failure").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/api/heartbeat", trimTrailingSlash(r.cfg.CentralAPIURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		r.logger.Error().Err(err).Msg("build heartbeat request")
		metrics.HeartbeatsTotal.WithLabelValues("failure").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIToken)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn().Err(err).Msg("heartbeat failed")
		metrics.HeartbeatsTotal.WithLabelValues("failure").Inc()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.logger.Warn().Int("status", resp.StatusCode).Str("url", url).Msg("heartbeat rejected")
		metrics.HeartbeatsTotal.WithLabelValues("failure").Inc()
		return
	}
	metrics.HeartbeatsTotal.WithLabelValues("success").Inc()
}

func (r *Reporter) buildPayload() types.HeartbeatPayload {
	states := r.source.ListWorkloadStates()
	workloads := make([]types.WorkloadInfo, 0, len(states))
	for _, s := range states {
		var lastStarted *string
		if s.LastStarted != nil {
			v := s.LastStarted.Format(time.RFC3339)
			lastStarted = &v
		}
		workloads = append(workloads, types.WorkloadInfo{
			Name:        s.Spec.Name,
			Type:        string(s.Spec.WorkloadType),
			RunMode:     string(s.Spec.RunMode),
			Status:      string(s.Status),
			PID:         s.PID,
			RunCount:    s.RunCount,
			LastStarted: lastStarted,
			LastError:   s.LastError,
		})
	}

	clientName := r.cfg.ClientName
	if clientName == "" {
		clientName = "unknown"
	}

	var version *string
	if r.deployedVersion != nil {
		version = r.deployedVersion()
	}

	return types.HeartbeatPayload{
		ClientName:      clientName,
		Timestamp:       time.Now(),
		DeployedVersion: version,
		Workloads:       workloads,
		System:          CollectSystemMetrics(),
	}
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
