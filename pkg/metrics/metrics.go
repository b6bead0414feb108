package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Workload metrics (node supervisor)
	WorkloadsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mctl_workloads_total",
			Help: "Total number of workloads by status",
		},
		[]string{"status"},
	)

	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mctl_runs_total",
			Help: "Total number of workload runs by workload and outcome",
		},
		[]string{"workload", "outcome"},
	)

	ReloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mctl_reload_duration_seconds",
			Help:    "Time taken to reload and diff workload configuration",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReloadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mctl_reloads_total",
			Help: "Total number of config reloads performed",
		},
	)

	// Heartbeat metrics (node supervisor → controller)
	HeartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mctl_heartbeats_total",
			Help: "Total number of heartbeat attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Fleet metrics (central controller)
	FleetClientsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mctl_fleet_clients_total",
			Help: "Total number of fleet clients by status",
		},
		[]string{"status"},
	)

	// API metrics (node + controller HTTP surfaces)
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mctl_api_requests_total",
			Help: "Total number of HTTP API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mctl_api_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Deployment metrics (rolling deployer)
	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mctl_deployments_total",
			Help: "Total number of deployments by terminal status",
		},
		[]string{"status"},
	)

	DeploymentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mctl_deployment_duration_seconds",
			Help:    "Deployment duration in seconds from start to terminal state",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	DeploymentsRolledBackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mctl_deployments_rolled_back_total",
			Help: "Total number of deployments that triggered a rollback",
		},
	)
)

func init() {
	prometheus.MustRegister(WorkloadsTotal)
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(ReloadDuration)
	prometheus.MustRegister(ReloadsTotal)
	prometheus.MustRegister(HeartbeatsTotal)
	prometheus.MustRegister(FleetClientsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(DeploymentsTotal)
	prometheus.MustRegister(DeploymentDuration)
	prometheus.MustRegister(DeploymentsRolledBackTotal)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HTTPMiddleware instruments every request with APIRequestsTotal and
// APIRequestDuration, both chi routers (nodeapi and central) mount this.
// The route label is chi's matched pattern ("/api/status/{name}"), not the
// raw path, so per-workload/per-client names don't blow up cardinality.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		APIRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		timer.ObserveDurationVec(APIRequestDuration, route)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
