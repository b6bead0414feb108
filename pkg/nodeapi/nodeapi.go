// Package nodeapi is the node supervisor's HTTP surface: /health plus the
// /api/* operations the central controller and the CLI use to inspect and
// drive workloads on this node (the HTTP counterpart of pkg/ipc's local
// socket protocol, sharing its Handler contract).
package nodeapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/cuemby/mctl/pkg/log"
	"github.com/cuemby/mctl/pkg/mctlerr"
	"github.com/cuemby/mctl/pkg/metrics"
	"github.com/cuemby/mctl/pkg/reconciler"
	"github.com/cuemby/mctl/pkg/types"
)

const (
	defaultLogLines = 50
	maxLogLines     = 10000
)

// Handler is the subset of pkg/ipc.Handler the HTTP surface drives,
// plus Logs which only the HTTP surface exposes.
type Handler interface {
	List() []types.WorkloadState
	Status(name string) (types.WorkloadState, error)
	Start(name string) error
	Stop(name string) error
	Restart(name string) error
	Reload() (reconciler.Diff, error)
	Logs(name string, lines int) ([]string, error)
}

// Server serves the node HTTP API described by spec: /api/health,
// /api/ready, /api/live and /metrics are always open, every other route
// enforces the bearer token when one is configured.
type Server struct {
	handler  Handler
	apiToken string
	version  string
	logger   zerolog.Logger
	router   chi.Router
}

// New builds a Server. apiToken empty disables auth (every route is open).
func New(handler Handler, apiToken, version string) *Server {
	s := &Server{
		handler:  handler,
		apiToken: apiToken,
		version:  version,
		logger:   log.WithComponent("nodeapi"),
	}
	metrics.SetVersion(version)
	s.router = s.buildRouter()
	return s
}

// ServeHTTP lets Server be passed directly to http.Server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(metrics.HTTPMiddleware)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", metrics.ReadyHandler())
		r.Get("/live", metrics.LivenessHandler())

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Get("/list", s.handleList)
			r.Get("/status/{name}", s.handleStatus)
			r.Post("/start/{name}", s.handleStart)
			r.Post("/stop/{name}", s.handleStop)
			r.Post("/restart/{name}", s.handleRestart)
			r.Post("/reload", s.handleReload)
			r.Get("/logs/{name}", s.handleLogs)
		})
	})
	return r
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token != s.apiToken {
			writeError(w, mctlerr.New(mctlerr.KindValidation, "unauthorized"), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.handler.List())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	state, err := s.handler.Status(name)
	if err != nil {
		writeErrorFromKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.handleCommand(w, r, s.handler.Start)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.handleCommand(w, r, s.handler.Stop)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.handleCommand(w, r, s.handler.Restart)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request, do func(string) error) {
	name := chi.URLParam(r, "name")
	if err := do(name); err != nil {
		writeErrorFromKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	diff, err := s.handler.Reload()
	if err != nil {
		writeErrorFromKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, diff)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	lines := defaultLogLines
	if raw := r.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLogLines {
			writeError(w, mctlerr.New(mctlerr.KindValidation, "lines must be an integer between 1 and 10000"), http.StatusBadRequest)
			return
		}
		lines = n
	}

	out, err := s.handler.Logs(name, lines)
	if err != nil {
		writeErrorFromKind(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "lines": out})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error, status int) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeErrorFromKind maps a pkg/mctlerr Kind to the status codes spec
// names: 404 not found, 400 validation, 502 everything else (upstream
// failure talking to the thing the command ultimately depends on).
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
	default:
		writeError(w, err, http.StatusBadGateway)
	}
}
