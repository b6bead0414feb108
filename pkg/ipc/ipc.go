// Package ipc serves the local command socket: a length-delimited (one
// JSON object per line) request/response protocol over a Unix domain
// socket, used by the CLI to talk to an already-running supervisor
// without going through HTTP.
package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cuemby/mctl/pkg/log"
	"github.com/cuemby/mctl/pkg/mctlerr"
	"github.com/cuemby/mctl/pkg/reconciler"
	"github.com/cuemby/mctl/pkg/types"
	"github.com/rs/zerolog"
)

// Request is the wire shape of one command.
type Request struct {
	Command string `json:"command"`
	Name    string `json:"name,omitempty"`
}

// Handler performs the side effects a command implies. pkg/orchestrator
// implements this over its registry, runner set, and config loader.
type Handler interface {
	List() []types.WorkloadState
	Status(name string) (types.WorkloadState, error)
	Start(name string) error
	Stop(name string) error
	Restart(name string) error
	Reload() (reconciler.Diff, error)
	Shutdown() error
}

// Server accepts one connection at a time, reads exactly one request line
// from it, writes exactly one response line, and closes it.
type Server struct {
	socketPath string
	handler    Handler
	logger     zerolog.Logger

	listener net.Listener
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New binds a Unix domain socket at socketPath, removing a stale socket
// file left behind by an unclean shutdown.
func New(socketPath string, handler Handler) (*Server, error) {
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, mctlerr.Wrap(mctlerr.KindConflict, "remove stale socket", err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, mctlerr.Wrap(mctlerr.KindConflict, "listen on socket", err)
	}
	return &Server{
		socketPath: socketPath,
		handler:    handler,
		logger:     log.WithComponent("ipc"),
		listener:   listener,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Start begins accepting connections in the background.
func (s *Server) Start() {
	go s.acceptLoop()
}

// Stop closes the listener, waits for the accept loop to exit, and
// removes the socket file.
func (s *Server) Stop() {
	close(s.stopCh)
	_ = s.listener.Close()
	<-s.doneCh
	_ = os.Remove(s.socketPath)
}

func (s *Server) acceptLoop() {
	defer close(s.doneCh)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.logger.Error().Err(err).Msg("accept failed")
				continue
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.writeResponse(conn, map[string]any{"error": "invalid request: " + err.Error()})
		return
	}

	s.writeResponse(conn, s.dispatch(req))
}

func (s *Server) writeResponse(conn net.Conn, resp any) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error().Err(err).Msg("marshal response")
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		s.logger.Error().Err(err).Msg("write response")
	}
}

func (s *Server) dispatch(req Request) any {
	switch req.Command {
	case "list":
		return map[string]any{"workloads": s.handler.List()}
	case "status":
		state, err := s.handler.Status(req.Name)
		if err != nil {
			return errorResponse(err)
		}
		return state
	case "start":
		if err := s.handler.Start(req.Name); err != nil {
			return errorResponse(err)
		}
		return map[string]any{"status": "ok"}
	case "stop":
		if err := s.handler.Stop(req.Name); err != nil {
			return errorResponse(err)
		}
		return map[string]any{"status": "ok"}
	case "restart":
		if err := s.handler.Restart(req.Name); err != nil {
			return errorResponse(err)
		}
		return map[string]any{"status": "ok"}
	case "reload":
		diff, err := s.handler.Reload()
		if err != nil {
			return errorResponse(err)
		}
		return diffResponse(diff)
	case "shutdown":
		if err := s.handler.Shutdown(); err != nil {
			return errorResponse(err)
		}
		return map[string]any{"status": "ok"}
	default:
		return map[string]any{"error": fmt.Sprintf("Unknown command: %s", req.Command)}
	}
}

func errorResponse(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}

func diffResponse(diff reconciler.Diff) map[string]any {
	return map[string]any{
		"added":     namesOf(diff.Added),
		"removed":   namesOf(diff.Removed),
		"restarted": namesOf(diff.Restarted),
		"unchanged": namesOf(diff.Unchanged),
	}
}

func namesOf(specs []types.WorkloadSpec) []string {
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.Name)
	}
	return out
}
