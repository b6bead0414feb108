package ipc

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/mctl/pkg/mctlerr"
	"github.com/cuemby/mctl/pkg/reconciler"
	"github.com/cuemby/mctl/pkg/types"
)

type fakeHandler struct {
	states       map[string]types.WorkloadState
	reloadResult reconciler.Diff
	shutdownErr  error
}

func (f *fakeHandler) List() []types.WorkloadState {
	out := make([]types.WorkloadState, 0, len(f.states))
	for _, s := range f.states {
		out = append(out, s)
	}
	return out
}

func (f *fakeHandler) Status(name string) (types.WorkloadState, error) {
	s, ok := f.states[name]
	if !ok {
		return types.WorkloadState{}, mctlerr.New(mctlerr.KindNotFound, "unknown workload: "+name)
	}
	return s, nil
}

func (f *fakeHandler) Start(name string) error {
	if _, ok := f.states[name]; !ok {
		return mctlerr.New(mctlerr.KindNotFound, "unknown workload: "+name)
	}
	return nil
}

func (f *fakeHandler) Stop(name string) error    { return f.Start(name) }
func (f *fakeHandler) Restart(name string) error { return f.Start(name) }

func (f *fakeHandler) Reload() (reconciler.Diff, error) { return f.reloadResult, nil }
func (f *fakeHandler) Shutdown() error                  { return f.shutdownErr }

func newTestServer(t *testing.T, handler Handler) *Server {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "test.sock")
	srv, err := New(sockPath, handler)
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	t.Cleanup(srv.Stop)
	return srv
}

func sendRequest(t *testing.T, sockPath string, req Request) map[string]any {
	t.Helper()
	conn, err := net.DialTimeout("unix", sockPath, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		t.Fatal(err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatal(err)
	}
	var resp map[string]any
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("invalid response JSON %q: %v", line, err)
	}
	return resp
}

func TestUnknownCommandRepliesWithError(t *testing.T) {
	handler := &fakeHandler{states: map[string]types.WorkloadState{}}
	srv := newTestServer(t, handler)

	resp := sendRequest(t, srv.socketPath, Request{Command: "frobnicate"})
	if resp["error"] != "Unknown command: frobnicate" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestStatusNotFoundSurfacesError(t *testing.T) {
	handler := &fakeHandler{states: map[string]types.WorkloadState{}}
	srv := newTestServer(t, handler)

	resp := sendRequest(t, srv.socketPath, Request{Command: "status", Name: "ghost"})
	if _, ok := resp["error"]; !ok {
		t.Errorf("expected error field, got %+v", resp)
	}
}

func TestStartOnKnownWorkloadReturnsOK(t *testing.T) {
	handler := &fakeHandler{states: map[string]types.WorkloadState{
		"a": {Spec: types.WorkloadSpec{Name: "a"}, Status: types.StatusRunning},
	}}
	srv := newTestServer(t, handler)

	resp := sendRequest(t, srv.socketPath, Request{Command: "start", Name: "a"})
	if resp["status"] != "ok" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestReloadReturnsDiffShape(t *testing.T) {
	handler := &fakeHandler{
		states: map[string]types.WorkloadState{},
		reloadResult: reconciler.Diff{
			Added:     []types.WorkloadSpec{{Name: "c"}},
			Removed:   []types.WorkloadSpec{{Name: "a"}},
			Unchanged: []types.WorkloadSpec{{Name: "b"}},
		},
	}
	srv := newTestServer(t, handler)

	resp := sendRequest(t, srv.socketPath, Request{Command: "reload"})
	added, _ := resp["added"].([]any)
	if len(added) != 1 || added[0] != "c" {
		t.Errorf("added = %v, want [c]", resp["added"])
	}
}

func TestOneRequestPerConnection(t *testing.T) {
	handler := &fakeHandler{states: map[string]types.WorkloadState{}}
	srv := newTestServer(t, handler)

	conn, err := net.DialTimeout("unix", srv.socketPath, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	data, _ := json.Marshal(Request{Command: "list"})
	if _, err := conn.Write(append(data, '\n')); err != nil {
		t.Fatal(err)
	}
	reader := bufio.NewReader(conn)
	if _, err := reader.ReadBytes('\n'); err != nil {
		t.Fatal(err)
	}

	// Server closes the connection after one response; a second write
	// should eventually fail or read should hit EOF.
	_, _ = conn.Write(append(data, '\n'))
	if _, err := reader.ReadBytes('\n'); err == nil {
		t.Error("expected connection to be closed after first response")
	}
}
