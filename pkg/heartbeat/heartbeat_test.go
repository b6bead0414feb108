package heartbeat

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/mctl/pkg/types"
)

type fakeSource struct{ states []types.WorkloadState }

func (f fakeSource) ListWorkloadStates() []types.WorkloadState { return f.states }

func TestSendHeartbeatPostsPayloadShape(t *testing.T) {
	var received types.HeartbeatPayload
	var authHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		authHeader = req.Header.Get("Authorization")
		if err := json.NewDecoder(req.Body).Decode(&received); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	source := fakeSource{states: []types.WorkloadState{
		{Spec: types.WorkloadSpec{Name: "worker-a", WorkloadType: types.WorkloadTypeScript, RunMode: types.RunModeForever}, Status: types.StatusRunning, RunCount: 3},
	}}

	r := New(source, Config{
		ClientName:      "node-1",
		CentralAPIURL:   srv.URL,
		IntervalSeconds: 0.05,
		APIToken:        "tok-123",
	}, nil)

	r.sendHeartbeat()

	if authHeader != "Bearer tok-123" {
		t.Errorf("Authorization header = %q, want Bearer tok-123", authHeader)
	}
	if received.ClientName != "node-1" {
		t.Errorf("ClientName = %q, want node-1", received.ClientName)
	}
	if len(received.Workloads) != 1 || received.Workloads[0].Name != "worker-a" {
		t.Fatalf("unexpected workloads: %+v", received.Workloads)
	}
	if received.Workloads[0].RunCount != 3 {
		t.Errorf("RunCount = %d, want 3", received.Workloads[0].RunCount)
	}
}

func TestSendHeartbeatSwallowsConnectionFailure(t *testing.T) {
	r := New(fakeSource{}, Config{
		ClientName:    "node-1",
		CentralAPIURL: "http://127.0.0.1:1", // nothing listening
	}, nil)

	r.sendHeartbeat() // must not panic or block indefinitely
}

func TestSendHeartbeatSwallowsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := New(fakeSource{}, Config{ClientName: "node-1", CentralAPIURL: srv.URL}, nil)
	r.sendHeartbeat() // must not panic
}

func TestSendHeartbeatSkippedWhenNoCentralURL(t *testing.T) {
	r := New(fakeSource{}, Config{ClientName: "node-1"}, nil)
	r.sendHeartbeat() // no-op, must not panic
}

func TestStartStopRunsPeriodically(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := New(fakeSource{}, Config{ClientName: "node-1", CentralAPIURL: srv.URL, IntervalSeconds: 0.05}, nil)
	r.Start()
	defer r.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&hits) < 2 {
		time.Sleep(20 * time.Millisecond)
	}
	if got := atomic.LoadInt32(&hits); got < 2 {
		t.Fatalf("expected at least 2 heartbeats, got %d", got)
	}
}

func TestBuildPayloadUsesDeployedVersionFunc(t *testing.T) {
	version := "v1.2.3"
	r := New(fakeSource{}, Config{ClientName: "node-1"}, func() *string { return &version })

	payload := r.buildPayload()
	if payload.DeployedVersion == nil || *payload.DeployedVersion != version {
		t.Fatalf("DeployedVersion = %v, want %s", payload.DeployedVersion, version)
	}
}
