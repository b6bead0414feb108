package deployer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/mctl/pkg/types"
)

type fakeStore struct {
	mu                sync.Mutex
	clients           []types.ClientRecord
	deployments       map[string]types.Deployment
	deploymentClients map[string][]types.DeploymentClient
	endpoints         map[string][2]any // host, port
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		deployments:       make(map[string]types.Deployment),
		deploymentClients: make(map[string][]types.DeploymentClient),
		endpoints:         make(map[string][2]any),
	}
}

func (f *fakeStore) ListClients(ctx context.Context) ([]types.ClientRecord, error) {
	return f.clients, nil
}

func (f *fakeStore) GetClient(ctx context.Context, name string) (types.ClientRecord, error) {
	for _, c := range f.clients {
		if c.Name == name {
			return c, nil
		}
	}
	return types.ClientRecord{}, nil
}

func (f *fakeStore) CreateDeployment(ctx context.Context, d types.Deployment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deployments[d.ID] = d
	for i, name := range d.TargetClients {
		f.deploymentClients[d.ID] = append(f.deploymentClients[d.ID], types.DeploymentClient{
			DeploymentID: d.ID, ClientName: name, BatchNumber: i / d.BatchSize, Status: types.DeployClientPending,
		})
	}
	return nil
}

func (f *fakeStore) GetDeployment(ctx context.Context, id string) (types.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deployments[id], nil
}

func (f *fakeStore) UpdateDeploymentStatus(ctx context.Context, id string, status types.DeploymentStatus, errMsg string, startedAt, completedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.deployments[id]
	d.Status = status
	d.Error = errMsg
	f.deployments[id] = d
	return nil
}

func (f *fakeStore) ListDeploymentClients(ctx context.Context, deploymentID string) ([]types.DeploymentClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]types.DeploymentClient(nil), f.deploymentClients[deploymentID]...)
	return out, nil
}

func (f *fakeStore) UpdateDeploymentClient(ctx context.Context, dc types.DeploymentClient) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.deploymentClients[dc.DeploymentID]
	for i, r := range rows {
		if r.ClientName == dc.ClientName {
			if dc.PreviousVersion != nil {
				r.PreviousVersion = dc.PreviousVersion
			}
			r.Status = dc.Status
			r.Error = dc.Error
			rows[i] = r
		}
	}
	f.deploymentClients[dc.DeploymentID] = rows
	return nil
}

func (f *fakeStore) UpdateClientDeployedVersion(ctx context.Context, clientName, version string) error {
	return nil
}

func (f *fakeStore) ResolveClientEndpoint(ctx context.Context, name string) (string, int, error) {
	return "127.0.0.1", 9000, nil
}

type fakeFleetClient struct{}

func (f *fakeFleetClient) ReloadConfigs(ctx context.Context, host string, port int) error {
	return nil
}

func (f *fakeFleetClient) HealthCheck(ctx context.Context, host string, port int) (map[string]any, error) {
	return map[string]any{"status": "ok"}, nil
}

func TestStartWithNoTargetsFails(t *testing.T) {
	d := New(newFakeStore(), &fakeFleetClient{}, "", "")
	if _, err := d.Start(context.Background(), types.DeploymentRequest{Version: "v1"}); err == nil {
		t.Fatal("expected error with no online clients")
	}
}

func TestStartDefaultsToOnlineClients(t *testing.T) {
	store := newFakeStore()
	store.clients = []types.ClientRecord{{Name: "a", Status: types.ClientOnline}, {Name: "b", Status: types.ClientOffline}}
	d := New(store, &fakeFleetClient{}, "", "")

	id, err := d.Start(context.Background(), types.DeploymentRequest{Version: "v1", BatchSize: 1, HealthCheckTimeout: 1})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		dep, _ := store.GetDeployment(context.Background(), id)
		if dep.Status == types.DeploymentCompleted {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	dep, _ := store.GetDeployment(context.Background(), id)
	if dep.Status != types.DeploymentCompleted {
		t.Fatalf("expected completed, got %s (%s)", dep.Status, dep.Error)
	}
	if len(dep.TargetClients) != 1 || dep.TargetClients[0] != "a" {
		t.Errorf("expected only online client 'a' as target, got %v", dep.TargetClients)
	}
}

func TestBatchAssignment(t *testing.T) {
	clients := []types.DeploymentClient{
		{ClientName: "a", BatchNumber: 0}, {ClientName: "b", BatchNumber: 0},
		{ClientName: "c", BatchNumber: 1},
	}
	batches := groupByBatch(clients)
	if len(batches) != 2 || len(batches[0]) != 2 || len(batches[1]) != 1 {
		t.Fatalf("unexpected batching: %+v", batches)
	}
}

func TestCancelMarksFailed(t *testing.T) {
	store := newFakeStore()
	store.deployments["dep-1"] = types.Deployment{ID: "dep-1", Status: types.DeploymentInProgress}
	d := New(store, &fakeFleetClient{}, "", "")

	if err := d.Cancel(context.Background(), "dep-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	dep, _ := store.GetDeployment(context.Background(), "dep-1")
	if dep.Status != types.DeploymentFailed || dep.Error != "Cancelled by user" {
		t.Errorf("unexpected state after cancel: %+v", dep)
	}
}
