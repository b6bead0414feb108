package plugin

import (
	"context"
	"testing"

	"github.com/cuemby/mctl/pkg/types"
)

type fakeWorkloadType struct{ name string }

func (f fakeWorkloadType) Name() string                                   { return f.name }
func (f fakeWorkloadType) ValidateConfig(params map[string]any) error     { return nil }
func (f fakeWorkloadType) BuildLaunchCommand(spec types.WorkloadSpec) []string { return nil }

type fakeHealthCheck struct{ name string }

func (f fakeHealthCheck) Name() string { return f.name }
func (f fakeHealthCheck) Check(ctx context.Context, state types.WorkloadState) (bool, any, error) {
	return true, nil, nil
}

func TestRegisterAndLookupWorkloadType(t *testing.T) {
	r := New()
	r.RegisterWorkloadType(fakeWorkloadType{name: "container"})

	p, ok := r.WorkloadType("container")
	if !ok {
		t.Fatal("expected container workload type to be registered")
	}
	if p.Name() != "container" {
		t.Errorf("Name() = %q, want container", p.Name())
	}
}

func TestKnownWorkloadTypesIncludesBuiltins(t *testing.T) {
	r := New()
	r.RegisterWorkloadType(fakeWorkloadType{name: "lambda"})

	known := r.KnownWorkloadTypes()
	for _, builtin := range []string{"agent", "script", "service"} {
		if !known[builtin] {
			t.Errorf("expected builtin %q to be known", builtin)
		}
	}
	if !known["lambda"] {
		t.Error("expected plugin-registered 'lambda' to be known")
	}
}

func TestHealthCheckLookupMissing(t *testing.T) {
	r := New()
	if _, ok := r.HealthCheck("nonexistent"); ok {
		t.Error("expected lookup of unregistered health check to fail")
	}
}

func TestRegisterHealthCheck(t *testing.T) {
	r := New()
	r.RegisterHealthCheck(fakeHealthCheck{name: "tcp"})
	p, ok := r.HealthCheck("tcp")
	if !ok || p.Name() != "tcp" {
		t.Fatalf("expected tcp health check registered, got %v, %v", p, ok)
	}
}

type fakeTask struct{ ran map[string]any }

func (f *fakeTask) Name() string { return "fake" }
func (f *fakeTask) Run(ctx context.Context, params map[string]any) error {
	f.ran = params
	return nil
}

func TestRegisterAndLookupTask(t *testing.T) {
	r := New()
	task := &fakeTask{}
	r.RegisterTask("agents.examples.hello_agent", "run", task)

	got, ok := r.Task("agents.examples.hello_agent", "run")
	if !ok {
		t.Fatal("expected task to be registered")
	}
	if err := got.Run(context.Background(), map[string]any{"source_url": "https://example.com"}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if task.ran["source_url"] != "https://example.com" {
		t.Errorf("task did not receive params: %+v", task.ran)
	}
}

func TestTaskLookupMissing(t *testing.T) {
	r := New()
	if _, ok := r.Task("nope", "run"); ok {
		t.Error("expected lookup of unregistered task to fail")
	}
}
