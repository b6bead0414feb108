package registry

import (
	"testing"

	"github.com/cuemby/mctl/pkg/types"
)

func TestRegisterAndGet(t *testing.T) {
	r := New()
	spec := types.WorkloadSpec{Name: "collector"}
	if err := r.Register(spec); err != nil {
		t.Fatal(err)
	}
	got, err := r.Get("collector")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "collector" {
		t.Errorf("got %+v", got)
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := New()
	spec := types.WorkloadSpec{Name: "collector"}
	if err := r.Register(spec); err != nil {
		t.Fatal(err)
	}
	err := r.Register(spec)
	if err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if _, ok := err.(*AlreadyRegisteredError); !ok {
		t.Errorf("expected *AlreadyRegisteredError, got %T", err)
	}
}

func TestGetUnknownFails(t *testing.T) {
	r := New()
	_, err := r.Get("nope")
	if _, ok := err.(*NotFoundError); !ok {
		t.Errorf("expected *NotFoundError, got %T", err)
	}
}

func TestUnregister(t *testing.T) {
	r := New()
	_ = r.Register(types.WorkloadSpec{Name: "a"})
	if err := r.Unregister("a"); err != nil {
		t.Fatal(err)
	}
	if r.Contains("a") {
		t.Error("expected a to be removed")
	}
	if err := r.Unregister("a"); err == nil {
		t.Error("expected error unregistering again")
	}
}

func TestListIsSortedAndIndependent(t *testing.T) {
	r := New()
	_ = r.Register(types.WorkloadSpec{Name: "zeta"})
	_ = r.Register(types.WorkloadSpec{Name: "alpha"})

	list := r.List()
	if len(list) != 2 || list[0].Name != "alpha" || list[1].Name != "zeta" {
		t.Fatalf("unexpected list order: %+v", list)
	}

	list[0].Name = "mutated"
	again, _ := r.Get("alpha")
	if again.Name != "alpha" {
		t.Error("mutating the returned list leaked into the registry")
	}
}

func TestPutOverwritesWithoutError(t *testing.T) {
	r := New()
	_ = r.Register(types.WorkloadSpec{Name: "a", Version: "1"})
	r.Put(types.WorkloadSpec{Name: "a", Version: "2"})
	got, _ := r.Get("a")
	if got.Version != "2" {
		t.Errorf("expected Put to overwrite, got version %s", got.Version)
	}
}

func TestLen(t *testing.T) {
	r := New()
	if r.Len() != 0 {
		t.Fatal("expected empty registry")
	}
	_ = r.Register(types.WorkloadSpec{Name: "a"})
	if r.Len() != 1 {
		t.Fatal("expected len 1")
	}
}
