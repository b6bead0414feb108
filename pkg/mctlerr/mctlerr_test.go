package mctlerr

import (
	"errors"
	"testing"
)

func TestWrapAndKindOf(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(KindUpstream, "deploy push failed", base)

	k, ok := KindOf(err)
	if !ok || k != KindUpstream {
		t.Fatalf("expected KindUpstream, got %v ok=%v", k, ok)
	}
	if !errors.Is(err, base) {
		t.Error("expected errors.Is to see through to the wrapped error")
	}
	if !Is(err, KindUpstream) {
		t.Error("expected Is(err, KindUpstream) to be true")
	}
}

func TestKindOfUnclassified(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	if ok {
		t.Error("expected ok=false for a plain error")
	}
}
