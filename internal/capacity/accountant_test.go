package capacity_test

import (
	"context"
	"testing"

	"github.com/thusser/pybs/internal/capacity"
)

// P3: used_cpus(h) <= ncpus(h) is preserved, supervisor decrement restores it.
func TestCounterAccountant_ReserveAndRelease(t *testing.T) {
	a := capacity.New(capacity.ModeCounter, 4, "n1", nil)

	free, err := a.Free(context.Background())
	if err != nil || free != 4 {
		t.Fatalf("expected 4 free, got %d, err %v", free, err)
	}

	a.Reserve(3)
	free, _ = a.Free(context.Background())
	if free != 1 {
		t.Fatalf("expected 1 free after reserving 3, got %d", free)
	}

	a.Release(3)
	free, _ = a.Free(context.Background())
	if free != 4 {
		t.Fatalf("expected 4 free after release, got %d", free)
	}
}

type fakeRunningSource struct {
	used int
}

func (f *fakeRunningSource) RunningOnNode(context.Context, string) (int, error) {
	return f.used, nil
}

func TestQueryAccountant_ComputesFromSource(t *testing.T) {
	src := &fakeRunningSource{used: 3}
	a := capacity.New(capacity.ModeQuery, 4, "n1", src)

	free, err := a.Free(context.Background())
	if err != nil || free != 1 {
		t.Fatalf("expected 1 free, got %d, err %v", free, err)
	}

	src.used = 4
	free, _ = a.Free(context.Background())
	if free != 0 {
		t.Fatalf("expected 0 free, got %d", free)
	}

	// Reserve/Release are no-ops in query mode — the row is authoritative.
	a.Reserve(100)
	free, _ = a.Free(context.Background())
	if free != 0 {
		t.Fatalf("expected reserve to be a no-op in query mode, got %d", free)
	}
}
