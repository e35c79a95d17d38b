package cancel

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegistryRequestAndClear(t *testing.T) {
	reg := NewRegistry()

	if reg.IsRequested("r1") {
		t.Fatalf("fresh registry should not contain r1")
	}

	reg.Begin("r1")
	reg.Request("r1")
	if !reg.IsRequested("r1") {
		t.Fatalf("r1 should be flagged after Request")
	}

	// Idempotent request.
	reg.Request("r1")
	if reg.Len() != 1 {
		t.Fatalf("len = %d, want 1", reg.Len())
	}

	reg.Clear("r1")
	if reg.IsRequested("r1") {
		t.Fatalf("r1 should be gone after Clear")
	}
	if reg.ActiveLen() != 0 {
		t.Fatalf("active len = %d, want 0", reg.ActiveLen())
	}

	// Clearing an absent id is a no-op.
	reg.Clear("r1")
	reg.Clear("never-seen")
	if reg.Len() != 0 {
		t.Fatalf("len = %d, want 0", reg.Len())
	}
}

func TestRegistryUnknownIDIsNoOp(t *testing.T) {
	reg := NewRegistry()

	// No stream owns this id, so the cancel request must leave the
	// registry unchanged rather than plant a dangling entry.
	reg.Request("unknown-id")
	if reg.Len() != 0 {
		t.Fatalf("unknown id was flagged; len = %d", reg.Len())
	}
	if reg.IsRequested("unknown-id") {
		t.Fatalf("unknown id reported as requested")
	}
}

func TestRegistryRequestAfterClearIsLost(t *testing.T) {
	reg := NewRegistry()
	reg.Begin("r1")
	reg.Clear("r1")

	// A cancel racing with stream cleanup is silently lost.
	reg.Request("r1")
	if reg.Len() != 0 {
		t.Fatalf("request after clear was recorded; len = %d", reg.Len())
	}
}

func TestRegistryIgnoresEmptyID(t *testing.T) {
	reg := NewRegistry()
	reg.Begin("")
	reg.Request("")
	if reg.Len() != 0 || reg.ActiveLen() != 0 {
		t.Fatalf("empty id must not be stored")
	}
	if reg.IsRequested("") {
		t.Fatalf("empty id must never report as requested")
	}
}

func TestRegistryDoesNotAffectOtherIDs(t *testing.T) {
	reg := NewRegistry()
	reg.Begin("a")
	reg.Begin("b")
	reg.Request("a")
	reg.Request("b")

	reg.Clear("a")
	if reg.IsRequested("a") {
		t.Fatalf("a should be cleared")
	}
	if !reg.IsRequested("b") {
		t.Fatalf("b must survive clearing a")
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("req-%d", i)
			reg.Begin(id)
			reg.Request(id)
			if !reg.IsRequested(id) {
				t.Errorf("%s missing after Request", id)
			}
			reg.Clear(id)
		}(i)
	}
	wg.Wait()

	if reg.Len() != 0 || reg.ActiveLen() != 0 {
		t.Fatalf("registry not empty after all goroutines cleared their ids")
	}
}
