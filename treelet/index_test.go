package treelet

import (
	"testing"
	"time"

	"github.com/example/raytrace-worker/raystate"
)

func TestChooseUniformAmongHolders(t *testing.T) {
	idx := NewIndex(1)
	idx.AddHolder(5, 1)
	idx.AddHolder(5, 2)
	idx.AddHolder(5, 3)

	seen := map[PeerID]bool{}
	for i := 0; i < 200; i++ {
		p, ok := idx.Choose(5)
		if !ok {
			t.Fatalf("expected a holder")
		}
		seen[p] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected to see all 3 holders over many draws, saw %d", len(seen))
	}
}

func TestChooseUnknownTreelet(t *testing.T) {
	idx := NewIndex(1)
	if _, ok := idx.Choose(9); ok {
		t.Fatalf("expected no holder for unknown treelet")
	}
}

func TestAddHolderClearsNeededAndRequested(t *testing.T) {
	idx := NewIndex(1)
	idx.MarkNeeded(9)
	idx.MarkRequested(9, time.Now())

	idx.AddHolder(9, 2)

	for _, t2 := range idx.NeededTreelets() {
		if t2 == 9 {
			t.Fatalf("treelet 9 should no longer be needed")
		}
	}
	if idx.ShouldReRequest(9, time.Now(), 0) {
		t.Fatalf("treelet 9 should no longer be requested")
	}
}

func TestPendingDrainScenario(t *testing.T) {
	// §8 end-to-end scenario 6: pending -> out drain.
	idx := NewIndex(1)
	var neededTreelet raystate.TreeletID = 9

	if idx.Has(neededTreelet) {
		t.Fatalf("treelet 9 should have no known owner yet")
	}
	idx.MarkNeeded(neededTreelet)

	found := false
	for _, tt := range idx.NeededTreelets() {
		if tt == neededTreelet {
			found = true
		}
	}
	if !found {
		t.Fatalf("treelet 9 should be in neededTreelets")
	}

	idx.MarkRequested(neededTreelet, time.Now())
	idx.AddHolder(neededTreelet, 42)

	if !idx.Has(neededTreelet) {
		t.Fatalf("treelet 9 should now have a known holder")
	}
	holder, ok := idx.Choose(neededTreelet)
	if !ok || holder != 42 {
		t.Fatalf("got holder %v, want 42", holder)
	}
}

func TestReRequestBackoff(t *testing.T) {
	idx := NewIndex(1)
	now := time.Now()
	idx.MarkRequested(3, now)

	if idx.ShouldReRequest(3, now.Add(time.Millisecond), time.Second) {
		t.Fatalf("expected backoff to suppress re-request")
	}
	if !idx.ShouldReRequest(3, now.Add(2*time.Second), time.Second) {
		t.Fatalf("expected backoff to have elapsed")
	}
}
