// Package treelet maps treelet ids to the peers known to hold them, and
// tracks which treelets the worker still needs an owner for (§3, §4.3,
// §4.5, §4.9's GetWorker).
package treelet

import (
	"math/rand"
	"time"

	"github.com/emirpasic/gods/v2/sets/hashset"

	"github.com/example/raytrace-worker/raystate"
	"github.com/example/raytrace-worker/wire"
)

// PeerID is a worker identifier (coordinator is 0).
type PeerID = wire.Identifier

// Index maps treelet-id -> set of peer-ids known to hold it. Selection
// among candidates is uniform random (§3).
type Index struct {
	holders map[raystate.TreeletID]*hashset.Set[PeerID]
	rng     *rand.Rand

	// needed/requested track treelets pending a known owner (§3 invariant,
	// §4.9's GetWorker). lastRequested backs the backoff supplement from
	// SPEC_FULL.md §3.
	needed        *hashset.Set[raystate.TreeletID]
	requested     *hashset.Set[raystate.TreeletID]
	lastRequested map[raystate.TreeletID]time.Time
}

// NewIndex returns an empty treelet index seeded from seed (deterministic
// tests pass a fixed seed; production wiring uses a worker-specific one).
func NewIndex(seed int64) *Index {
	return &Index{
		holders:       make(map[raystate.TreeletID]*hashset.Set[PeerID]),
		rng:           rand.New(rand.NewSource(seed)),
		needed:        hashset.New[raystate.TreeletID](),
		requested:     hashset.New[raystate.TreeletID](),
		lastRequested: make(map[raystate.TreeletID]time.Time),
	}
}

// AddHolder records that peer holds treelet t, and clears t out of the
// needed/requested sets (§4.3: "folded into the treelet index, removed
// from neededTreelets/requestedTreelets").
func (idx *Index) AddHolder(t raystate.TreeletID, peer PeerID) {
	set, ok := idx.holders[t]
	if !ok {
		set = hashset.New[PeerID]()
		idx.holders[t] = set
	}
	set.Add(peer)
	idx.needed.Remove(t)
	idx.requested.Remove(t)
	delete(idx.lastRequested, t)
}

// Holders returns the known holders of treelet t.
func (idx *Index) Holders(t raystate.TreeletID) []PeerID {
	set, ok := idx.holders[t]
	if !ok {
		return nil
	}
	return set.Values()
}

// Choose uniformly selects a holder of treelet t. ok is false if no
// holder is known.
func (idx *Index) Choose(t raystate.TreeletID) (PeerID, bool) {
	holders := idx.Holders(t)
	if len(holders) == 0 {
		return 0, false
	}
	return holders[idx.rng.Intn(len(holders))], true
}

// MarkNeeded records that t has no known owner yet (§3 invariant: every
// treelet with a non-empty pending queue must be in needed or requested).
func (idx *Index) MarkNeeded(t raystate.TreeletID) {
	if idx.requested.Contains(t) {
		return
	}
	idx.needed.Add(t)
}

// NeededTreelets returns treelets awaiting a GetWorker request.
func (idx *Index) NeededTreelets() []raystate.TreeletID {
	return idx.needed.Values()
}

// RequestedTreelets returns treelets already requested via GetWorker but
// not yet resolved, for the re-request backoff check.
func (idx *Index) RequestedTreelets() []raystate.TreeletID {
	return idx.requested.Values()
}

// MarkRequested moves t from needed to requested, recording the request
// time for the re-request backoff (SPEC_FULL.md §3).
func (idx *Index) MarkRequested(t raystate.TreeletID, now time.Time) {
	idx.needed.Remove(t)
	idx.requested.Add(t)
	idx.lastRequested[t] = now
}

// ShouldReRequest reports whether a still-unresolved requested treelet's
// backoff has elapsed and it should be re-added to needed.
func (idx *Index) ShouldReRequest(t raystate.TreeletID, now time.Time, backoff time.Duration) bool {
	if !idx.requested.Contains(t) {
		return false
	}
	last, ok := idx.lastRequested[t]
	return !ok || now.Sub(last) >= backoff
}

// Requeue moves a backed-off requested treelet back to needed.
func (idx *Index) Requeue(t raystate.TreeletID) {
	if idx.requested.Contains(t) {
		idx.requested.Remove(t)
		idx.needed.Add(t)
	}
}

// Has reports whether any holder is known for t.
func (idx *Index) Has(t raystate.TreeletID) bool {
	set, ok := idx.holders[t]
	return ok && !set.Empty()
}
