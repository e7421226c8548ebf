package reliable

import (
	"github.com/emirpasic/gods/v2/sets/hashset"

	"github.com/example/raytrace-worker/wire"
)

// PeerSeqState is the per-peer sequencing state of §3: the
// next-sequence-to-send counter, the set of sequence numbers received
// from that peer (inbound de-dup), and the set of sequence numbers this
// worker has learned were acked (for suppressing retransmission).
type PeerSeqState struct {
	nextSeq uint64

	receivedSeqNos *hashset.Set[uint64]
	receivedAcks   *hashset.Set[uint64]
}

func newPeerSeqState() *PeerSeqState {
	return &PeerSeqState{
		receivedSeqNos: hashset.New[uint64](),
		receivedAcks:   hashset.New[uint64](),
	}
}

// NextSeq allocates the next sequence number for a first-attempt send to
// this peer. Sequence numbers are per-peer and never reused within a job
// (§4.4's "sequence monotonicity" property, §8).
func (s *PeerSeqState) NextSeq() uint64 {
	seq := s.nextSeq
	s.nextSeq++
	return seq
}

// SeenInbound reports whether seq has already been received from this
// peer (duplicate suppression, §4.4), and records it regardless.
func (s *PeerSeqState) SeenInbound(seq uint64) bool {
	dup := s.receivedSeqNos.Contains(seq)
	s.receivedSeqNos.Add(seq)
	return dup
}

// RecordAck records that seq has been acked by this peer.
func (s *PeerSeqState) RecordAck(seq uint64) {
	s.receivedAcks.Add(seq)
}

// Acked reports whether seq has been acked.
func (s *PeerSeqState) Acked(seq uint64) bool {
	return s.receivedAcks.Contains(seq)
}

// SeqStateTable owns one PeerSeqState per peer, keyed by peer id
// — sequence numbers, received-sets, and acked-sets are scoped per peer
// per §3/§4.4.
type SeqStateTable struct {
	byPeer map[wire.Identifier]*PeerSeqState
}

// NewSeqStateTable returns an empty table.
func NewSeqStateTable() *SeqStateTable {
	return &SeqStateTable{byPeer: make(map[wire.Identifier]*PeerSeqState)}
}

// For returns (creating if necessary) the sequence state for peer.
func (t *SeqStateTable) For(peer wire.Identifier) *PeerSeqState {
	s, ok := t.byPeer[peer]
	if !ok {
		s = newPeerSeqState()
		t.byPeer[peer] = s
	}
	return s
}
