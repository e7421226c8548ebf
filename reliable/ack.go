package reliable

import (
	"net"

	"github.com/example/raytrace-worker/wire"
)

// AckAccumulator collects (seqNo, tracked, attempt) tuples from inbound
// reliable packets (toBeAcked[addr] in §4.4), to be packed into Ack
// messages on the ack timer tick.
type AckAccumulator struct {
	pending map[string][]wire.AckEntry
	addrs   map[string]*net.UDPAddr
}

// NewAckAccumulator returns an empty accumulator.
func NewAckAccumulator() *AckAccumulator {
	return &AckAccumulator{
		pending: make(map[string][]wire.AckEntry),
		addrs:   make(map[string]*net.UDPAddr),
	}
}

// Record queues an ack tuple for addr.
func (a *AckAccumulator) Record(addr *net.UDPAddr, entry wire.AckEntry) {
	key := addr.String()
	a.pending[key] = append(a.pending[key], entry)
	a.addrs[key] = addr
}

// FlushChunk is one MTU-bounded Ack payload bound for an address.
type FlushChunk struct {
	Addr    *net.UDPAddr
	Payload []byte
}

// Flush packs every accumulated tuple into MTU-bounded Ack payloads and
// clears the accumulator.
func (a *AckAccumulator) Flush(mtu int) []FlushChunk {
	var out []FlushChunk
	for key, entries := range a.pending {
		addr := a.addrs[key]
		for _, payload := range wire.EncodeAckEntries(entries, mtu) {
			out = append(out, FlushChunk{Addr: addr, Payload: payload})
		}
	}
	a.pending = make(map[string][]wire.AckEntry)
	a.addrs = make(map[string]*net.UDPAddr)
	return out
}

// ReceivePacket is the receiver-side half of §4.4: duplicate suppression
// plus ack scheduling for one inbound reliable ray packet. It returns
// false when the packet is a duplicate, in which case its payload must be
// discarded (it is still acked, so the sender's retransmission stops).
func ReceivePacket(seqStates *SeqStateTable, acks *AckAccumulator, from *net.UDPAddr, sender wire.Identifier, msg wire.Message) (isNew bool) {
	state := seqStates.For(sender)
	dup := state.SeenInbound(msg.SeqNo)

	acks.Record(from, wire.AckEntry{SeqNo: msg.SeqNo, Tracked: msg.Tracked, Attempt: msg.Attempt})

	return !dup
}

// ReceiveAcks applies an inbound Ack payload: every seqNo it carries is
// recorded as acknowledged by sender (§4.4 ack reception).
func ReceiveAcks(seqStates *SeqStateTable, sender wire.Identifier, payload []byte) {
	state := seqStates.For(sender)
	for _, e := range wire.DecodeAckEntries(payload) {
		state.RecordAck(e.SeqNo)
	}
}
