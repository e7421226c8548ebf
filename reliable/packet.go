// Package reliable implements §4.4: per-peer sequence numbers, ack
// batching, duplicate suppression, and retransmission on timeout.
package reliable

import (
	"net"
	"time"

	"github.com/example/raytrace-worker/raystate"
	"github.com/example/raytrace-worker/wire"
)

// OutgoingPacket is one outbound ray packet (§3): destination, target
// treelet, the serialized payload, reliability/tracking flags, the
// assigned sequence number, and — only if tracked — the owned rays it
// carries, retained solely so their post-send tick can be logged.
type OutgoingPacket struct {
	DestAddr *net.UDPAddr
	DestID   wire.Identifier
	Treelet  raystate.TreeletID

	Payload  []byte
	Reliable bool

	SeqNo          uint64
	Attempt        uint16
	Retransmission bool

	Tracked    bool
	TrackedRay []*raystate.State
}

// ToMessage converts the packet into its wire Message for handing to a
// transport.Endpoint.
func (p *OutgoingPacket) ToMessage(sender wire.Identifier) wire.Message {
	if !p.Reliable {
		return wire.NewUnreliable(sender, wire.OpSendRays, p.Payload)
	}
	m := wire.NewReliable(sender, wire.OpSendRays, p.Payload, p.Tracked)
	m.SeqNo = p.SeqNo
	m.Attempt = p.Attempt
	return m
}

// pendingEntry is a (deadline, packet) pair awaiting an ack.
type pendingEntry struct {
	deadline time.Time
	packet   *OutgoingPacket
}
