package reliable

import (
	"time"

	"github.com/emirpasic/gods/v2/lists/doublylinkedlist"
)

// Outstanding is the outstandingRayPackets deque of §4.4: reliable
// packets placed on the wire, walked front-to-back on the ack timer tick
// to find those whose PACKET_TIMEOUT has elapsed.
type Outstanding struct {
	entries *doublylinkedlist.List[pendingEntry]

	timeout     time.Duration
	maxAttempts int
}

// NewOutstanding constructs an empty deque. maxAttempts bounds the number
// of attempts a reliable packet gets before it is failed out (SPEC_FULL.md
// §5's open-question decision: no packet rotation, just a bounded give-up).
func NewOutstanding(timeout time.Duration, maxAttempts int) *Outstanding {
	return &Outstanding{
		entries:     doublylinkedlist.New[pendingEntry](),
		timeout:     timeout,
		maxAttempts: maxAttempts,
	}
}

// Enqueue records that packet was just placed on the wire and should be
// acked within Outstanding's timeout.
func (o *Outstanding) Enqueue(now time.Time, packet *OutgoingPacket) {
	o.entries.Add(pendingEntry{deadline: now.Add(o.timeout), packet: packet})
}

// Len returns the number of outstanding unacknowledged packets.
func (o *Outstanding) Len() int { return o.entries.Size() }

// Scan walks the deque from the front while the head's deadline has
// passed (§4.4). Each due entry is classified:
//   - acked: dropped, delivery succeeded.
//   - not acked, under the attempt cap: attempt is bumped, the
//     retransmission flag is set, and the packet is returned in resend.
//   - not acked, attempt cap exhausted: returned in failed and dropped
//     (the Open Question decision in SPEC_FULL.md §5 — no packet rotation).
func (o *Outstanding) Scan(now time.Time, seqStates *SeqStateTable) (resend, failed []*OutgoingPacket) {
	for o.entries.Size() > 0 {
		head, _ := o.entries.Get(0)
		if head.deadline.After(now) {
			break
		}
		o.entries.Remove(0)

		p := head.packet
		if seqStates.For(p.DestID).Acked(p.SeqNo) {
			continue
		}
		if int(p.Attempt) >= o.maxAttempts {
			failed = append(failed, p)
			continue
		}
		p.Attempt++
		p.Retransmission = true
		resend = append(resend, p)
	}
	return resend, failed
}
