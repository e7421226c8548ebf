package worker

import (
	"log/slog"
	"time"

	"github.com/example/raytrace-worker/control"
	"github.com/example/raytrace-worker/diagnostics"
	"github.com/example/raytrace-worker/peer"
	"github.com/example/raytrace-worker/raystate"
	"github.com/example/raytrace-worker/reliable"
	"github.com/example/raytrace-worker/wire"
)

// handlePeersTimer drives §4.3's handshake and §4.7's treelet
// re-request backoff: flush pending ConnectionRequests, send due
// keep-alives, re-queue stale treelet requests, and ask the coordinator
// for a holder of every newly-needed treelet.
func (w *Worker) handlePeersTimer() error {
	now := time.Now()

	for _, req := range w.registry.BuildRequests() {
		if err := w.sendUDP(req.AddrNo, req.ToAddr, wire.OpConnectionRequest, req.Payload); err != nil {
			return err
		}
	}

	for _, p := range w.registry.DueKeepAlives(now) {
		if p.Addresses[0] == nil {
			continue
		}
		if err := w.sendUDP(0, p.Addresses[0], wire.OpPing, nil); err != nil {
			return err
		}
	}

	for _, t := range w.index.RequestedTreelets() {
		if w.index.ShouldReRequest(t, now, w.cfg.TreeletRequestBackoff) {
			w.index.Requeue(t)
		}
	}

	for _, t := range w.index.NeededTreelets() {
		if err := w.ctrl.Send(wire.OpGetWorker, control.GetWorkerRequest{TreeletID: uint32(t)}); err != nil {
			return err
		}
		w.index.MarkRequested(t, now)
	}

	return nil
}

// handleOutQueueTimer implements §4.4's outbound flush: every treelet's
// backlog is packed into MTU-bounded ray batches and handed to whichever
// peer the index currently picks as that treelet's holder. A treelet
// with no known holder goes back into pendingQueue; one whose holder is
// known but whose flush ran out of pacing this tick goes back onto
// outQueue for the next tick, so neither case drops rays.
func (w *Worker) handleOutQueueTimer() error {
	ep := w.endpoints[0]
	budget := wire.MaxReliablePayload(mtuBytes)

	for _, t := range w.engine.OutQueue.Treelets() {
		rays := w.engine.OutQueue.PopAll(t)

		destID, ok := w.index.Choose(t)
		if !ok {
			w.requeuePending(t, rays)
			continue
		}
		p, ok := w.registry.Peer(destID)
		if !ok || p.Addresses[0] == nil {
			w.requeuePending(t, rays)
			continue
		}

		for len(rays) > 0 {
			if !ep.WithinPace() {
				w.requeueOut(t, rays)
				break
			}

			payload, n := raystate.EncodeBatch(rays, budget)
			packet := &reliable.OutgoingPacket{
				DestAddr: p.Addresses[0],
				DestID:   destID,
				Treelet:  t,
				Payload:  payload,
				Reliable: w.cfg.Reliable,
				Attempt:  1,
			}
			if w.cfg.Reliable {
				packet.SeqNo = w.seqStates.For(destID).NextSeq()
			}
			if w.rng.Float64() < w.cfg.PacketLogRate {
				packet.Tracked = true
				packet.TrackedRay = rays[:n]
			}

			msg := packet.ToMessage(w.selfID)
			raw := wire.Encode(msg)
			if err := ep.Send(p.Addresses[0], raw); err != nil {
				return err
			}
			ep.RecordSend(len(raw))
			w.logTrackedSend(packet, false)

			if w.cfg.Reliable {
				w.outstanding.Enqueue(time.Now(), packet)
			}

			rays = rays[n:]
		}
	}

	return nil
}

// requeuePending puts undelivered rays back where the next peer-timer
// tick (or a later fold once the treelet's holder is known) will find
// them, rather than dropping them on a transient holder miss. Only for
// a treelet whose holder is genuinely unknown — t must already be (or
// become) a member of neededTreelets, or these rays are orphaned.
func (w *Worker) requeuePending(t raystate.TreeletID, rays []*raystate.State) {
	for _, r := range rays {
		w.engine.PendingQueue.Push(t, r)
	}
}

// requeueOut puts rays for a treelet whose holder is already known back
// onto outQueue[t] for the next out-queue tick to retry, used when
// pacing (not a holder miss) is what stopped this tick's flush.
// PendingQueue only drains on a ConnectionResponse for t (see
// peer.Registry's fold), so a resolved treelet's leftover rays must not
// go there — they would never be picked up again.
func (w *Worker) requeueOut(t raystate.TreeletID, rays []*raystate.State) {
	for _, r := range rays {
		w.engine.OutQueue.Push(t, r)
	}
}

// handleAckTimer implements §4.4's ack flush plus the retransmission
// scan: every accumulated ack batch goes out, then every outstanding
// packet past its deadline is either resent (immediately, not
// pace-gated, since a retransmission on the ray path must not wait
// behind fresh traffic) or dropped once it exhausts its attempt budget.
func (w *Worker) handleAckTimer() error {
	for _, chunk := range w.acks.Flush(mtuBytes) {
		if err := w.sendUDP(0, chunk.Addr, wire.OpAck, chunk.Payload); err != nil {
			return err
		}
	}

	now := time.Now()
	resend, failed := w.outstanding.Scan(now, w.seqStates)

	for _, p := range failed {
		slog.Warn("worker: packet exhausted retransmit attempts, dropping",
			"dest", p.DestID, "treelet", p.Treelet, "seq", p.SeqNo)
	}

	for _, p := range resend {
		if err := w.resendPacket(p); err != nil {
			return err
		}
		w.outstanding.Enqueue(now, p)
	}

	return nil
}

func (w *Worker) resendPacket(p *reliable.OutgoingPacket) error {
	ep := w.endpoints[0]
	msg := p.ToMessage(w.selfID)
	raw := wire.Encode(msg)
	if err := ep.Send(p.DestAddr, raw); err != nil {
		return err
	}
	ep.RecordSend(len(raw))
	w.logTrackedSend(p, true)
	return nil
}

// logTrackedSend implements the glossary's "Tick — incremented on every
// retransmission of the packet carrying a tracked ray": every ray this
// packet is tracking gets ticked on every (re)send, matching the
// original's per-tracked-ray Sent log on each transmission attempt.
func (w *Worker) logTrackedSend(p *reliable.OutgoingPacket, retransmission bool) {
	if len(p.TrackedRay) == 0 {
		return
	}
	for _, r := range p.TrackedRay {
		r.Tick++
	}
	slog.Debug("worker: tracked ray packet sent",
		"dest", p.DestID, "treelet", p.Treelet, "seq", p.SeqNo,
		"attempt", p.Attempt, "retransmission", retransmission, "rays", len(p.TrackedRay))
}

// handleStatsTimer pushes §4.7's workerStatsTimer report plus a
// FinishedPathsReport delta (tracked separately from finishedQueue
// draining, since FinishedPathCount advances in the engine whatever the
// policy). Under Discard the queue is drained every time it is non-empty;
// DiscardThreshold does not hold rays back until a backlog builds up.
func (w *Worker) handleStatsTimer() error {
	connecting, connected := w.peerCounts()

	stats := control.WorkerStatsReport{
		TimestampMicros: time.Now().UnixMicro(),
		Queue: control.QueueStats{
			Ray:            w.engine.RayQueue.Len(),
			Finished:       w.engine.FinishedQueue.Len(),
			Pending:        w.engine.PendingQueue.TotalSize(),
			Out:            w.engine.OutQueue.TotalSize(),
			Connecting:     connecting,
			Connected:      connected,
			OutstandingUDP: w.outstanding.Len(),
		},
		BytesSent:     w.endpoints[0].BytesSent() + w.endpoints[1].BytesSent(),
		BytesReceived: w.endpoints[0].BytesReceived() + w.endpoints[1].BytesReceived(),
		RaysGenerated: w.raysGenerated,
		RaysFinished:  w.raysFinished,
	}
	if err := w.ctrl.Send(wire.OpWorkerStats, stats); err != nil {
		return err
	}

	if delta := w.engine.FinishedPathCount - w.lastReportedPaths; delta > 0 {
		if err := w.ctrl.Send(wire.OpFinishedPaths, control.FinishedPathsReport{Count: delta}); err != nil {
			return err
		}
		w.lastReportedPaths = w.engine.FinishedPathCount
	}

	return nil
}

func (w *Worker) peerCounts() (connecting, connected int) {
	for _, p := range w.registry.Peers() {
		if p.State == peer.Connected {
			connected++
		} else {
			connecting++
		}
	}
	return
}

// handleDiagnosticsTimer publishes one Snapshot to the optional
// websocket debug stream and logs the same figures, supplementing §4.7
// with the "diagnostics log line" SPEC_FULL.md §3 calls for regardless
// of whether -diag-ws is set.
func (w *Worker) handleDiagnosticsTimer() error {
	connecting, connected := w.peerCounts()

	snap := diagnostics.Snapshot{
		TimestampMicros:  time.Now().UnixMicro(),
		BytesSent:        w.endpoints[0].BytesSent() + w.endpoints[1].BytesSent(),
		BytesReceived:    w.endpoints[0].BytesReceived() + w.endpoints[1].BytesReceived(),
		RayQueueLen:      w.engine.RayQueue.Len(),
		OutQueueLen:      w.engine.OutQueue.TotalSize(),
		PendingQueueLen:  w.engine.PendingQueue.TotalSize(),
		FinishedQueueLen: w.engine.FinishedQueue.Len(),
		OutstandingUDP:   w.outstanding.Len(),
		PeersConnecting:  connecting,
		PeersConnected:   connected,
	}

	if w.diag != nil {
		w.diag.Publish(snap)
	}

	slog.Info("worker: diagnostics",
		"ray_queue", snap.RayQueueLen,
		"out_queue", snap.OutQueueLen,
		"pending_queue", snap.PendingQueueLen,
		"finished_queue", snap.FinishedQueueLen,
		"outstanding_udp", snap.OutstandingUDP,
		"peers_connecting", snap.PeersConnecting,
		"peers_connected", snap.PeersConnected,
		"bytes_sent", snap.BytesSent,
		"bytes_received", snap.BytesReceived,
	)
	return nil
}
