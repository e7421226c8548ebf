package worker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/example/raytrace-worker/benchmark"
	"github.com/example/raytrace-worker/control"
	"github.com/example/raytrace-worker/eventloop"
)

// startBenchmark implements §4.8: StartBenchmark hands both endpoints
// over to a Generator for the requested duration, measuring raw
// pacing/throughput against one peer instead of tracing anything.
// rayAction/finishedAction already stop firing once w.bench is non-nil
// (their Guards check it), so no explicit RemoveAction is needed for
// them; there is no equivalent steady-state action to suspend on the
// receive side, since handleRecv itself checks w.bench and routes to
// RecordReceive.
func (w *Worker) startBenchmark(req control.StartBenchmarkRequest) error {
	if req.AddressNo > 1 {
		return fmt.Errorf("worker: StartBenchmark address %d is not 0 or 1", req.AddressNo)
	}
	p, ok := w.registry.Peer(req.Destination)
	if !ok {
		return fmt.Errorf("worker: StartBenchmark destination %d is not a known peer", req.Destination)
	}
	addr := p.Addresses[req.AddressNo]
	if addr == nil {
		return fmt.Errorf("worker: StartBenchmark destination %d has no address %d", req.Destination, req.AddressNo)
	}

	sendEp := w.endpoints[req.AddressNo]
	recvEp := w.endpoints[1-req.AddressNo]
	gen := benchmark.NewGenerator(sendEp, recvEp, addr, time.Duration(req.Duration)*time.Second, float64(req.RateMbps))

	now := time.Now()
	gen.Start(now)
	w.bench = gen

	w.benchSendAction = &eventloop.Action{
		Name:      "benchmark-send",
		Fd:        eventloop.DummyFD,
		Direction: eventloop.In,
		Guard:     gen.ReadyToSend,
		Callback:  gen.SendTick,
	}
	w.loop.AddAction(w.benchSendAction)

	w.loop.AddTimer(now, &eventloop.TimerAction{
		Name:     "benchmarkTimer",
		Interval: 100 * time.Millisecond,
		Callback: w.tickBenchmark,
	})

	slog.Info("worker: benchmark started", "destination", req.Destination, "address_no", req.AddressNo,
		"duration", time.Duration(req.Duration)*time.Second, "rate_mbps", req.RateMbps)
	return nil
}

// tickBenchmark drives the checkpoint/expiry half of §4.8: it is a plain
// TimerAction rather than a dummyFD action since it only needs to run a
// few times a second, not on every idle tick.
func (w *Worker) tickBenchmark() error {
	if w.bench == nil {
		return nil
	}
	now := time.Now()

	if w.bench.CheckpointDue(now) {
		w.bench.CheckpointTick(now)
	}

	if w.bench.Expired(now) {
		result := w.bench.Finish(now)
		slog.Info("worker: benchmark finished",
			"sent_bytes", result.Total.BytesSent,
			"received_bytes", result.Total.BytesReceived,
			"sent_packets", result.Total.PacketsSent,
			"received_packets", result.Total.PacketsReceived,
			"checkpoints", len(result.Checkpoints))
		return eventloop.CancelAll()
	}
	return nil
}
