package worker

import (
	"fmt"
	"syscall"
	"time"

	"github.com/example/raytrace-worker/eventloop"
)

// registerActions wires every Action and TimerAction §4.6/§4.7 names:
// two UDP recv actions, one control-channel action, two dummyFD actions
// guarded by queue occupancy, and the five periodic timers.
func (w *Worker) registerActions(now time.Time) error {
	fd0, err := fdOf(w.endpoints[0].Conn())
	if err != nil {
		return fmt.Errorf("worker: endpoint 0 fd: %w", err)
	}
	fd1, err := fdOf(w.endpoints[1].Conn())
	if err != nil {
		return fmt.Errorf("worker: endpoint 1 fd: %w", err)
	}
	ctrlRaw, ok := w.ctrl.RawConn().(syscall.Conn)
	if !ok {
		return fmt.Errorf("worker: control connection does not support raw fd access")
	}
	ctrlFd, err := fdOf(ctrlRaw)
	if err != nil {
		return fmt.Errorf("worker: control channel fd: %w", err)
	}

	w.loop.AddPacingGate(w.endpoints[0].MicrosAheadOfPace)
	w.loop.AddPacingGate(w.endpoints[1].MicrosAheadOfPace)

	w.loop.AddAction(&eventloop.Action{
		Name:      "endpoint0-recv",
		Fd:        fd0,
		Direction: eventloop.In,
		Callback:  w.handleRecv(0),
	})
	w.loop.AddAction(&eventloop.Action{
		Name:      "endpoint1-recv",
		Fd:        fd1,
		Direction: eventloop.In,
		Callback:  w.handleRecv(1),
	})
	w.loop.AddAction(&eventloop.Action{
		Name:      "control",
		Fd:        ctrlFd,
		Direction: eventloop.In,
		Callback:  w.handleControl,
	})

	w.rayAction = &eventloop.Action{
		Name:      "ray-queue",
		Fd:        eventloop.DummyFD,
		Direction: eventloop.In,
		Guard:     func() bool { return w.bench == nil && w.engine.RayQueue.Len() > 0 },
		Callback:  func() error { w.engine.RunBatch(); return nil },
	}
	w.loop.AddAction(w.rayAction)

	w.finishedAction = &eventloop.Action{
		Name:      "finished-queue",
		Fd:        eventloop.DummyFD,
		Direction: eventloop.In,
		Guard:     func() bool { return w.bench == nil && w.engine.FinishedQueue.Len() > 0 },
		Callback:  w.handleFinishedQueue,
	}
	w.loop.AddAction(w.finishedAction)

	w.loop.AddTimer(now, &eventloop.TimerAction{
		Name:     "peerTimer",
		Interval: w.cfg.PeerTimerInterval,
		Callback: w.handlePeersTimer,
	})
	w.loop.AddTimer(now, &eventloop.TimerAction{
		Name:     "outQueueTimer",
		Interval: 10 * time.Millisecond,
		Callback: w.handleOutQueueTimer,
	})
	w.loop.AddTimer(now, &eventloop.TimerAction{
		Name:     "handleRayAcknowledgementsTimer",
		Interval: 10 * time.Millisecond,
		Callback: w.handleAckTimer,
	})
	w.loop.AddTimer(now, &eventloop.TimerAction{
		Name:     "workerStatsTimer",
		Interval: time.Second,
		Callback: w.handleStatsTimer,
	})
	w.loop.AddTimer(now, &eventloop.TimerAction{
		Name:     "workerDiagnosticsTimer",
		Interval: time.Second,
		Callback: w.handleDiagnosticsTimer,
	})

	return nil
}
