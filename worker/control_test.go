package worker

import (
	"testing"
	"time"

	"github.com/example/raytrace-worker/control"
	"github.com/example/raytrace-worker/peer"
	"github.com/example/raytrace-worker/rayqueue"
	"github.com/example/raytrace-worker/transport"
	"github.com/example/raytrace-worker/treelet"
	"github.com/example/raytrace-worker/wire"
)

func TestAnnouncePeerMovesPeerToConnecting(t *testing.T) {
	idx := treelet.NewIndex(1)
	engine := rayqueue.NewEngine(nil, idx, 1)
	ep0, err := transport.Listen("127.0.0.1:0", 1000)
	if err != nil {
		t.Fatalf("listen ep0: %v", err)
	}
	defer ep0.Close()
	ep1, err := transport.Listen("127.0.0.1:0", 1000)
	if err != nil {
		t.Fatalf("listen ep1: %v", err)
	}
	defer ep1.Close()

	registry := peer.NewRegistry(1, 1, idx, engine.PendingQueue, engine.OutQueue, time.Minute)
	w := &Worker{
		selfID:    1,
		engine:    engine,
		index:     idx,
		registry:  registry,
		endpoints: [2]*transport.Endpoint{ep0, ep1},
	}

	req := control.ConnectToRequest{
		WorkerID:  2,
		Addresses: [2]string{ep1.LocalAddr().String(), ep1.LocalAddr().String()},
	}
	if err := w.announcePeer(req); err != nil {
		t.Fatalf("announcePeer: %v", err)
	}

	p, ok := registry.Peer(2)
	if !ok {
		t.Fatal("expected peer 2 to be known after announcePeer")
	}
	if p.State != peer.Connecting {
		t.Fatalf("peer state = %v, want Connecting", p.State)
	}
}

func TestDispatchControlBye(t *testing.T) {
	w := &Worker{}
	err := w.dispatchControl(wire.NewUnreliable(0, wire.OpBye, nil))
	if err == nil {
		t.Fatal("expected dispatchControl(Bye) to request a loop stop")
	}
}

func TestDispatchControlUnknownOpcode(t *testing.T) {
	w := &Worker{}
	err := w.dispatchControl(wire.Message{Opcode: wire.Opcode(999)})
	if err == nil {
		t.Fatal("expected an error for an unrecognized control opcode")
	}
}
