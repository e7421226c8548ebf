package worker

import (
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/example/raytrace-worker/control"
	"github.com/example/raytrace-worker/peer"
	"github.com/example/raytrace-worker/rayqueue"
	"github.com/example/raytrace-worker/raystate"
	"github.com/example/raytrace-worker/reliable"
	"github.com/example/raytrace-worker/scene"
	"github.com/example/raytrace-worker/transport"
	"github.com/example/raytrace-worker/treelet"
	"github.com/example/raytrace-worker/wire"
)

func TestCropToPixel(t *testing.T) {
	cases := []struct {
		frac float64
		dim  int
		want int
	}{
		{0, 100, 0},
		{0.5, 100, 50},
		{1, 100, 100},
		{-0.5, 100, 0},
		{1.5, 100, 100},
	}
	for _, c := range cases {
		if got := cropToPixel(c.frac, c.dim); got != c.want {
			t.Errorf("cropToPixel(%v, %v) = %v, want %v", c.frac, c.dim, got, c.want)
		}
	}
}

func TestRequeuePending(t *testing.T) {
	idx := treelet.NewIndex(1)
	engine := rayqueue.NewEngine(nil, idx, 1)
	w := &Worker{engine: engine}

	rays := []*raystate.State{{SampleID: 1}, {SampleID: 2}}
	w.requeuePending(raystate.TreeletID(9), rays)

	if got := engine.PendingQueue.Len(raystate.TreeletID(9)); got != 2 {
		t.Fatalf("pendingQueue[9] length = %d, want 2", got)
	}
}

func TestPeerCounts(t *testing.T) {
	idx := treelet.NewIndex(1)
	engine := rayqueue.NewEngine(nil, idx, 1)
	registry := peer.NewRegistry(1, 1, idx, engine.PendingQueue, engine.OutQueue, time.Minute)

	addr1, _ := net.ResolveUDPAddr("udp", "127.0.0.1:1")
	addr2, _ := net.ResolveUDPAddr("udp", "127.0.0.1:2")
	registry.Announce(2, addr1, addr1)
	registry.Announce(3, addr2, addr2)

	w := &Worker{registry: registry}
	connecting, connected := w.peerCounts()
	if connecting != 2 || connected != 0 {
		t.Fatalf("peerCounts() = (%d, %d), want (2, 0)", connecting, connected)
	}
}

type fakeCamera struct{}

func (fakeCamera) GenerateRaySample(pixel raystate.Pixel, sample uint64, rng *rand.Rand) scene.CameraSample {
	return scene.CameraSample{Weight: 1, Ray: raystate.Ray{}}
}

func TestHandleGenerateRaysSeedsCropWindow(t *testing.T) {
	idx := treelet.NewIndex(1)
	sc := &scene.Scene{
		Camera:   fakeCamera{},
		Sampling: scene.SamplingConfig{SamplesPerPixel: 2, MaxDepth: 3},
	}
	engine := rayqueue.NewEngine(sc, idx, 1)

	w := &Worker{
		engine: engine,
		cfg:    Config{FilmWidth: 10, FilmHeight: 10},
		rng:    rand.New(rand.NewSource(1)),
	}

	req := control.GenerateRaysRequest{CropWindow: control.CropWindow{MinX: 0, MinY: 0, MaxX: 0.5, MaxY: 0.5}}
	if err := w.handleGenerateRays(req); err != nil {
		t.Fatalf("handleGenerateRays: %v", err)
	}

	want := 5 * 5 * 2
	if got := engine.RayQueue.Len(); got != want {
		t.Fatalf("RayQueue.Len() = %d, want %d", got, want)
	}
	if w.raysGenerated != uint64(want) {
		t.Fatalf("raysGenerated = %d, want %d", w.raysGenerated, want)
	}

	ray, ok := engine.RayQueue.Pop()
	if !ok {
		t.Fatal("expected at least one seeded ray")
	}
	if ray.ToVisit[0] != rootTreeletID {
		t.Fatalf("seeded ray ToVisit = %v, want [%v]", ray.ToVisit, rootTreeletID)
	}
	if ray.RemainingBounces != 3 {
		t.Fatalf("seeded ray RemainingBounces = %d, want 3", ray.RemainingBounces)
	}
}

func TestHandleGenerateRaysRequiresCamera(t *testing.T) {
	idx := treelet.NewIndex(1)
	engine := rayqueue.NewEngine(nil, idx, 1)
	w := &Worker{engine: engine, cfg: Config{FilmWidth: 10, FilmHeight: 10}}

	err := w.handleGenerateRays(control.GenerateRaysRequest{})
	if err == nil {
		t.Fatal("expected an error when GenerateRays arrives before GetObjects")
	}
}

func TestHandleFinishedQueueDiscardDrainsWithoutSink(t *testing.T) {
	idx := treelet.NewIndex(1)
	engine := rayqueue.NewEngine(nil, idx, 1)
	engine.FinishedQueue.Push(&raystate.State{SampleID: 1})
	engine.FinishedQueue.Push(&raystate.State{SampleID: 2})

	w := &Worker{engine: engine, cfg: Config{FinishedRayPolicy: rayqueue.Discard, DiscardThreshold: 5000}}
	if err := w.handleFinishedQueue(); err != nil {
		t.Fatalf("handleFinishedQueue: %v", err)
	}
	if got := engine.FinishedQueue.Len(); got != 0 {
		t.Fatalf("FinishedQueue.Len() = %d, want 0", got)
	}
	if w.raysFinished != 2 {
		t.Fatalf("raysFinished = %d, want 2", w.raysFinished)
	}
}

func TestHandleFinishedQueueSendBackReportsRecords(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	received := make(chan control.FinishedRaysReport, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		var parser wire.Parser
		buf := make([]byte, 4096)
		for {
			n, rerr := c.Read(buf)
			if n > 0 {
				msgs, ferr := parser.Feed(buf[:n])
				if ferr != nil {
					return
				}
				for _, m := range msgs {
					if m.Opcode == wire.OpFinishedRays {
						var rep control.FinishedRaysReport
						if err := control.DecodePayload(m.Payload, &rep); err == nil {
							received <- rep
						}
						return
					}
				}
			}
			if rerr != nil {
				return
			}
		}
	}()

	ctrl, err := control.Dial(ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ctrl.Close()
	ctrl.SetSelf(1)

	idx := treelet.NewIndex(1)
	engine := rayqueue.NewEngine(nil, idx, 1)
	engine.FinishedQueue.Push(&raystate.State{
		SampleID: 42,
		PFilm:    raystate.Pixel{X: 3, Y: 4},
		Weight:   1,
		Ld:       raystate.Vec3{X: 0.1, Y: 0.2, Z: 0.3},
	})

	w := &Worker{engine: engine, ctrl: ctrl, cfg: Config{FinishedRayPolicy: rayqueue.SendBack}}
	if err := w.handleFinishedQueue(); err != nil {
		t.Fatalf("handleFinishedQueue: %v", err)
	}

	select {
	case rep := <-received:
		if len(rep.Rays) != 1 || rep.Rays[0].SampleID != 42 {
			t.Fatalf("unexpected report: %+v", rep)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for FinishedRaysReport")
	}
}

func TestHandleOutQueueTimerRequeuesWhenHolderUnknown(t *testing.T) {
	idx := treelet.NewIndex(1)
	engine := rayqueue.NewEngine(nil, idx, 1)
	engine.OutQueue.Push(raystate.TreeletID(7), &raystate.State{SampleID: 1, ToVisit: []raystate.TreeletID{7}})

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

	w := &Worker{
		engine:      engine,
		index:       idx,
		registry:    peer.NewRegistry(1, 1, idx, engine.PendingQueue, engine.OutQueue, time.Minute),
		endpoints:   [2]*transport.Endpoint{ep0, ep1},
		seqStates:   reliable.NewSeqStateTable(),
		outstanding: reliable.NewOutstanding(time.Second, 5),
		cfg:         Config{Reliable: true},
	}

	if err := w.handleOutQueueTimer(); err != nil {
		t.Fatalf("handleOutQueueTimer: %v", err)
	}
	if got := engine.PendingQueue.Len(raystate.TreeletID(7)); got != 1 {
		t.Fatalf("pendingQueue[7] length = %d, want 1 (holder unknown)", got)
	}
	if got := engine.OutQueue.Len(raystate.TreeletID(7)); got != 0 {
		t.Fatalf("outQueue[7] length = %d, want 0", got)
	}
}

func TestHandleOutQueueTimerSendsToKnownHolder(t *testing.T) {
	idx := treelet.NewIndex(1)
	engine := rayqueue.NewEngine(nil, idx, 1)
	engine.OutQueue.Push(raystate.TreeletID(3), &raystate.State{SampleID: 9, ToVisit: []raystate.TreeletID{3}})

	selfEp0, err := transport.Listen("127.0.0.1:0", 1000)
	if err != nil {
		t.Fatalf("listen selfEp0: %v", err)
	}
	defer selfEp0.Close()
	selfEp1, err := transport.Listen("127.0.0.1:0", 1000)
	if err != nil {
		t.Fatalf("listen selfEp1: %v", err)
	}
	defer selfEp1.Close()

	destEp, err := transport.Listen("127.0.0.1:0", 1000)
	if err != nil {
		t.Fatalf("listen destEp: %v", err)
	}
	defer destEp.Close()

	registry := peer.NewRegistry(1, 1, idx, engine.PendingQueue, engine.OutQueue, time.Minute)
	registry.Announce(2, destEp.LocalAddr(), destEp.LocalAddr())
	idx.AddHolder(raystate.TreeletID(3), wire.Identifier(2))

	w := &Worker{
		selfID:      1,
		engine:      engine,
		index:       idx,
		registry:    registry,
		endpoints:   [2]*transport.Endpoint{selfEp0, selfEp1},
		seqStates:   reliable.NewSeqStateTable(),
		outstanding: reliable.NewOutstanding(time.Second, 5),
		cfg:         Config{Reliable: false},
		rng:         rand.New(rand.NewSource(1)),
	}

	if err := w.handleOutQueueTimer(); err != nil {
		t.Fatalf("handleOutQueueTimer: %v", err)
	}

	destEp.Conn().SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	_, data, err := destEp.Recv(buf)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}

	msg, err := wire.DecodeOne(data)
	if err != nil {
		t.Fatalf("decoding received datagram: %v", err)
	}
	if msg.Opcode != wire.OpSendRays {
		t.Fatalf("opcode = %s, want SendRays", msg.Opcode)
	}

	rays := raystate.DecodeBatch(msg.Payload)
	if len(rays) != 1 || rays[0].SampleID != 9 {
		t.Fatalf("decoded rays = %+v, want one ray with SampleID 9", rays)
	}
}

func TestHandleOutQueueTimerTicksTrackedRays(t *testing.T) {
	idx := treelet.NewIndex(1)
	engine := rayqueue.NewEngine(nil, idx, 1)
	ray := &raystate.State{SampleID: 9, ToVisit: []raystate.TreeletID{3}}
	engine.OutQueue.Push(raystate.TreeletID(3), ray)

	selfEp0, err := transport.Listen("127.0.0.1:0", 1000)
	if err != nil {
		t.Fatalf("listen selfEp0: %v", err)
	}
	defer selfEp0.Close()
	selfEp1, err := transport.Listen("127.0.0.1:0", 1000)
	if err != nil {
		t.Fatalf("listen selfEp1: %v", err)
	}
	defer selfEp1.Close()

	destEp, err := transport.Listen("127.0.0.1:0", 1000)
	if err != nil {
		t.Fatalf("listen destEp: %v", err)
	}
	defer destEp.Close()

	registry := peer.NewRegistry(1, 1, idx, engine.PendingQueue, engine.OutQueue, time.Minute)
	registry.Announce(2, destEp.LocalAddr(), destEp.LocalAddr())
	idx.AddHolder(raystate.TreeletID(3), wire.Identifier(2))

	w := &Worker{
		selfID:      1,
		engine:      engine,
		index:       idx,
		registry:    registry,
		endpoints:   [2]*transport.Endpoint{selfEp0, selfEp1},
		seqStates:   reliable.NewSeqStateTable(),
		outstanding: reliable.NewOutstanding(time.Second, 5),
		cfg:         Config{Reliable: true, PacketLogRate: 1},
		rng:         rand.New(rand.NewSource(1)),
	}

	if err := w.handleOutQueueTimer(); err != nil {
		t.Fatalf("handleOutQueueTimer: %v", err)
	}

	if ray.Tick != 1 {
		t.Fatalf("ray.Tick = %d, want 1 after the tracked packet's first send", ray.Tick)
	}

	destEp.Conn().SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	_, data, err := destEp.Recv(buf)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	msg, err := wire.DecodeOne(data)
	if err != nil {
		t.Fatalf("decoding received datagram: %v", err)
	}
	if !msg.Tracked {
		t.Fatalf("expected the wire message to carry the tracked flag")
	}
}
