// Package worker wires every other package into the steady-state worker
// process described in §2/§4: two paced UDP endpoints, a coordinator
// control channel, the peer registry, and the ray-queue engine, all
// driven by one eventloop.Loop.
package worker

import (
	"fmt"
	"math/rand"
	"net"
	"syscall"
	"time"

	"github.com/example/raytrace-worker/benchmark"
	"github.com/example/raytrace-worker/control"
	"github.com/example/raytrace-worker/diagnostics"
	"github.com/example/raytrace-worker/eventloop"
	"github.com/example/raytrace-worker/peer"
	"github.com/example/raytrace-worker/rayqueue"
	"github.com/example/raytrace-worker/raystate"
	"github.com/example/raytrace-worker/reliable"
	"github.com/example/raytrace-worker/scene"
	"github.com/example/raytrace-worker/transport"
	"github.com/example/raytrace-worker/treelet"
	"github.com/example/raytrace-worker/wire"
)

// mtuBytes is the §6 constant UDP_MTU_BYTES: the target size of any one
// ray or ack datagram.
const mtuBytes = 1350

// rootTreeletID is the to-visit root seeded onto every freshly generated
// primary ray. The distilled spec leaves this implicit; choosing 0
// matches the original source's convention that the top-level BVH node
// is always assigned treelet id 0.
const rootTreeletID raystate.TreeletID = 0

// Config bundles every tunable the CLI surface (§6) and SPEC_FULL.md's
// additive flags expose.
type Config struct {
	CoordinatorAddr string

	Reliable bool
	RateMbps float64

	SamplesPerPixel int
	MaxDepth        int
	FilmWidth       int
	FilmHeight      int

	FinishedRayPolicy rayqueue.FinishedRayPolicy
	DiscardThreshold  int

	RayLogRate    float64
	PacketLogRate float64

	PeerTimerInterval     time.Duration
	KeepAliveInterval     time.Duration
	PacketTimeout         time.Duration
	MaxRetransmitAttempts int
	TreeletRequestBackoff time.Duration

	DiagnosticsAddr string
}

// DefaultConfig returns a Config carrying every timer/constant this
// document's §4.7/§6 leaves as "implementation choice".
func DefaultConfig() Config {
	return Config{
		Reliable:              true,
		RateMbps:              100,
		SamplesPerPixel:       1,
		MaxDepth:              5,
		FinishedRayPolicy:     rayqueue.SendBack,
		DiscardThreshold:      rayqueue.DiscardThreshold,
		PeerTimerInterval:     100 * time.Millisecond,
		KeepAliveInterval:     5 * time.Second,
		PacketTimeout:         500 * time.Millisecond,
		MaxRetransmitAttempts: 5,
		TreeletRequestBackoff: 500 * time.Millisecond,
	}
}

// Worker owns every piece of per-process state: the two paced
// endpoints, the coordinator control channel, the peer/treelet indexes,
// the ray-queue engine, and the single event loop driving all of it.
// Every field here is touched only from loop callbacks (§5's "owned by
// the loop" policy) — nothing in this package takes a lock.
type Worker struct {
	cfg Config

	selfID wire.Identifier
	seed   uint32

	endpoints [2]*transport.Endpoint
	ctrl      *control.Conn

	index    *treelet.Index
	registry *peer.Registry
	engine   *rayqueue.Engine
	loader   *scene.Loader
	builder  scene.Builder

	seqStates   *reliable.SeqStateTable
	acks        *reliable.AckAccumulator
	outstanding *reliable.Outstanding

	loop *eventloop.Loop

	rayAction      *eventloop.Action
	finishedAction *eventloop.Action

	bench           *benchmark.Generator
	benchSendAction *eventloop.Action
	diag            *diagnostics.Hub

	rng *rand.Rand

	raysGenerated     uint64
	raysFinished      uint64
	lastReportedPaths uint64
	sampleSeq         uint64
}

// New constructs a Worker. ctrl must already have completed Hey (so
// selfID/seed are known); localAddr0/localAddr1 are the two UDP
// addresses to bind the paced endpoints to (§4.1's "every worker owns
// two endpoints").
func New(cfg Config, localAddr0, localAddr1 string, ctrl *control.Conn, selfID wire.Identifier, seed uint32, backend scene.StorageBackend, builder scene.Builder) (*Worker, error) {
	ep0, err := transport.Listen(localAddr0, cfg.RateMbps)
	if err != nil {
		return nil, fmt.Errorf("worker: binding endpoint 0: %w", err)
	}
	ep1, err := transport.Listen(localAddr1, cfg.RateMbps)
	if err != nil {
		return nil, fmt.Errorf("worker: binding endpoint 1: %w", err)
	}

	idx := treelet.NewIndex(int64(seed))
	engine := rayqueue.NewEngine(nil, idx, int64(seed))
	registry := peer.NewRegistry(selfID, seed, idx, engine.PendingQueue, engine.OutQueue, cfg.KeepAliveInterval)

	coordAddr, err := net.ResolveUDPAddr("udp", cfg.CoordinatorAddr)
	if err != nil {
		return nil, fmt.Errorf("worker: resolving coordinator address: %w", err)
	}

	w := &Worker{
		cfg:         cfg,
		selfID:      selfID,
		seed:        seed,
		endpoints:   [2]*transport.Endpoint{ep0, ep1},
		ctrl:        ctrl,
		index:       idx,
		registry:    registry,
		engine:      engine,
		loader:      scene.NewLoader(backend),
		builder:     builder,
		seqStates:   reliable.NewSeqStateTable(),
		acks:        reliable.NewAckAccumulator(),
		outstanding: reliable.NewOutstanding(cfg.PacketTimeout, cfg.MaxRetransmitAttempts),
		loop:        eventloop.New(),
		rng:         rand.New(rand.NewSource(int64(seed))),
	}

	// §4.9: "the worker self-registers peer 0 (the coordinator) with
	// both addresses set to the coordinator address and initiates the
	// two-path handshake against it." The handshake itself runs on the
	// regular peer timer once Run starts, since Announce only moves the
	// peer to Connecting.
	w.registry.Announce(0, coordAddr, coordAddr)

	if cfg.DiagnosticsAddr != "" {
		w.diag = diagnostics.NewHub()
	}

	return w, nil
}

// Run starts the event loop: it registers every action and timer named
// in §4.6/§4.7 and then blocks until the loop stops (Bye, a fatal
// guard failure, or benchmark completion).
func (w *Worker) Run() error {
	now := time.Now()
	if err := w.registerActions(now); err != nil {
		return err
	}
	return w.loop.Run()
}

// DiagnosticsHandler exposes the worker's websocket debug stream, or
// nil if -diag-ws was not configured.
func (w *Worker) DiagnosticsHandler() *diagnostics.Hub { return w.diag }

// sendUDP wraps payload in a fresh unreliable wire.Message and writes it
// on endpoint addrNo. Every handshake/keep-alive/ack datagram goes
// through here rather than writing raw struct bytes to the socket —
// wire.ConnectionRequest.Encode et al. return only their own payload,
// never a framed Message.
//
// op must be a service opcode (§4.4: "service packets take priority over
// ray packets on the same endpoint"). This function is how that priority
// is actually realized — it never consults WithinPace, so service sends
// never queue up behind ray traffic. OpSendRays packets go out through
// handleOutQueueTimer, which checks WithinPace before each first send,
// or through resendPacket, which retransmits without checking pace;
// routing one through here would let a first send skip pacing.
func (w *Worker) sendUDP(addrNo uint8, addr *net.UDPAddr, op wire.Opcode, payload []byte) error {
	if !op.IsService() {
		panic(fmt.Sprintf("worker: sendUDP called with non-service opcode %s", op))
	}
	ep := w.endpoints[addrNo]
	raw := wire.Encode(wire.NewUnreliable(w.selfID, op, payload))
	if err := ep.Send(addr, raw); err != nil {
		return fmt.Errorf("worker: sending %s on endpoint %d: %w", op, addrNo, err)
	}
	ep.RecordSend(len(raw))
	return nil
}

// fdOf extracts the OS file descriptor backing conn, for registering
// net.UDPConn/net.Conn sockets with the eventloop's poll-based
// scheduler. Go's net package deliberately hides raw fds behind
// syscall.Conn/SyscallConn rather than exposing Fd() directly, since
// ownership of the fd otherwise gets confused with the runtime's internal
// netpoller; Control is the sanctioned escape hatch for callers (like a
// custom poll loop) that need the fd value itself without taking
// ownership of it.
func fdOf(conn syscall.Conn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("worker: obtaining raw conn: %w", err)
	}
	var fd int
	ctrlErr := raw.Control(func(f uintptr) { fd = int(f) })
	if ctrlErr != nil {
		return 0, fmt.Errorf("worker: reading fd: %w", ctrlErr)
	}
	return fd, nil
}
