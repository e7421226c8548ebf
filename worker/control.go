package worker

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/example/raytrace-worker/control"
	"github.com/example/raytrace-worker/eventloop"
	"github.com/example/raytrace-worker/raystate"
	"github.com/example/raytrace-worker/wire"
)

// handleControl is the control-fd Action's Callback: it drains every
// frame ReadAvailable produced this tick and dispatches each by opcode.
func (w *Worker) handleControl() error {
	msgs, err := w.ctrl.ReadAvailable()
	if err != nil {
		return fmt.Errorf("worker: control channel: %w", err)
	}
	for _, msg := range msgs {
		if err := w.dispatchControl(msg); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) dispatchControl(msg wire.Message) error {
	switch msg.Opcode {
	case wire.OpGetObjects:
		var req control.GetObjectsRequest
		if err := control.DecodePayload(msg.Payload, &req); err != nil {
			return fmt.Errorf("worker: decoding GetObjects: %w", err)
		}
		return w.handleGetObjects(req)

	case wire.OpGenerateRays:
		var req control.GenerateRaysRequest
		if err := control.DecodePayload(msg.Payload, &req); err != nil {
			return fmt.Errorf("worker: decoding GenerateRays: %w", err)
		}
		return w.handleGenerateRays(req)

	case wire.OpConnectTo:
		var req control.ConnectToRequest
		if err := control.DecodePayload(msg.Payload, &req); err != nil {
			return fmt.Errorf("worker: decoding ConnectTo: %w", err)
		}
		return w.announcePeer(req)

	case wire.OpMultipleConnect:
		var req control.MultipleConnectRequest
		if err := control.DecodePayload(msg.Payload, &req); err != nil {
			return fmt.Errorf("worker: decoding MultipleConnect: %w", err)
		}
		for _, peerReq := range req.Peers {
			if err := w.announcePeer(peerReq); err != nil {
				return err
			}
		}
		return nil

	case wire.OpStartBenchmark:
		var req control.StartBenchmarkRequest
		if err := control.DecodePayload(msg.Payload, &req); err != nil {
			return fmt.Errorf("worker: decoding StartBenchmark: %w", err)
		}
		return w.startBenchmark(req)

	case wire.OpBye:
		slog.Info("worker: received Bye, shutting down")
		return eventloop.CancelAll()

	default:
		return fmt.Errorf("worker: opcode %s is not valid on the control channel: %w", msg.Opcode, wire.ErrUnknownOpcode)
	}
}

// handleGetObjects performs the blocking scene fetch §5 requires happen
// outside the steady-state loop's callbacks in spirit — in practice the
// fetch still runs inside this callback (the loop has nothing else to
// do meanwhile), but it is the *only* callback permitted to block,
// matching the original's "block event-loop start until scene objects
// are fetched".
func (w *Worker) handleGetObjects(req control.GetObjectsRequest) error {
	sc, err := w.loader.Load(req, w.builder)
	if err != nil {
		return fmt.Errorf("worker: loading scene objects: %w", err)
	}
	sc.Sampling.SamplesPerPixel = w.cfg.SamplesPerPixel
	sc.Sampling.MaxDepth = w.cfg.MaxDepth
	w.engine.Scene = sc

	held := make([]raystate.TreeletID, 0, len(sc.HeldTreelets))
	for t := range sc.HeldTreelets {
		held = append(held, t)
	}
	w.registry.SetLocalTreelets(held)

	slog.Info("worker: scene objects loaded", "held_treelets", len(held))
	return nil
}

// handleGenerateRays seeds rayQueue with one primary ray per
// pixel/sample inside the requested crop window (§4.5's "generateRays"
// entry point, supplemented per SPEC_FULL.md §3 since the distilled
// spec only names the engine's steady-state processing).
func (w *Worker) handleGenerateRays(req control.GenerateRaysRequest) error {
	if w.engine.Scene == nil || w.engine.Scene.Camera == nil {
		return fmt.Errorf("worker: GenerateRays received before GetObjects produced a camera")
	}
	sc := w.engine.Scene
	spp := sc.Sampling.SamplesPerPixel
	if spp <= 0 {
		spp = 1
	}

	minX := cropToPixel(req.CropWindow.MinX, w.cfg.FilmWidth)
	maxX := cropToPixel(req.CropWindow.MaxX, w.cfg.FilmWidth)
	minY := cropToPixel(req.CropWindow.MinY, w.cfg.FilmHeight)
	maxY := cropToPixel(req.CropWindow.MaxY, w.cfg.FilmHeight)

	var generated uint64
	for y := minY; y < maxY; y++ {
		for x := minX; x < maxX; x++ {
			pixel := raystate.Pixel{X: int32(x), Y: int32(y)}
			for s := 0; s < spp; s++ {
				cs := sc.Camera.GenerateRaySample(pixel, uint64(s), w.rng)
				ray := &raystate.State{
					SampleID:         raystate.SampleID(w.sampleSeq),
					PFilm:            pixel,
					Weight:           cs.Weight,
					Ray:              cs.Ray,
					RemainingBounces: sc.Sampling.MaxDepth,
					ToVisit:          []raystate.TreeletID{rootTreeletID},
					Throughput:       raystate.Vec3{X: 1, Y: 1, Z: 1},
					Tracked:          w.rng.Float64() < w.cfg.RayLogRate,
				}
				w.sampleSeq++
				w.engine.RayQueue.Push(ray)
				generated++
			}
		}
	}

	w.raysGenerated += generated
	slog.Info("worker: generated primary rays", "count", generated, "crop", req.CropWindow)
	return nil
}

func cropToPixel(frac float64, dim int) int {
	p := int(frac * float64(dim))
	if p < 0 {
		return 0
	}
	if p > dim {
		return dim
	}
	return p
}

// announcePeer implements the worker's half of ConnectTo/MultipleConnect
// (§4.3): resolve the peer's two addresses and hand them to the
// registry, then flush any ConnectionResponse the announcement just
// unblocked for a previously deferred request.
func (w *Worker) announcePeer(req control.ConnectToRequest) error {
	var addrs [2]*net.UDPAddr
	for i, a := range req.Addresses {
		if a == "" {
			continue
		}
		udpAddr, err := net.ResolveUDPAddr("udp", a)
		if err != nil {
			return fmt.Errorf("worker: resolving peer %d address %d (%q): %w", req.WorkerID, i, a, err)
		}
		addrs[i] = udpAddr
	}

	_, responses := w.registry.Announce(req.WorkerID, addrs[0], addrs[1])
	for _, resp := range responses {
		if err := w.sendUDP(resp.AddrNo, resp.ToAddr, wire.OpConnectionResponse, resp.Payload); err != nil {
			return err
		}
	}
	return nil
}
