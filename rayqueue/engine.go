package rayqueue

import (
	"math/rand"

	"github.com/example/raytrace-worker/raystate"
	"github.com/example/raytrace-worker/scene"
	"github.com/example/raytrace-worker/treelet"
)

// MaxRaysPerBatch bounds how many rays one Engine.RunBatch invocation
// processes, so the Tracer/Shader calls the single-threaded loop makes
// stay bounded in latency (§4.5, §5).
const MaxRaysPerBatch = 20000

// Engine drives the §4.5 ray-queue state machine: rayQueue, outQueue[t],
// pendingQueue[t], and finishedQueue, plus the routing decision that
// moves rays between them.
type Engine struct {
	RayQueue      *Queue
	OutQueue      *ByTreelet
	PendingQueue  *ByTreelet
	FinishedQueue *Queue

	Scene *scene.Scene
	Index *treelet.Index

	rng *rand.Rand

	// FinishedPathCount counts rays that ended during the lifetime of this
	// Engine: Shader returned no secondary rays, a non-shadow ray missed,
	// or a shadow ray was terminated by a hit or a miss.
	FinishedPathCount uint64
}

// NewEngine constructs an Engine over freshly-created queues.
func NewEngine(sc *scene.Scene, idx *treelet.Index, rngSeed int64) *Engine {
	return &Engine{
		RayQueue:      NewQueue(),
		OutQueue:      NewByTreelet(),
		PendingQueue:  NewByTreelet(),
		FinishedQueue: NewQueue(),
		Scene:         sc,
		Index:         idx,
		rng:           rand.New(rand.NewSource(rngSeed)),
	}
}

// RunBatch pops up to MaxRaysPerBatch rays from RayQueue and advances
// each by one step of the §4.5 algorithm, then routes every ray that
// survived the batch ("processed") to its next queue by CurrentTreelet.
// It returns the number of rays it processed.
func (e *Engine) RunBatch() int {
	var processed []*raystate.State

	n := 0
	for n < MaxRaysPerBatch {
		ray, ok := e.RayQueue.Pop()
		if !ok {
			break
		}
		n++

		if survivor := e.step(ray); survivor != nil {
			processed = append(processed, survivor)
		}
	}

	for _, ray := range processed {
		e.route(ray)
	}

	return n
}

// step advances one ray by the §4.5 algorithm and returns the ray if it
// is still alive and needs routing, or nil if it was terminated into
// FinishedQueue.
func (e *Engine) step(ray *raystate.State) *raystate.State {
	if len(ray.ToVisit) > 0 {
		result := e.Scene.Tracer.Trace(ray)

		switch {
		case ray.Shadow && result.Outcome != scene.StillTraversing:
			// Shadow ray, hit or empty-visit: terminate. A hit zeroes the
			// contribution; a miss retains the light contribution already
			// attached to Ld.
			contrib := raystate.Vec3{}
			if result.Outcome == scene.Miss {
				contrib = ray.Ld
			}
			ray.Terminate(contrib)
			e.FinishedQueue.Push(ray)
			e.FinishedPathCount++
			return nil

		case ray.Shadow:
			// Still traversing: re-process next batch.
			return ray

		case !ray.Shadow && result.Outcome == scene.StillTraversing:
			// Still traversing: route it straight back out. ToVisit is
			// non-empty, so the Shader block below must not run.
			return ray

		case !ray.Shadow && result.Outcome == scene.Hit:
			// Hit: falls through to the Shader call below.

		case !ray.Shadow && result.Outcome == scene.Miss:
			ray.Terminate(raystate.Vec3{})
			e.FinishedQueue.Push(ray)
			e.FinishedPathCount++
			return nil
		}
	}

	if len(ray.ToVisit) == 0 && ray.Hit {
		shaded := e.Scene.Shader.Shade(ray, e.rng)
		if len(shaded.Secondary) == 0 {
			e.FinishedPathCount++
			return nil
		}
		// The original ray is consumed by shading; its secondary rays carry
		// the path forward. Only the first is returned for routing by this
		// call's caller convention — the rest are queued directly here so
		// none are dropped.
		for i, sec := range shaded.Secondary {
			if i == 0 {
				continue
			}
			e.route(sec)
		}
		return shaded.Secondary[0]
	}

	// Every reachable combination returns above. A ray with an empty
	// to-visit stack and no hit that was not terminated as a Miss is the
	// "any other combination is a programming error" case (§4.5 step 3).
	panic("rayqueue: ray left step() with an empty to-visit stack and no hit")
}

// route sends one processed ray to rayQueue (held locally), outQueue[t]
// (held by a known peer), or pendingQueue[t] (owner unknown, and t is
// marked needed) per its CurrentTreelet (§4.5 "After the batch").
func (e *Engine) route(ray *raystate.State) {
	t := ray.CurrentTreelet()

	switch {
	case e.Scene.HoldsTreelet(t):
		e.RayQueue.Push(ray)
	case e.Index.Has(t):
		e.OutQueue.Push(t, ray)
	default:
		e.PendingQueue.Push(t, ray)
		e.Index.MarkNeeded(t)
	}
}

// FinishedRayPolicy is the §4.5 handleFinishedQueue drain
// policy selector.
type FinishedRayPolicy int

const (
	// Discard clears finishedQueue without forwarding it anywhere (used
	// for timing runs).
	Discard FinishedRayPolicy = iota
	// SendBack reports finished rays to the coordinator.
	SendBack
	// Upload drains finished rays without writing them anywhere: no
	// storage writer exists, so the worker logs a warning and drops them.
	Upload
)

// DiscardThreshold is the Open Question decision from SPEC_FULL.md §5:
// a Discard-policy drain of at least this many rays is a backpressure
// signal the worker logs as a warning; it does not hold back draining.
// Tunable via -discard-threshold.
const DiscardThreshold = 5000

// DrainFinished applies policy to every ray currently in FinishedQueue,
// handing each one to sink (sink is nil for Discard, which never looks
// at its rays). It returns how many rays were drained.
func (e *Engine) DrainFinished(policy FinishedRayPolicy, sink func(*raystate.State)) int {
	n := 0
	for {
		ray, ok := e.FinishedQueue.Pop()
		if !ok {
			break
		}
		n++
		if policy != Discard && sink != nil {
			sink(ray)
		}
	}
	return n
}
