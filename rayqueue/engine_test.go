package rayqueue

import (
	"math/rand"
	"testing"

	"github.com/example/raytrace-worker/raystate"
	"github.com/example/raytrace-worker/scene"
	"github.com/example/raytrace-worker/treelet"
)

// scriptedTracer returns a pre-programmed TraceResult for each call, in
// order, and pops the current treelet whenever the result is not
// StillTraversing (mirroring the original advancing the BVH stack).
type scriptedTracer struct {
	results []scene.TraceResult
	calls   int
}

func (t *scriptedTracer) Trace(ray *raystate.State) scene.TraceResult {
	r := t.results[t.calls]
	t.calls++
	switch r.Outcome {
	case scene.Hit, scene.Miss:
		ray.ToVisit = ray.ToVisit[:len(ray.ToVisit)-1]
		ray.Hit = r.Outcome == scene.Hit
	}
	return r
}

type noopShader struct {
	secondary []*raystate.State
}

func (s *noopShader) Shade(ray *raystate.State, rng *rand.Rand) scene.ShadeResult {
	return scene.ShadeResult{Secondary: s.secondary}
}

func newTestEngine(tracer scene.Tracer, shader scene.Shader, held map[raystate.TreeletID]struct{}) *Engine {
	sc := &scene.Scene{Tracer: tracer, Shader: shader, HeldTreelets: held}
	idx := treelet.NewIndex(1)
	return NewEngine(sc, idx, 1)
}

func TestNonShadowMissTerminatesWithZeroContribution(t *testing.T) {
	tracer := &scriptedTracer{results: []scene.TraceResult{{Outcome: scene.Miss}}}
	e := newTestEngine(tracer, &noopShader{}, nil)

	ray := &raystate.State{ToVisit: []raystate.TreeletID{5}, Ld: raystate.Vec3{X: 1}}
	e.RayQueue.Push(ray)

	n := e.RunBatch()
	if n != 1 {
		t.Fatalf("expected 1 ray processed, got %d", n)
	}
	if e.FinishedQueue.Len() != 1 {
		t.Fatalf("expected the missed ray in FinishedQueue")
	}
	if e.FinishedPathCount != 1 {
		t.Fatalf("expected finished path count 1, got %d", e.FinishedPathCount)
	}
	got, _ := e.FinishedQueue.Pop()
	if got.Ld != (raystate.Vec3{}) {
		t.Fatalf("expected zero contribution on miss, got %+v", got.Ld)
	}
}

func TestShadowMissRetainsLightContribution(t *testing.T) {
	tracer := &scriptedTracer{results: []scene.TraceResult{{Outcome: scene.Miss}}}
	e := newTestEngine(tracer, &noopShader{}, nil)

	ray := &raystate.State{ToVisit: []raystate.TreeletID{5}, Shadow: true, Ld: raystate.Vec3{X: 0.5, Y: 0.5, Z: 0.5}}
	e.RayQueue.Push(ray)
	e.RunBatch()

	got, _ := e.FinishedQueue.Pop()
	if got.Ld != (raystate.Vec3{X: 0.5, Y: 0.5, Z: 0.5}) {
		t.Fatalf("expected the pre-attached light contribution retained, got %+v", got.Ld)
	}
}

func TestShadowHitTerminatesWithZeroContribution(t *testing.T) {
	tracer := &scriptedTracer{results: []scene.TraceResult{{Outcome: scene.Hit}}}
	e := newTestEngine(tracer, &noopShader{}, nil)

	ray := &raystate.State{ToVisit: []raystate.TreeletID{5}, Shadow: true, Ld: raystate.Vec3{X: 9}}
	e.RayQueue.Push(ray)
	e.RunBatch()

	got, _ := e.FinishedQueue.Pop()
	if got.Ld != (raystate.Vec3{}) {
		t.Fatalf("expected zero contribution on shadow hit, got %+v", got.Ld)
	}
}

func TestNonShadowHitInvokesShaderAndRoutesSecondaries(t *testing.T) {
	tracer := &scriptedTracer{results: []scene.TraceResult{{Outcome: scene.Hit}}}
	secondary := &raystate.State{ToVisit: []raystate.TreeletID{7}}
	shader := &noopShader{secondary: []*raystate.State{secondary}}
	e := newTestEngine(tracer, shader, map[raystate.TreeletID]struct{}{7: {}})

	ray := &raystate.State{ToVisit: []raystate.TreeletID{5}}
	e.RayQueue.Push(ray)
	e.RunBatch()

	if e.RayQueue.Len() != 1 {
		t.Fatalf("expected the secondary ray routed back to RayQueue (held locally), got len=%d", e.RayQueue.Len())
	}
}

func TestShaderReturningNoSecondariesCountsFinishedPath(t *testing.T) {
	tracer := &scriptedTracer{results: []scene.TraceResult{{Outcome: scene.Hit}}}
	e := newTestEngine(tracer, &noopShader{}, nil)

	ray := &raystate.State{ToVisit: []raystate.TreeletID{5}}
	e.RayQueue.Push(ray)
	e.RunBatch()

	if e.FinishedPathCount != 1 {
		t.Fatalf("expected a completed path count, got %d", e.FinishedPathCount)
	}
	if e.FinishedQueue.Len() != 0 {
		t.Fatalf("a shaded-out ray with no secondaries is not pushed to FinishedQueue itself")
	}
}

func TestStillTraversingReprocessesNextBatch(t *testing.T) {
	tracer := &scriptedTracer{results: []scene.TraceResult{
		{Outcome: scene.StillTraversing},
		{Outcome: scene.Miss},
	}}
	e := newTestEngine(tracer, &noopShader{}, map[raystate.TreeletID]struct{}{5: {}, 6: {}})

	ray := &raystate.State{ToVisit: []raystate.TreeletID{5, 6}}
	e.RayQueue.Push(ray)

	e.RunBatch()
	if e.RayQueue.Len() != 1 {
		t.Fatalf("expected the still-traversing ray routed back to RayQueue, got len=%d", e.RayQueue.Len())
	}

	e.RunBatch()
	if e.FinishedQueue.Len() != 1 {
		t.Fatalf("expected the ray to finish on its second batch")
	}
}

func TestRouteToPendingQueueMarksTreeletNeeded(t *testing.T) {
	tracer := &scriptedTracer{results: []scene.TraceResult{{Outcome: scene.Hit}}}
	secondary := &raystate.State{ToVisit: []raystate.TreeletID{42}}
	shader := &noopShader{secondary: []*raystate.State{secondary}}
	e := newTestEngine(tracer, shader, nil)

	ray := &raystate.State{ToVisit: []raystate.TreeletID{5}}
	e.RayQueue.Push(ray)
	e.RunBatch()

	if e.PendingQueue.Len(42) != 1 {
		t.Fatalf("expected the unknown-owner treelet's ray in PendingQueue")
	}
	needed := e.Index.NeededTreelets()
	if len(needed) != 1 || needed[0] != 42 {
		t.Fatalf("expected treelet 42 marked needed, got %v", needed)
	}
}

func TestDrainFinishedDiscardPolicy(t *testing.T) {
	tracer := &scriptedTracer{results: []scene.TraceResult{{Outcome: scene.Miss}}}
	e := newTestEngine(tracer, &noopShader{}, nil)
	ray := &raystate.State{ToVisit: []raystate.TreeletID{5}}
	e.RayQueue.Push(ray)
	e.RunBatch()

	sinkCalled := false
	n := e.DrainFinished(Discard, func(*raystate.State) { sinkCalled = true })
	if n != 1 {
		t.Fatalf("expected 1 drained, got %d", n)
	}
	if sinkCalled {
		t.Fatalf("Discard policy must never invoke sink")
	}
	if e.FinishedQueue.Len() != 0 {
		t.Fatalf("expected FinishedQueue emptied")
	}
}

func TestDrainFinishedSendBackPolicyInvokesSink(t *testing.T) {
	tracer := &scriptedTracer{results: []scene.TraceResult{{Outcome: scene.Miss}}}
	e := newTestEngine(tracer, &noopShader{}, nil)
	ray := &raystate.State{ToVisit: []raystate.TreeletID{5}}
	e.RayQueue.Push(ray)
	e.RunBatch()

	var got []*raystate.State
	e.DrainFinished(SendBack, func(r *raystate.State) { got = append(got, r) })
	if len(got) != 1 {
		t.Fatalf("expected sink invoked once, got %d", len(got))
	}
}
