// Package scene defines the small capability surface the ray-queue
// engine depends on (§4.5, §9's "Tracer/Shader/Camera/Sampler
// abstraction"): Tracer, Shader, and Camera are injected behaviors over
// plain data, not a class hierarchy.
package scene

import (
	"math/rand"

	"github.com/example/raytrace-worker/raystate"
)

// TraceOutcome classifies a Tracer's result (§4.5 step 1).
type TraceOutcome int

const (
	// StillTraversing means the to-visit stack remains non-empty; the
	// ray needs another Tracer call, possibly against a different
	// treelet.
	StillTraversing TraceOutcome = iota
	// Hit means the to-visit stack emptied with a recorded intersection.
	Hit
	// Miss means the to-visit stack emptied with no intersection.
	Miss
)

// TraceResult is what Tracer returns for one ray.
type TraceResult struct {
	Outcome TraceOutcome
}

// Tracer is invoked as a pure function over the held treelet BVH (§2).
// It never mutates shared state; all effects are expressed in the
// returned TraceResult and the ray's own to-visit stack, which the
// Tracer advances itself (e.g. via raystate.State.PopTreelet); the
// caller only reads it.
type Tracer interface {
	Trace(ray *raystate.State) TraceResult
}

// ShadeResult is what Shader returns for one hit ray: zero or more
// secondary rays plus whether the path is now complete.
type ShadeResult struct {
	Secondary     []*raystate.State
	PathCompleted bool
}

// Shader is invoked once a ray's to-visit stack has emptied with a hit
// (§4.5 step 2).
type Shader interface {
	Shade(ray *raystate.State, rng *rand.Rand) ShadeResult
}

// CameraSample is one generated primary ray plus its sample weight, the
// Go-native analogue of pbrt's GenerateRayDifferential return value.
type CameraSample struct {
	Ray    raystate.Ray
	Weight float64
}

// Camera generates a primary ray for one pixel/sample pair (§4.5's
// `generateCameraSample(pixel) -> ray` capability).
type Camera interface {
	GenerateRaySample(pixel raystate.Pixel, sample uint64, rng *rand.Rand) CameraSample
}

// SamplingConfig mirrors the subset of rendering configuration the
// ray-queue engine's GenerateRays handler needs: how many samples per
// pixel, and the maximum bounce depth before a path is force-terminated.
type SamplingConfig struct {
	SamplesPerPixel int
	MaxDepth        int
}

// Scene is the capability set a worker holds once GetObjects has
// finished loading: a Tracer/Shader pair over whatever treelets this
// worker owns, a Camera for primary-ray generation, and the sampling
// configuration the job was started with. It is set exactly once, at
// GetObjects completion, and is immutable afterward (§9).
type Scene struct {
	Tracer   Tracer
	Shader   Shader
	Camera   Camera
	Sampling SamplingConfig

	// HeldTreelets are the treelet ids this worker fetched and is
	// responsible for tracing, as opposed to treelets merely referenced
	// by rays passing through.
	HeldTreelets map[raystate.TreeletID]struct{}
}

// HoldsTreelet reports whether this worker's Scene owns treelet t.
func (s *Scene) HoldsTreelet(t raystate.TreeletID) bool {
	_, ok := s.HeldTreelets[t]
	return ok
}
