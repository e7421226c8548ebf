// Package raystate defines the owned ray record that moves between the
// queues of the ray-queue engine (§3), and its wire serialization.
package raystate

import "math"

// Vec3 is a 3-component vector (origin, direction, throughput, etc).
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Add(o Vec3) Vec3      { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

// Ray is the origin/direction pair a Tracer advances, plus ray
// differentials (pbrt-style, used by the texture filter, out of scope
// here but carried through so Tracer/Shader need not be aware of it).
type Ray struct {
	Origin    Vec3
	Direction Vec3

	HasDifferentials bool
	RxOrigin         Vec3
	RyOrigin         Vec3
	RxDirection      Vec3
	RyDirection      Vec3
}

// TreeletID identifies a node of the scene's treelet partition.
type TreeletID uint32

// SampleID identifies a single pixel sample's light-transport path.
type SampleID uint64

// Pixel is the film coordinate a sample belongs to.
type Pixel struct {
	X, Y int32
}

// State is the owned record describing one light-transport path in
// progress (§3). At every moment it belongs to exactly one queue or
// packet; ownership moves with it and is never copied.
type State struct {
	SampleID SampleID
	PFilm    Pixel
	Weight   float64

	Ray Ray

	RemainingBounces int

	// ToVisit is the BVH traversal continuation: a stack of treelets the
	// ray still needs to test against, nearest-pending on top.
	ToVisit []TreeletID

	Hit    bool
	Shadow bool

	Throughput Vec3
	Ld         Vec3 // accumulated direct-light contribution

	Hops int // cross-worker forwards
	Tick int // retransmissions of the packet that last carried this ray

	Tracked bool // retained past send only to log its post-send tick
}

// CurrentTreelet returns the treelet the ray's next intersection test
// needs. It is only valid when ToVisit is non-empty.
func (s *State) CurrentTreelet() TreeletID {
	return s.ToVisit[len(s.ToVisit)-1]
}

// PopTreelet removes and returns the top of the to-visit stack.
func (s *State) PopTreelet() TreeletID {
	t := s.ToVisit[len(s.ToVisit)-1]
	s.ToVisit = s.ToVisit[:len(s.ToVisit)-1]
	return t
}

// Terminate clears the ray's traversal state and clamps its finished
// contribution to contrib (§4.5 step 1 and §7's policy clamp).
func (s *State) Terminate(contrib Vec3) {
	s.ToVisit = nil
	s.Ld = ClampLuminance(contrib)
}

// Luminance is the standard Rec. 709 luma weighting, used for the
// finished-ray policy clamp (§7).
func Luminance(c Vec3) float64 {
	return 0.2126*c.X + 0.7152*c.Y + 0.0722*c.Z
}

// ClampLuminance implements §7's policy: NaN, negative luminance below
// -1e-5, or infinite luminance is clamped to zero. Not an error.
func ClampLuminance(c Vec3) Vec3 {
	l := Luminance(c)
	if math.IsNaN(l) || math.IsInf(l, 0) || l < -1e-5 {
		return Vec3{}
	}
	return c
}
