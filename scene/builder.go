package scene

import (
	"fmt"

	"github.com/example/raytrace-worker/control"
	"github.com/example/raytrace-worker/raystate"
)

// UnimplementedBuilder is the integration seam GetObjects handling sits
// behind: parsing a BVH/material file format and producing working
// Tracer/Shader/Camera implementations from it is explicitly out of
// this module's scope (§1). Any real deployment supplies its own
// Builder wired into worker.New in place of this one.
type UnimplementedBuilder struct{}

func (UnimplementedBuilder) Build(objects map[control.ObjectKey][]byte, held map[raystate.TreeletID]struct{}) (*Scene, error) {
	return nil, fmt.Errorf("scene: no Builder implementation is wired in; %d objects (%d held treelets) were fetched but cannot be parsed", len(objects), len(held))
}
