package scene

import (
	"fmt"

	"github.com/example/raytrace-worker/control"
	"github.com/example/raytrace-worker/raystate"
)

// Loader fetches the serialized scene objects a GetObjects request
// names (camera, sampler, lights, treelets) from object storage by key,
// and assembles them into a Scene. The storage-backend blob fetch itself
// is delegated to StorageBackend — parsing BVH files and the
// intersection/shading math are out of this module's scope; Loader's
// job is sequencing the fetch and producing the Tracer/Shader/Camera
// capability set GetObjects handling needs to hand to the engine.
type Loader struct {
	backend StorageBackend
}

// StorageBackend is the narrow interface GetObjects handling fetches
// through. A real implementation talks to whatever object store the
// `-s STORAGE_URI` flag names; tests substitute an in-memory fake.
type StorageBackend interface {
	Get(key string) ([]byte, error)
}

// NewLoader constructs a Loader over backend.
func NewLoader(backend StorageBackend) *Loader {
	return &Loader{backend: backend}
}

// Builder turns the raw bytes fetched for a set of object keys into a
// ready-to-use Scene. Supplying this as an injected capability (rather
// than the Loader hard-coding a BVH/parsing format) keeps the parsing
// and shading math an external collaborator's concern, per §1 of the
// distilled spec.
type Builder interface {
	Build(objects map[control.ObjectKey][]byte, held map[raystate.TreeletID]struct{}) (*Scene, error)
}

// Load fetches every object req names except triangle meshes, which are
// skipped entirely since they arrive packed inside treelets rather than
// as standalone objects, and hands the rest to build. Only Treelet-typed
// ids are tracked as held-by-this-worker (this mirrors the original's
// getObjects(), which inserts only protobuf::ObjectType::Treelet ids
// into treeletIds).
func (l *Loader) Load(req control.GetObjectsRequest, build Builder) (*Scene, error) {
	objects := make(map[control.ObjectKey][]byte, len(req.ObjectIDs))
	held := make(map[raystate.TreeletID]struct{})

	for _, key := range req.ObjectIDs {
		if key.Type == control.ObjectTriangleMesh {
			continue
		}
		blob, err := l.backend.Get(objectKeyPath(key))
		if err != nil {
			return nil, fmt.Errorf("scene: fetching object %s: %w", objectKeyPath(key), err)
		}
		objects[key] = blob
		if key.Type == control.ObjectTreelet {
			held[raystate.TreeletID(key.ID)] = struct{}{}
		}
	}

	sc, err := build.Build(objects, held)
	if err != nil {
		return nil, fmt.Errorf("scene: building scene: %w", err)
	}
	return sc, nil
}

func objectKeyPath(key control.ObjectKey) string {
	return fmt.Sprintf("%s/%d", objectTypeName(key.Type), key.ID)
}

func objectTypeName(t control.ObjectType) string {
	switch t {
	case control.ObjectTriangleMesh:
		return "triangle"
	case control.ObjectTreelet:
		return "treelet"
	case control.ObjectTexture:
		return "texture"
	case control.ObjectMaterial:
		return "material"
	case control.ObjectLight:
		return "light"
	case control.ObjectSampler:
		return "sampler"
	case control.ObjectCamera:
		return "camera"
	case control.ObjectScene:
		return "scene"
	default:
		return "unknown"
	}
}
