package scene

import (
	"errors"
	"testing"

	"github.com/example/raytrace-worker/control"
	"github.com/example/raytrace-worker/raystate"
)

type fakeBackend struct {
	blobs map[string][]byte
}

func (f *fakeBackend) Get(key string) ([]byte, error) {
	b, ok := f.blobs[key]
	if !ok {
		return nil, errors.New("not found: " + key)
	}
	return b, nil
}

type fakeBuilder struct {
	gotObjects map[control.ObjectKey][]byte
	gotHeld    map[raystate.TreeletID]struct{}
}

func (b *fakeBuilder) Build(objects map[control.ObjectKey][]byte, held map[raystate.TreeletID]struct{}) (*Scene, error) {
	b.gotObjects = objects
	b.gotHeld = held
	return &Scene{HeldTreelets: held}, nil
}

func TestLoadSkipsTriangleMeshesButFetchesTreelets(t *testing.T) {
	backend := &fakeBackend{blobs: map[string][]byte{
		"treelet/3": []byte("treelet-data"),
		"camera/0":  []byte("camera-data"),
	}}
	loader := NewLoader(backend)

	req := control.GetObjectsRequest{ObjectIDs: []control.ObjectKey{
		{Type: control.ObjectTriangleMesh, ID: 99},
		{Type: control.ObjectTreelet, ID: 3},
		{Type: control.ObjectCamera, ID: 0},
	}}

	builder := &fakeBuilder{}
	sc, err := loader.Load(req, builder)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(builder.gotObjects) != 2 {
		t.Fatalf("expected triangle mesh to be skipped, fetched %d objects", len(builder.gotObjects))
	}
	if !sc.HoldsTreelet(3) {
		t.Fatalf("expected treelet 3 to be tracked as held")
	}
	if sc.HoldsTreelet(99) {
		t.Fatalf("triangle mesh id must never be tracked as a held treelet")
	}
}

func TestLoadPropagatesBackendError(t *testing.T) {
	backend := &fakeBackend{blobs: map[string][]byte{}}
	loader := NewLoader(backend)

	req := control.GetObjectsRequest{ObjectIDs: []control.ObjectKey{
		{Type: control.ObjectTreelet, ID: 1},
	}}

	if _, err := loader.Load(req, &fakeBuilder{}); err == nil {
		t.Fatalf("expected a missing object to produce an error")
	}
}
