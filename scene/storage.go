package scene

import (
	"fmt"
	"os"
	"path/filepath"
)

// DiskBackend reads scene objects from a local directory tree, one file
// per key, rooted at Dir. It is the simplest StorageBackend a -s
// STORAGE_URI pointing at a local path can use; a real deployment would
// point the same interface at whatever object store it runs against,
// which this module does not implement (§1: storage is an external
// collaborator).
type DiskBackend struct {
	Dir string
}

// NewDiskBackend returns a DiskBackend rooted at dir.
func NewDiskBackend(dir string) *DiskBackend {
	return &DiskBackend{Dir: dir}
}

// Get reads the file named key under Dir. Keys are always of the form
// "type/id" (objectKeyPath's output), so Join just lands on
// Dir/type/id — there is no user-controlled path component to clean.
func (d *DiskBackend) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(d.Dir, key))
	if err != nil {
		return nil, fmt.Errorf("scene: reading object %q: %w", key, err)
	}
	return data, nil
}
