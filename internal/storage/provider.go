// Package storage defines the vault file-system abstraction.
package storage

import "github.com/starford/semdex/internal/models"

// Provider is the read-only view of the vault the index works from. All paths are
// relative to the vault root and use forward slashes.
type Provider interface {
	// List returns every regular file accepted by filter. A nil filter
	// accepts everything.
	List(filter Filter) ([]models.FileInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Stat returns size and modification time of the file at path.
	Stat(path string) (models.FileInfo, error)
}

// Filter prunes directory walks and selects files.
type Filter interface {
	MayContain(dir string) bool
	InScope(relPath string) bool
}

// Rooted is implemented by providers backed by a local directory. The
// watcher requires it.
type Rooted interface {
	Root() string
}
