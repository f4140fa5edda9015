// Package models defines the persisted index types shared across packages.
package models

import "time"

// SchemaVersion is the on-disk layout version of Meta and the vector file.
const SchemaVersion = 1

// FileRecord describes one indexed source file.
type FileRecord struct {
	MtimeMs  int64    `json:"mtimeMs"`
	Size     int64    `json:"size"`
	Hash     string   `json:"hash"`
	ChunkIDs []string `json:"chunkIds"`
}

// ChunkRecord locates one embedded chunk in its source file and in the
// vector buffer. VectorOffset counts floats, not bytes.
type ChunkRecord struct {
	RelativePath string `json:"relativePath"`
	Heading      string `json:"heading"`
	StartLine    int    `json:"startLine"`
	EndLine      int    `json:"endLine"`
	VectorOffset int    `json:"vectorOffset"`
}

// Meta is the JSON sidecar of the vector store.
type Meta struct {
	SchemaVersion  int                    `json:"schemaVersion"`
	LibraryKey     string                 `json:"libraryKey"`
	EmbeddingModel string                 `json:"embeddingModel"`
	Dims           int                    `json:"dims"`
	BuiltAt        time.Time              `json:"builtAt"`
	UpdatedAt      *time.Time             `json:"updatedAt,omitempty"`
	Files          map[string]FileRecord  `json:"files"`
	Chunks         map[string]ChunkRecord `json:"chunks"`
}

// NewMeta returns an empty meta for the given library and model.
func NewMeta(libraryKey, model string) *Meta {
	return &Meta{
		SchemaVersion:  SchemaVersion,
		LibraryKey:     libraryKey,
		EmbeddingModel: model,
		BuiltAt:        time.Now().UTC(),
		Files:          map[string]FileRecord{},
		Chunks:         map[string]ChunkRecord{},
	}
}

// Clone returns a deep copy of m. Writers mutate clones and publish them;
// the cached original stays untouched for concurrent readers.
func (m *Meta) Clone() *Meta {
	out := *m
	if m.UpdatedAt != nil {
		t := *m.UpdatedAt
		out.UpdatedAt = &t
	}
	out.Files = make(map[string]FileRecord, len(m.Files))
	for k, v := range m.Files {
		v.ChunkIDs = append([]string(nil), v.ChunkIDs...)
		out.Files[k] = v
	}
	out.Chunks = make(map[string]ChunkRecord, len(m.Chunks))
	for k, v := range m.Chunks {
		out.Chunks[k] = v
	}
	return &out
}

// RemoveFile drops relPath and every chunk it owns. It reports whether the
// file was present.
func (m *Meta) RemoveFile(relPath string) bool {
	rec, ok := m.Files[relPath]
	if !ok {
		return false
	}
	for _, id := range rec.ChunkIDs {
		delete(m.Chunks, id)
	}
	delete(m.Files, relPath)
	return true
}

// Touch sets UpdatedAt to now.
func (m *Meta) Touch() {
	t := time.Now().UTC()
	m.UpdatedAt = &t
}

// Op is a task operation.
type Op string

// Task operations.
const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Task is one unit of incremental work for the indexer.
type Task struct {
	Op           Op     `json:"op"`
	RelativePath string `json:"relativePath"`
}

// Key identifies a task for de-duplication.
func (t Task) Key() string {
	return string(t.Op) + "\x00" + t.RelativePath
}

// FileInfo is what a storage listing reports for one file.
type FileInfo struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}
