// Package vectorstore persists embedding vectors as a headerless
// little-endian float32 file next to a JSON meta sidecar.
//
// Rows are addressed by the float offsets recorded in the meta. Deleting a
// chunk only drops its meta entry; the row stays in the file until the next
// full rebuild.
package vectorstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/starford/semdex/internal/apperr"
	"github.com/starford/semdex/internal/models"
	"github.com/starford/semdex/internal/storage"
)

// File names inside an index directory.
const (
	VectorFile = "vectors.f32"
	MetaFile   = "meta.json"
)

// Store is a loaded index: meta plus the flat vector buffer.
type Store struct {
	Meta    *models.Meta
	Vectors []float32
}

// Load reads dir. A missing meta yields apperr.ErrNotFound; structural
// problems yield apperr.ErrCorrupt.
func Load(dir string) (*Store, error) {
	mb, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("vectorstore: no index in %s: %w", dir, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("vectorstore: read meta: %w", err)
	}
	var meta models.Meta
	if err := json.Unmarshal(mb, &meta); err != nil {
		return nil, fmt.Errorf("vectorstore: invalid meta JSON: %w: %w", apperr.ErrCorrupt, err)
	}
	if meta.Files == nil {
		meta.Files = map[string]models.FileRecord{}
	}
	if meta.Chunks == nil {
		meta.Chunks = map[string]models.ChunkRecord{}
	}

	vb, err := os.ReadFile(filepath.Join(dir, VectorFile))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("vectorstore: read vectors: %w", err)
	}
	vectors, err := decode(vb)
	if err != nil {
		return nil, err
	}
	if err := Validate(&meta, vectors); err != nil {
		return nil, err
	}
	return &Store{Meta: &meta, Vectors: vectors}, nil
}

// Validate checks that meta and vectors agree.
func Validate(meta *models.Meta, vectors []float32) error {
	if meta.Dims < 0 {
		return fmt.Errorf("vectorstore: negative dims %d: %w", meta.Dims, apperr.ErrCorrupt)
	}
	if meta.Dims == 0 {
		if len(vectors) != 0 || len(meta.Chunks) != 0 {
			return fmt.Errorf("vectorstore: %d floats and %d chunks but no dims: %w",
				len(vectors), len(meta.Chunks), apperr.ErrCorrupt)
		}
		return nil
	}
	if len(vectors)%meta.Dims != 0 {
		return fmt.Errorf("vectorstore: %d floats is not a multiple of dims %d: %w",
			len(vectors), meta.Dims, apperr.ErrCorrupt)
	}
	for id, c := range meta.Chunks {
		if c.VectorOffset < 0 || c.VectorOffset%meta.Dims != 0 || c.VectorOffset+meta.Dims > len(vectors) {
			return fmt.Errorf("vectorstore: chunk %s has bad offset %d (len %d, dims %d): %w",
				id, c.VectorOffset, len(vectors), meta.Dims, apperr.ErrCorrupt)
		}
	}
	for path, f := range meta.Files {
		for _, id := range f.ChunkIDs {
			if _, ok := meta.Chunks[id]; !ok {
				return fmt.Errorf("vectorstore: %s owns unknown chunk %s: %w", path, id, apperr.ErrCorrupt)
			}
		}
	}
	return nil
}

// WriteFull replaces the contents of dir with meta and vectors.
func WriteFull(dir string, meta *models.Meta, vectors []float32) error {
	if err := Validate(meta, vectors); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("vectorstore: mkdir %s: %w", dir, err)
	}
	// Vectors go first: a meta on disk must never point past the buffer.
	if err := storage.WriteFileAtomic(filepath.Join(dir, VectorFile), encode(vectors)); err != nil {
		return fmt.Errorf("vectorstore: write vectors: %w", err)
	}
	return writeMeta(dir, meta)
}

// Append persists old ++ added together with meta and returns the new
// buffer. old is never modified.
func Append(dir string, meta *models.Meta, old, added []float32) ([]float32, error) {
	buf := make([]float32, 0, len(old)+len(added))
	buf = append(buf, old...)
	buf = append(buf, added...)
	if err := WriteFull(dir, meta, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteMeta persists meta alone, for changes that only drop chunks. vectors
// is the buffer already on disk.
func WriteMeta(dir string, meta *models.Meta, vectors []float32) error {
	if err := Validate(meta, vectors); err != nil {
		return err
	}
	return writeMeta(dir, meta)
}

func writeMeta(dir string, meta *models.Meta) error {
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("vectorstore: encode meta: %w", err)
	}
	if err := storage.WriteFileAtomic(filepath.Join(dir, MetaFile), b); err != nil {
		return fmt.Errorf("vectorstore: write meta: %w", err)
	}
	return nil
}

// Row returns the vector stored at offset.
func Row(vectors []float32, offset, dims int) []float32 {
	return vectors[offset : offset+dims : offset+dims]
}

// LiveRows counts rows referenced by meta.
func LiveRows(meta *models.Meta) int { return len(meta.Chunks) }

// DeadRows counts rows no chunk references any more.
func DeadRows(meta *models.Meta, vectors []float32) int {
	if meta.Dims == 0 {
		return 0
	}
	return len(vectors)/meta.Dims - len(meta.Chunks)
}

// DeadRatio is DeadRows over total rows, 0 for an empty store.
func DeadRatio(meta *models.Meta, vectors []float32) float64 {
	if meta.Dims == 0 || len(vectors) == 0 {
		return 0
	}
	return float64(DeadRows(meta, vectors)) / float64(len(vectors)/meta.Dims)
}

// AtomicSwap moves srcDir into place at destDir, keeping the previous
// destDir until the rename succeeded.
func AtomicSwap(srcDir, destDir string) error {
	if err := os.MkdirAll(filepath.Dir(destDir), 0o755); err != nil {
		return err
	}
	backup := destDir + ".bak"
	_ = os.RemoveAll(backup)
	if _, err := os.Stat(destDir); err == nil {
		if err := os.Rename(destDir, backup); err != nil {
			return fmt.Errorf("vectorstore: move old index aside: %w", err)
		}
	}
	if err := os.Rename(srcDir, destDir); err != nil {
		if _, stErr := os.Stat(backup); stErr == nil {
			_ = os.Rename(backup, destDir)
		}
		return fmt.Errorf("vectorstore: swap in new index: %w", err)
	}
	_ = os.RemoveAll(backup)
	return nil
}

// Remove deletes an index directory. A missing directory is not an error.
func Remove(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("vectorstore: remove %s: %w", dir, err)
	}
	return nil
}

// Cosine returns the cosine similarity of a and b. Mismatched lengths and
// zero-norm vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	den := math.Sqrt(na) * math.Sqrt(nb)
	if den == 0 {
		return 0
	}
	return dot / den
}

func encode(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(f))
	}
	return out
}

func decode(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vectorstore: vector file size %d is not a multiple of 4 bytes: %w", len(b), apperr.ErrCorrupt)
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}
