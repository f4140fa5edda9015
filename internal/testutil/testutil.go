// Package testutil provides shared test helpers for vaults, settings
// databases and embedding providers.
package testutil

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode"

	"github.com/starford/semdex/internal/embedding"
	"github.com/starford/semdex/internal/settings"
	"github.com/starford/semdex/internal/storage"
)

// TestDB creates a temporary settings database that is closed on cleanup.
func TestDB(t *testing.T) *settings.DB {
	t.Helper()
	db, err := settings.Open(filepath.Join(t.TempDir(), "semdex-test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary vault holding files (path → content).
func TestVault(t *testing.T, files map[string]string) (string, *storage.FS) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir)
	if err != nil {
		t.Fatal(err)
	}
	for p, content := range files {
		WriteFile(t, vaultDir, p, content)
	}
	return vaultDir, store
}

// WriteFile writes content to the vault file rel under root.
func WriteFile(t *testing.T, root, rel, content string) {
	t.Helper()
	if err := storage.WriteFileAtomic(filepath.Join(root, filepath.FromSlash(rel)), []byte(content)); err != nil {
		t.Fatal(err)
	}
}

// RemoveFile deletes the vault file rel under root.
func RemoveFile(t *testing.T, root, rel string) {
	t.Helper()
	if err := os.Remove(filepath.Join(root, filepath.FromSlash(rel))); err != nil {
		t.Fatal(err)
	}
}

// FakeEmbedder is a deterministic in-process Embedder. Each text maps to a
// hashed bag-of-words vector, so texts sharing words score higher.
type FakeEmbedder struct {
	Dims      int
	ModelName string
	// Vectors overrides the vector for exact texts.
	Vectors map[string][]float32
	// Err, when set, is returned by every call.
	Err error

	mu    sync.Mutex
	calls int
	texts int
}

var _ embedding.Embedder = (*FakeEmbedder)(nil)

// NewFakeEmbedder returns a fake producing vectors of length dims.
func NewFakeEmbedder(dims int) *FakeEmbedder {
	return &FakeEmbedder{Dims: dims, ModelName: "fake-embed", Vectors: map[string][]float32{}}
}

// Embed implements embedding.Embedder.
func (f *FakeEmbedder) Embed(ctx context.Context, texts []string, _ embedding.InputType) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.texts += len(texts)
	err := f.Err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.Vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = BagOfWords(t, f.Dims)
	}
	return out, nil
}

// Model implements embedding.Embedder.
func (f *FakeEmbedder) Model() string { return f.ModelName }

// Calls returns how many Embed calls were made.
func (f *FakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Texts returns how many texts were embedded in total.
func (f *FakeEmbedder) Texts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.texts
}

// BagOfWords hashes the lowercase words of s into a dims-long vector.
func BagOfWords(s string, dims int) []float32 {
	v := make([]float32, dims)
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(dims)]++
	}
	return v
}
