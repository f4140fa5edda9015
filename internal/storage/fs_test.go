package storage

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/starford/semdex/internal/apperr"
)

func tempVault(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

type extFilter struct {
	skipDir string
	ext     string
}

// put seeds the vault directly; the provider itself is read-only.
func put(t *testing.T, s *FS, rel string, data []byte) {
	t.Helper()
	if err := WriteFileAtomic(filepath.Join(s.Root(), filepath.FromSlash(rel)), data); err != nil {
		t.Fatal(err)
	}
}

func (f extFilter) MayContain(dir string) bool { return dir != f.skipDir }
func (f extFilter) InScope(rel string) bool    { return filepath.Ext(rel) == f.ext }

func TestRead(t *testing.T) {
	s := tempVault(t)
	content := []byte("# Hello\nWorld\n")
	put(t, s, "a/b/note.md", content)
	got, err := s.Read("a/b/note.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestStat(t *testing.T) {
	s := tempVault(t)
	put(t, s, "sub/x.md", []byte("12345"))

	info, err := s.Stat("sub/x.md")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size != 5 || info.Path != "sub/x.md" {
		t.Errorf("info = %+v", info)
	}

	if _, err := s.Stat("missing.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing file: err = %v, want ErrNotFound", err)
	}
	if _, err := s.Stat("sub"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("directory: err = %v, want ErrNotFound", err)
	}
}

func TestRead_Removed(t *testing.T) {
	s := tempVault(t)
	put(t, s, "del.md", []byte("bye"))
	if err := os.Remove(filepath.Join(s.Root(), "del.md")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Read("del.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound reading removed file, got %v", err)
	}
}

func TestList(t *testing.T) {
	s := tempVault(t)
	put(t, s, "a.md", []byte("a"))
	put(t, s, "sub/b.md", []byte("b"))
	put(t, s, "skip/c.md", []byte("c"))
	put(t, s, ".hidden/d.md", []byte("d"))
	put(t, s, "readme.txt", []byte("not md"))

	items, err := s.List(extFilter{skipDir: "skip", ext: ".md"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var paths []string
	for _, it := range items {
		paths = append(paths, it.Path)
	}
	sort.Strings(paths)
	if len(paths) != 2 || paths[0] != "a.md" || paths[1] != "sub/b.md" {
		t.Errorf("paths = %v", paths)
	}

	all, err := s.List(nil)
	if err != nil {
		t.Fatalf("List(nil): %v", err)
	}
	if len(all) != 4 {
		t.Errorf("unfiltered len = %d, want 4", len(all))
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempVault(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if _, err := s.Stat(p); err == nil {
			t.Errorf("expected error for stat of %q", p)
		}
	}
}

func TestWriteFileAtomic_NoLeftovers(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "vectors.f32")
	if err := WriteFileAtomic(target, []byte("one")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteFileAtomic(target, []byte("two")); err != nil {
		t.Fatalf("second write: %v", err)
	}
	got, _ := os.ReadFile(target)
	if string(got) != "two" {
		t.Errorf("content = %q", got)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "nested", ".semdex-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp(t.TempDir(), "semdex-test-*")
	_ = f.Close()
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
