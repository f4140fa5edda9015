package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/starford/semdex/internal/apperr"
	"github.com/starford/semdex/internal/checksum"
	"github.com/starford/semdex/internal/embedding"
	"github.com/starford/semdex/internal/indexconf"
	"github.com/starford/semdex/internal/models"
	"github.com/starford/semdex/internal/vectorstore"
)

// Outcome says what an incremental operation did.
type Outcome string

// Outcomes.
const (
	OutcomeIndexed    Outcome = "indexed"
	OutcomeRemoved    Outcome = "removed"
	OutcomeUnchanged  Outcome = "unchanged"
	OutcomeDisabled   Outcome = "disabled"
	OutcomeOutOfScope Outcome = "out_of_scope"
)

// FileResult reports an incremental operation on one file.
type FileResult struct {
	Path    string  `json:"path"`
	Outcome Outcome `json:"outcome"`
	Chunks  int     `json:"chunks"`
}

// Upsert brings one file's entries up to date. Disabled indexing and paths
// outside the configured scope are no-ops; an index built with another
// schema or model is fatal until rebuilt. A missing file is removed. An
// unchanged file (same size and hash) is skipped unless force is set.
//
// Either the whole file is re-indexed or the index is left as it was.
func (s *Service) Upsert(ctx context.Context, relPath string, force bool) (FileResult, error) {
	cfg, emb := s.current()
	rel, err := cleanPath(relPath)
	if err != nil {
		return FileResult{Path: relPath, Outcome: OutcomeOutOfScope}, nil
	}
	res := FileResult{Path: rel}
	if !cfg.Enabled {
		res.Outcome = OutcomeDisabled
		return res, nil
	}
	if !cfg.InScope(rel) {
		res.Outcome = OutcomeOutOfScope
		return res, nil
	}

	release, err := s.lock.acquire(s.lockPath(cfg))
	if err != nil {
		return res, err
	}
	defer release()

	start := time.Now()
	cur, err := s.loadForWrite(ctx, cfg)
	if err != nil {
		err = fmt.Errorf("index: upsert %s: %w", rel, err)
		s.finish(cfg, "upsert", rel, start, 0, 0, err)
		return res, err
	}

	info, err := s.store.Stat(rel)
	if errors.Is(err, apperr.ErrNotFound) {
		return s.removeLocked(ctx, cfg, cur, rel, start)
	}
	if err != nil {
		err = fmt.Errorf("index: upsert %s: %w", rel, err)
		s.finish(cfg, "upsert", rel, start, 0, 0, err)
		return res, err
	}
	info.Path = rel

	if prev, had := cur.Meta.Files[rel]; had && !force && s.unchanged(prev, info) {
		res.Outcome = OutcomeUnchanged
		return res, nil
	}

	res, err = s.upsertLocked(ctx, cfg, emb, cur, info)
	if err != nil {
		err = fmt.Errorf("index: upsert %s: %w", rel, err)
	}
	s.finish(cfg, "upsert", rel, start, 1, res.Chunks, err)
	if err == nil {
		s.emit(Event{Type: EventFileIndexed, Path: rel, Chunks: res.Chunks})
	}
	return res, err
}

func (s *Service) upsertLocked(ctx context.Context, cfg indexconf.Config, emb embedding.Embedder, cur *vectorstore.Store, info models.FileInfo) (FileResult, error) {
	rel := info.Path
	res := FileResult{Path: rel}

	meta := cur.Meta.Clone()
	meta.RemoveFile(rel)
	taken := func(id string) bool { _, ok := meta.Chunks[id]; return ok }

	rec, pending, err := s.prepareFile(cfg, info, taken)
	if err != nil {
		return res, err
	}
	if err := yield(ctx); err != nil {
		return res, err
	}

	added, dims, err := s.embedPending(ctx, cfg, emb, cur.Meta.Dims, pending)
	if err != nil {
		return res, err
	}
	base := len(cur.Vectors)
	for i, c := range pending {
		c.rec.VectorOffset = base + i*dims
		meta.Chunks[c.id] = c.rec
	}
	if dims > 0 {
		meta.Dims = dims
	}
	meta.Files[rel] = rec
	meta.Touch()

	buf, err := vectorstore.Append(s.indexDir(cfg), meta, cur.Vectors, added)
	if err != nil {
		return res, err
	}
	if err := s.publish(&vectorstore.Store{Meta: meta, Vectors: buf}); err != nil {
		return res, err
	}

	res.Outcome = OutcomeIndexed
	res.Chunks = len(pending)
	return res, nil
}

// unchanged compares the stored fingerprint with the file on disk. Files over
// the size ceiling are never hashed, so size and mtime stand in for them.
func (s *Service) unchanged(prev models.FileRecord, info models.FileInfo) bool {
	if prev.Size != info.Size {
		return false
	}
	if info.Size > MaxFileBytes {
		return prev.Hash == "" && prev.MtimeMs == info.ModTime.UnixMilli()
	}
	data, err := s.store.Read(info.Path)
	if err != nil {
		return false
	}
	return checksum.Of(data).Equal(checksum.Fingerprint{Size: prev.Size, Hash: prev.Hash})
}

// Delete removes one file's entries. Vector rows are left in place.
func (s *Service) Delete(ctx context.Context, relPath string) (FileResult, error) {
	cfg, _ := s.current()
	rel, err := cleanPath(relPath)
	if err != nil {
		return FileResult{Path: relPath, Outcome: OutcomeOutOfScope}, nil
	}
	if !cfg.Enabled {
		return FileResult{Path: rel, Outcome: OutcomeDisabled}, nil
	}

	release, err := s.lock.acquire(s.lockPath(cfg))
	if err != nil {
		return FileResult{Path: rel}, err
	}
	defer release()

	start := time.Now()
	cur, err := s.loadForWrite(ctx, cfg)
	if err != nil {
		err = fmt.Errorf("index: delete %s: %w", rel, err)
		s.finish(cfg, "delete", rel, start, 0, 0, err)
		return FileResult{Path: rel}, err
	}
	return s.removeLocked(ctx, cfg, cur, rel, start)
}

func (s *Service) removeLocked(ctx context.Context, cfg indexconf.Config, cur *vectorstore.Store, rel string, start time.Time) (FileResult, error) {
	res := FileResult{Path: rel, Outcome: OutcomeUnchanged}
	if _, ok := cur.Meta.Files[rel]; !ok {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	meta := cur.Meta.Clone()
	meta.RemoveFile(rel)
	meta.Touch()
	err := vectorstore.WriteMeta(s.indexDir(cfg), meta, cur.Vectors)
	if err == nil {
		res.Outcome = OutcomeRemoved
		err = s.publish(&vectorstore.Store{Meta: meta, Vectors: cur.Vectors})
	}
	if err != nil {
		err = fmt.Errorf("index: delete %s: %w", rel, err)
	} else {
		s.emit(Event{Type: EventFileRemoved, Path: rel})
	}
	s.finish(cfg, "delete", rel, start, 1, 0, err)
	return res, err
}
