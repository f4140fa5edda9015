package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/starford/semdex/internal/apperr"
	"github.com/starford/semdex/internal/checksum"
	"github.com/starford/semdex/internal/chunker"
	"github.com/starford/semdex/internal/embedding"
	"github.com/starford/semdex/internal/indexconf"
	"github.com/starford/semdex/internal/models"
	"github.com/starford/semdex/internal/statuslog"
	"github.com/starford/semdex/internal/storage"
	"github.com/starford/semdex/internal/vectorstore"
)

// pendingChunk is a chunk waiting for its vector.
type pendingChunk struct {
	id   string
	rec  models.ChunkRecord
	text string
}

// RebuildResult summarizes a full rebuild.
type RebuildResult struct {
	Files   int           `json:"files"`
	Chunks  int           `json:"chunks"`
	Skipped int           `json:"skipped"`
	Dims    int           `json:"dims"`
	Took    time.Duration `json:"took"`
}

// Rebuild discards the index and recomputes it from every eligible file.
// Nothing is written until all embeddings succeeded; the new index then
// replaces the old one in a single directory swap.
func (s *Service) Rebuild(ctx context.Context) (RebuildResult, error) {
	cfg, emb := s.current()
	if !cfg.Enabled {
		return RebuildResult{}, fmt.Errorf("index: rebuild: %w", apperr.ErrDisabled)
	}
	release, err := s.lock.acquire(s.lockPath(cfg))
	if err != nil {
		return RebuildResult{}, err
	}
	defer release()

	start := time.Now()
	log := statuslog.New(filepath.Join(s.libDir(cfg), "index.log"))
	_ = log.Reset("rebuild started: library %s, model %s", cfg.LibraryKey, cfg.Embedding.Model)

	res, err := s.rebuild(ctx, cfg, emb, log)
	res.Took = time.Since(start)
	if err != nil {
		err = fmt.Errorf("index: rebuild: %w", err)
	} else {
		s.emit(Event{Type: EventRebuilt, Files: res.Files, Chunks: res.Chunks})
	}
	s.finish(cfg, "rebuild", "", start, res.Files, res.Chunks, err)
	return res, err
}

func (s *Service) rebuild(ctx context.Context, cfg indexconf.Config, emb embedding.Embedder, log *statuslog.Log) (RebuildResult, error) {
	var res RebuildResult
	s.setPhase(PhaseInit, "")
	if err := yield(ctx); err != nil {
		return res, err
	}

	s.setPhase(PhaseScan, "")
	files, err := s.store.List(cfg)
	if err != nil {
		return res, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	s.setPhase(PhaseChunk, "")
	meta := models.NewMeta(cfg.LibraryKey, cfg.Embedding.Model)
	var pending []pendingChunk
	taken := func(id string) bool { _, ok := meta.Chunks[id]; return ok }
	for i, f := range files {
		if err := yield(ctx); err != nil {
			return res, err
		}
		s.setProgress(i, len(files))

		rec, chunks, err := s.prepareFile(cfg, f, taken)
		if errors.Is(err, apperr.ErrChunkIDExhausted) {
			return res, err
		}
		if err != nil {
			// The file vanished or became unreadable mid-scan.
			s.logger.Warn("index: skip file", slog.String("path", f.Path), slog.String("error", err.Error()))
			_ = log.Printf("skip %s: %v", f.Path, err)
			res.Skipped++
			continue
		}
		for _, c := range chunks {
			meta.Chunks[c.id] = c.rec
		}
		meta.Files[f.Path] = rec
		pending = append(pending, chunks...)
	}

	s.setPhase(PhaseEmbed, "")
	vectors, dims, err := s.embedPending(ctx, cfg, emb, 0, pending)
	if err != nil {
		return res, err
	}
	for i, c := range pending {
		c.rec.VectorOffset = i * dims
		meta.Chunks[c.id] = c.rec
	}
	meta.Dims = dims

	s.setPhase(PhaseWrite, "")
	dir := s.indexDir(cfg)
	tmp := dir + ".tmp"
	_ = os.RemoveAll(tmp)
	if err := vectorstore.WriteFull(tmp, meta, vectors); err != nil {
		_ = os.RemoveAll(tmp)
		return res, err
	}
	if err := vectorstore.AtomicSwap(tmp, dir); err != nil {
		_ = os.RemoveAll(tmp)
		return res, err
	}
	if err := s.publish(&vectorstore.Store{Meta: meta, Vectors: vectors}); err != nil {
		return res, err
	}

	res.Files = len(meta.Files)
	res.Chunks = len(meta.Chunks)
	res.Dims = dims
	return res, nil
}

// prepareFile fingerprints and chunks one file. Oversized files get a
// record with no chunks.
func (s *Service) prepareFile(cfg indexconf.Config, f models.FileInfo, taken func(string) bool) (models.FileRecord, []pendingChunk, error) {
	rec := models.FileRecord{MtimeMs: f.ModTime.UnixMilli(), Size: f.Size, ChunkIDs: []string{}}
	if f.Size > MaxFileBytes {
		s.logger.Warn("index: file over size ceiling, not chunked",
			slog.String("path", f.Path), slog.Int64("size", f.Size))
		return rec, nil, nil
	}

	data, err := s.store.Read(f.Path)
	if err != nil {
		return rec, nil, err
	}
	fp := checksum.Of(data)
	rec.Size, rec.Hash = fp.Size, fp.Hash
	if fp.Size > MaxFileBytes {
		rec.Hash = ""
		return rec, nil, nil
	}

	chunks := chunker.Split(storage.DecodeText(data), chunker.ParamsFrom(cfg.Chunk))
	ids, err := chunker.AssignIDs(f.Path, chunks, taken)
	if err != nil {
		return rec, nil, err
	}
	out := make([]pendingChunk, len(chunks))
	for i, c := range chunks {
		out[i] = pendingChunk{
			id:   ids[i],
			text: c.Text,
			rec: models.ChunkRecord{
				RelativePath: f.Path,
				Heading:      c.Heading,
				StartLine:    c.StartLine,
				EndLine:      c.EndLine,
			},
		}
	}
	rec.ChunkIDs = ids
	return rec, out, nil
}

// embedPending embeds every pending chunk and returns the flat buffer of
// their vectors, in order. dims seeds the expected dimensionality.
func (s *Service) embedPending(ctx context.Context, cfg indexconf.Config, emb embedding.Embedder, dims int, pending []pendingChunk) ([]float32, int, error) {
	if len(pending) == 0 {
		return nil, dims, nil
	}
	texts := make([]string, len(pending))
	for i, c := range pending {
		texts[i] = c.text
	}

	sess := embedding.NewSession(emb, cfg.Embedding.BatchSize, dims)
	sess.OnBatch = func(ctx context.Context, done, total int) error {
		s.setProgress(done, total)
		return yield(ctx)
	}
	vecs, err := sess.EmbedAll(ctx, texts, embedding.InputDocument)
	if err != nil {
		return nil, 0, err
	}

	d := sess.Dims()
	flat := make([]float32, 0, len(vecs)*d)
	for _, v := range vecs {
		flat = append(flat, v...)
	}
	return flat, d, nil
}
