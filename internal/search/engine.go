// Package search ranks indexed chunks against a query and builds context
// snippets from the current file contents.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/starford/semdex/internal/apperr"
	"github.com/starford/semdex/internal/chunker"
	"github.com/starford/semdex/internal/embedding"
	"github.com/starford/semdex/internal/indexconf"
	"github.com/starford/semdex/internal/storage"
	"github.com/starford/semdex/internal/vectorstore"
)

const defaultCacheSize = 256

// Source gives read access to the index. *index.Service satisfies it.
type Source interface {
	EnsureLoaded(ctx context.Context) (*vectorstore.Store, error)
	Config() indexconf.Config
	Embedder() embedding.Embedder
	Storage() storage.Provider
}

// Query is a search request. Zero values fall back to the configured
// defaults.
type Query struct {
	Text            string
	TopK            int
	MinScore        *float64
	MaxContextChars int
}

// Result is one ranked hit. StartLine and EndLine are the 1-based bounds of
// the snippet window.
type Result struct {
	Path      string  `json:"path"`
	Heading   string  `json:"heading,omitempty"`
	ChunkID   string  `json:"chunkId"`
	Score     float64 `json:"score"`
	StartLine int     `json:"startLine"`
	EndLine   int     `json:"endLine"`
	Snippet   string  `json:"snippet"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithCacheSize sets how many query vectors are kept. Zero disables the cache.
func WithCacheSize(n int) Option {
	return func(e *Engine) { e.cacheSize = n }
}

// Engine answers queries against a Source.
type Engine struct {
	src       Source
	logger    *slog.Logger
	cacheSize int
	cache     *lru.Cache[string, []float32]
}

// New creates an engine.
func New(src Source, opts ...Option) *Engine {
	e := &Engine{src: src, logger: slog.Default(), cacheSize: defaultCacheSize}
	for _, opt := range opts {
		opt(e)
	}
	if e.cacheSize > 0 {
		c, err := lru.New[string, []float32](e.cacheSize)
		if err == nil {
			e.cache = c
		}
	}
	return e
}

type hit struct {
	id     string
	offset int
	score  float64
}

// Search embeds the query, ranks every live chunk by cosine similarity and
// returns up to TopK results with a score of at least MinScore, best first.
// Hits whose snippet windows coincide are reported once.
func (e *Engine) Search(ctx context.Context, q Query) ([]Result, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, fmt.Errorf("search: empty query: %w", apperr.ErrInvalidInput)
	}
	cfg := e.src.Config()
	if !cfg.Enabled {
		return nil, fmt.Errorf("search: %w", apperr.ErrDisabled)
	}
	topK, minScore, budget := resolve(cfg.Search, q)

	st, err := e.src.EnsureLoaded(ctx)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(st.Meta.Chunks) == 0 {
		return []Result{}, nil
	}

	qv, err := e.queryVector(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(qv) != st.Meta.Dims {
		return nil, fmt.Errorf("search: query has %d dims, index has %d: %w",
			len(qv), st.Meta.Dims, apperr.ErrDimensionMismatch)
	}

	hits := rank(st, qv, minScore)
	return e.collect(ctx, cfg, st, hits, topK, budget), nil
}

func resolve(def indexconf.SearchConfig, q Query) (topK int, minScore float64, budget int) {
	topK, minScore, budget = def.TopK, def.MinScore, def.MaxContextChars
	if q.TopK > 0 {
		topK = min(max(q.TopK, indexconf.MinTopK), indexconf.MaxTopK)
	}
	if q.MinScore != nil && !math.IsNaN(*q.MinScore) {
		minScore = math.Max(-1, math.Min(1, *q.MinScore))
	}
	if q.MaxContextChars > 0 {
		budget = max(q.MaxContextChars, indexconf.MinContextChars)
	}
	return topK, minScore, budget
}

func (e *Engine) queryVector(ctx context.Context, text string) ([]float32, error) {
	emb := e.src.Embedder()
	key := emb.Model() + "\x00" + text
	if e.cache != nil {
		if v, ok := e.cache.Get(key); ok {
			return v, nil
		}
	}
	out, err := emb.Embed(ctx, []string{text}, embedding.InputQuery)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("query embedding: got %d vectors: %w", len(out), apperr.ErrEmbedding)
	}
	if e.cache != nil {
		e.cache.Add(key, out[0])
	}
	return out[0], nil
}

// rank scores every chunk and orders them by score, ties in vector order.
func rank(st *vectorstore.Store, qv []float32, minScore float64) []hit {
	dims := st.Meta.Dims
	hits := make([]hit, 0, len(st.Meta.Chunks))
	for id, c := range st.Meta.Chunks {
		score := vectorstore.Cosine(qv, vectorstore.Row(st.Vectors, c.VectorOffset, dims))
		if score < minScore {
			continue
		}
		hits = append(hits, hit{id: id, offset: c.VectorOffset, score: score})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].offset < hits[j].offset })
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	return hits
}

func (e *Engine) collect(ctx context.Context, cfg indexconf.Config, st *vectorstore.Store, hits []hit, topK, budget int) []Result {
	params := chunker.ParamsFrom(cfg.Chunk)
	docs := map[string]*document{}
	seen := map[string]struct{}{}
	out := make([]Result, 0, topK)

	for _, h := range hits {
		if len(out) >= topK || ctx.Err() != nil {
			break
		}
		c := st.Meta.Chunks[h.id]
		doc, ok := docs[c.RelativePath]
		if !ok {
			doc = e.load(c.RelativePath, params)
			docs[c.RelativePath] = doc
		}
		if doc == nil {
			continue
		}
		sn, ok := doc.snippet(c.StartLine, c.EndLine, budget)
		if !ok {
			continue
		}
		key := fmt.Sprintf("%s:%d-%d", c.RelativePath, sn.start, sn.end)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, Result{
			Path:      c.RelativePath,
			Heading:   c.Heading,
			ChunkID:   h.id,
			Score:     h.score,
			StartLine: sn.start,
			EndLine:   sn.end,
			Snippet:   sn.text,
		})
	}
	return out
}

// load reads a file fresh. Unreadable files yield nil and are skipped.
func (e *Engine) load(relPath string, p chunker.Params) *document {
	text, err := storage.ReadText(e.src.Storage(), relPath)
	if err != nil {
		e.logger.Warn("search: read failed", slog.String("path", relPath), slog.String("error", err.Error()))
		return nil
	}
	lines := chunker.SplitLines(text)
	return &document{lines: lines, blocks: chunker.Blocks(lines, p)}
}
