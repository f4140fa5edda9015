// Package library is the application layer over one indexed vault. The HTTP
// API, the MCP server and the CLI all go through it.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/starford/semdex/internal/apperr"
	"github.com/starford/semdex/internal/docinfo"
	"github.com/starford/semdex/internal/index"
	"github.com/starford/semdex/internal/indexconf"
	"github.com/starford/semdex/internal/models"
	"github.com/starford/semdex/internal/search"
	"github.com/starford/semdex/internal/settings"
	"github.com/starford/semdex/internal/storage"
)

// MaskedKey replaces a configured API key in settings responses.
const MaskedKey = "********"

// RunLister reads the run history of a library.
type RunLister interface {
	Runs(namespace string, limit int) ([]settings.Run, error)
}

// TaskQueue accepts background index tasks.
type TaskQueue interface {
	PushAll(tasks []models.Task) int
	Len() int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithSettings persists configuration changes.
func WithSettings(st settings.Store) Option {
	return func(s *Service) { s.settings = st }
}

// WithRunHistory exposes the run history in status reports.
func WithRunHistory(r RunLister) Option {
	return func(s *Service) { s.runs = r }
}

// WithQueue routes resyncs through q and reports its backlog.
func WithQueue(q TaskQueue) Option {
	return func(s *Service) { s.queue = q }
}

// Service coordinates indexing, search and settings for one vault.
type Service struct {
	idx      *index.Service
	engine   *search.Engine
	logger   *slog.Logger
	settings settings.Store
	runs     RunLister
	queue    TaskQueue
}

// New creates the application service.
func New(idx *index.Service, engine *search.Engine, opts ...Option) *Service {
	s := &Service{idx: idx, engine: engine, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Index returns the underlying index service.
func (s *Service) Index() *index.Service { return s.idx }

// Search runs a semantic query.
func (s *Service) Search(ctx context.Context, q search.Query) ([]search.Result, error) {
	return s.engine.Search(ctx, q)
}

// StatusReport is the full state shown to operators.
type StatusReport struct {
	index.Status
	Pending int            `json:"pending"`
	Runs    []settings.Run `json:"runs"`
	Log     []string       `json:"log"`
}

// Status reports the index state, queue backlog, recent runs and the tail of
// the index log.
func (s *Service) Status(ctx context.Context, history int) StatusReport {
	rep := StatusReport{Status: s.idx.Status(ctx), Runs: []settings.Run{}, Log: []string{}}
	if s.queue != nil {
		rep.Pending = s.queue.Len()
	}
	if history <= 0 {
		return rep
	}
	if s.runs != nil {
		runs, err := s.runs.Runs(rep.LibraryKey, history)
		if err != nil {
			s.logger.Warn("library: list runs failed", slog.String("error", err.Error()))
		} else if runs != nil {
			rep.Runs = runs
		}
	}
	lines, err := s.idx.Log().Tail(history)
	if err != nil {
		s.logger.Warn("library: read index log failed", slog.String("error", err.Error()))
	} else if lines != nil {
		rep.Log = lines
	}
	return rep
}

// Rebuild recomputes the whole index.
func (s *Service) Rebuild(ctx context.Context) (index.RebuildResult, error) {
	return s.idx.Rebuild(ctx)
}

// Reindex re-embeds one file even if it is unchanged.
func (s *Service) Reindex(ctx context.Context, relPath string) (index.FileResult, error) {
	return s.idx.Upsert(ctx, relPath, true)
}

// Remove drops one file from the index. The file itself is untouched.
func (s *Service) Remove(ctx context.Context, relPath string) (index.FileResult, error) {
	return s.idx.Delete(ctx, relPath)
}

// Clear deletes the index of the active library.
func (s *Service) Clear(ctx context.Context) error {
	return s.idx.Clear(ctx)
}

// HandleTask applies one queued task. It is the queue consumer.
func (s *Service) HandleTask(ctx context.Context, t models.Task) error {
	var (
		res index.FileResult
		err error
	)
	switch t.Op {
	case models.OpUpsert:
		res, err = s.idx.Upsert(ctx, t.RelativePath, false)
	case models.OpDelete:
		res, err = s.idx.Delete(ctx, t.RelativePath)
	default:
		return fmt.Errorf("library: unknown task op %q: %w", t.Op, apperr.ErrInvalidInput)
	}
	if err != nil {
		return err
	}
	s.logger.Debug("library: task done",
		slog.String("op", string(t.Op)),
		slog.String("path", res.Path),
		slog.String("outcome", string(res.Outcome)))
	return nil
}

// Resync compares the vault with the index and enqueues the differences.
// Without a queue the tasks run inline. A missing index is built up file by
// file; an incompatible one is reported.
func (s *Service) Resync(ctx context.Context) (int, error) {
	tasks, err := s.idx.Reconcile(ctx)
	if err != nil {
		return 0, err
	}
	if s.queue == nil {
		for _, t := range tasks {
			if err := s.HandleTask(ctx, t); err != nil {
				return 0, err
			}
		}
		return len(tasks), nil
	}
	return s.queue.PushAll(tasks), nil
}

// Settings returns the active configuration with the API key masked.
func (s *Service) Settings() indexconf.Config {
	return mask(s.idx.Config())
}

// UpdateSettings merges patch into the active configuration, persists it and
// activates it. The library key cannot be changed this way. Sending the
// masked key back keeps the stored one.
func (s *Service) UpdateSettings(patch map[string]any) (indexconf.Config, error) {
	cur := s.idx.Config()
	next := indexconf.Merge(cur, patch)
	next.LibraryKey = cur.LibraryKey
	if next.Embedding.APIKey == MaskedKey {
		next.Embedding.APIKey = cur.Embedding.APIKey
	}
	if err := next.Validate(); err != nil {
		return mask(cur), fmt.Errorf("library: settings: %v: %w", err, apperr.ErrInvalidInput)
	}
	if s.settings != nil {
		if err := settings.SaveIndexConfig(s.settings, next); err != nil {
			return mask(cur), fmt.Errorf("library: save settings: %w", err)
		}
	}
	next = s.idx.UpdateConfig(next)
	if next.Embedding.Model != cur.Embedding.Model {
		s.logger.Warn("library: embedding model changed, rebuild required",
			slog.String("from", cur.Embedding.Model),
			slog.String("to", next.Embedding.Model))
	}
	return mask(next), nil
}

func mask(c indexconf.Config) indexconf.Config {
	if c.Embedding.APIKey != "" {
		c.Embedding.APIKey = MaskedKey
	}
	return c
}

// ChunkRef locates one indexed chunk of a document.
type ChunkRef struct {
	ID        string `json:"id"`
	Heading   string `json:"heading,omitempty"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
}

// Document is a vault file with its metadata and index entries.
type Document struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	docinfo.Info
	Indexed bool       `json:"indexed"`
	Chunks  []ChunkRef `json:"chunks"`
}

// ReadDocument returns the current content of a vault file together with the
// chunks the index holds for it.
func (s *Service) ReadDocument(ctx context.Context, relPath string) (*Document, error) {
	rel := strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(relPath, "\\", "/")), "/")
	if rel == "" || rel == "." {
		return nil, fmt.Errorf("library: path is required: %w", apperr.ErrInvalidInput)
	}
	text, err := storage.ReadText(s.idx.Storage(), rel)
	if err != nil {
		return nil, err
	}
	doc := &Document{Path: rel, Content: text, Info: docinfo.Describe(text), Chunks: []ChunkRef{}}

	st, err := s.idx.EnsureLoaded(ctx)
	switch {
	case err == nil:
		if rec, ok := st.Meta.Files[rel]; ok {
			doc.Indexed = true
			for _, id := range rec.ChunkIDs {
				c := st.Meta.Chunks[id]
				doc.Chunks = append(doc.Chunks, ChunkRef{ID: id, Heading: c.Heading, StartLine: c.StartLine, EndLine: c.EndLine})
			}
		}
	case errors.Is(err, apperr.ErrNotFound), apperr.NeedsRebuild(err):
	default:
		return nil, err
	}
	return doc, nil
}
