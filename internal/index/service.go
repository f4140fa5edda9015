// Package index owns the on-disk semantic index: full rebuilds, per-file
// incremental updates and the cached, read-only snapshot used by search.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/starford/semdex/internal/apperr"
	"github.com/starford/semdex/internal/embedding"
	"github.com/starford/semdex/internal/indexconf"
	"github.com/starford/semdex/internal/models"
	"github.com/starford/semdex/internal/settings"
	"github.com/starford/semdex/internal/statuslog"
	"github.com/starford/semdex/internal/storage"
	"github.com/starford/semdex/internal/vectorstore"
)

// MaxFileBytes is the size ceiling above which a file is recorded with zero
// chunks instead of being read.
const MaxFileBytes = 2 << 20

// EmbedderFactory builds the embedder for a configuration.
type EmbedderFactory func(cfg indexconf.Config) embedding.Embedder

// RunRecorder receives one record per finished mutating operation.
type RunRecorder interface {
	RecordRun(namespace string, r settings.Run) error
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithEmbedderFactory replaces the default HTTP embedding client.
func WithEmbedderFactory(f EmbedderFactory) Option {
	return func(s *Service) { s.newEmbedder = f }
}

// WithRunRecorder stores the history of mutating operations.
func WithRunRecorder(r RunRecorder) Option {
	return func(s *Service) { s.runs = r }
}

// WithObserver registers a callback for index events. It runs synchronously
// and must not block.
func WithObserver(fn func(Event)) Option {
	return func(s *Service) { s.observer = fn }
}

// Service is the single writer of one library's index.
type Service struct {
	store       storage.Provider
	stateDir    string
	logger      *slog.Logger
	newEmbedder EmbedderFactory
	runs        RunRecorder
	observer    func(Event)
	lock        writeLock

	mu    sync.RWMutex // guards cfg, emb, cache, gen
	cfg   indexconf.Config
	emb   embedding.Embedder
	cache *vectorstore.Store
	gen   uint64

	stMu     sync.Mutex
	phase    Phase
	lastErr  string
	progress Progress
}

// New creates a service for store, keeping index files under stateDir.
func New(store storage.Provider, stateDir string, cfg indexconf.Config, opts ...Option) *Service {
	s := &Service{
		store:    store,
		stateDir: stateDir,
		logger:   slog.Default(),
		newEmbedder: func(c indexconf.Config) embedding.Embedder {
			return embedding.NewClient(c, nil)
		},
		phase: PhaseIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cfg = indexconf.Normalize(cfg)
	s.emb = s.newEmbedder(s.cfg)
	return s
}

// Config returns the active configuration.
func (s *Service) Config() indexconf.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Embedder returns the embedder of the active configuration.
func (s *Service) Embedder() embedding.Embedder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.emb
}

// Storage returns the vault provider.
func (s *Service) Storage() storage.Provider { return s.store }

// UpdateConfig normalizes and activates cfg. The cached snapshot is dropped
// so the next access re-validates the stored model and schema.
func (s *Service) UpdateConfig(cfg indexconf.Config) indexconf.Config {
	cfg = indexconf.Normalize(cfg)
	emb := s.newEmbedder(cfg)

	s.mu.Lock()
	s.cfg = cfg
	s.emb = emb
	s.cache = nil
	s.gen++
	s.mu.Unlock()

	s.logger.Info("index: config updated",
		slog.String("library", cfg.LibraryKey),
		slog.String("provider", cfg.Embedding.Provider),
		slog.String("model", cfg.Embedding.Model))
	return cfg
}

func (s *Service) current() (indexconf.Config, embedding.Embedder) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.emb
}

func (s *Service) libDir(cfg indexconf.Config) string {
	return filepath.Join(s.stateDir, cfg.LibraryKey)
}

func (s *Service) indexDir(cfg indexconf.Config) string {
	return filepath.Join(s.libDir(cfg), "index")
}

func (s *Service) lockPath(cfg indexconf.Config) string {
	return filepath.Join(s.stateDir, cfg.LibraryKey+".lock")
}

// Log returns the human-readable log of the active library.
func (s *Service) Log() *statuslog.Log {
	return statuslog.New(filepath.Join(s.libDir(s.Config()), "index.log"))
}

// EnsureLoaded returns the current snapshot, loading it from disk on first
// use. The snapshot must be treated as read-only. A missing index yields
// apperr.ErrNotFound; an index built with another schema or model yields
// apperr.ErrSchemaMismatch or apperr.ErrModelMismatch.
func (s *Service) EnsureLoaded(ctx context.Context) (*vectorstore.Store, error) {
	s.mu.RLock()
	cached, cfg, gen := s.cache, s.cfg, s.gen
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st, err := vectorstore.Load(s.indexDir(cfg))
	if err != nil {
		return nil, err
	}
	if err := compatible(st.Meta, cfg); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.cache == nil && s.gen == gen {
		s.cache = st
	}
	s.mu.Unlock()
	return st, nil
}

func compatible(meta *models.Meta, cfg indexconf.Config) error {
	if meta.SchemaVersion != models.SchemaVersion {
		return fmt.Errorf("index: stored schema %d, current %d: %w",
			meta.SchemaVersion, models.SchemaVersion, apperr.ErrSchemaMismatch)
	}
	if meta.EmbeddingModel != cfg.Embedding.Model {
		return fmt.Errorf("index: stored model %q, configured %q: %w",
			meta.EmbeddingModel, cfg.Embedding.Model, apperr.ErrModelMismatch)
	}
	return nil
}

// publish replaces the cached snapshot. Callers hold the write lock. A
// snapshot that no longer matches the active configuration, because it was
// changed while the write ran, is not cached; readers then reload from disk
// and hit the regular compatibility check.
func (s *Service) publish(st *vectorstore.Store) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.cache = nil
	if st == nil {
		return nil
	}
	if st.Meta.LibraryKey != s.cfg.LibraryKey {
		return nil
	}
	if err := compatible(st.Meta, s.cfg); err != nil {
		return fmt.Errorf("index: configuration changed during write: %w", err)
	}
	s.cache = st
	return nil
}

// Clear removes the index of the active library.
func (s *Service) Clear(ctx context.Context) error {
	cfg, _ := s.current()
	release, err := s.lock.acquire(s.lockPath(cfg))
	if err != nil {
		return err
	}
	defer release()

	start := time.Now()
	err = ctx.Err()
	if err == nil {
		err = vectorstore.Remove(s.indexDir(cfg))
	}
	if err == nil {
		_ = s.publish(nil)
		s.emit(Event{Type: EventCleared})
	}
	s.finish(cfg, "clear", "", start, 0, 0, err)
	return err
}

// finish records the outcome of a mutating operation.
func (s *Service) finish(cfg indexconf.Config, op, relPath string, start time.Time, files, chunks int, err error) {
	took := time.Since(start)
	log := statuslog.New(filepath.Join(s.libDir(cfg), "index.log"))
	run := settings.Run{
		Op:         op,
		Path:       relPath,
		StartedAt:  start,
		DurationMs: took.Milliseconds(),
		Files:      files,
		Chunks:     chunks,
	}

	if err != nil {
		run.Error = err.Error()
		s.setPhase(PhaseError, err.Error())
		s.logger.Error("index: "+op+" failed",
			slog.String("path", relPath),
			slog.String("error", err.Error()))
		_ = log.Printf("%s %s failed: %v", op, relPath, err)
		s.emit(Event{Type: EventError, Path: relPath, Error: err.Error()})
	} else {
		s.setPhase(PhaseIdle, "")
		s.logger.Info("index: "+op+" done",
			slog.String("path", relPath),
			slog.Int("files", files),
			slog.Int("chunks", chunks),
			slog.Duration("took", took))
		_ = log.Printf("%s %s done: %d files, %d chunks in %s", op, relPath, files, chunks, took.Round(time.Millisecond))
	}

	if s.runs != nil {
		if rerr := s.runs.RecordRun(cfg.LibraryKey, run); rerr != nil {
			s.logger.Warn("index: record run failed", slog.String("error", rerr.Error()))
		}
	}
}

// yield gives other goroutines a turn between iterations of long loops and
// reports cancellation. The write lock stays held.
func yield(ctx context.Context) error {
	runtime.Gosched()
	return ctx.Err()
}

// cleanPath turns user or watcher input into a vault-relative slash path.
func cleanPath(p string) (string, error) {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	if p == "" || p == "." {
		return "", fmt.Errorf("index: empty path: %w", apperr.ErrOutOfScope)
	}
	return p, nil
}

// loadForWrite returns the current snapshot or an empty one when no index
// exists yet. Incompatible indexes are fatal.
func (s *Service) loadForWrite(ctx context.Context, cfg indexconf.Config) (*vectorstore.Store, error) {
	st, err := s.EnsureLoaded(ctx)
	if errors.Is(err, apperr.ErrNotFound) {
		return &vectorstore.Store{Meta: models.NewMeta(cfg.LibraryKey, cfg.Embedding.Model)}, nil
	}
	return st, err
}
