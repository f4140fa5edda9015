// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/semdex/internal/api"
	"github.com/starford/semdex/internal/index"
	"github.com/starford/semdex/internal/library"
	"github.com/starford/semdex/internal/mcpserver"
	"github.com/starford/semdex/internal/queue"
	"github.com/starford/semdex/internal/search"
	"github.com/starford/semdex/internal/settings"
	"github.com/starford/semdex/internal/sse"
	"github.com/starford/semdex/internal/storage"
	"github.com/starford/semdex/internal/watcher"
)

// components is everything one vault needs at runtime.
type components struct {
	cfg    *Config
	logger *slog.Logger
	db     *settings.DB
	store  *storage.FS
	idx    *index.Service
	queue  *queue.Queue
	broker *sse.Broker
	svc    *library.Service
}

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if app.logger == nil {
		app.logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: app.config.App.LogLevel,
		}))
	}
	return app, nil
}

func setup(app *application) (*components, error) {
	cfg := app.config
	logger := app.logger
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("state_dir", cfg.Index.StateDir),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	if err := os.MkdirAll(cfg.Index.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := settings.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init settings: %w", err)
	}

	idxCfg, err := settings.LoadIndexConfig(db, cfg.Index.Seed())
	if err != nil {
		logger.Warn("stored index settings unreadable, using config file",
			slog.String("error", err.Error()))
	}

	broker := sse.NewBroker(2 * time.Second)
	idx := index.New(store, cfg.Index.StateDir, idxCfg,
		index.WithLogger(logger),
		index.WithRunRecorder(db),
		index.WithObserver(func(e index.Event) {
			broker.PublishIndexEvent(e.Type, e)
		}))

	q := queue.New(queue.WithLogger(logger), queue.WithCapacity(cfg.Index.QueueCapacity))
	engine := search.New(idx, search.WithLogger(logger))
	svc := library.New(idx, engine,
		library.WithLogger(logger),
		library.WithSettings(db),
		library.WithRunHistory(db),
		library.WithQueue(q))

	logger.Info("Index configured",
		slog.String("library", idxCfg.LibraryKey),
		slog.Bool("enabled", idxCfg.Enabled),
		slog.String("model", idxCfg.Embedding.Model))

	return &components{
		cfg:    cfg,
		logger: logger,
		db:     db,
		store:  store,
		idx:    idx,
		queue:  q,
		broker: broker,
		svc:    svc,
	}, nil
}

func (c *components) close() {
	c.broker.Close()
	if err := c.db.Close(); err != nil {
		c.logger.Warn("settings close failed", slog.String("error", err.Error()))
	}
}

// keepFresh starts the task consumer, the startup resync and the file
// watcher on g.
func (c *components) keepFresh(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		return c.queue.Run(ctx, c.svc.HandleTask)
	})

	if c.cfg.Index.ResyncOnStart {
		g.Go(func() error {
			n, err := c.svc.Resync(ctx)
			if err != nil {
				c.logger.Warn("startup resync failed", slog.String("error", err.Error()))
				return nil
			}
			c.logger.Info("startup resync queued", slog.Int("tasks", n))
			return nil
		})
	}

	if !c.cfg.Index.Watch {
		return
	}
	g.Go(func() error {
		root, err := watcher.RootOf(c.store)
		if err != nil {
			c.logger.Warn("file watching unavailable", slog.String("error", err.Error()))
			return nil
		}
		err = watcher.Watch(ctx, root, c.queue,
			watcher.WithLogger(c.logger),
			watcher.WithFilter(func(rel string) bool {
				return c.idx.Config().InScope(rel)
			}),
			watcher.WithResync(func() {
				if _, err := c.svc.Resync(ctx); err != nil {
					c.logger.Warn("resync failed", slog.String("error", err.Error()))
				}
			}))
		if err != nil {
			c.logger.Error("watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})
}

func writeHealth(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	c, err := setup(app)
	if err != nil {
		return err
	}
	defer c.close()

	cfg := app.config
	logger := c.logger

	apiRouter := api.NewRouter(c.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, c.broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeHealth(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		st := c.idx.Status(req.Context())
		if st.Phase == index.PhaseError {
			writeHealth(w, http.StatusServiceUnavailable, map[string]string{
				"status": "error",
				"error":  st.LastError,
			})
			return
		}
		writeHealth(w, http.StatusOK, map[string]string{"status": "ok", "phase": string(st.Phase)})
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)
	c.keepFresh(gCtx, g)

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group once the server is stopped so the
// background workers exit too.
var errShutdown = errors.New("shutdown")

// ServeMCP serves the MCP tools on stdin/stdout while the index is kept
// fresh in the background.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	c, err := setup(app)
	if err != nil {
		return err
	}
	defer c.close()

	srv := mcpserver.New(c.svc, app.version)

	g, gCtx := errgroup.WithContext(ctx)
	c.keepFresh(gCtx, g)
	g.Go(func() error {
		if err := srv.ServeStdio(); err != nil {
			return fmt.Errorf("mcp: %w", err)
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		return err
	}
	return nil
}

// Rebuild recomputes the index once and exits.
func Rebuild(ctx context.Context, opts ...Option) (index.RebuildResult, error) {
	app, err := newApplication(opts)
	if err != nil {
		return index.RebuildResult{}, err
	}
	c, err := setup(app)
	if err != nil {
		return index.RebuildResult{}, err
	}
	defer c.close()
	return c.svc.Rebuild(ctx)
}

// Search runs one query against the stored index and exits.
func Search(ctx context.Context, q search.Query, opts ...Option) ([]search.Result, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	c, err := setup(app)
	if err != nil {
		return nil, err
	}
	defer c.close()
	return c.svc.Search(ctx, q)
}
