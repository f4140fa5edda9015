package library

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/starford/semdex/internal/apperr"
	"github.com/starford/semdex/internal/embedding"
	"github.com/starford/semdex/internal/index"
	"github.com/starford/semdex/internal/indexconf"
	"github.com/starford/semdex/internal/models"
	"github.com/starford/semdex/internal/queue"
	"github.com/starford/semdex/internal/search"
	"github.com/starford/semdex/internal/settings"
	"github.com/starford/semdex/internal/testutil"
)

var vault = map[string]string{
	"notes/a.md": "---\ntitle: Alpha\n---\n## One\n\nfirst note #draft\n",
	"notes/b.md": "## Two\n\nsecond note\n",
}

func newService(t *testing.T, opts ...Option) (*Service, *settings.DB) {
	t.Helper()
	_, store := testutil.TestVault(t, vault)
	db := testutil.TestDB(t)
	emb := testutil.NewFakeEmbedder(16)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	cfg := indexconf.Defaults()
	cfg.Embedding.Model = emb.Model()
	cfg.Embedding.APIKey = "sk-secret"
	idx := index.New(store, t.TempDir(), cfg,
		index.WithLogger(logger),
		index.WithRunRecorder(db),
		index.WithEmbedderFactory(func(indexconf.Config) embedding.Embedder { return emb }))
	opts = append([]Option{WithLogger(logger), WithSettings(db), WithRunHistory(db)}, opts...)
	return New(idx, search.New(idx, search.WithLogger(logger)), opts...), db
}

func TestResync_InlineWithoutQueue(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	n, err := svc.Resync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("resync applied %d tasks, want 2", n)
	}
	if st := svc.Status(ctx, 0); st.Files != 2 {
		t.Errorf("files after resync = %d, want 2", st.Files)
	}

	n, err = svc.Resync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second resync found %d tasks, want 0", n)
	}
}

func TestResync_PushesToQueue(t *testing.T) {
	q := queue.New()
	svc, _ := newService(t, WithQueue(q))
	ctx := context.Background()

	n, err := svc.Resync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || q.Len() != 2 {
		t.Errorf("queued %d, len %d, want 2", n, q.Len())
	}
	if st := svc.Status(ctx, 0); st.Pending != 2 || st.Files != 0 {
		t.Errorf("status = pending %d files %d", st.Pending, st.Files)
	}
}

func TestHandleTask(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if err := svc.HandleTask(ctx, models.Task{Op: models.OpUpsert, RelativePath: "notes/a.md"}); err != nil {
		t.Fatal(err)
	}
	if st := svc.Status(ctx, 0); st.Files != 1 {
		t.Errorf("files = %d, want 1", st.Files)
	}
	if err := svc.HandleTask(ctx, models.Task{Op: models.OpDelete, RelativePath: "notes/a.md"}); err != nil {
		t.Fatal(err)
	}
	if st := svc.Status(ctx, 0); st.Files != 0 {
		t.Errorf("files = %d, want 0", st.Files)
	}
	err := svc.HandleTask(ctx, models.Task{Op: "move", RelativePath: "notes/a.md"})
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("unknown op err = %v", err)
	}
}

func TestStatus_History(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Reindex(ctx, "notes/b.md"); err != nil {
		t.Fatal(err)
	}

	rep := svc.Status(ctx, 10)
	if len(rep.Runs) != 2 {
		t.Fatalf("runs = %+v, want 2", rep.Runs)
	}
	if len(rep.Log) == 0 {
		t.Error("log tail should not be empty after a rebuild")
	}

	rep = svc.Status(ctx, 0)
	if len(rep.Runs) != 0 || len(rep.Log) != 0 {
		t.Error("history=0 should omit runs and log")
	}
}

func TestUpdateSettings(t *testing.T) {
	svc, db := newService(t)

	if got := svc.Settings().Embedding.APIKey; got != MaskedKey {
		t.Errorf("settings leak the key: %q", got)
	}

	out, err := svc.UpdateSettings(map[string]any{
		"libraryKey": "other",
		"embedding":  map[string]any{"apiKey": MaskedKey},
		"search":     map[string]any{"topK": 3},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Search.TopK != 3 || out.Embedding.APIKey != MaskedKey {
		t.Errorf("response = %+v", out)
	}

	active := svc.Index().Config()
	if active.LibraryKey != indexconf.DefaultLibraryKey {
		t.Errorf("libraryKey changed to %q", active.LibraryKey)
	}
	if active.Embedding.APIKey != "sk-secret" {
		t.Errorf("masked key overwrote the stored one: %q", active.Embedding.APIKey)
	}

	stored, err := settings.LoadIndexConfig(db, indexconf.Defaults())
	if err != nil {
		t.Fatal(err)
	}
	if stored.Search.TopK != 3 || stored.Embedding.APIKey != "sk-secret" {
		t.Errorf("stored = %+v", stored)
	}
}

func TestReadDocument(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	doc, err := svc.ReadDocument(ctx, "notes/a.md")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Indexed || len(doc.Chunks) != 0 {
		t.Error("document should not be indexed before a rebuild")
	}
	if doc.Title != "Alpha" {
		t.Errorf("title = %q", doc.Title)
	}

	if _, err := svc.Rebuild(ctx); err != nil {
		t.Fatal(err)
	}
	doc, err = svc.ReadDocument(ctx, "/notes//a.md")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Path != "notes/a.md" || !doc.Indexed || len(doc.Chunks) == 0 {
		t.Errorf("doc = %+v", doc)
	}
	if doc.Chunks[0].StartLine < 1 {
		t.Errorf("chunk lines = %+v", doc.Chunks[0])
	}

	if _, err := svc.ReadDocument(ctx, "notes/missing.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing doc err = %v", err)
	}
	if _, err := svc.ReadDocument(ctx, ""); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("empty path err = %v", err)
	}
}
