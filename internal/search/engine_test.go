package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/starford/semdex/internal/apperr"
	"github.com/starford/semdex/internal/chunker"
	"github.com/starford/semdex/internal/embedding"
	"github.com/starford/semdex/internal/index"
	"github.com/starford/semdex/internal/indexconf"
	"github.com/starford/semdex/internal/models"
	"github.com/starford/semdex/internal/storage"
	"github.com/starford/semdex/internal/testutil"
	"github.com/starford/semdex/internal/vectorstore"
)

type stubSource struct {
	st  *vectorstore.Store
	err error
	cfg indexconf.Config
	emb *testutil.FakeEmbedder
	fs  *storage.FS
}

func (s *stubSource) EnsureLoaded(context.Context) (*vectorstore.Store, error) { return s.st, s.err }
func (s *stubSource) Config() indexconf.Config { return s.cfg }
func (s *stubSource) Embedder() embedding.Embedder { return s.emb }
func (s *stubSource) Storage() storage.Provider { return s.fs }

type stubChunk struct {
	path       string
	start, end int
	vec        []float32
}

const query = "needle"

// newStub builds a two-dimensional index in which the query embeds to (1, 0),
// so a chunk vector (cos a, sin a) scores exactly cos a.
func newStub(t *testing.T, files map[string]string, chunks []stubChunk) *stubSource {
	t.Helper()
	_, fs := testutil.TestVault(t, files)
	emb := testutil.NewFakeEmbedder(2)
	emb.Vectors[query] = []float32{1, 0}

	meta := models.NewMeta("default", emb.Model())
	meta.Dims = 2
	var vectors []float32
	for i, c := range chunks {
		id := fmt.Sprintf("%s:%d-%d:%d", c.path, c.start, c.end, i)
		meta.Chunks[id] = models.ChunkRecord{
			RelativePath: c.path,
			StartLine:    c.start,
			EndLine:      c.end,
			VectorOffset: i * 2,
		}
		rec := meta.Files[c.path]
		rec.ChunkIDs = append(rec.ChunkIDs, id)
		meta.Files[c.path] = rec
		vectors = append(vectors, c.vec...)
	}
	cfg := indexconf.Defaults()
	cfg.Embedding.Model = emb.Model()
	return &stubSource{st: &vectorstore.Store{Meta: meta, Vectors: vectors}, cfg: cfg, emb: emb, fs: fs}
}

func scored(s float64) []float32 {
	return []float32{float32(s), float32(math.Sqrt(1 - s*s))}
}

func quiet() Option { return WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))) }

func minScore(v float64) *float64 { return &v }

func TestSearch_TopKAfterMinScore(t *testing.T) {
	files := map[string]string{}
	var chunks []stubChunk
	for i, s := range []float64{0.1, 0.8, 0.5, 0.9, 0.8} {
		p := fmt.Sprintf("doc%d.md", i)
		files[p] = fmt.Sprintf("content of document %d\n", i)
		chunks = append(chunks, stubChunk{path: p, start: 1, end: 1, vec: scored(s)})
	}
	src := newStub(t, files, chunks)

	res, err := New(src, quiet()).Search(context.Background(), Query{Text: query, TopK: 3, MinScore: minScore(0.6)})
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		path  string
		score float64
	}{{"doc3.md", 0.9}, {"doc1.md", 0.8}, {"doc4.md", 0.8}}
	if len(res) != len(want) {
		t.Fatalf("got %d results: %+v", len(res), res)
	}
	for i, w := range want {
		if res[i].Path != w.path || math.Abs(res[i].Score-w.score) > 1e-6 {
			t.Errorf("result %d = %s %.4f, want %s %.1f", i, res[i].Path, res[i].Score, w.path, w.score)
		}
	}
}

func TestSearch_MinScoreOverrideIsClamped(t *testing.T) {
	files := map[string]string{"exact.md": "exact\n", "near.md": "near\n"}
	src := newStub(t, files, []stubChunk{
		{path: "exact.md", start: 1, end: 1, vec: scored(1)},
		{path: "near.md", start: 1, end: 1, vec: scored(0.9)},
	})
	e := New(src, quiet())

	tests := []struct {
		name     string
		minScore float64
		want     int
	}{
		{"above range clamps to 1", 5, 1},
		{"below range clamps to -1", -5, 2},
		{"NaN keeps the default", math.NaN(), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Search(context.Background(), Query{Text: query, MinScore: minScore(tt.minScore)})
			if err != nil {
				t.Fatal(err)
			}
			if len(res) != tt.want {
				t.Errorf("got %d results, want %d: %+v", len(res), tt.want, res)
			}
		})
	}
}

func TestSearch_ZeroNormScoresZero(t *testing.T) {
	src := newStub(t, map[string]string{"z.md": "zero\n"}, []stubChunk{
		{path: "z.md", start: 1, end: 1, vec: []float32{0, 0}},
	})
	e := New(src, quiet())

	res, err := e.Search(context.Background(), Query{Text: query, MinScore: minScore(0)})
	if err != nil || len(res) != 1 || res[0].Score != 0 {
		t.Fatalf("res = %+v, %v", res, err)
	}
	res, _ = e.Search(context.Background(), Query{Text: query, MinScore: minScore(0.01)})
	if len(res) != 0 {
		t.Errorf("zero-norm chunk passed a positive min score: %+v", res)
	}
}

func TestSearch_CollapsesCoincidingWindows(t *testing.T) {
	doc := "## Topic\n\nfirst paragraph\n\nsecond paragraph\n\n## Other\n\nelsewhere\n"
	src := newStub(t, map[string]string{"d.md": doc}, []stubChunk{
		{path: "d.md", start: 3, end: 3, vec: scored(0.9)},
		{path: "d.md", start: 5, end: 5, vec: scored(0.8)},
		{path: "d.md", start: 9, end: 9, vec: scored(0.7)},
	})

	res, err := New(src, quiet()).Search(context.Background(), Query{Text: query, MinScore: minScore(0)})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 {
		t.Fatalf("got %d results, want 2: %+v", len(res), res)
	}
	if res[0].StartLine != 1 || res[0].EndLine != 6 || math.Abs(res[0].Score-0.9) > 1e-6 {
		t.Errorf("first = %+v", res[0])
	}
	if !strings.Contains(res[0].Snippet, "second paragraph") || strings.Contains(res[0].Snippet, Ellipsis) {
		t.Errorf("snippet = %q", res[0].Snippet)
	}
	if res[1].StartLine != 7 {
		t.Errorf("second = %+v", res[1])
	}
}

func TestSearch_SkipsUnreadableAndStaleChunks(t *testing.T) {
	src := newStub(t, map[string]string{"ok.md": "one line\n"}, []stubChunk{
		{path: "gone.md", start: 1, end: 1, vec: scored(0.9)},
		{path: "ok.md", start: 40, end: 42, vec: scored(0.8)},
		{path: "ok.md", start: 1, end: 1, vec: scored(0.7)},
	})
	res, err := New(src, quiet()).Search(context.Background(), Query{Text: query, MinScore: minScore(0)})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Path != "ok.md" || res[0].StartLine != 1 {
		t.Errorf("res = %+v", res)
	}
}

func TestSearch_Errors(t *testing.T) {
	src := newStub(t, nil, nil)
	e := New(src, quiet())
	ctx := context.Background()

	if _, err := e.Search(ctx, Query{Text: "   "}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("empty query err = %v", err)
	}
	if res, err := e.Search(ctx, Query{Text: query}); err != nil || len(res) != 0 {
		t.Errorf("empty index = %+v, %v", res, err)
	}

	src.err = fmt.Errorf("load: %w", apperr.ErrNotFound)
	if _, err := e.Search(ctx, Query{Text: query}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing index err = %v", err)
	}

	src.cfg.Enabled = false
	if _, err := e.Search(ctx, Query{Text: query}); !errors.Is(err, apperr.ErrDisabled) {
		t.Errorf("disabled err = %v", err)
	}
}

func TestSearch_DimensionMismatch(t *testing.T) {
	src := newStub(t, map[string]string{"a.md": "a\n"}, []stubChunk{{path: "a.md", start: 1, end: 1, vec: scored(0.5)}})
	src.emb.Vectors[query] = []float32{1, 0, 0}
	_, err := New(src, quiet()).Search(context.Background(), Query{Text: query})
	if !errors.Is(err, apperr.ErrDimensionMismatch) {
		t.Errorf("err = %v", err)
	}
}

func TestSearch_CachesQueryVectors(t *testing.T) {
	src := newStub(t, map[string]string{"a.md": "a\n"}, []stubChunk{{path: "a.md", start: 1, end: 1, vec: scored(0.5)}})
	e := New(src, quiet())
	for i := 0; i < 3; i++ {
		if _, err := e.Search(context.Background(), Query{Text: query}); err != nil {
			t.Fatal(err)
		}
	}
	if src.emb.Calls() != 1 {
		t.Errorf("embed calls = %d, want 1", src.emb.Calls())
	}

	uncached := New(src, quiet(), WithCacheSize(0))
	_, _ = uncached.Search(context.Background(), Query{Text: query})
	if src.emb.Calls() != 2 {
		t.Errorf("embed calls = %d, want 2", src.emb.Calls())
	}
}

func TestSearch_AgainstBuiltIndex(t *testing.T) {
	_, fs := testutil.TestVault(t, map[string]string{
		"a.md": "## Apples\n\nApples are red fruit.\n\n## Pears\n\nPears are green.\n",
		"b.md": "## Rivers\n\nRivers flow to the sea.\n",
	})
	emb := testutil.NewFakeEmbedder(64)
	cfg := indexconf.Defaults()
	cfg.Embedding.Model = emb.Model()
	svc := index.New(fs, t.TempDir(), cfg,
		index.WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))),
		index.WithEmbedderFactory(func(indexconf.Config) embedding.Embedder { return emb }))
	if _, err := svc.Rebuild(context.Background()); err != nil {
		t.Fatal(err)
	}

	res, err := New(svc, quiet()).Search(context.Background(), Query{Text: "red apples fruit", MinScore: minScore(-1)})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) == 0 || res[0].Path != "a.md" || res[0].Heading != "Apples" {
		t.Fatalf("res = %+v", res)
	}
	for i := 1; i < len(res); i++ {
		if res[i].Score > res[i-1].Score {
			t.Errorf("results not ordered at %d: %v > %v", i, res[i].Score, res[i-1].Score)
		}
	}
}

func TestSnippet_GrowsTowardShorterLineWithinBudget(t *testing.T) {
	lines := []string{
		"## Head",
		"a long preceding line that costs a lot",
		"hit",
		"s",
		"tail line that is also rather long",
	}
	d := &document{lines: lines, blocks: []chunker.Block{{Start: 0, End: 4, Heading: "Head"}}}

	sn, ok := d.snippet(3, 3, 8)
	if !ok {
		t.Fatal("snippet not built")
	}
	if sn.start != 3 || sn.end != 4 {
		t.Errorf("window = %d-%d, want 3-4", sn.start, sn.end)
	}
	if !strings.HasPrefix(sn.text, Ellipsis+"\n") || !strings.HasSuffix(sn.text, "\n"+Ellipsis) {
		t.Errorf("text = %q, want ellipsis on both sides", sn.text)
	}

	full, _ := d.snippet(3, 3, 1000)
	if full.start != 1 || full.end != 5 || strings.Contains(full.text, Ellipsis) {
		t.Errorf("full window = %+v", full)
	}
}

func TestSnippet_OversizedChunkTruncated(t *testing.T) {
	long := strings.Repeat("x", 50)
	d := &document{lines: []string{long}, blocks: []chunker.Block{{Start: 0, End: 0}}}
	sn, _ := d.snippet(1, 1, 10)
	if sn.text != strings.Repeat("x", 10)+Ellipsis {
		t.Errorf("text = %q", sn.text)
	}
}
