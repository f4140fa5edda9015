package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/semdex/internal/embedding"
	"github.com/starford/semdex/internal/index"
	"github.com/starford/semdex/internal/indexconf"
	"github.com/starford/semdex/internal/library"
	"github.com/starford/semdex/internal/search"
	"github.com/starford/semdex/internal/testutil"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	_, store := testutil.TestVault(t, map[string]string{
		"notes/apples.md": "---\ntags: [fruit]\n---\n## Apples\n\nApples are red. See [[rivers]].\n",
		"notes/rivers.md": "## Rivers\n\nRivers flow to the sea.\n",
	})
	db := testutil.TestDB(t)
	emb := testutil.NewFakeEmbedder(32)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	cfg := indexconf.Defaults()
	cfg.Embedding.Model = emb.Model()
	cfg.Search.MinScore = -1
	idx := index.New(store, t.TempDir(), cfg,
		index.WithLogger(logger),
		index.WithRunRecorder(db),
		index.WithEmbedderFactory(func(indexconf.Config) embedding.Embedder { return emb }))
	svc := library.New(idx, search.New(idx, search.WithLogger(logger)),
		library.WithLogger(logger),
		library.WithRunHistory(db))
	return New(svc, "test")
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no in-process call helper, so dispatch to the handlers directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "semantic_search":
		result, err = srv.semanticSearch(ctx, req)
	case "read_document":
		result, err = srv.readDocument(ctx, req)
	case "index_status":
		result, err = srv.indexStatus(ctx, req)
	case "reindex_file":
		result, err = srv.reindexFile(ctx, req)
	case "rebuild_index":
		result, err = srv.rebuildIndex(ctx, req)
	case "get_search_guide":
		result, err = srv.getSearchGuide(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}
	if err != nil {
		t.Fatalf("tool %s returned error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	if tc, ok := r.Content[0].(mcp.TextContent); ok {
		return tc.Text
	}
	return ""
}

func TestSemanticSearch_BeforeRebuild(t *testing.T) {
	srv := testServer(t)
	res := callTool(t, srv, "semantic_search", map[string]any{"query": "apples"})
	if !res.IsError {
		t.Fatalf("expected error before rebuild, got %s", resultText(res))
	}
}

func TestSemanticSearch_MissingQuery(t *testing.T) {
	srv := testServer(t)
	res := callTool(t, srv, "semantic_search", map[string]any{})
	if !res.IsError {
		t.Error("expected error for missing query")
	}
}

func TestRebuildAndSearch(t *testing.T) {
	srv := testServer(t)

	res := callTool(t, srv, "rebuild_index", map[string]any{})
	if !res.IsError {
		t.Fatal("rebuild without confirm should be refused")
	}
	res = callTool(t, srv, "rebuild_index", map[string]any{"confirm": true})
	if res.IsError {
		t.Fatalf("rebuild: %s", resultText(res))
	}
	var rebuilt index.RebuildResult
	if err := json.Unmarshal([]byte(resultText(res)), &rebuilt); err != nil {
		t.Fatalf("rebuild output: %v", err)
	}
	if rebuilt.Files != 2 || rebuilt.Chunks == 0 {
		t.Errorf("rebuild = %+v", rebuilt)
	}

	res = callTool(t, srv, "semantic_search", map[string]any{"query": "Apples are red", "top_k": 1.0})
	if res.IsError {
		t.Fatalf("search: %s", resultText(res))
	}
	var results []search.Result
	if err := json.Unmarshal([]byte(resultText(res)), &results); err != nil {
		t.Fatalf("search output: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("top_k=1 returned %d results", len(results))
	}
	if results[0].Path == "" || results[0].Snippet == "" {
		t.Errorf("incomplete result: %+v", results[0])
	}
}

func TestSemanticSearch_MinScoreFiltersAll(t *testing.T) {
	srv := testServer(t)
	callTool(t, srv, "rebuild_index", map[string]any{"confirm": true})

	res := callTool(t, srv, "semantic_search", map[string]any{"query": "anything", "min_score": 0.999})
	if res.IsError {
		t.Fatalf("search: %s", resultText(res))
	}
	if resultText(res) != "no results" {
		t.Errorf("got %q", resultText(res))
	}
}

func TestReadDocument(t *testing.T) {
	srv := testServer(t)
	callTool(t, srv, "rebuild_index", map[string]any{"confirm": true})

	res := callTool(t, srv, "read_document", map[string]any{"path": "notes/apples.md"})
	if res.IsError {
		t.Fatalf("read: %s", resultText(res))
	}
	var doc library.Document
	if err := json.Unmarshal([]byte(resultText(res)), &doc); err != nil {
		t.Fatal(err)
	}
	if !doc.Indexed || len(doc.Chunks) == 0 {
		t.Errorf("document should be indexed: %+v", doc)
	}
	if doc.Title != "Apples" || len(doc.Tags) != 1 || doc.Tags[0] != "fruit" {
		t.Errorf("metadata = title %q tags %v", doc.Title, doc.Tags)
	}
	if len(doc.Links) != 1 || doc.Links[0] != "rivers" {
		t.Errorf("links = %v", doc.Links)
	}

	res = callTool(t, srv, "read_document", map[string]any{"path": "missing.md"})
	if !res.IsError {
		t.Error("expected error for missing document")
	}
}

func TestIndexStatusAndReindex(t *testing.T) {
	srv := testServer(t)
	callTool(t, srv, "rebuild_index", map[string]any{"confirm": true})

	res := callTool(t, srv, "reindex_file", map[string]any{"path": "notes/rivers.md"})
	if res.IsError {
		t.Fatalf("reindex: %s", resultText(res))
	}
	var fr index.FileResult
	if err := json.Unmarshal([]byte(resultText(res)), &fr); err != nil {
		t.Fatal(err)
	}
	if fr.Outcome != index.OutcomeIndexed {
		t.Errorf("forced reindex outcome = %q", fr.Outcome)
	}

	res = callTool(t, srv, "reindex_file", map[string]any{"path": "image.png"})
	if err := json.Unmarshal([]byte(resultText(res)), &fr); err != nil {
		t.Fatal(err)
	}
	if fr.Outcome != index.OutcomeOutOfScope {
		t.Errorf("image.png outcome = %q, want out_of_scope", fr.Outcome)
	}

	res = callTool(t, srv, "index_status", map[string]any{"history": 5.0})
	var rep library.StatusReport
	if err := json.Unmarshal([]byte(resultText(res)), &rep); err != nil {
		t.Fatal(err)
	}
	if rep.Files != 2 {
		t.Errorf("status files = %d, want 2", rep.Files)
	}
	if len(rep.Runs) == 0 {
		t.Error("status should list recent runs")
	}
}

func TestSearchGuide(t *testing.T) {
	srv := testServer(t)
	text := resultText(callTool(t, srv, "get_search_guide", nil))
	for _, tool := range []string{"semantic_search", "read_document", "rebuild_index"} {
		if !strings.Contains(text, tool) {
			t.Errorf("guide does not mention %s", tool)
		}
	}
}
