// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes semdex tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/semdex/internal/apperr"
	"github.com/starford/semdex/internal/library"
	"github.com/starford/semdex/internal/search"
)

const (
	guideURI  = "semdex://search-guide"
	statusURI = "semdex://status"
)

// Server wraps the MCP server with semdex tools.
type Server struct {
	mcp *server.MCPServer
	svc *library.Service
}

// New creates a new MCP server with all semdex tools registered.
func New(svc *library.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"semdex",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions("Semantic search over a local document vault. Read "+guideURI+" first."),
	)

	s.mcp.AddTool(mcp.NewTool("semantic_search",
		mcp.WithDescription("Semantic search over the vault. Returns ranked passages with "+
			"path, heading, score and a context snippet read from the current file."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural-language query")),
		mcp.WithNumber("top_k", mcp.Description("Maximum number of results (1-50)")),
		mcp.WithNumber("min_score", mcp.Description("Minimum cosine score (-1..1)")),
		mcp.WithNumber("max_context", mcp.Description("Snippet character budget")),
	), s.semanticSearch)

	s.mcp.AddTool(mcp.NewTool("read_document",
		mcp.WithDescription("Read the full current content of a vault document with its "+
			"title, tags, wikilinks and indexed chunk ranges."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault-relative path (e.g. folder/note.md)")),
	), s.readDocument)

	s.mcp.AddTool(mcp.NewTool("index_status",
		mcp.WithDescription("Report index state: phase, file and chunk counts, model, last error."),
		mcp.WithNumber("history", mcp.Description("Number of recent runs and log lines to include")),
	), s.indexStatus)

	s.mcp.AddTool(mcp.NewTool("reindex_file",
		mcp.WithDescription("Re-embed one document, e.g. after editing it."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault-relative path")),
	), s.reindexFile)

	s.mcp.AddTool(mcp.NewTool("rebuild_index",
		mcp.WithDescription("Rebuild the whole index. Slow; embeds every chunk. "+
			"Needed after the embedding model changes."),
		mcp.WithBoolean("confirm", mcp.Required(), mcp.Description("Must be true")),
	), s.rebuildIndex)

	s.mcp.AddTool(mcp.NewTool("get_search_guide",
		mcp.WithDescription("Explains the tools, result fields and error messages."),
	), s.getSearchGuide)

	s.mcp.AddResource(
		mcp.NewResource(guideURI, "Search Guide",
			mcp.WithResourceDescription("How to query semdex and read its results."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readGuideResource,
	)
	s.mcp.AddResource(
		mcp.NewResource(statusURI, "Index Status",
			mcp.WithResourceDescription("Current index status as JSON."),
			mcp.WithMIMEType("application/json"),
		),
		s.readStatusResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func errorResult(err error) *mcp.CallToolResult {
	msg := err.Error()
	if apperr.NeedsRebuild(err) {
		msg += " (call rebuild_index)"
	}
	return mcp.NewToolResultError(msg)
}

func (s *Server) semanticSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	q := search.Query{
		Text:            text,
		TopK:            req.GetInt("top_k", 0),
		MaxContextChars: req.GetInt("max_context", 0),
	}
	if _, ok := req.GetArguments()["min_score"]; ok {
		v := req.GetFloat("min_score", 0)
		q.MinScore = &v
	}
	results, err := s.svc.Search(ctx, q)
	if err != nil {
		return errorResult(err), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("no results"), nil
	}
	return jsonResult(results), nil
}

func (s *Server) readDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.svc.ReadDocument(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot read %s: %v", path, err)), nil
	}
	return jsonResult(doc), nil
}

func (s *Server) indexStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Status(ctx, req.GetInt("history", 5))), nil
}

func (s *Server) reindexFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Reindex(ctx, path)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res), nil
}

func (s *Server) rebuildIndex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !req.GetBool("confirm", false) {
		return mcp.NewToolResultError("rebuild_index requires confirm=true"), nil
	}
	res, err := s.svc.Rebuild(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res), nil
}

func (s *Server) getSearchGuide(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(SearchGuide), nil
}

func (s *Server) readGuideResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: guideURI, MIMEType: "text/markdown", Text: SearchGuide},
	}, nil
}

func (s *Server) readStatusResource(ctx context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	out, err := json.MarshalIndent(s.svc.Status(ctx, 0), "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: statusURI, MIMEType: "application/json", Text: string(out)},
	}, nil
}
