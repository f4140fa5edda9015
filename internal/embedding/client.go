package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/starford/semdex/internal/apperr"
	"github.com/starford/semdex/internal/indexconf"
)

// maxResponseBytes caps how much of a provider response is read.
const maxResponseBytes = 64 << 20

// Client is an OpenAI-compatible embeddings provider:
//
//	POST {baseURL}/embeddings
//	{"model": "...", "input": ["..."], "input_type": "query"|"document"}
type Client struct {
	model     string
	apiKey    string
	baseURL   string
	inputType bool
	timeout   time.Duration
	http      *http.Client
}

// NewClient builds a client from a normalized configuration. httpClient may
// be nil.
func NewClient(cfg indexconf.Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		model:     cfg.Embedding.Model,
		apiKey:    cfg.Embedding.APIKey,
		baseURL:   strings.TrimRight(cfg.Embedding.BaseURL, "/"),
		inputType: cfg.SupportsInputType(),
		timeout:   time.Duration(cfg.Embedding.TimeoutMs) * time.Millisecond,
		http:      httpClient,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

type embedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	InputType string   `json:"input_type,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Index     *int      `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed sends one request for texts. A timeout is reported as
// apperr.ErrEmbeddingTimeout; every other failure as apperr.ErrEmbedding.
func (c *Client) Embed(ctx context.Context, texts []string, typ InputType) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	reqBody := embedRequest{Model: c.model, Input: texts}
	if c.inputType {
		reqBody.InputType = string(typ)
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("embedding: encode request: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w: %w", apperr.ErrEmbedding, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("embedding: no response within %s: %w", c.timeout, apperr.ErrEmbeddingTimeout)
		}
		return nil, fmt.Errorf("embedding: request failed: %w: %w", apperr.ErrEmbedding, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("embedding: response cut off after %s: %w", c.timeout, apperr.ErrEmbeddingTimeout)
		}
		return nil, fmt.Errorf("embedding: read response: %w: %w", apperr.ErrEmbedding, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding: HTTP %d: %s: %w", resp.StatusCode, snippet(body), apperr.ErrEmbedding)
	}

	var parsed embedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("embedding: malformed response: %w: %w", apperr.ErrEmbedding, err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: count mismatch: sent %d texts, got %d vectors: %w",
			len(texts), len(parsed.Data), apperr.ErrEmbedding)
	}

	out := make([][]float32, len(texts))
	for i, d := range parsed.Data {
		pos := i
		// Some providers reorder; honour "index" when present.
		if d.Index != nil {
			pos = *d.Index
			if pos < 0 || pos >= len(out) || out[pos] != nil {
				return nil, fmt.Errorf("embedding: bad index %d in response: %w", pos, apperr.ErrEmbedding)
			}
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("embedding: empty vector for input %d: %w", pos, apperr.ErrEmbedding)
		}
		v := make([]float32, len(d.Embedding))
		for j, x := range d.Embedding {
			v[j] = float32(x)
		}
		out[pos] = v
	}
	return out, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300] + "…"
	}
	return s
}
