// Package embedding talks to OpenAI-compatible embedding endpoints and
// enforces per-session dimensional consistency.
package embedding

import (
	"context"
	"fmt"

	"github.com/starford/semdex/internal/apperr"
)

// InputType hints whether texts are stored documents or search queries.
type InputType string

// Input types.
const (
	InputDocument InputType = "document"
	InputQuery    InputType = "query"
)

// DefaultBatchSize is the number of texts sent per request.
const DefaultBatchSize = 16

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string, typ InputType) ([][]float32, error)
	Model() string
}

// Session embeds many texts in fixed-size batches. The first vector fixes
// the expected dimensionality unless one was seeded from an existing store.
type Session struct {
	emb       Embedder
	batchSize int
	dims      int
	// OnBatch, if set, runs after every successful batch with the running
	// total of embedded texts.
	OnBatch func(ctx context.Context, done, total int) error
}

// NewSession starts a session. dims == 0 means "not yet known".
func NewSession(emb Embedder, batchSize, dims int) *Session {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Session{emb: emb, batchSize: batchSize, dims: dims}
}

// Dims returns the established dimensionality, or 0.
func (s *Session) Dims() int { return s.dims }

// EmbedAll embeds texts batch by batch. Any failure aborts the whole call
// and no vectors are returned.
func (s *Session) EmbedAll(ctx context.Context, texts []string, typ InputType) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := min(start+s.batchSize, len(texts))
		batch := texts[start:end]

		vecs, err := s.emb.Embed(ctx, batch, typ)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("embedding: count mismatch: sent %d texts, got %d vectors: %w",
				len(batch), len(vecs), apperr.ErrEmbedding)
		}
		for i, v := range vecs {
			if err := s.check(v); err != nil {
				return nil, fmt.Errorf("embedding: input %d: %w", start+i, err)
			}
		}
		out = append(out, vecs...)

		if s.OnBatch != nil {
			if err := s.OnBatch(ctx, len(out), len(texts)); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (s *Session) check(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("empty vector: %w", apperr.ErrEmbedding)
	}
	if s.dims == 0 {
		s.dims = len(v)
		return nil
	}
	if len(v) != s.dims {
		return fmt.Errorf("got %d dims, want %d: %w", len(v), s.dims, apperr.ErrDimensionMismatch)
	}
	return nil
}
