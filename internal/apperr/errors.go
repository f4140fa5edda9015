// Package apperr holds the sentinel errors shared across the index engine.
// Callers wrap them with context and match them with errors.Is.
package apperr

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrBusy              = errors.New("index is busy, try again later")
	ErrDisabled          = errors.New("indexing is disabled")
	ErrOutOfScope        = errors.New("path is outside the configured index scope")
	ErrCapabilityMissing = errors.New("required host capability is missing")

	ErrSchemaMismatch = errors.New("index schema version mismatch, please rebuild the index")
	ErrModelMismatch  = errors.New("index embedding model mismatch, please rebuild the index")
	ErrCorrupt        = errors.New("index storage is corrupt, please rebuild the index")

	ErrEmbedding         = errors.New("embedding request failed")
	ErrEmbeddingTimeout  = errors.New("embedding request timed out")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	ErrChunkIDExhausted = errors.New("chunk id disambiguation limit reached")
)

// Retryable reports whether err is worth retrying by the caller unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, ErrEmbeddingTimeout)
}

// NeedsRebuild reports whether err can only be resolved by a full rebuild.
func NeedsRebuild(err error) bool {
	return errors.Is(err, ErrSchemaMismatch) || errors.Is(err, ErrModelMismatch) || errors.Is(err, ErrCorrupt)
}
