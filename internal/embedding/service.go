// Package embedding defines the text-embedding provider boundary and an
// OpenAI-compatible client implementation with bounded retries and a
// response cache for repeated texts.
package embedding

import (
	"context"
	"errors"
)

var (
	// ErrEmbedding is returned when the provider fails after exhausting retries.
	ErrEmbedding = errors.New("embedding provider error")
	// ErrTimeout is returned when the request deadline expires before the
	// provider responds.
	ErrTimeout = errors.New("embedding request timed out")
)

// Service converts text into fixed-dimension embedding vectors. The context
// carries the caller's deadline; implementations must not block past it.
type Service interface {
	// Embed returns the embedding for one text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedMany returns embeddings for all texts, preserving input order.
	// The batch is all-or-nothing: if any item fails, the whole call fails.
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the configured vector dimension, or 0 when the
	// provider's model default applies.
	Dimensions() int
}
