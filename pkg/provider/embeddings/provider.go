// Package embeddings defines the Provider interface for text embedding
// backends.
//
// An embeddings provider maps text to dense float32 vectors (e.g., OpenAI
// text-embedding-3 or a local Ollama model). The transcript store embeds the
// spoken turns of every saved conversation and ranks search hits by cosine
// distance over those vectors.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text embedding backend.
//
// Every vector a Provider instance returns has the same length, reported by
// Dimensions. Vectors from different providers or models live in different
// spaces; a store that persists vectors from one model must not search them
// with another.
type Provider interface {
	// Embed returns the vector for one text. The text reaches the model
	// verbatim; callers add any model-specific prefixes ("query: ", ...)
	// themselves.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in one provider call, index-aligned with the
	// input. No partial results: any failure returns a nil slice and the
	// error.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions reports the vector length this provider produces, fixed for
	// the lifetime of the instance. The transcript store sizes its vector
	// column from it.
	Dimensions() int

	// ModelID names the underlying model ("text-embedding-3-small",
	// "nomic-embed-text") for logs and provider selection.
	ModelID() string
}
