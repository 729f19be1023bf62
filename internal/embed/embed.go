// Package embed produces vector embeddings for candidate and query text.
package embed

import "context"

// Embedder turns text into a vector embedding.
type Embedder interface {
	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one embedding per input text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Model identifies the embedding model, used for cache partitioning.
	Model() string
}
