package embed

import (
	"context"

	"github.com/mediascout/imagesearch/internal/cache"
	"github.com/mediascout/imagesearch/internal/logger"
)

// CachedEmbedder wraps an Embedder with the vector cache: known texts
// are served from the cache and new embeddings are written back.
type CachedEmbedder struct {
	inner  Embedder
	cache  *cache.Service
	logger logger.Logger
}

// NewCachedEmbedder wraps inner with the vector cache.
func NewCachedEmbedder(inner Embedder, svc *cache.Service, log logger.Logger) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, cache: svc, logger: log}
}

// Model identifies the wrapped model.
func (e *CachedEmbedder) Model() string { return e.inner.Model() }

// Embed returns the cached embedding for text, falling back to the
// wrapped embedder on a miss.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vector, ok := e.cache.GetEmbedding(ctx, text, e.inner.Model()); ok {
		return vector, nil
	}

	vector, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	e.cache.SetEmbedding(ctx, text, e.inner.Model(), vector)
	return vector, nil
}

// EmbedBatch serves what it can from the cache and embeds only the
// missing texts, preserving input order.
func (e *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		if vector, ok := e.cache.GetEmbedding(ctx, text, e.inner.Model()); ok {
			vectors[i] = vector
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return vectors, nil
	}

	e.logger.Debug("embedding cache partial hit",
		logger.Int("total", len(texts)),
		logger.Int("missing", len(missing)),
	)

	fresh, err := e.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}

	for i, vector := range fresh {
		idx := missingIdx[i]
		vectors[idx] = vector
		e.cache.SetEmbedding(ctx, texts[idx], e.inner.Model(), vector)
	}
	return vectors, nil
}
