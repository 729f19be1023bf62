// Package index stores candidate embeddings in Elasticsearch and serves
// vector retrieval over them.
package index

import (
	"context"

	"github.com/mediascout/imagesearch/internal/domain"
)

// Document is one candidate ready for indexing: its extracted fields,
// the text that was embedded, and the embedding itself.
type Document struct {
	ID        string
	Candidate domain.Candidate
	Text      string
	Vector    []float32
}

// Indexer writes candidate documents into a namespace and removes whole
// namespaces.
type Indexer interface {
	// IndexBatch writes documents into the namespace. It returns the
	// number of documents that failed; a partial failure is not an error.
	IndexBatch(ctx context.Context, namespace string, docs []Document) (failed int, err error)
	// DeleteNamespace removes every document in the namespace.
	DeleteNamespace(ctx context.Context, namespace string) error
}

// Retriever runs vector search over an indexed namespace. Returned
// candidate scores are distance-style: lower is better.
type Retriever interface {
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]domain.Candidate, error)
}
