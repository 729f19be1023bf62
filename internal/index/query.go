package index

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	// knnCandidateFactor widens the approximate search beyond topK.
	knnCandidateFactor = 10
	// minNumCandidates floors num_candidates for small topK values.
	minNumCandidates = 50
)

// buildKNNQuery builds the vector search body for one namespace.
func buildKNNQuery(namespace string, vector []float32, topK int) map[string]any {
	numCandidates := topK * knnCandidateFactor
	if numCandidates < minNumCandidates {
		numCandidates = minNumCandidates
	}

	return map[string]any{
		"knn": map[string]any{
			"field":          "embedding",
			"query_vector":   vector,
			"k":              topK,
			"num_candidates": numCandidates,
			"filter": map[string]any{
				"term": map[string]any{"namespace": namespace},
			},
		},
		"size":    topK,
		"_source": []string{"candidate"},
	}
}

// buildBulkBody renders documents as an NDJSON bulk request for the
// given index and namespace.
func buildBulkBody(indexName, namespace string, docs []Document) ([]byte, error) {
	var buf bytes.Buffer

	for _, doc := range docs {
		action := map[string]any{
			"index": map[string]any{"_index": indexName, "_id": doc.ID},
		}
		if err := json.NewEncoder(&buf).Encode(action); err != nil {
			return nil, fmt.Errorf("encode bulk action: %w", err)
		}

		source := map[string]any{
			"namespace": namespace,
			"text":      doc.Text,
			"embedding": doc.Vector,
			"candidate": doc.Candidate,
		}
		if err := json.NewEncoder(&buf).Encode(source); err != nil {
			return nil, fmt.Errorf("encode bulk document: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// distanceScore converts an Elasticsearch similarity score (higher is
// better, cosine-normalized into [0, 1]) to the distance-style score the
// rest of the pipeline expects, where lower is better.
func distanceScore(similarity float64) float64 {
	distance := 1 - similarity
	if distance < 0 {
		distance = 0
	}
	return distance
}

// indexMapping is the schema for the candidate index.
func indexMapping(dims int) map[string]any {
	return map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"namespace": map[string]any{"type": "keyword"},
				"text":      map[string]any{"type": "text"},
				"embedding": map[string]any{
					"type":       "dense_vector",
					"dims":       dims,
					"index":      true,
					"similarity": "cosine",
				},
				"candidate": map[string]any{
					"type":    "object",
					"enabled": true,
				},
			},
		},
	}
}
