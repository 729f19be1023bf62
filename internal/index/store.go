package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mediascout/imagesearch/internal/domain"
	"github.com/mediascout/imagesearch/internal/logger"
)

const (
	// DefaultIndexName is used when no index is configured.
	DefaultIndexName = "imagesearch-candidates"

	// bulkBatchSize caps documents per bulk request.
	bulkBatchSize = 100

	// embeddingDims matches the configured embedding model output.
	embeddingDims = 1536
)

// Store implements Indexer and Retriever on Elasticsearch.
type Store struct {
	client    *Client
	indexName string
	logger    logger.Logger
}

// NewStore creates a Store and ensures the backing index exists.
func NewStore(ctx context.Context, client *Client, indexName string, log logger.Logger) (*Store, error) {
	if indexName == "" {
		indexName = DefaultIndexName
	}

	s := &Store{client: client, indexName: indexName, logger: log}
	if err := s.ensureIndex(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndex(ctx context.Context) error {
	esClient := s.client.GetESClient()

	exists, err := esClient.Indices.Exists([]string{s.indexName},
		esClient.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("check index %s: %w", s.indexName, err)
	}
	defer func() {
		_ = exists.Body.Close()
	}()

	if exists.StatusCode == http.StatusOK {
		return nil
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(indexMapping(embeddingDims)); err != nil {
		return fmt.Errorf("encode index mapping: %w", err)
	}

	res, err := esClient.Indices.Create(s.indexName,
		esClient.Indices.Create.WithContext(ctx),
		esClient.Indices.Create.WithBody(&buf),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", s.indexName, err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("create index %s returned [%d]: %s", s.indexName, res.StatusCode, string(body))
	}

	s.logger.Info("created candidate index", logger.String("index", s.indexName))
	return nil
}

// IndexBatch bulk-indexes documents into the namespace in batches. A
// failing batch is counted and logged rather than aborting the rest.
func (s *Store) IndexBatch(ctx context.Context, namespace string, docs []Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	failed := 0
	for start := 0; start < len(docs); start += bulkBatchSize {
		end := start + bulkBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]

		if err := s.indexOne(ctx, namespace, batch); err != nil {
			failed += len(batch)
			s.logger.Warn("bulk index batch failed",
				logger.String("namespace", namespace),
				logger.Int("batch_start", start),
				logger.Int("batch_size", len(batch)),
				logger.Error(err),
			)
		}
	}
	return failed, nil
}

func (s *Store) indexOne(ctx context.Context, namespace string, batch []Document) error {
	body, err := buildBulkBody(s.indexName, namespace, batch)
	if err != nil {
		return err
	}

	esClient := s.client.GetESClient()
	res, err := esClient.Bulk(bytes.NewReader(body),
		esClient.Bulk.WithContext(ctx),
		esClient.Bulk.WithIndex(s.indexName),
		esClient.Bulk.WithRefresh("wait_for"),
	)
	if err != nil {
		return fmt.Errorf("bulk request: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		respBody, _ := io.ReadAll(res.Body)
		return fmt.Errorf("bulk returned [%d]: %s", res.StatusCode, string(respBody))
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error,omitempty"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}

	if bulkResp.Errors {
		for _, item := range bulkResp.Items {
			for _, op := range item {
				if op.Error != nil {
					return fmt.Errorf("bulk item failed: %s: %s", op.Error.Type, op.Error.Reason)
				}
			}
		}
		return fmt.Errorf("bulk reported item errors")
	}
	return nil
}

// Query runs kNN retrieval over the namespace and returns candidates
// with distance-style scores.
func (s *Store) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]domain.Candidate, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(buildKNNQuery(namespace, vector, topK)); err != nil {
		return nil, fmt.Errorf("encode knn query: %w", err)
	}

	esClient := s.client.GetESClient()
	res, err := esClient.Search(
		esClient.Search.WithContext(ctx),
		esClient.Search.WithIndex(s.indexName),
		esClient.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("knn search returned [%d]: %s", res.StatusCode, string(body))
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Score  float64 `json:"_score"`
				Source struct {
					Candidate domain.Candidate `json:"candidate"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("decode knn response: %w", err)
	}

	candidates := make([]domain.Candidate, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		c := hit.Source.Candidate
		c.Score = distanceScore(hit.Score)
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// DeleteNamespace removes every document indexed under the namespace.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	query := map[string]any{
		"query": map[string]any{
			"term": map[string]any{"namespace": namespace},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return fmt.Errorf("encode delete query: %w", err)
	}

	esClient := s.client.GetESClient()
	res, err := esClient.DeleteByQuery([]string{s.indexName}, &buf,
		esClient.DeleteByQuery.WithContext(ctx),
		esClient.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return fmt.Errorf("delete namespace %s: %w", namespace, err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("delete namespace %s returned [%d]: %s", namespace, res.StatusCode, string(body))
	}

	s.logger.Info("namespace deleted", logger.String("namespace", namespace))
	return nil
}
