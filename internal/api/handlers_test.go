package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediascout/imagesearch/internal/cache"
	"github.com/mediascout/imagesearch/internal/cachestore"
	"github.com/mediascout/imagesearch/internal/config"
	"github.com/mediascout/imagesearch/internal/domain"
	"github.com/mediascout/imagesearch/internal/events"
	"github.com/mediascout/imagesearch/internal/fetch"
	"github.com/mediascout/imagesearch/internal/index"
	"github.com/mediascout/imagesearch/internal/logger"
	"github.com/mediascout/imagesearch/internal/session"
)

type stubFetcher struct{ pages []domain.Page }

func (s *stubFetcher) Fetch(ctx context.Context, url string, limit int) ([]domain.Page, error) {
	return s.pages, nil
}

type stubExtractor struct{ candidates []domain.Candidate }

func (s *stubExtractor) Extract(page domain.Page) ([]domain.Candidate, error) {
	return s.candidates, nil
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (stubEmbedder) Model() string { return "stub" }

type stubIndexer struct{}

func (stubIndexer) IndexBatch(ctx context.Context, namespace string, docs []index.Document) (int, error) {
	return 0, nil
}

func (stubIndexer) DeleteNamespace(ctx context.Context, namespace string) error { return nil }

type stubRetriever struct{ results []domain.Candidate }

func (s *stubRetriever) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]domain.Candidate, error) {
	return s.results, nil
}

type blockingFetcher struct{ release <-chan struct{} }

func (b *blockingFetcher) Fetch(ctx context.Context, url string, limit int) ([]domain.Page, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil, ctx.Err()
}

func newTestRouter(t *testing.T, maxConcurrent int) (*Router, *session.Orchestrator) {
	t.Helper()
	router, o := newRouterWithFetcher(t, maxConcurrent, &stubFetcher{pages: []domain.Page{
		{URL: "https://shop.example.com/a", RawHTML: "<html/>"},
	}})
	return router, o
}

func newBlockedRouter(t *testing.T, maxConcurrent int, release <-chan struct{}) *Router {
	t.Helper()
	router, _ := newRouterWithFetcher(t, maxConcurrent, &blockingFetcher{release: release})
	return router
}

func newRouterWithFetcher(t *testing.T, maxConcurrent int, fetcher fetch.Fetcher) (*Router, *session.Orchestrator) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := cachestore.NewRedisClient(cachestore.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	cacheService := cache.NewService(
		cachestore.NewRedisStore(client, logger.NewNop()),
		nil,
		logger.NewNop(),
	)

	orchestrator := session.NewOrchestrator(
		session.Config{MaxConcurrent: maxConcurrent},
		session.Deps{
			Cache:   cacheService,
			Fetcher: fetcher,
			Extractor: &stubExtractor{candidates: []domain.Candidate{
				{URL: "https://cdn.example.com/a.jpg", Format: "jpg", AltText: "red shoes"},
			}},
			Embedder: stubEmbedder{},
			Indexer:  stubIndexer{},
			Retriever: &stubRetriever{results: []domain.Candidate{
				{URL: "https://cdn.example.com/a.jpg", Format: "jpg", AltText: "red shoes", Score: 0.2},
			}},
			Logger: logger.NewNop(),
		},
	)
	t.Cleanup(orchestrator.Stop)

	cfg := &config.Config{}
	router := NewRouter(orchestrator, cacheService, events.NewStreamer(logger.NewNop()), cfg, logger.NewNop())
	return router, orchestrator
}

func doJSON(t *testing.T, engine http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func waitCompleted(t *testing.T, o *session.Orchestrator, id string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		snap, _, err := o.Status(id)
		require.NoError(t, err)
		if snap.Status == session.StatusCompleted || snap.Status == session.StatusError {
			require.Equal(t, session.StatusCompleted, snap.Status)
			return
		}
		select {
		case <-deadline:
			t.Fatal("session never completed")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStartCrawl(t *testing.T) {
	router, _ := newTestRouter(t, 3)
	engine := router.Engine()

	rec := doJSON(t, engine, http.MethodPost, "/crawl", gin.H{"url": "https://shop.example.com"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["session_id"])
	assert.Equal(t, "started", body["status"])
}

func TestStartCrawl_MissingURL(t *testing.T) {
	router, _ := newTestRouter(t, 3)
	rec := doJSON(t, router.Engine(), http.MethodPost, "/crawl", gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartCrawl_CapacityExhausted(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	router := newBlockedRouter(t, 1, block)
	engine := router.Engine()

	rec := doJSON(t, engine, http.MethodPost, "/crawl", gin.H{"url": "https://shop.example.com"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, engine, http.MethodPost, "/crawl", gin.H{"url": "https://shop.example.com"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestSimpleStatus(t *testing.T) {
	router, o := newTestRouter(t, 3)
	engine := router.Engine()

	rec := doJSON(t, engine, http.MethodPost, "/crawl", gin.H{"url": "https://shop.example.com"})
	id := decodeBody(t, rec)["session_id"].(string)
	waitCompleted(t, o, id)

	rec = doJSON(t, engine, http.MethodGet, fmt.Sprintf("/crawl/%s/status-simple", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	sess := body["session"].(map[string]any)
	assert.Equal(t, id, sess["session_id"])
	assert.Equal(t, "completed", sess["status"])
}

func TestSimpleStatus_UnknownSession(t *testing.T) {
	router, _ := newTestRouter(t, 3)
	rec := doJSON(t, router.Engine(), http.MethodGet, "/crawl/unknown/status-simple", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearch(t *testing.T) {
	router, o := newTestRouter(t, 3)
	engine := router.Engine()

	rec := doJSON(t, engine, http.MethodPost, "/crawl", gin.H{"url": "https://shop.example.com"})
	id := decodeBody(t, rec)["session_id"].(string)
	waitCompleted(t, o, id)

	rec = doJSON(t, engine, http.MethodPost, "/search", gin.H{
		"session_id": id,
		"query":      "red shoes",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	results := body["results"].([]any)
	require.Len(t, results, 1)
	assert.Contains(t, body["namespace"], "session_")
}

func TestSearch_UnknownSession(t *testing.T) {
	router, _ := newTestRouter(t, 3)
	rec := doJSON(t, router.Engine(), http.MethodPost, "/search", gin.H{
		"session_id": "unknown",
		"query":      "red shoes",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearch_MissingFields(t *testing.T) {
	router, _ := newTestRouter(t, 3)
	rec := doJSON(t, router.Engine(), http.MethodPost, "/search", gin.H{"query": "red shoes"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAndDeleteSessions(t *testing.T) {
	router, o := newTestRouter(t, 3)
	engine := router.Engine()

	rec := doJSON(t, engine, http.MethodPost, "/crawl", gin.H{"url": "https://shop.example.com"})
	id := decodeBody(t, rec)["session_id"].(string)
	waitCompleted(t, o, id)

	rec = doJSON(t, engine, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])

	rec = doJSON(t, engine, http.MethodDelete, "/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, engine, http.MethodGet, "/sessions", nil)
	assert.Equal(t, float64(0), decodeBody(t, rec)["count"])
}

func TestCleanup(t *testing.T) {
	router, _ := newTestRouter(t, 3)
	rec := doJSON(t, router.Engine(), http.MethodPost, "/cleanup", gin.H{"max_age_hours": 24})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decodeBody(t, rec)["removed"])
}

func TestCacheStats(t *testing.T) {
	router, _ := newTestRouter(t, 3)
	rec := doJSON(t, router.Engine(), http.MethodGet, "/cache/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["available"])
	assert.Contains(t, body, "stats")
}

func TestInvalidateCache(t *testing.T) {
	router, _ := newTestRouter(t, 3)
	engine := router.Engine()

	rec := doJSON(t, engine, http.MethodPost, "/cache/invalidate", gin.H{"class": "query"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "query", decodeBody(t, rec)["class"])

	rec = doJSON(t, engine, http.MethodPost, "/cache/invalidate", gin.H{"class": "everything"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t, 3)
	rec := doJSON(t, router.Engine(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}

func TestHealth_DegradedDependency(t *testing.T) {
	router, _ := newTestRouter(t, 3)
	router.searchCheck = func(ctx context.Context) error { return context.DeadlineExceeded }

	rec := doJSON(t, router.Engine(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, "unreachable", deps["search"])
}
