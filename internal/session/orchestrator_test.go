package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediascout/imagesearch/internal/cache"
	"github.com/mediascout/imagesearch/internal/cachestore"
	"github.com/mediascout/imagesearch/internal/domain"
	"github.com/mediascout/imagesearch/internal/index"
	"github.com/mediascout/imagesearch/internal/logger"
)

// fakeFetcher serves a fixed page set and counts how often it is asked.
type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	pages []domain.Page
	err   error
	block chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, limit int) ([]domain.Page, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.pages, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeExtractor yields a fixed candidate set per page.
type fakeExtractor struct {
	perPage []domain.Candidate
	err     error
}

func (f *fakeExtractor) Extract(page domain.Page) ([]domain.Candidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Candidate, len(f.perPage))
	copy(out, f.perPage)
	for i := range out {
		out[i].SourceURL = page.URL
	}
	return out, nil
}

// fakeEmbedder returns a deterministic vector per text. A non-zero
// failCall fails that one EmbedBatch call (1-based) instead of all.
type fakeEmbedder struct {
	err      error
	failCall int
	calls    int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.failCall != 0 && f.calls == f.failCall {
		return nil, errors.New("embeddings service unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) Model() string { return "fake-embed" }

// fakeIndexer records batches and can fail selected batch numbers.
type fakeIndexer struct {
	mu         sync.Mutex
	batches    [][]index.Document
	failBatch  map[int]bool // 1-based batch number -> whole batch fails
	namespaces []string
	deleted    []string
}

func (f *fakeIndexer) IndexBatch(ctx context.Context, namespace string, docs []index.Document) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, docs)
	f.namespaces = append(f.namespaces, namespace)
	if f.failBatch[len(f.batches)] {
		return len(docs), errors.New("bulk rejected")
	}
	return 0, nil
}

func (f *fakeIndexer) DeleteNamespace(ctx context.Context, namespace string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, namespace)
	return nil
}

func (f *fakeIndexer) indexedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for i, b := range f.batches {
		if !f.failBatch[i+1] {
			n += len(b)
		}
	}
	return n
}

func (f *fakeIndexer) deletedNamespaces() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// fakeRetriever returns canned candidates and counts calls.
type fakeRetriever struct {
	mu      sync.Mutex
	calls   int
	results []domain.Candidate
	err     error
}

func (f *fakeRetriever) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]domain.Candidate, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Candidate, len(f.results))
	copy(out, f.results)
	return out, nil
}

func (f *fakeRetriever) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestCache(t *testing.T) *cache.Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := cachestore.NewRedisClient(cachestore.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	store := cachestore.NewRedisStore(client, logger.NewNop())
	return cache.NewService(store, nil, logger.NewNop())
}

func testCandidates(n int) []domain.Candidate {
	out := make([]domain.Candidate, n)
	for i := range out {
		format := "jpg"
		if i%2 == 1 {
			format = "png"
		}
		out[i] = domain.Candidate{
			URL:     fmt.Sprintf("https://cdn.example.com/img-%d.%s", i, format),
			Format:  format,
			AltText: fmt.Sprintf("product photo %d", i),
			Context: fmt.Sprintf("Alt: product photo %d", i),
		}
	}
	return out
}

func newTestOrchestrator(t *testing.T, cfg Config, deps Deps) *Orchestrator {
	t.Helper()
	if deps.Cache == nil {
		deps.Cache = newTestCache(t)
	}
	if deps.Fetcher == nil {
		deps.Fetcher = &fakeFetcher{}
	}
	if deps.Extractor == nil {
		deps.Extractor = &fakeExtractor{}
	}
	if deps.Embedder == nil {
		deps.Embedder = &fakeEmbedder{}
	}
	if deps.Indexer == nil {
		deps.Indexer = &fakeIndexer{}
	}
	if deps.Retriever == nil {
		deps.Retriever = &fakeRetriever{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	o := NewOrchestrator(cfg, deps)
	t.Cleanup(o.Stop)
	return o
}

// waitForTerminal polls until the session reaches a terminal state.
func waitForTerminal(t *testing.T, o *Orchestrator, id string) Snapshot {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		snap, _, err := o.Status(id)
		require.NoError(t, err)
		if snap.Status == StatusCompleted || snap.Status == StatusError {
			return snap
		}
		select {
		case <-deadline:
			t.Fatalf("session %s never reached a terminal state (status %s)", id, snap.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStartSession_PipelineCompletes(t *testing.T) {
	fetcher := &fakeFetcher{pages: []domain.Page{
		{URL: "https://shop.example.com/a", RawHTML: "<html/>"},
		{URL: "https://shop.example.com/b", RawHTML: "<html/>"},
	}}
	extractor := &fakeExtractor{perPage: testCandidates(5)}
	indexer := &fakeIndexer{}

	o := newTestOrchestrator(t, Config{}, Deps{
		Fetcher:   fetcher,
		Extractor: extractor,
		Indexer:   indexer,
	})

	id, err := o.StartSession("https://shop.example.com", 2, false)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	snap := waitForTerminal(t, o, id)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.True(t, snap.Completed)
	assert.Equal(t, 2, snap.TotalPages)
	assert.Equal(t, 10, snap.TotalImages)
	assert.Equal(t, 10, snap.IndexedCount)
	assert.Equal(t, 0, snap.SkippedBatches)
	assert.Equal(t, map[string]int{"jpg": 6, "png": 4}, snap.Stats)
	assert.False(t, snap.CacheHit)
	assert.Equal(t, id, snap.ID)
	assert.Equal(t, 10, indexer.indexedCount())
}

func TestStartSession_SecondRunHitsContentCache(t *testing.T) {
	fetcher := &fakeFetcher{pages: []domain.Page{
		{URL: "https://shop.example.com/a", RawHTML: "<html/>"},
	}}
	shared := newTestCache(t)

	o := newTestOrchestrator(t, Config{}, Deps{
		Cache:     shared,
		Fetcher:   fetcher,
		Extractor: &fakeExtractor{perPage: testCandidates(2)},
	})

	first, err := o.StartSession("https://shop.example.com", 3, false)
	require.NoError(t, err)
	snap := waitForTerminal(t, o, first)
	require.Equal(t, StatusCompleted, snap.Status)
	require.Equal(t, 1, fetcher.callCount())
	assert.False(t, snap.CacheHit)

	second, err := o.StartSession("https://shop.example.com", 3, false)
	require.NoError(t, err)
	snap = waitForTerminal(t, o, second)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.True(t, snap.CacheHit)
	assert.NotEmpty(t, snap.CacheAge)
	assert.Equal(t, 1, fetcher.callCount(), "cached content should not refetch")
}

func TestStartSession_SkipCacheBypassesContentCache(t *testing.T) {
	fetcher := &fakeFetcher{pages: []domain.Page{
		{URL: "https://shop.example.com/a", RawHTML: "<html/>"},
	}}
	shared := newTestCache(t)

	o := newTestOrchestrator(t, Config{}, Deps{
		Cache:     shared,
		Fetcher:   fetcher,
		Extractor: &fakeExtractor{perPage: testCandidates(1)},
	})

	first, err := o.StartSession("https://shop.example.com", 3, true)
	require.NoError(t, err)
	waitForTerminal(t, o, first)

	second, err := o.StartSession("https://shop.example.com", 3, true)
	require.NoError(t, err)
	waitForTerminal(t, o, second)

	assert.Equal(t, 2, fetcher.callCount())
}

func TestStartSession_FetchFailureEndsInError(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, Deps{
		Fetcher: &fakeFetcher{err: errors.New("upstream gone")},
	})

	id, err := o.StartSession("https://shop.example.com", 1, false)
	require.NoError(t, err)

	snap := waitForTerminal(t, o, id)
	assert.Equal(t, StatusError, snap.Status)
	assert.Contains(t, snap.ErrorMessage, "upstream gone")
	assert.False(t, snap.Completed)
}

func TestStartSession_FailedBatchDoesNotFailSession(t *testing.T) {
	// 450 candidates make 5 batches of up to 100; batch 2 fails whole.
	fetcher := &fakeFetcher{pages: []domain.Page{
		{URL: "https://shop.example.com/a", RawHTML: "<html/>"},
	}}
	extractor := &fakeExtractor{perPage: testCandidates(450)}
	indexer := &fakeIndexer{failBatch: map[int]bool{2: true}}

	o := newTestOrchestrator(t, Config{}, Deps{
		Fetcher:   fetcher,
		Extractor: extractor,
		Indexer:   indexer,
	})

	id, err := o.StartSession("https://shop.example.com", 1, true)
	require.NoError(t, err)

	snap := waitForTerminal(t, o, id)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 450, snap.TotalImages)
	assert.Equal(t, 350, snap.IndexedCount)
	assert.Equal(t, 1, snap.SkippedBatches)
	assert.Equal(t, 350, indexer.indexedCount())
}

func TestStartSession_FailedEmbedBatchDoesNotFailSession(t *testing.T) {
	// Same shape as above, but the second batch dies at the embedding
	// step before it ever reaches the indexer.
	fetcher := &fakeFetcher{pages: []domain.Page{
		{URL: "https://shop.example.com/a", RawHTML: "<html/>"},
	}}
	extractor := &fakeExtractor{perPage: testCandidates(450)}
	embedder := &fakeEmbedder{failCall: 2}
	indexer := &fakeIndexer{}

	o := newTestOrchestrator(t, Config{}, Deps{
		Fetcher:   fetcher,
		Extractor: extractor,
		Embedder:  embedder,
		Indexer:   indexer,
	})

	id, err := o.StartSession("https://shop.example.com", 1, true)
	require.NoError(t, err)

	snap := waitForTerminal(t, o, id)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 450, snap.TotalImages)
	assert.Equal(t, 350, snap.IndexedCount)
	assert.Equal(t, 1, snap.SkippedBatches)
	assert.Equal(t, 350, indexer.indexedCount())
	assert.Empty(t, snap.ErrorMessage)
}

func TestStartSession_RequiresURL(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, Deps{})
	_, err := o.StartSession("", 1, false)
	assert.Error(t, err)
}

func TestStartSession_ConcurrentAdmissionHonorsCap(t *testing.T) {
	// Workers block on the fetcher so every admitted session stays
	// active while N+1 goroutines race to start one more.
	const maxActive = 3
	block := make(chan struct{})
	fetcher := &fakeFetcher{
		pages: []domain.Page{{URL: "https://shop.example.com/a", RawHTML: "<html/>"}},
		block: block,
	}

	o := newTestOrchestrator(t, Config{MaxConcurrent: maxActive}, Deps{
		Fetcher:   fetcher,
		Extractor: &fakeExtractor{perPage: testCandidates(1)},
	})

	var rejected atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < maxActive+1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.StartSession("https://shop.example.com", 1, true)
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), rejected.Load())
	assert.Equal(t, maxActive, o.registry.ActiveCount())
	close(block)
}

func TestStatus_UnknownSession(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, Deps{})
	_, _, err := o.Status("nope")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestStatus_DrainsBufferedEvents(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, Deps{
		Fetcher: &fakeFetcher{pages: []domain.Page{
			{URL: "https://shop.example.com/a", RawHTML: "<html/>"},
		}},
		Extractor: &fakeExtractor{perPage: testCandidates(2)},
	})

	id, err := o.StartSession("https://shop.example.com", 1, true)
	require.NoError(t, err)
	waitForTerminal(t, o, id)

	// Terminal state reached: a fresh drain yields whatever is left,
	// and a second drain yields nothing.
	_, evs, err := o.Status(id)
	require.NoError(t, err)
	_, evs2, err := o.Status(id)
	require.NoError(t, err)
	assert.Empty(t, evs2)
	_ = evs
}

func completedSession(t *testing.T, o *Orchestrator) string {
	t.Helper()
	id, err := o.StartSession("https://shop.example.com", 1, true)
	require.NoError(t, err)
	snap := waitForTerminal(t, o, id)
	require.Equal(t, StatusCompleted, snap.Status)
	return id
}

func TestSearch_RequiresCompletedSession(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	o := newTestOrchestrator(t, Config{}, Deps{
		Fetcher: &fakeFetcher{
			pages: []domain.Page{{URL: "https://shop.example.com/a", RawHTML: "<html/>"}},
			block: block,
		},
	})

	id, err := o.StartSession("https://shop.example.com", 1, true)
	require.NoError(t, err)

	_, err = o.Search(context.Background(), id, "red shoes", nil, 5, false)
	assert.ErrorIs(t, err, domain.ErrSessionNotIndexed)

	_, err = o.Search(context.Background(), "missing", "red shoes", nil, 5, false)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSearch_RanksAndDeduplicates(t *testing.T) {
	retriever := &fakeRetriever{results: []domain.Candidate{
		{URL: "https://cdn.example.com/a.png", Format: "png", AltText: "red shoes", Score: 0.2},
		{URL: "https://cdn.example.com/a.jpg", Format: "jpg", AltText: "Red   Shoes!", Score: 0.3},
		{URL: "https://cdn.example.com/b.webp", Format: "webp", AltText: "blue hat", Score: 0.1},
	}}

	o := newTestOrchestrator(t, Config{}, Deps{
		Fetcher: &fakeFetcher{pages: []domain.Page{
			{URL: "https://shop.example.com/a", RawHTML: "<html/>"},
		}},
		Extractor: &fakeExtractor{perPage: testCandidates(1)},
		Retriever: retriever,
	})
	id := completedSession(t, o)

	res, err := o.Search(context.Background(), id, "red shoes", nil, 5, true)
	require.NoError(t, err)
	require.Len(t, res.Results, 2, "equal labels collapse to one survivor")
	assert.Equal(t, "https://cdn.example.com/a.jpg", res.Results[0].URL, "jpg outranks png on label ties")
	assert.Equal(t, "https://cdn.example.com/b.webp", res.Results[1].URL)
	assert.False(t, res.CacheHit)
	assert.True(t, strings.HasPrefix(res.Namespace, "session_"))
}

func TestSearch_SecondCallServedFromQueryCache(t *testing.T) {
	retriever := &fakeRetriever{results: []domain.Candidate{
		{URL: "https://cdn.example.com/a.jpg", Format: "jpg", AltText: "red shoes", Score: 0.2},
	}}

	o := newTestOrchestrator(t, Config{}, Deps{
		Fetcher: &fakeFetcher{pages: []domain.Page{
			{URL: "https://shop.example.com/a", RawHTML: "<html/>"},
		}},
		Extractor: &fakeExtractor{perPage: testCandidates(1)},
		Retriever: retriever,
	})
	id := completedSession(t, o)

	first, err := o.Search(context.Background(), id, "red shoes", nil, 5, false)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, cache.ClassQuery, first.CacheClass)
	require.Equal(t, 1, retriever.callCount())

	second, err := o.Search(context.Background(), id, "red shoes", nil, 5, false)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.NotEmpty(t, second.CacheAge)
	assert.Equal(t, cache.ClassQuery, second.CacheClass)
	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, 1, retriever.callCount(), "cache hit must skip retrieval")
}

func TestSearch_FormatFilterKeyedSeparately(t *testing.T) {
	retriever := &fakeRetriever{results: []domain.Candidate{
		{URL: "https://cdn.example.com/a.jpg", Format: "jpg", AltText: "red shoes", Score: 0.2},
		{URL: "https://cdn.example.com/b.png", Format: "png", AltText: "blue hat", Score: 0.1},
	}}

	o := newTestOrchestrator(t, Config{}, Deps{
		Fetcher: &fakeFetcher{pages: []domain.Page{
			{URL: "https://shop.example.com/a", RawHTML: "<html/>"},
		}},
		Extractor: &fakeExtractor{perPage: testCandidates(1)},
		Retriever: retriever,
	})
	id := completedSession(t, o)

	unfiltered, err := o.Search(context.Background(), id, "red shoes", nil, 5, false)
	require.NoError(t, err)
	require.Len(t, unfiltered.Results, 2)

	filtered, err := o.Search(context.Background(), id, "red shoes", []string{"png"}, 5, false)
	require.NoError(t, err)
	assert.False(t, filtered.CacheHit, "different filters must not share a cache entry")
	require.Len(t, filtered.Results, 1)
	assert.Equal(t, "png", filtered.Results[0].Format)
}

func TestSearch_RetrievalFailureScopedToCall(t *testing.T) {
	retriever := &fakeRetriever{err: errors.New("search backend down")}

	o := newTestOrchestrator(t, Config{}, Deps{
		Fetcher: &fakeFetcher{pages: []domain.Page{
			{URL: "https://shop.example.com/a", RawHTML: "<html/>"},
		}},
		Extractor: &fakeExtractor{perPage: testCandidates(1)},
		Retriever: retriever,
	})
	id := completedSession(t, o)

	_, err := o.Search(context.Background(), id, "red shoes", nil, 5, true)
	require.Error(t, err)

	snap, _, err := o.Status(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, snap.Status, "session survives a failed search")
}

func TestDeleteSession_RemovesNamespaceAndIsIdempotent(t *testing.T) {
	indexer := &fakeIndexer{}
	o := newTestOrchestrator(t, Config{}, Deps{
		Fetcher: &fakeFetcher{pages: []domain.Page{
			{URL: "https://shop.example.com/a", RawHTML: "<html/>"},
		}},
		Extractor: &fakeExtractor{perPage: testCandidates(1)},
		Indexer:   indexer,
	})
	id := completedSession(t, o)

	require.NoError(t, o.DeleteSession(context.Background(), id))
	assert.Equal(t, []string{"session_" + id[:8]}, indexer.deletedNamespaces())

	_, _, err := o.Status(id)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	require.NoError(t, o.DeleteSession(context.Background(), id))
	assert.Len(t, indexer.deletedNamespaces(), 1, "second delete is a no-op")
}

func TestCleanup_SweepsOnlyOldTerminalSessions(t *testing.T) {
	indexer := &fakeIndexer{}
	o := newTestOrchestrator(t, Config{}, Deps{
		Fetcher: &fakeFetcher{pages: []domain.Page{
			{URL: "https://shop.example.com/a", RawHTML: "<html/>"},
		}},
		Extractor: &fakeExtractor{perPage: testCandidates(1)},
		Indexer:   indexer,
	})

	old := completedSession(t, o)
	// Backdate the completed session past the cutoff.
	sess, ok := o.registry.Get(old)
	require.True(t, ok)
	sess.createdAt = time.Now().Add(-48 * time.Hour)

	fresh := completedSession(t, o)

	removed := o.Cleanup(context.Background(), 24*time.Hour)
	assert.Equal(t, 1, removed)

	_, _, err := o.Status(old)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, _, err = o.Status(fresh)
	assert.NoError(t, err)
	assert.Equal(t, []string{"session_" + old[:8]}, indexer.deletedNamespaces())
}

func TestList_ReturnsAllSessions(t *testing.T) {
	o := newTestOrchestrator(t, Config{}, Deps{
		Fetcher: &fakeFetcher{pages: []domain.Page{
			{URL: "https://shop.example.com/a", RawHTML: "<html/>"},
		}},
		Extractor: &fakeExtractor{perPage: testCandidates(1)},
	})

	a := completedSession(t, o)
	b := completedSession(t, o)

	snaps := o.List()
	require.Len(t, snaps, 2)
	ids := []string{snaps[0].ID, snaps[1].ID}
	assert.Contains(t, ids, a)
	assert.Contains(t, ids, b)
}
