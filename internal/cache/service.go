// Package cache implements the TTL-aware caching layer over the key/value
// store: key derivation per cache class, volatility-based TTL policy, and
// hit/miss instrumentation. Store failures never propagate; every
// operation degrades to the miss/failure path.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mediascout/imagesearch/internal/cachestore"
	"github.com/mediascout/imagesearch/internal/domain"
	"github.com/mediascout/imagesearch/internal/logger"
	"github.com/mediascout/imagesearch/internal/metrics"
)

// Service builds cache keys, applies the TTL policy, and records metrics
// on top of a Store.
type Service struct {
	store      cachestore.Store
	ttl        TTLConfig
	popularity PopularityFunc
	tracker    *tracker
	logger     logger.Logger
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTTLConfig overrides the default TTL policy.
func WithTTLConfig(cfg TTLConfig) Option {
	return func(s *Service) { s.ttl = cfg }
}

// WithPopularity installs the policy that flags queries as popular for
// TTL extension.
func WithPopularity(fn PopularityFunc) Option {
	return func(s *Service) { s.popularity = fn }
}

// WithClock overrides the time source. Intended for tests that exercise
// day bucketing and age reporting.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a cache service. The metrics sink may be nil.
func NewService(store cachestore.Store, prom *metrics.Metrics, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		ttl:        DefaultTTLConfig(),
		popularity: func(string) bool { return false },
		logger:     log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tracker = newTracker(prom, s.now())
	return s
}

// Available reports whether the underlying store is reachable.
func (s *Service) Available(ctx context.Context) bool {
	return s.store.Ping(ctx)
}

// Age renders the elapsed time since capturedAt ("2d 5h", "30m").
func (s *Service) Age(capturedAt time.Time) string {
	return FormatAge(capturedAt, s.now())
}

// GetContent looks up the content entry for a target locator and page
// limit. A same-day miss falls back to the prior day's bucket so
// long-lived static content survives the date rollover.
func (s *Service) GetContent(ctx context.Context, targetURL string, pageLimit int) (*domain.ContentEntry, bool) {
	start := s.now()

	key := contentKey(targetURL, pageLimit, start)
	data, ok := s.store.Get(ctx, key)
	if !ok {
		yesterday := contentKey(targetURL, pageLimit, start.AddDate(0, 0, -1))
		data, ok = s.store.Get(ctx, yesterday)
	}

	if !ok {
		s.tracker.trackMiss(ClassContent, s.now().Sub(start))
		s.logger.Debug("content cache miss", logger.String("url", targetURL), logger.Int("limit", pageLimit))
		return nil, false
	}

	var entry domain.ContentEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.tracker.trackMiss(ClassContent, s.now().Sub(start))
		s.logger.Error("content cache entry corrupt", logger.String("key", key), logger.Error(err))
		return nil, false
	}

	elapsed := s.now().Sub(start)
	s.tracker.trackHit(ClassContent, elapsed)
	s.logger.Info("content cache hit",
		logger.String("url", targetURL),
		logger.Int("limit", pageLimit),
		logger.String("age", s.Age(entry.CapturedAt)),
		logger.Duration("elapsed", elapsed),
	)

	return &entry, true
}

// SetContent writes a content entry under today's bucket with a TTL
// matching its volatility class. Missing metadata is filled at write time.
func (s *Service) SetContent(ctx context.Context, targetURL string, pageLimit int, entry *domain.ContentEntry) bool {
	if entry.CapturedAt.IsZero() {
		entry.CapturedAt = s.now()
	}
	if entry.PageType == "" {
		entry.PageType = DetectPageType(targetURL, s.now())
	}

	data, err := json.Marshal(entry)
	if err != nil {
		s.logger.Error("content cache marshal failed", logger.String("url", targetURL), logger.Error(err))
		return false
	}

	key := contentKey(targetURL, pageLimit, s.now())
	ttl := s.ttl.contentTTL(entry.PageType)

	if !s.store.Set(ctx, key, data, ttl) {
		return false
	}

	s.tracker.trackWrite(ClassContent, len(data))
	s.logger.Info("content cached",
		logger.String("url", targetURL),
		logger.Int("limit", pageLimit),
		logger.Int("size_bytes", len(data)),
		logger.Duration("ttl", ttl),
		logger.String("page_type", string(entry.PageType)),
	)
	return true
}

// GetQuery looks up cached search results for a (query, namespace,
// filters) tuple.
func (s *Service) GetQuery(ctx context.Context, query, namespace string, filters map[string]string) (*domain.QueryEntry, bool) {
	start := s.now()

	key := queryKey(query, namespace, filters)
	data, ok := s.store.Get(ctx, key)
	if !ok {
		s.tracker.trackMiss(ClassQuery, s.now().Sub(start))
		s.logger.Debug("query cache miss", logger.String("query", query), logger.String("namespace", namespace))
		return nil, false
	}

	var entry domain.QueryEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.tracker.trackMiss(ClassQuery, s.now().Sub(start))
		s.logger.Error("query cache entry corrupt", logger.String("key", key), logger.Error(err))
		return nil, false
	}

	elapsed := s.now().Sub(start)
	s.tracker.trackHit(ClassQuery, elapsed)
	s.logger.Info("query cache hit",
		logger.String("query", query),
		logger.Int("results", len(entry.Results)),
		logger.String("age", s.Age(entry.CapturedAt)),
		logger.Duration("elapsed", elapsed),
	)

	return &entry, true
}

// SetQuery caches search results. Filter-qualified queries get the short
// TTL; queries flagged popular by the injected policy get the long one.
func (s *Service) SetQuery(ctx context.Context, entry *domain.QueryEntry) bool {
	if entry.CapturedAt.IsZero() {
		entry.CapturedAt = s.now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		s.logger.Error("query cache marshal failed", logger.String("query", entry.Query), logger.Error(err))
		return false
	}

	key := queryKey(entry.Query, entry.Namespace, entry.Filters)
	ttl := s.ttl.queryTTL(len(entry.Filters) > 0, s.popularity(entry.Query))

	if !s.store.Set(ctx, key, data, ttl) {
		return false
	}

	s.tracker.trackWrite(ClassQuery, len(data))
	s.logger.Info("query cached",
		logger.String("query", entry.Query),
		logger.Int("results", len(entry.Results)),
		logger.Duration("ttl", ttl),
	)
	return true
}

// GetEmbedding looks up a cached embedding vector for (text, model).
func (s *Service) GetEmbedding(ctx context.Context, text, model string) ([]float32, bool) {
	start := s.now()

	data, ok := s.store.Get(ctx, embeddingKey(text, model))
	if !ok {
		s.tracker.trackMiss(ClassEmbedding, s.now().Sub(start))
		return nil, false
	}

	var entry domain.VectorEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.tracker.trackMiss(ClassEmbedding, s.now().Sub(start))
		s.logger.Error("embedding cache entry corrupt", logger.String("model", model), logger.Error(err))
		return nil, false
	}

	s.tracker.trackHit(ClassEmbedding, s.now().Sub(start))
	return entry.Embedding, true
}

// SetEmbedding caches an embedding vector. Embeddings for fixed text under
// a fixed model are immutable in practice, so they get the long TTL.
func (s *Service) SetEmbedding(ctx context.Context, text, model string, embedding []float32) bool {
	entry := domain.VectorEntry{
		Text:       text,
		Model:      model,
		Embedding:  embedding,
		CapturedAt: s.now(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		s.logger.Error("embedding cache marshal failed", logger.String("model", model), logger.Error(err))
		return false
	}

	if !s.store.Set(ctx, embeddingKey(text, model), data, s.ttl.Embedding) {
		return false
	}

	s.tracker.trackWrite(ClassEmbedding, len(data))
	return true
}

// InvalidateClass removes every entry of one cache class and returns the
// count deleted.
func (s *Service) InvalidateClass(ctx context.Context, class string) int {
	deleted := s.store.DeleteMatching(ctx, class+":*")
	s.logger.Info("cache class invalidated",
		logger.String("class", class),
		logger.Int("deleted", deleted),
	)
	return deleted
}

// PerformanceStats exposes per-class hit rate, average latency, totals,
// and cumulative size, plus the aggregate across classes.
func (s *Service) PerformanceStats() Stats {
	return s.tracker.snapshot(s.now())
}
