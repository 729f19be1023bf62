package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mediascout/imagesearch/internal/cache"
	"github.com/mediascout/imagesearch/internal/dedup"
	"github.com/mediascout/imagesearch/internal/domain"
	"github.com/mediascout/imagesearch/internal/embed"
	"github.com/mediascout/imagesearch/internal/events"
	"github.com/mediascout/imagesearch/internal/fetch"
	"github.com/mediascout/imagesearch/internal/index"
	"github.com/mediascout/imagesearch/internal/logger"
	"github.com/mediascout/imagesearch/internal/metrics"
)

// Orchestrator defaults.
const (
	DefaultMaxConcurrent = 3
	DefaultPageLimit     = 10
	DefaultMaxResults    = 5
	DefaultCleanupAge    = 24 * time.Hour

	// retrievalK is how many candidates the vector search returns
	// before deduplication narrows them down.
	retrievalK = 50
)

// Extractor extracts candidates from a fetched page.
type Extractor interface {
	Extract(page domain.Page) ([]domain.Candidate, error)
}

// TextFunc builds the text embedded and indexed for a candidate.
type TextFunc func(domain.Candidate) string

// Config tunes the orchestrator.
type Config struct {
	MaxConcurrent int           `yaml:"max_concurrent" env:"MAX_CONCURRENT_CRAWLS"`
	PageLimit     int           `yaml:"page_limit" env:"DEFAULT_CRAWL_LIMIT"`
	MaxResults    int           `yaml:"max_results" env:"DEFAULT_SEARCH_RESULTS"`
	CleanupAge    time.Duration `yaml:"cleanup_age" env:"SESSION_CLEANUP_AGE"`
}

// withDefaults fills unset config values.
func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.PageLimit <= 0 {
		c.PageLimit = DefaultPageLimit
	}
	if c.MaxResults <= 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.CleanupAge <= 0 {
		c.CleanupAge = DefaultCleanupAge
	}
	return c
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Cache     *cache.Service
	Dedup     *dedup.Deduplicator
	Fetcher   fetch.Fetcher
	Extractor Extractor
	Embedder  embed.Embedder
	Indexer   index.Indexer
	Retriever index.Retriever
	Metrics   *metrics.Metrics
	Logger    logger.Logger
	// Text defaults to indexing a candidate's context verbatim.
	Text TextFunc
}

// Orchestrator admits sessions, runs their pipelines in background
// workers, and serves search over their indexed candidates.
type Orchestrator struct {
	config   Config
	registry *Registry
	deps     Deps

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg Config, deps Deps) *Orchestrator {
	cfg = cfg.withDefaults()
	if deps.Dedup == nil {
		deps.Dedup = dedup.New(nil)
	}
	if deps.Text == nil {
		deps.Text = func(c domain.Candidate) string { return c.Context }
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		config:   cfg,
		registry: NewRegistry(cfg.MaxConcurrent),
		deps:     deps,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Stop cancels running workers and waits for them to exit.
func (o *Orchestrator) Stop() {
	o.cancel()
	o.wg.Wait()
}

// StartSession admits a new session and starts its pipeline worker.
// Admission fails with domain.ErrCapacityExceeded when the concurrency
// cap is reached; nothing is created in that case.
func (o *Orchestrator) StartSession(targetURL string, pageLimit int, skipCache bool) (string, error) {
	if targetURL == "" {
		return "", errors.New("url is required")
	}
	if pageLimit <= 0 {
		pageLimit = o.config.PageLimit
	}

	sess := newSession(uuid.NewString(), targetURL, pageLimit, skipCache, time.Now())
	if err := o.registry.Admit(sess); err != nil {
		if o.deps.Metrics != nil {
			o.deps.Metrics.SessionsRejected.Inc()
		}
		return "", err
	}

	if o.deps.Metrics != nil {
		o.deps.Metrics.SessionsStarted.Inc()
		o.deps.Metrics.SessionsActive.Inc()
	}

	o.deps.Logger.Info("session admitted",
		logger.String("session_id", sess.ID()),
		logger.String("url", targetURL),
		logger.Int("limit", pageLimit),
		logger.Bool("skip_cache", skipCache),
	)

	// The worker runs detached from the request that started it; a
	// disconnected caller never cancels the pipeline.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(o.ctx, sess)
	}()

	return sess.ID(), nil
}

// Status returns the session snapshot plus any progress events buffered
// since the last poll.
func (o *Orchestrator) Status(sessionID string) (Snapshot, []events.Event, error) {
	sess, ok := o.registry.Get(sessionID)
	if !ok {
		return Snapshot{}, nil, domain.ErrSessionNotFound
	}
	return sess.Snapshot(), sess.Outbox().Drain(), nil
}

// OutboxFor returns the session's event outbox for streaming consumers.
func (o *Orchestrator) OutboxFor(sessionID string) (*events.Outbox, error) {
	sess, ok := o.registry.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return sess.Outbox(), nil
}

// List returns snapshots of every tracked session.
func (o *Orchestrator) List() []Snapshot {
	return o.registry.List()
}

// SearchResult is a ranked, deduplicated search response with cache
// provenance.
type SearchResult struct {
	Results    []domain.Candidate `json:"results"`
	Namespace  string             `json:"namespace"`
	CacheHit   bool               `json:"cache_hit"`
	CacheAge   string             `json:"cache_age,omitempty"`
	CacheClass string             `json:"cache_class"`
}

// Search runs a deduplicated vector search over the session's indexed
// candidates. A retrieval failure is scoped to this call; the session
// itself is unaffected.
func (o *Orchestrator) Search(ctx context.Context, sessionID, query string, formats []string, maxResults int, skipCache bool) (*SearchResult, error) {
	sess, ok := o.registry.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if sess.Status() != StatusCompleted {
		return nil, domain.ErrSessionNotIndexed
	}
	if maxResults <= 0 {
		maxResults = o.config.MaxResults
	}

	namespace := sess.Namespace()
	filters := filterSet(formats)

	if !skipCache {
		if entry, ok := o.deps.Cache.GetQuery(ctx, query, namespace, filters); ok {
			return &SearchResult{
				Results:    entry.Results,
				Namespace:  namespace,
				CacheHit:   true,
				CacheAge:   o.deps.Cache.Age(entry.CapturedAt),
				CacheClass: cache.ClassQuery,
			}, nil
		}
	}

	vector, err := o.deps.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates, err := o.deps.Retriever.Query(ctx, namespace, vector, retrievalK)
	if err != nil {
		return nil, fmt.Errorf("retrieve candidates: %w", err)
	}

	for i := range candidates {
		candidates[i].MatchScore = dedup.LexicalMatchScore(query, candidates[i].AltText, candidates[i].Title)
	}

	results := o.deps.Dedup.Apply(candidates, formats, maxResults)

	if !skipCache {
		o.deps.Cache.SetQuery(ctx, &domain.QueryEntry{
			Query:     query,
			Namespace: namespace,
			Filters:   filters,
			Results:   results,
		})
	}

	return &SearchResult{
		Results:    results,
		Namespace:  namespace,
		CacheClass: cache.ClassQuery,
	}, nil
}

// DeleteSession removes the session and its indexed namespace. Removal
// is idempotent: deleting an unknown id is a no-op.
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID string) error {
	sess, ok := o.registry.Remove(sessionID)
	if !ok {
		return nil
	}

	sess.Outbox().Close()
	if err := o.deps.Indexer.DeleteNamespace(ctx, sess.Namespace()); err != nil {
		o.deps.Logger.Warn("failed to delete session namespace",
			logger.String("session_id", sessionID),
			logger.String("namespace", sess.Namespace()),
			logger.Error(err),
		)
	}

	o.deps.Logger.Info("session deleted", logger.String("session_id", sessionID))
	return nil
}

// Cleanup removes terminal sessions older than maxAge along with their
// indexed namespaces, returning how many were removed. A non-positive
// maxAge falls back to the configured cleanup age.
func (o *Orchestrator) Cleanup(ctx context.Context, maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = o.config.CleanupAge
	}

	swept := o.registry.Sweep(maxAge, time.Now())
	for _, sess := range swept {
		sess.Outbox().Close()
		if err := o.deps.Indexer.DeleteNamespace(ctx, sess.Namespace()); err != nil {
			o.deps.Logger.Warn("failed to delete swept namespace",
				logger.String("session_id", sess.ID()),
				logger.Error(err),
			)
		}
	}

	if len(swept) > 0 {
		o.deps.Logger.Info("session cleanup",
			logger.Int("removed", len(swept)),
			logger.Duration("max_age", maxAge),
		)
	}
	return len(swept)
}

// filterSet canonicalizes a format allow-list into the filter map used
// for query cache keys.
func filterSet(formats []string) map[string]string {
	if len(formats) == 0 {
		return nil
	}
	sorted := append([]string(nil), formats...)
	sort.Strings(sorted)
	return map[string]string{"formats": strings.Join(sorted, ",")}
}
