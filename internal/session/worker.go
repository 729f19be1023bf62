package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mediascout/imagesearch/internal/domain"
	"github.com/mediascout/imagesearch/internal/events"
	"github.com/mediascout/imagesearch/internal/index"
	"github.com/mediascout/imagesearch/internal/logger"
)

// indexBatchSize caps candidates per embed-and-index round trip.
const indexBatchSize = 100

// run executes the session pipeline: content lookup or fetch, candidate
// extraction, then batched embedding and indexing. Any pipeline error
// lands the session in the error state; a panicking collaborator does
// too rather than killing the process.
func (o *Orchestrator) run(ctx context.Context, sess *Session) {
	start := time.Now()
	log := o.deps.Logger.With(logger.String("session_id", sess.ID()))

	defer func() {
		if r := recover(); r != nil {
			log.Error("session worker panic", logger.Any("panic", r))
			sess.fail("pipeline", fmt.Errorf("internal error: %v", r))
		}
		o.finish(sess, start, log)
	}()

	pages, err := o.loadContent(ctx, sess, log)
	if err != nil {
		sess.fail("fetch", err)
		return
	}

	candidates := o.extract(sess, pages, log)
	o.indexCandidates(ctx, sess, candidates, log)

	sess.complete(time.Since(start))
}

// finish settles metrics once the worker exits, whatever the outcome.
func (o *Orchestrator) finish(sess *Session, start time.Time, log logger.Logger) {
	status := sess.Status()
	if o.deps.Metrics != nil {
		o.deps.Metrics.SessionsActive.Dec()
		switch status {
		case StatusCompleted:
			o.deps.Metrics.SessionsCompleted.Inc()
		case StatusError:
			o.deps.Metrics.SessionsFailed.Inc()
		}
	}

	log.Info("session finished",
		logger.String("status", string(status)),
		logger.Duration("duration", time.Since(start)),
	)
}

// loadContent serves pages from the content cache when allowed, fetching
// and writing back on a miss.
func (o *Orchestrator) loadContent(ctx context.Context, sess *Session, log logger.Logger) ([]domain.Page, error) {
	sess.setStatus(StatusFetching, "fetching pages")

	if !sess.skipCache {
		if entry, ok := o.deps.Cache.GetContent(ctx, sess.targetURL, sess.pageLimit); ok {
			age := o.deps.Cache.Age(entry.CapturedAt)
			sess.recordCacheHit(age)
			sess.Outbox().Append(events.NewProgressEvent(
				fmt.Sprintf("using cached content (%s old)", age),
				events.ProgressData{
					SessionID:    sess.ID(),
					PagesFetched: len(entry.Pages),
					FromCache:    true,
					ContentAge:   age,
				},
			))
			log.Info("content cache hit",
				logger.String("url", sess.targetURL),
				logger.String("age", age),
			)
			return entry.Pages, nil
		}
	}

	pages, err := o.deps.Fetcher.Fetch(ctx, sess.targetURL, sess.pageLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", sess.targetURL, err)
	}

	sess.Outbox().Append(events.NewProgressEvent(
		fmt.Sprintf("fetched %d pages", len(pages)),
		events.ProgressData{SessionID: sess.ID(), PagesFetched: len(pages)},
	))

	if !sess.skipCache {
		o.deps.Cache.SetContent(ctx, sess.targetURL, sess.pageLimit, &domain.ContentEntry{
			Pages: pages,
		})
	}
	return pages, nil
}

// extract pulls candidates out of every page, tallying per-format stats.
// A page that fails to parse is skipped, not fatal.
func (o *Orchestrator) extract(sess *Session, pages []domain.Page, log logger.Logger) []domain.Candidate {
	sess.setStatus(StatusProcessing, "extracting image candidates")

	var all []domain.Candidate
	stats := make(map[string]int)

	for _, page := range pages {
		candidates, err := o.deps.Extractor.Extract(page)
		if err != nil {
			log.Warn("page extraction failed",
				logger.String("page_url", page.URL),
				logger.Error(err),
			)
			continue
		}
		for _, c := range candidates {
			stats[c.Format]++
		}
		all = append(all, candidates...)
	}

	sess.recordExtraction(len(pages), len(all), stats)
	sess.Outbox().Append(events.NewProgressEvent(
		fmt.Sprintf("found %d images across %d pages", len(all), len(pages)),
		events.ProgressData{
			SessionID:    sess.ID(),
			PagesFetched: len(pages),
			ImagesFound:  len(all),
		},
	))
	return all
}

// indexCandidates embeds and indexes candidates in bounded batches. A
// batch that fails to embed or to index is logged, counted, and skipped;
// later batches still run, so a session can complete with a partially
// indexed result set.
func (o *Orchestrator) indexCandidates(ctx context.Context, sess *Session, candidates []domain.Candidate, log logger.Logger) {
	sess.setStatus(StatusIndexing, "indexing image candidates")

	namespace := sess.Namespace()
	indexed := 0
	skippedBatches := 0

	for start := 0; start < len(candidates); start += indexBatchSize {
		end := start + indexBatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = o.deps.Text(c)
		}

		skipBatch := func(stage string, err error) {
			skippedBatches++
			if o.deps.Metrics != nil {
				o.deps.Metrics.IndexBatchFailures.Inc()
			}
			log.Warn(stage+" batch skipped",
				logger.Int("batch_start", start),
				logger.Int("batch_size", len(batch)),
				logger.Error(err),
			)
			sess.Outbox().Append(events.NewProgressEvent(
				fmt.Sprintf("batch of %d images skipped", len(batch)),
				events.ProgressData{
					SessionID:     sess.ID(),
					ImagesIndexed: indexed,
					BatchesFailed: skippedBatches,
				},
			))
		}

		vectors, err := o.deps.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			skipBatch("embed", err)
			continue
		}

		docs := make([]index.Document, len(batch))
		for i, c := range batch {
			docs[i] = index.Document{
				ID:        uuid.NewString(),
				Candidate: c,
				Text:      texts[i],
				Vector:    vectors[i],
			}
		}

		failed, err := o.deps.Indexer.IndexBatch(ctx, namespace, docs)
		if err != nil || failed == len(docs) {
			skipBatch("index", err)
			continue
		}

		indexed += len(docs) - failed
		sess.recordIndexing(indexed, skippedBatches)
		sess.Outbox().Append(events.NewProgressEvent(
			fmt.Sprintf("indexed %d of %d images", indexed, len(candidates)),
			events.ProgressData{
				SessionID:     sess.ID(),
				ImagesIndexed: indexed,
				BatchesFailed: skippedBatches,
			},
		))
	}

	sess.recordIndexing(indexed, skippedBatches)
	if o.deps.Metrics != nil && indexed > 0 {
		o.deps.Metrics.CandidatesIndexed.Add(float64(indexed))
	}
}
