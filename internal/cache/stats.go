package cache

import (
	"sync"
	"time"

	"github.com/mediascout/imagesearch/internal/metrics"
)

// ClassStats summarizes cache effectiveness for one cache class.
type ClassStats struct {
	HitRate      float64 `json:"hit_rate"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	Hits         int64   `json:"total_hits"`
	Misses       int64   `json:"total_misses"`
	SizeBytes    int64   `json:"size_bytes"`
}

// Stats is the full performance snapshot across all cache classes.
type Stats struct {
	Classes       map[string]ClassStats `json:"classes"`
	OverallHits   int64                 `json:"overall_hits"`
	OverallMisses int64                 `json:"overall_misses"`
	OverallRate   float64               `json:"overall_hit_rate"`
	TotalBytes    int64                 `json:"total_size_bytes"`
	UptimeSeconds float64               `json:"uptime_seconds"`
}

// tracker accumulates per-class hit/miss/latency/size counters. It also
// forwards observations to Prometheus when a metrics sink is attached.
type tracker struct {
	mu        sync.Mutex
	hits      map[string]int64
	misses    map[string]int64
	latencies map[string][]float64
	sizes     map[string]int64
	startedAt time.Time

	prom *metrics.Metrics
}

func newTracker(prom *metrics.Metrics, now time.Time) *tracker {
	t := &tracker{
		hits:      make(map[string]int64),
		misses:    make(map[string]int64),
		latencies: make(map[string][]float64),
		sizes:     make(map[string]int64),
		startedAt: now,
		prom:      prom,
	}
	for _, class := range []string{ClassContent, ClassQuery, ClassEmbedding} {
		t.hits[class] = 0
		t.misses[class] = 0
	}
	return t
}

func (t *tracker) trackHit(class string, elapsed time.Duration) {
	t.mu.Lock()
	t.hits[class]++
	t.latencies[class] = append(t.latencies[class], float64(elapsed.Microseconds())/1000)
	t.mu.Unlock()

	if t.prom != nil {
		t.prom.CacheHits.WithLabelValues(class).Inc()
		t.prom.CacheLatency.WithLabelValues(class).Observe(elapsed.Seconds())
	}
}

func (t *tracker) trackMiss(class string, elapsed time.Duration) {
	t.mu.Lock()
	t.misses[class]++
	t.latencies[class] = append(t.latencies[class], float64(elapsed.Microseconds())/1000)
	t.mu.Unlock()

	if t.prom != nil {
		t.prom.CacheMisses.WithLabelValues(class).Inc()
		t.prom.CacheLatency.WithLabelValues(class).Observe(elapsed.Seconds())
	}
}

func (t *tracker) trackWrite(class string, sizeBytes int) {
	t.mu.Lock()
	t.sizes[class] += int64(sizeBytes)
	total := t.sizes[class]
	t.mu.Unlock()

	if t.prom != nil {
		t.prom.CacheBytes.WithLabelValues(class).Set(float64(total))
	}
}

// snapshot computes the stats under the lock. Hit rate is 0 when a class
// has seen no traffic.
func (t *tracker) snapshot(now time.Time) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := Stats{
		Classes:       make(map[string]ClassStats, len(t.hits)),
		UptimeSeconds: now.Sub(t.startedAt).Seconds(),
	}

	for class := range t.hits {
		hits := t.hits[class]
		misses := t.misses[class]

		var rate float64
		if hits+misses > 0 {
			rate = float64(hits) / float64(hits+misses)
		}

		var avg float64
		if lats := t.latencies[class]; len(lats) > 0 {
			var sum float64
			for _, l := range lats {
				sum += l
			}
			avg = sum / float64(len(lats))
		}

		stats.Classes[class] = ClassStats{
			HitRate:      rate,
			AvgLatencyMS: avg,
			Hits:         hits,
			Misses:       misses,
			SizeBytes:    t.sizes[class],
		}

		stats.OverallHits += hits
		stats.OverallMisses += misses
		stats.TotalBytes += t.sizes[class]
	}

	if total := stats.OverallHits + stats.OverallMisses; total > 0 {
		stats.OverallRate = float64(stats.OverallHits) / float64(total)
	}

	return stats
}
