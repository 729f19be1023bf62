// Package session owns the lifecycle of crawl sessions: admission
// control, the per-session state machine, the background pipeline
// worker, and search over a session's indexed candidates.
package session

import (
	"sync"
	"time"

	"github.com/mediascout/imagesearch/internal/events"
)

// Status is a session lifecycle state.
type Status string

// Session states. Transitions run forward through the pipeline states,
// with error reachable from any non-terminal state.
const (
	StatusInitializing Status = "initializing"
	StatusFetching     Status = "fetching"
	StatusProcessing   Status = "processing"
	StatusIndexing     Status = "indexing"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// namespaceIDLength is how much of the session id seeds the index
// namespace.
const namespaceIDLength = 8

// Session is one admitted crawl unit of work. The background worker is
// its only mutator; snapshots serve concurrent readers.
type Session struct {
	mu sync.Mutex

	id        string
	targetURL string
	pageLimit int
	skipCache bool
	createdAt time.Time

	status         Status
	totalImages    int
	totalPages     int
	indexedCount   int
	skippedBatches int
	errorMessage   string
	stats          map[string]int
	cacheHit       bool
	cacheAge       string

	outbox *events.Outbox
}

func newSession(id, targetURL string, pageLimit int, skipCache bool, now time.Time) *Session {
	return &Session{
		id:        id,
		targetURL: targetURL,
		pageLimit: pageLimit,
		skipCache: skipCache,
		createdAt: now,
		status:    StatusInitializing,
		stats:     make(map[string]int),
		outbox:    events.NewOutbox(0),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Namespace returns the index namespace holding this session's
// candidates.
func (s *Session) Namespace() string {
	id := s.id
	if len(id) > namespaceIDLength {
		id = id[:namespaceIDLength]
	}
	return "session_" + id
}

// Outbox returns the session's progress event buffer.
func (s *Session) Outbox() *events.Outbox { return s.outbox }

// CreatedAt returns the admission time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// setStatus advances the state machine and emits a status event. It is
// a no-op once the session is terminal.
func (s *Session) setStatus(status Status, message string) bool {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.status = status
	s.mu.Unlock()

	s.outbox.Append(events.NewStatusEvent(s.id, string(status), message))
	return true
}

// fail transitions to the error state, recording the message.
func (s *Session) fail(phase string, err error) {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.status = StatusError
	s.errorMessage = err.Error()
	s.mu.Unlock()

	s.outbox.Append(events.NewErrorEvent(s.id, phase, err))
	s.outbox.Close()
}

// complete transitions to the completed state.
func (s *Session) complete(duration time.Duration) {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.status = StatusCompleted
	indexed := s.indexedCount
	s.mu.Unlock()

	s.outbox.Append(events.NewCompletedEvent(s.id, indexed, duration))
	s.outbox.Close()
}

func (s *Session) recordCacheHit(age string) {
	s.mu.Lock()
	s.cacheHit = true
	s.cacheAge = age
	s.mu.Unlock()
}

func (s *Session) recordExtraction(pages, images int, stats map[string]int) {
	s.mu.Lock()
	s.totalPages = pages
	s.totalImages = images
	s.stats = stats
	s.mu.Unlock()
}

func (s *Session) recordIndexing(indexed, skippedBatches int) {
	s.mu.Lock()
	s.indexedCount = indexed
	s.skippedBatches = skippedBatches
	s.mu.Unlock()
}

// Snapshot is a point-in-time copy of a session's observable state.
type Snapshot struct {
	ID             string         `json:"session_id"`
	TargetURL      string         `json:"url"`
	PageLimit      int            `json:"limit"`
	Status         Status         `json:"status"`
	SkipCache      bool           `json:"skip_cache"`
	TotalImages    int            `json:"total_images"`
	TotalPages     int            `json:"total_pages"`
	IndexedCount   int            `json:"indexed_count"`
	SkippedBatches int            `json:"skipped_batches,omitempty"`
	ErrorMessage   string         `json:"error,omitempty"`
	Completed      bool           `json:"completed"`
	Stats          map[string]int `json:"image_stats,omitempty"`
	CacheHit       bool           `json:"cache_hit"`
	CacheAge       string         `json:"cache_age,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Snapshot copies the session's observable state under its lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(map[string]int, len(s.stats))
	for format, count := range s.stats {
		stats[format] = count
	}

	return Snapshot{
		ID:             s.id,
		TargetURL:      s.targetURL,
		PageLimit:      s.pageLimit,
		Status:         s.status,
		SkipCache:      s.skipCache,
		TotalImages:    s.totalImages,
		TotalPages:     s.totalPages,
		IndexedCount:   s.indexedCount,
		SkippedBatches: s.skippedBatches,
		ErrorMessage:   s.errorMessage,
		Completed:      s.status == StatusCompleted,
		Stats:          stats,
		CacheHit:       s.cacheHit,
		CacheAge:       s.cacheAge,
		CreatedAt:      s.createdAt,
	}
}
