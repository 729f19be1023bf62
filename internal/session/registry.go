package session

import (
	"sync"
	"time"

	"github.com/mediascout/imagesearch/internal/domain"
)

// Registry tracks admitted sessions and enforces the concurrency cap.
// The lock covers only admission checks, inserts, removals, and the
// active-count scan; pipeline work never runs under it.
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	maxActive int
}

// NewRegistry creates a Registry with the given concurrency cap.
func NewRegistry(maxActive int) *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		maxActive: maxActive,
	}
}

// Admit inserts the session if the number of non-terminal sessions is
// below the cap. On refusal no state is left behind.
func (r *Registry) Admit(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := 0
	for _, existing := range r.sessions {
		if !existing.Status().Terminal() {
			active++
		}
	}
	if active >= r.maxActive {
		return domain.ErrCapacityExceeded
	}

	r.sessions[s.ID()] = s
	return nil
}

// Get returns the session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes the session by id, reporting whether it existed.
func (r *Registry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

// ActiveCount returns how many sessions are in a non-terminal state.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := 0
	for _, s := range r.sessions {
		if !s.Status().Terminal() {
			active++
		}
	}
	return active
}

// List returns a snapshot of every tracked session.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		snapshots = append(snapshots, s.Snapshot())
	}
	return snapshots
}

// Sweep removes terminal sessions older than maxAge and returns them.
// Running sessions are never swept.
func (r *Registry) Sweep(maxAge time.Duration, now time.Time) []*Session {
	r.mu.Lock()
	var swept []*Session
	for id, s := range r.sessions {
		if s.Status().Terminal() && now.Sub(s.CreatedAt()) >= maxAge {
			swept = append(swept, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()
	return swept
}
