// Package lock serializes requests per session within one process. A second
// request arriving while the first is still being handled is rejected
// immediately rather than queued, so callers can tell the user to retry
// instead of piling up latency.
//
// The guarantee is process-local only. Cross-process atomicity for the rate
// counters is provided by the store's scripted execution, not by this lock.
package lock

import (
	"sync"

	chatcore "github.com/creastat/chatcore"
)

// Registry maps session ids to their request mutexes. Mutexes are created
// lazily on first use and removed again once released and unheld, so the
// registry does not grow with the number of sessions ever seen.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRegistry creates an empty lock registry.
func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]*sync.Mutex)}
}

// Acquire attempts a non-blocking lock for the session. It returns false
// when another request for the same session is already in flight, or when
// the id is empty.
func (r *Registry) Acquire(sessionID string) bool {
	if sessionID == "" {
		return false
	}

	r.mu.Lock()
	m, ok := r.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		r.locks[sessionID] = m
	}
	r.mu.Unlock()

	return m.TryLock()
}

// Release unlocks the session's mutex if held and drops it from the
// registry when nobody holds it at that instant.
func (r *Registry) Release(sessionID string) {
	if sessionID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.locks[sessionID]
	if !ok {
		return
	}

	if m.TryLock() {
		// Was not held; undo the trial lock.
		m.Unlock()
	} else {
		m.Unlock()
	}

	if m.TryLock() {
		m.Unlock()
		delete(r.locks, sessionID)
	}
}

// With runs fn while holding the session lock, releasing it on every exit
// path including panics. It returns chatcore.ErrSessionBusy without calling
// fn when the lock is already held.
func (r *Registry) With(sessionID string, fn func() error) error {
	if !r.Acquire(sessionID) {
		return chatcore.ErrSessionBusy
	}
	defer r.Release(sessionID)
	return fn()
}

// Len reports the number of registered mutexes, for observability.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
