package search

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	// DefaultIdleTimeout is how long a view worker survives without requests.
	DefaultIdleTimeout = 30 * time.Minute
	// MaxViewsPerSession bounds the workers one session may hold. Opening
	// one more stops the session's least recently used view.
	MaxViewsPerSession = 8
)

type viewKey struct {
	session string
	view    string
}

type viewEntry struct {
	worker   *Worker
	lastUsed time.Time
}

// ViewRegistry keeps one Worker per (browser session, view). Workers never
// outlive their session: DropSession stops them on logout and Sweep stops
// the ones left idle.
type ViewRegistry struct {
	mu         sync.Mutex
	views      map[viewKey]*viewEntry
	idle       time.Duration
	maxPerSess int
	now        func() time.Time
}

func NewViewRegistry(idle time.Duration) *ViewRegistry {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	return &ViewRegistry{
		views:      map[viewKey]*viewEntry{},
		idle:       idle,
		maxPerSess: MaxViewsPerSession,
		now:        time.Now,
	}
}

// Worker returns the worker for the view, starting one if needed. When the
// session is at its view limit the least recently used view is stopped.
func (r *ViewRegistry) Worker(session, view string) *Worker {
	var evicted *Worker
	r.mu.Lock()
	key := viewKey{session: session, view: view}
	entry, ok := r.views[key]
	if !ok {
		evicted = r.evictLocked(session)
		entry = &viewEntry{worker: NewWorker()}
		r.views[key] = entry
	}
	entry.lastUsed = r.now()
	r.mu.Unlock()

	if evicted != nil {
		evicted.Close()
	}
	return entry.worker
}

// evictLocked removes the session's least recently used view when the
// session already holds maxPerSess of them.
func (r *ViewRegistry) evictLocked(session string) *Worker {
	var (
		count  int
		oldest viewKey
		found  *viewEntry
	)
	for key, entry := range r.views {
		if key.session != session {
			continue
		}
		count++
		if found == nil || entry.lastUsed.Before(found.lastUsed) {
			oldest, found = key, entry
		}
	}
	if found == nil || count < r.maxPerSess {
		return nil
	}
	delete(r.views, oldest)
	return found.worker
}

// Lookup returns an existing worker without starting one.
func (r *ViewRegistry) Lookup(session, view string) (*Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.views[viewKey{session: session, view: view}]
	if !ok {
		return nil, false
	}
	entry.lastUsed = r.now()
	return entry.worker, true
}

// DropSession stops every worker of a session and returns how many there were.
func (r *ViewRegistry) DropSession(session string) int {
	var stale []*Worker
	r.mu.Lock()
	for key, entry := range r.views {
		if key.session == session {
			stale = append(stale, entry.worker)
			delete(r.views, key)
		}
	}
	r.mu.Unlock()

	for _, w := range stale {
		w.Close()
	}
	return len(stale)
}

// Sweep stops workers idle for longer than the registry's timeout.
func (r *ViewRegistry) Sweep() int {
	var stale []*Worker
	r.mu.Lock()
	cutoff := r.now().Add(-r.idle)
	for key, entry := range r.views {
		if entry.lastUsed.Before(cutoff) {
			stale = append(stale, entry.worker)
			delete(r.views, key)
		}
	}
	r.mu.Unlock()

	for _, w := range stale {
		w.Close()
	}
	return len(stale)
}

// Run sweeps on every interval until ctx is done, then stops all workers.
func (r *ViewRegistry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Close()
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				log.Printf("search: swept %d idle view workers", n)
			}
		}
	}
}

func (r *ViewRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}

// Close stops every worker.
func (r *ViewRegistry) Close() {
	r.mu.Lock()
	views := r.views
	r.views = map[viewKey]*viewEntry{}
	r.mu.Unlock()

	for _, entry := range views {
		entry.worker.Close()
	}
}
