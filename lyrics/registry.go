package lyrics

import (
	"context"
	"sync"
	"time"
)

// Call is a fetch in progress. Followers wait on it; the leader finishes it
// through InFlightRegistry.Complete.
type Call struct {
	done  chan struct{}
	state State
}

// Wait blocks until the leader completes the call or ctx ends.
func (c *Call) Wait(ctx context.Context) (State, error) {
	select {
	case <-c.done:
		return c.state, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// InFlightRegistry guarantees at most one outstanding fetch per cache key.
type InFlightRegistry struct {
	mu    sync.Mutex
	calls map[string]*Call
}

func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{calls: make(map[string]*Call)}
}

// Acquire returns the call for key. leader is true when the caller created
// it and must fetch, then call Complete.
func (r *InFlightRegistry) Acquire(key string) (call *Call, leader bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.calls[key]; ok {
		return c, false
	}
	c := &Call{done: make(chan struct{})}
	r.calls[key] = c
	return c, true
}

// Complete publishes the outcome to all waiters and forgets the key.
func (r *InFlightRegistry) Complete(key string, state State) {
	r.mu.Lock()
	c, ok := r.calls[key]
	delete(r.calls, key)
	r.mu.Unlock()
	if !ok {
		return
	}
	c.state = state
	close(c.done)
}

// Has reports whether a fetch for key is running
func (r *InFlightRegistry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.calls[key]
	return ok
}

// Len returns the number of running fetches
func (r *InFlightRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// DefaultNegativeTTL bounds how long a not-found result is reused
const DefaultNegativeTTL = 10 * time.Minute

// negativeSweepEvery is how many inserts pass between expiry sweeps
const negativeSweepEvery = 64

type negativeEntry struct {
	state     State
	expiresAt time.Time
}

// NegativeCache memoizes not-found outcomes for a fixed time window
type NegativeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]negativeEntry
	inserts int
}

func NewNegativeCache(ttl time.Duration, now func() time.Time) *NegativeCache {
	if ttl <= 0 {
		ttl = DefaultNegativeTTL
	}
	if now == nil {
		now = time.Now
	}
	return &NegativeCache{ttl: ttl, now: now, entries: make(map[string]negativeEntry)}
}

// Lookup returns a live entry for key. Expired entries are dropped.
func (n *NegativeCache) Lookup(key string) (State, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	e, ok := n.entries[key]
	if !ok {
		return State{}, false
	}
	if !n.now().Before(e.expiresAt) {
		delete(n.entries, key)
		return State{}, false
	}
	return e.state, true
}

// Remember stores a not-found outcome for the TTL. Every few inserts it
// also drops expired entries, so keys that are never looked up again do
// not pile up.
func (n *NegativeCache) Remember(key string, state State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	n.entries[key] = negativeEntry{state: state, expiresAt: now.Add(n.ttl)}
	n.inserts++
	if n.inserts%negativeSweepEvery == 0 {
		n.purgeLocked(now)
	}
}

// Purge removes expired entries and returns how many were removed
func (n *NegativeCache) Purge() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.purgeLocked(n.now())
}

func (n *NegativeCache) purgeLocked(now time.Time) int {
	removed := 0
	for key, e := range n.entries {
		if !now.Before(e.expiresAt) {
			delete(n.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of remembered entries, expired or not
func (n *NegativeCache) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.entries)
}
