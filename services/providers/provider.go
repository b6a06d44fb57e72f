package providers

import (
	"context"
	"sync"

	"lyrics-cache-go/signature"
)

// Strategy is one way of retrieving lyrics for a signature.
type Strategy interface {
	// Name identifies the strategy in diagnostics (e.g. "get-cached", "get", "search")
	Name() string

	// Fetch returns the best candidate for the signature.
	// Returns:
	//   - nil, nil when the service has no match (absence, not failure)
	//   - *ProviderError on transport, status or decode failures
	Fetch(ctx context.Context, sig signature.Signature) (*Candidate, error)
}

// AlbumSearcher lists the tracks of an album, used to warm the cache.
type AlbumSearcher interface {
	SearchAlbum(ctx context.Context, sig signature.Signature) ([]Candidate, error)
}

// Registry holds the strategies raced for every lookup, in registration order.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	order      []string
}

// NewRegistry creates a registry seeded with the given strategies
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// Register adds a strategy, replacing any existing one with the same name
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[s.Name()]; !exists {
		r.order = append(r.order, s.Name())
	}
	r.strategies[s.Name()] = s
}

// List returns all registered strategy names in registration order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// All returns the registered strategies in registration order
func (r *Registry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Strategy, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.strategies[name])
	}
	return out
}
