package lrclib

import (
	"context"

	"lyrics-cache-go/services/providers"
	"lyrics-cache-go/signature"
)

// CachedStrategy queries /api/get-cached
type CachedStrategy struct{ Client *Client }

func (s CachedStrategy) Name() string { return EndpointGetCached }

func (s CachedStrategy) Fetch(ctx context.Context, sig signature.Signature) (*providers.Candidate, error) {
	return s.Client.GetCached(ctx, sig)
}

// ExactStrategy queries /api/get
type ExactStrategy struct{ Client *Client }

func (s ExactStrategy) Name() string { return EndpointGet }

func (s ExactStrategy) Fetch(ctx context.Context, sig signature.Signature) (*providers.Candidate, error) {
	return s.Client.GetExact(ctx, sig)
}

// SearchStrategy queries /api/search and keeps the best scoring candidate
type SearchStrategy struct {
	Client  *Client
	Matcher providers.Matcher
}

func (s SearchStrategy) Name() string { return EndpointSearch }

func (s SearchStrategy) Fetch(ctx context.Context, sig signature.Signature) (*providers.Candidate, error) {
	candidates, err := s.Client.Search(ctx, sig)
	if err != nil || len(candidates) == 0 {
		return nil, err
	}
	return s.Matcher.SelectBest(candidates, sig), nil
}

// Strategies returns the three lookups in race order
func Strategies(client *Client, matcher providers.Matcher) []providers.Strategy {
	return []providers.Strategy{
		CachedStrategy{Client: client},
		ExactStrategy{Client: client},
		SearchStrategy{Client: client, Matcher: matcher},
	}
}
