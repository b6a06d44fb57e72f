package main

import (
	"lyrics-cache-go/cache"
	"lyrics-cache-go/circuitbreaker"
)

// ErrorResponse is the body of every non-2xx JSON reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// CacheStatsResponse is the response format for /cache/stats
type CacheStatsResponse struct {
	Store      cache.Stats              `json:"store"`
	InFlight   int                      `json:"in_flight"`
	Strategies []string                 `json:"strategies"`
	Upstream   *circuitbreaker.Snapshot `json:"upstream,omitempty"`
	Counters   map[string]interface{}   `json:"counters"`
}

// CacheDeleteResponse is the response format for DELETE /lyrics/cache
type CacheDeleteResponse struct {
	Key     string `json:"key"`
	Deleted bool   `json:"deleted"`
}

// HealthResponse is the response format for /health
type HealthResponse struct {
	Status   string `json:"status"`
	Lyrics   string `json:"lyrics"`
	Cache    string `json:"cache"`
	Upstream string `json:"upstream,omitempty"`
	Uptime   string `json:"uptime"`
}
