package stats

import (
	"sync/atomic"
	"time"
)

// Stats holds process-lifetime counters with atomic fields
type Stats struct {
	// Server info
	StartTime time.Time

	// Request counters
	TotalRequests    atomic.Int64
	MetadataRequests atomic.Int64
	LyricsRequests   atomic.Int64
	SettingsRequests atomic.Int64
	CacheRequests    atomic.Int64
	HealthRequests   atomic.Int64
	OtherRequests    atomic.Int64

	// Resolution outcomes
	Resolutions       atomic.Int64
	CacheHits         atomic.Int64
	CacheMisses       atomic.Int64
	CacheCorrupt      atomic.Int64
	CacheErrors       atomic.Int64
	NegativeCacheHits atomic.Int64
	SharedFetches     atomic.Int64 // joined another caller's in-flight fetch
	LiveFetches       atomic.Int64
	NotFound          atomic.Int64
	FetchErrors       atomic.Int64

	// Prefetch
	PrefetchPasses  atomic.Int64
	PrefetchStored  atomic.Int64
	PrefetchSkipped atomic.Int64
	PrefetchErrors  atomic.Int64

	// Rate limiting
	RateLimitAllowed  atomic.Int64
	RateLimitExceeded atomic.Int64 // Requests rejected (429)

	// Response status codes
	Status2xx atomic.Int64
	Status4xx atomic.Int64
	Status5xx atomic.Int64

	// Response time tracking (in microseconds for precision)
	totalResponseTime atomic.Int64
	responseCount     atomic.Int64
	minResponseTime   atomic.Int64
	maxResponseTime   atomic.Int64

	// Live fetch time (microseconds)
	fetchTime  atomic.Int64
	fetchCount atomic.Int64
}

const noMinimum = int64(^uint64(0) >> 1)

// New returns an empty, independent Stats
func New() *Stats {
	s := &Stats{StartTime: time.Now()}
	s.minResponseTime.Store(noMinimum)
	return s
}

// Global stats instance
var global = New()

// Get returns the global stats instance
func Get() *Stats {
	return global
}

// RecordRequest records a request to a specific endpoint
func (s *Stats) RecordRequest(endpoint string) {
	s.TotalRequests.Add(1)
	switch endpoint {
	case "/metadata", "/metadata/next":
		s.MetadataRequests.Add(1)
	case "/lyrics":
		s.LyricsRequests.Add(1)
	case "/settings":
		s.SettingsRequests.Add(1)
	case "/cache/stats":
		s.CacheRequests.Add(1)
	case "/health":
		s.HealthRequests.Add(1)
	default:
		s.OtherRequests.Add(1)
	}
}

// RecordCacheLookup counts a store lookup by its status string
func (s *Stats) RecordCacheLookup(status string) {
	switch status {
	case "hit":
		s.CacheHits.Add(1)
	case "miss":
		s.CacheMisses.Add(1)
	case "corrupt":
		s.CacheCorrupt.Add(1)
	case "error":
		s.CacheErrors.Add(1)
	}
}

// RecordNegativeCacheHit records a memoized not-found
func (s *Stats) RecordNegativeCacheHit() {
	s.NegativeCacheHits.Add(1)
}

// RecordSharedFetch records a caller that waited on another's fetch
func (s *Stats) RecordSharedFetch() {
	s.SharedFetches.Add(1)
}

// RecordLiveFetch records a completed upstream race and its outcome
func (s *Stats) RecordLiveFetch(duration time.Duration, outcome string) {
	s.LiveFetches.Add(1)
	s.fetchTime.Add(duration.Microseconds())
	s.fetchCount.Add(1)
	switch outcome {
	case "not-found":
		s.NotFound.Add(1)
	case "error":
		s.FetchErrors.Add(1)
	}
}

// RecordPrefetch records the outcome counts of one prefetch pass
func (s *Stats) RecordPrefetch(stored, skipped, errors int) {
	s.PrefetchPasses.Add(1)
	s.PrefetchStored.Add(int64(stored))
	s.PrefetchSkipped.Add(int64(skipped))
	s.PrefetchErrors.Add(int64(errors))
}

// RecordRateLimit records rate limit outcome
func (s *Stats) RecordRateLimit(tier string) {
	switch tier {
	case "allowed":
		s.RateLimitAllowed.Add(1)
	case "exceeded":
		s.RateLimitExceeded.Add(1)
	}
}

// RecordStatusCode records a response status code
func (s *Stats) RecordStatusCode(code int) {
	switch {
	case code >= 200 && code < 300:
		s.Status2xx.Add(1)
	case code >= 400 && code < 500:
		s.Status4xx.Add(1)
	case code >= 500:
		s.Status5xx.Add(1)
	}
}

// RecordResponseTime records a response time
func (s *Stats) RecordResponseTime(duration time.Duration) {
	us := duration.Microseconds()

	s.totalResponseTime.Add(us)
	s.responseCount.Add(1)

	// Update min/max atomically
	for {
		current := s.minResponseTime.Load()
		if us >= current || s.minResponseTime.CompareAndSwap(current, us) {
			break
		}
	}
	for {
		current := s.maxResponseTime.Load()
		if us <= current || s.maxResponseTime.CompareAndSwap(current, us) {
			break
		}
	}
}

// Uptime returns the server uptime
func (s *Stats) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// CacheHitRate returns the store hit rate as a percentage
func (s *Stats) CacheHitRate() float64 {
	hits := s.CacheHits.Load()
	total := hits + s.CacheMisses.Load() + s.CacheCorrupt.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total) * 100
}

// AvgResponseTime returns the average response time
func (s *Stats) AvgResponseTime() time.Duration {
	count := s.responseCount.Load()
	if count == 0 {
		return 0
	}
	return time.Duration(s.totalResponseTime.Load()/count) * time.Microsecond
}

// MinResponseTime returns the minimum response time
func (s *Stats) MinResponseTime() time.Duration {
	min := s.minResponseTime.Load()
	if min == noMinimum {
		return 0
	}
	return time.Duration(min) * time.Microsecond
}

// MaxResponseTime returns the maximum response time
func (s *Stats) MaxResponseTime() time.Duration {
	return time.Duration(s.maxResponseTime.Load()) * time.Microsecond
}

// AvgFetchTime returns the average live fetch time
func (s *Stats) AvgFetchTime() time.Duration {
	count := s.fetchCount.Load()
	if count == 0 {
		return 0
	}
	return time.Duration(s.fetchTime.Load()/count) * time.Microsecond
}

// Snapshot returns a point-in-time snapshot of all stats
func (s *Stats) Snapshot() map[string]interface{} {
	uptime := s.Uptime()

	return map[string]interface{}{
		"server": map[string]interface{}{
			"start_time":     s.StartTime.Format(time.RFC3339),
			"uptime":         uptime.String(),
			"uptime_seconds": int64(uptime.Seconds()),
		},
		"requests": map[string]interface{}{
			"total":    s.TotalRequests.Load(),
			"metadata": s.MetadataRequests.Load(),
			"lyrics":   s.LyricsRequests.Load(),
			"settings": s.SettingsRequests.Load(),
			"cache":    s.CacheRequests.Load(),
			"health":   s.HealthRequests.Load(),
			"other":    s.OtherRequests.Load(),
		},
		"resolution": map[string]interface{}{
			"total":         s.Resolutions.Load(),
			"live_fetches":  s.LiveFetches.Load(),
			"shared":        s.SharedFetches.Load(),
			"not_found":     s.NotFound.Load(),
			"errors":        s.FetchErrors.Load(),
			"avg_fetch":     s.AvgFetchTime().String(),
			"negative_hits": s.NegativeCacheHits.Load(),
		},
		"cache": map[string]interface{}{
			"hits":     s.CacheHits.Load(),
			"misses":   s.CacheMisses.Load(),
			"corrupt":  s.CacheCorrupt.Load(),
			"errors":   s.CacheErrors.Load(),
			"hit_rate": s.CacheHitRate(),
		},
		"prefetch": map[string]interface{}{
			"passes":  s.PrefetchPasses.Load(),
			"stored":  s.PrefetchStored.Load(),
			"skipped": s.PrefetchSkipped.Load(),
			"errors":  s.PrefetchErrors.Load(),
		},
		"rate_limiting": map[string]interface{}{
			"allowed":  s.RateLimitAllowed.Load(),
			"exceeded": s.RateLimitExceeded.Load(),
		},
		"responses": map[string]interface{}{
			"2xx": s.Status2xx.Load(),
			"4xx": s.Status4xx.Load(),
			"5xx": s.Status5xx.Load(),
		},
		"response_times": map[string]interface{}{
			"avg": s.AvgResponseTime().String(),
			"min": s.MinResponseTime().String(),
			"max": s.MaxResponseTime().String(),
		},
	}
}
