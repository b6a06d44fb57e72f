// Package lyrics drives lyrics resolution for the playing track: cache
// lookup, negative memoization, per-key fetch deduplication, racing the
// upstream lookups and warming the cache for the rest of the album.
package lyrics

import (
	"time"

	"lyrics-cache-go/signature"
)

// Status is the resolution state of the current track
type Status string

const (
	StatusDisabled          Status = "disabled"
	StatusNoMetadata        Status = "no-metadata"
	StatusMissingSignature  Status = "missing-signature"
	StatusUnsupportedSource Status = "unsupported-source"
	StatusPending           Status = "pending"
	StatusOK                Status = "ok"
	StatusNotFound          Status = "not-found"
	StatusError             Status = "error"
	StatusCorrupt           Status = "corrupt"
)

// State is what listeners receive on every transition. Lyrics fields are
// set only for StatusOK.
type State struct {
	Status       Status               `json:"status"`
	Provider     string               `json:"provider,omitempty"`
	TrackKey     string               `json:"trackKey,omitempty"`
	Signature    *signature.Signature `json:"signature,omitempty"`
	ID           int64                `json:"id,omitempty"`
	TrackName    string               `json:"trackName,omitempty"`
	ArtistName   string               `json:"artistName,omitempty"`
	AlbumName    string               `json:"albumName,omitempty"`
	Duration     int                  `json:"duration,omitempty"`
	Instrumental bool                 `json:"instrumental,omitempty"`
	SyncedLyrics string               `json:"syncedLyrics,omitempty"`
	OffsetMs     int                  `json:"offsetMs"`
	Error        string               `json:"error,omitempty"`
	Diagnostics  *Diagnostics         `json:"diagnostics,omitempty"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

// RequestTiming describes one upstream lookup of a race
type RequestTiming struct {
	Endpoint   string `json:"endpoint"`
	DurationMs int64  `json:"durationMs"`
	Result     string `json:"result"` // hit, miss or error
	Error      string `json:"error,omitempty"`
}

// Diagnostics is attached to states produced by a resolution.
// CacheStatus is the store lookup status, or "negative" / "shared" when the
// outcome came from the not-found memo or another caller's fetch.
type Diagnostics struct {
	RequestedAt     time.Time       `json:"requestedAt"`
	CacheLookupMs   float64         `json:"cacheLookupMs"`
	CacheStatus     string          `json:"cacheStatus,omitempty"`
	CacheSizeBytes  int64           `json:"cacheSizeBytes"`
	CacheMaxBytes   int64           `json:"cacheMaxBytes"`
	TotalMs         float64         `json:"totalMs"`
	Requests        []RequestTiming `json:"requests,omitempty"`
	PendingRequests []string        `json:"pendingRequests,omitempty"`
}

func (d *Diagnostics) finish() *Diagnostics {
	if d == nil {
		return nil
	}
	d.TotalMs = msSince(d.RequestedAt)
	snapshot := *d
	snapshot.Requests = append([]RequestTiming(nil), d.Requests...)
	snapshot.PendingRequests = append([]string(nil), d.PendingRequests...)
	return &snapshot
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
