package cache

import (
	"errors"
	"math"
	"time"
)

// DefaultPath is where the lyrics database lives unless configured
const DefaultPath = "/var/lib/wiim-now-playing/lyrics-cache.db"

var (
	ErrDisabled       = errors.New("lyrics cache is disabled")
	ErrUnavailable    = errors.New("lyrics cache is unavailable")
	ErrRecordTooLarge = errors.New("record exceeds cache budget")
	ErrEmptyRecord    = errors.New("record has no key or synced lyrics")
)

// Config controls the store. A disabled config turns every operation into
// a no-op that reports StatusDisabled.
type Config struct {
	Enabled  bool   `json:"enabled"`
	MaxBytes int64  `json:"maxBytes"`
	Path     string `json:"path"`
}

// NewConfig derives a Config from user-facing settings. The cache is enabled
// only when not explicitly switched off and the size budget is positive.
func NewConfig(enabled bool, maxSizeMB float64, path string) Config {
	if path == "" {
		path = DefaultPath
	}
	maxBytes := int64(0)
	if maxSizeMB > 0 {
		maxBytes = int64(math.Round(maxSizeMB * 1024 * 1024))
	}
	return Config{
		Enabled:  enabled && maxBytes > 0,
		MaxBytes: maxBytes,
		Path:     path,
	}
}

// Status is the outcome of a lookup
type Status string

const (
	StatusHit      Status = "hit"
	StatusMiss     Status = "miss"
	StatusCorrupt  Status = "corrupt"
	StatusDisabled Status = "disabled"
	StatusError    Status = "error"
)

// LyricsRecord is one cached lyrics entry. SizeBytes is the compressed size
// and is what counts against the budget.
type LyricsRecord struct {
	Key            string    `json:"trackKey"`
	TrackName      string    `json:"trackName"`
	ArtistName     string    `json:"artistName"`
	AlbumName      string    `json:"albumName"`
	Duration       int       `json:"duration"`
	Provider       string    `json:"provider"`
	SourceID       int64     `json:"id,omitempty"`
	Instrumental   bool      `json:"instrumental"`
	SyncedLyrics   string    `json:"syncedLyrics"`
	SizeBytes      int64     `json:"sizeBytes"`
	FetchedAt      time.Time `json:"fetchedAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
}

// GetResult is returned by Store.Get
type GetResult struct {
	Status   Status
	Record   *LyricsRecord
	Duration time.Duration
	Err      error
}

// PutResult is returned by Store.Put
type PutResult struct {
	SizeBytes  int64 `json:"sizeBytes"`
	Pruned     int   `json:"pruned"`
	TotalBytes int64 `json:"totalBytes"`
}

// PruneResult is returned by Store.Prune
type PruneResult struct {
	Removed    int   `json:"removed"`
	TotalBytes int64 `json:"totalBytes"`
}

// Stats describes current usage
type Stats struct {
	Enabled        bool  `json:"enabled"`
	Available      bool  `json:"available"`
	TotalBytes     int64 `json:"totalBytes"`
	TotalCount     int64 `json:"totalCount"`
	MaxBytes       int64 `json:"maxBytes"`
	PendingTouches int   `json:"pendingTouches"`
}

// storedRecord is the on-disk form of a LyricsRecord. Access time lives in
// its own bucket so a touch never rewrites the lyrics blob.
type storedRecord struct {
	TrackName    string `json:"trackName"`
	ArtistName   string `json:"artistName"`
	AlbumName    string `json:"albumName"`
	Duration     int    `json:"duration"`
	Provider     string `json:"provider"`
	SourceID     int64  `json:"id,omitempty"`
	Instrumental bool   `json:"instrumental"`
	Lyrics       []byte `json:"lyrics"`
	SizeBytes    int64  `json:"size"`
	FetchedAt    int64  `json:"fetchedAt"`
}
