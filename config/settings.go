package config

// Prefetch modes
const (
	PrefetchOff   = "off"
	PrefetchAlbum = "album"
)

// CacheSettings are the runtime cache knobs
type CacheSettings struct {
	Enabled                bool    `json:"enabled"`
	MaxSizeMB              float64 `json:"maxSizeMB"`
	PrefetchMode           string  `json:"prefetch"`
	MaxPrefetchConcurrency int     `json:"maxPrefetchConcurrency"`
	Path                   string  `json:"path,omitempty"`
}

// Settings is the lyrics feature configuration pushed by the settings
// collaborator. It is a value type; callers replace it as a whole.
type Settings struct {
	Enabled  bool          `json:"enabled"`
	OffsetMs int           `json:"offsetMs"`
	Cache    CacheSettings `json:"cache"`
}

// CacheSettingsUpdate carries the cache fields present in an update
type CacheSettingsUpdate struct {
	Enabled                *bool    `json:"enabled,omitempty"`
	MaxSizeMB              *float64 `json:"maxSizeMB,omitempty"`
	PrefetchMode           *string  `json:"prefetch,omitempty"`
	MaxPrefetchConcurrency *int     `json:"maxPrefetchConcurrency,omitempty"`
}

// SettingsUpdate is a partial update; nil fields are left unchanged
type SettingsUpdate struct {
	Enabled  *bool                `json:"enabled,omitempty"`
	OffsetMs *int                 `json:"offsetMs,omitempty"`
	Cache    *CacheSettingsUpdate `json:"cache,omitempty"`
}

// DefaultSettings seeds runtime settings from the feature flags
func (c Config) DefaultSettings() Settings {
	ff := c.FeatureFlags
	s := Settings{
		Enabled:  ff.LyricsEnabled,
		OffsetMs: ff.LyricsOffsetMs,
		Cache: CacheSettings{
			Enabled:                ff.LyricsCacheEnabled,
			MaxSizeMB:              ff.LyricsCacheMaxSizeMB,
			PrefetchMode:           ff.LyricsPrefetch,
			MaxPrefetchConcurrency: ff.LyricsMaxPrefetchConcurrency,
			Path:                   c.Configuration.LyricsCachePath,
		},
	}
	if s.Cache.MaxSizeMB < 0 {
		s.Cache.MaxSizeMB = 0
	}
	if !validPrefetchMode(s.Cache.PrefetchMode) {
		s.Cache.PrefetchMode = PrefetchOff
	}
	if s.Cache.MaxPrefetchConcurrency < 1 {
		s.Cache.MaxPrefetchConcurrency = 4
	}
	return s
}

func validPrefetchMode(mode string) bool {
	return mode == PrefetchOff || mode == PrefetchAlbum
}

// Apply returns s with the update applied. Negative sizes clamp to zero;
// unknown prefetch modes and concurrency below one are ignored.
// refresh reports whether the enabled flag was part of the update, which
// calls for resolving the current track again.
func (s Settings) Apply(u SettingsUpdate) (next Settings, refresh bool) {
	next = s
	if u.Enabled != nil {
		next.Enabled = *u.Enabled
		refresh = true
	}
	if u.OffsetMs != nil {
		next.OffsetMs = *u.OffsetMs
	}
	if c := u.Cache; c != nil {
		if c.Enabled != nil {
			next.Cache.Enabled = *c.Enabled
		}
		if c.MaxSizeMB != nil {
			next.Cache.MaxSizeMB = max(0, *c.MaxSizeMB)
		}
		if c.PrefetchMode != nil && validPrefetchMode(*c.PrefetchMode) {
			next.Cache.PrefetchMode = *c.PrefetchMode
		}
		if c.MaxPrefetchConcurrency != nil && *c.MaxPrefetchConcurrency >= 1 {
			next.Cache.MaxPrefetchConcurrency = *c.MaxPrefetchConcurrency
		}
	}
	return next, refresh
}
