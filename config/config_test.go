package config

import (
	"os"
	"reflect"
	"testing"
)

func TestConfigDefaultValues(t *testing.T) {
	// Clear any existing env vars that might interfere
	envVars := []string{
		"PORT",
		"LRCLIB_BASE_URL",
		"REQUEST_TIMEOUT_SECS",
		"NEGATIVE_CACHE_TTL_SECS",
		"MATCH_SCORE_THRESHOLD",
		"DURATION_TOLERANCE_SECS",
		"PREFETCH_BATCH_LIMIT",
		"LYRICS_CACHE_PATH",
		"ALLOWED_SOURCES",
		"FF_LYRICS_ENABLED",
		"FF_LYRICS_CACHE_ENABLED",
		"FF_LYRICS_CACHE_MAX_SIZE_MB",
		"FF_LYRICS_PREFETCH",
		"FF_LYRICS_MAX_PREFETCH_CONCURRENCY",
	}

	// Store original values
	originalValues := make(map[string]string)
	for _, key := range envVars {
		originalValues[key] = os.Getenv(key)
		os.Unsetenv(key)
	}
	defer func() {
		// Restore original values
		for key, value := range originalValues {
			if value != "" {
				os.Setenv(key, value)
			}
		}
	}()

	cfg, err := load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{"Port default", cfg.Configuration.Port, "8080"},
		{"LRCLIBBaseURL default", cfg.Configuration.LRCLIBBaseURL, "https://lrclib.net"},
		{"RequestTimeoutSecs default", cfg.Configuration.RequestTimeoutSecs, 10},
		{"NegativeCacheTTLSecs default", cfg.Configuration.NegativeCacheTTLSecs, 600},
		{"MatchScoreThreshold default", cfg.Configuration.MatchScoreThreshold, 70},
		{"DurationToleranceSecs default", cfg.Configuration.DurationToleranceSecs, 10},
		{"PrefetchBatchLimit default", cfg.Configuration.PrefetchBatchLimit, 20},
		{"LyricsCachePath default", cfg.Configuration.LyricsCachePath, "/var/lib/wiim-now-playing/lyrics-cache.db"},
		{"AllowedSources default", cfg.Configuration.AllowedSources, ""},
		{"LyricsEnabled default", cfg.FeatureFlags.LyricsEnabled, false},
		{"LyricsCacheEnabled default", cfg.FeatureFlags.LyricsCacheEnabled, true},
		{"LyricsCacheMaxSizeMB default", cfg.FeatureFlags.LyricsCacheMaxSizeMB, 50.0},
		{"LyricsPrefetch default", cfg.FeatureFlags.LyricsPrefetch, "album"},
		{"LyricsMaxPrefetchConcurrency default", cfg.FeatureFlags.LyricsMaxPrefetchConcurrency, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, tt.got)
			}
		})
	}
}

func TestConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("NEGATIVE_CACHE_TTL_SECS", "60")
	t.Setenv("ALLOWED_SOURCES", "Spotify, TIDAL,")
	t.Setenv("FF_LYRICS_ENABLED", "true")
	t.Setenv("FF_LYRICS_CACHE_MAX_SIZE_MB", "12.5")
	t.Setenv("FF_LYRICS_PREFETCH", "off")

	cfg, err := load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Configuration.Port != "9090" {
		t.Errorf("Expected port 9090, got %q", cfg.Configuration.Port)
	}
	if cfg.Configuration.NegativeCacheTTLSecs != 60 {
		t.Errorf("Expected TTL 60, got %d", cfg.Configuration.NegativeCacheTTLSecs)
	}
	if got := cfg.AllowedSourceList(); !reflect.DeepEqual(got, []string{"Spotify", "TIDAL"}) {
		t.Errorf("Expected [Spotify TIDAL], got %v", got)
	}
	if !cfg.FeatureFlags.LyricsEnabled {
		t.Error("Expected lyrics enabled")
	}
	if cfg.FeatureFlags.LyricsCacheMaxSizeMB != 12.5 {
		t.Errorf("Expected 12.5 MB, got %v", cfg.FeatureFlags.LyricsCacheMaxSizeMB)
	}
	if cfg.FeatureFlags.LyricsPrefetch != "off" {
		t.Errorf("Expected prefetch off, got %q", cfg.FeatureFlags.LyricsPrefetch)
	}
}

func TestGet(t *testing.T) {
	cfg := Get()
	if cfg.Configuration.Port == "" {
		t.Error("Expected Get() to return initialized config, got zero values")
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"", nil},
		{" , ", nil},
		{"a", []string{"a"}},
		{"a, b ,,c", []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := SplitList(tt.input); !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("SplitList(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}
