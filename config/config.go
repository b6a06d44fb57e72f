package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

var conf = mustLoad()

type Config struct {
	Configuration struct {
		Port                       string `envconfig:"PORT" default:"8080"`
		LogLevel                   string `envconfig:"LOG_LEVEL" default:"info"`
		LRCLIBBaseURL              string `envconfig:"LRCLIB_BASE_URL" default:"https://lrclib.net"`
		UserAgent                  string `envconfig:"USER_AGENT" default:"lyrics-cache-go (https://github.com/cvdlinden/wiim-now-playing)"`
		RequestTimeoutSecs         int    `envconfig:"REQUEST_TIMEOUT_SECS" default:"10"`
		NegativeCacheTTLSecs       int    `envconfig:"NEGATIVE_CACHE_TTL_SECS" default:"600"` // how long a not-found result is trusted
		MatchScoreThreshold        int    `envconfig:"MATCH_SCORE_THRESHOLD" default:"70"`
		DurationToleranceSecs      int    `envconfig:"DURATION_TOLERANCE_SECS" default:"10"` // search candidates further off are rejected
		PrefetchBatchLimit         int    `envconfig:"PREFETCH_BATCH_LIMIT" default:"20"`
		UpstreamRatePerSecond      int    `envconfig:"UPSTREAM_RATE_PER_SECOND" default:"5"`
		UpstreamBurst              int    `envconfig:"UPSTREAM_BURST" default:"10"`
		CircuitBreakerThreshold    int    `envconfig:"CIRCUIT_BREAKER_THRESHOLD" default:"5"`      // Consecutive failures before circuit opens
		CircuitBreakerCooldownSecs int    `envconfig:"CIRCUIT_BREAKER_COOLDOWN_SECS" default:"60"` // Seconds to wait before retrying
		LyricsCachePath            string `envconfig:"LYRICS_CACHE_PATH" default:"/var/lib/wiim-now-playing/lyrics-cache.db"`
		AllowedSources             string `envconfig:"ALLOWED_SOURCES" default:""` // comma separated, empty allows all
		CORSAllowedOrigins         string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
		APIRateLimitPerSecond      int    `envconfig:"API_RATE_LIMIT_PER_SECOND" default:"10"`
		APIRateLimitBurst          int    `envconfig:"API_RATE_LIMIT_BURST" default:"20"`
		APIKey                     string `envconfig:"API_KEY" default:""` // required for POST endpoints when set
		// Notifications
		LyricsWebhookURL  string `envconfig:"LYRICS_WEBHOOK_URL" default:""`
		NtfyTopic         string `envconfig:"NTFY_TOPIC" default:""`
		NtfyServer        string `envconfig:"NTFY_SERVER" default:"https://ntfy.sh"`
		AlertCooldownMins int    `envconfig:"ALERT_COOLDOWN_MINS" default:"30"`
	}

	FeatureFlags struct {
		LyricsEnabled                bool    `envconfig:"FF_LYRICS_ENABLED" default:"false"`
		LyricsCacheEnabled           bool    `envconfig:"FF_LYRICS_CACHE_ENABLED" default:"true"`
		LyricsCacheMaxSizeMB         float64 `envconfig:"FF_LYRICS_CACHE_MAX_SIZE_MB" default:"50"`
		LyricsPrefetch               string  `envconfig:"FF_LYRICS_PREFETCH" default:"album"`
		LyricsMaxPrefetchConcurrency int     `envconfig:"FF_LYRICS_MAX_PREFETCH_CONCURRENCY" default:"4"`
		LyricsOffsetMs               int     `envconfig:"FF_LYRICS_OFFSET_MS" default:"0"`
	}
}

// load loads the configuration from the environment.
func load() (Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Debugf("No .env file loaded: %v", err)
	}

	cfg := Config{}
	err = envconfig.Process("", &cfg)
	return cfg, err
}

func mustLoad() Config {
	c, err := load()
	if err != nil {
		log.WithError(err).Warnf("Unable to load configuration")
	}

	return c
}

func Get() Config {
	return conf
}

// SplitList splits a comma separated value, dropping blanks
func SplitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// AllowedSourceList returns the configured source allow-list. Empty means
// every source is allowed.
func (c Config) AllowedSourceList() []string {
	return SplitList(c.Configuration.AllowedSources)
}
