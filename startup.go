package main

import (
	"context"
	"net/http"
	"time"

	"lyrics-cache-go/cache"
	"lyrics-cache-go/circuitbreaker"
	"lyrics-cache-go/config"
	"lyrics-cache-go/logcolors"
	"lyrics-cache-go/lyrics"
	"lyrics-cache-go/middleware"
	"lyrics-cache-go/services/notifier"
	"lyrics-cache-go/services/providers"
	"lyrics-cache-go/services/providers/lrclib"
	"lyrics-cache-go/stats"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTimeout = 10 * time.Minute
	sweepInterval      = 10 * time.Minute
)

// app is the wired process: event bus, store, upstream client and the
// orchestrator behind the HTTP handlers
type app struct {
	conf      config.Config
	bus       *notifier.EventBus
	alerts    *notifier.AlertHandler
	forwarder *notifier.Forwarder
	breaker   *circuitbreaker.CircuitBreaker
	store     *cache.Store
	orch      *lyrics.Orchestrator
	limiter   *middleware.IPRateLimiter
	server    *server
}

func setupNotifiers(cfg config.Config) []notifier.Notifier {
	var notifiers []notifier.Notifier

	if topic := cfg.Configuration.NtfyTopic; topic != "" {
		notifiers = append(notifiers, &notifier.NtfyNotifier{
			Topic:  topic,
			Server: cfg.Configuration.NtfyServer,
		})
		log.Infof("%s Ntfy.sh notifier enabled", logcolors.LogNotifier)
	}

	return notifiers
}

func newApp(cfg config.Config) *app {
	c := cfg.Configuration
	a := &app{conf: cfg, bus: notifier.NewEventBus()}

	if notifiers := setupNotifiers(cfg); len(notifiers) > 0 {
		a.alerts = notifier.NewAlertHandler(notifier.AlertConfig{
			Notifiers:        notifiers,
			CooldownDuration: time.Duration(c.AlertCooldownMins) * time.Minute,
		})
		a.alerts.Start(a.bus)
	}
	if c.LyricsWebhookURL != "" {
		a.forwarder = notifier.NewForwarder(&notifier.WebhookNotifier{URL: c.LyricsWebhookURL}, 0)
		a.forwarder.Start(a.bus)
	}

	a.breaker = circuitbreaker.New(circuitbreaker.Config{
		Name:      lrclib.ProviderName,
		Threshold: c.CircuitBreakerThreshold,
		Cooldown:  time.Duration(c.CircuitBreakerCooldownSecs) * time.Second,
		Bus:       a.bus,
	})
	timeout := time.Duration(c.RequestTimeoutSecs) * time.Second
	client := lrclib.New(lrclib.Config{
		BaseURL:        c.LRCLIBBaseURL,
		UserAgent:      c.UserAgent,
		Timeout:        timeout,
		RatePerSecond:  float64(c.UpstreamRatePerSecond),
		Burst:          c.UpstreamBurst,
		CircuitBreaker: a.breaker,
	})
	matcher := providers.Matcher{
		Threshold:         c.MatchScoreThreshold,
		DurationTolerance: float64(c.DurationToleranceSecs),
	}

	settings := cfg.DefaultSettings()
	a.store = cache.New(
		cache.NewConfig(settings.Cache.Enabled, settings.Cache.MaxSizeMB, settings.Cache.Path),
		cache.Options{Bus: a.bus},
	)

	registry := providers.NewRegistry(lrclib.Strategies(client, matcher)...)

	a.orch = lyrics.New(lyrics.Options{
		Strategies:     registry.All(),
		Searcher:       client,
		Store:          a.store,
		Bus:            a.bus,
		Stats:          stats.Get(),
		Settings:       settings,
		AllowedSources: cfg.AllowedSourceList(),
		RequestTimeout: timeout,
		NegativeTTL:    time.Duration(c.NegativeCacheTTLSecs) * time.Second,
		PrefetchLimit:  c.PrefetchBatchLimit,
		Provider:       lrclib.ProviderName,
	})

	a.limiter = middleware.NewIPRateLimiter(rate.Limit(c.APIRateLimitPerSecond), c.APIRateLimitBurst)
	a.server = &server{
		orch:       a.orch,
		store:      a.store,
		breaker:    a.breaker,
		stats:      stats.Get(),
		strategies: registry.List(),
	}

	log.Infof("%s Lyrics enabled=%v, cache enabled=%v (%.1f MB at %s), prefetch=%s",
		logcolors.LogConfig, settings.Enabled, settings.Cache.Enabled, settings.Cache.MaxSizeMB,
		settings.Cache.Path, settings.Cache.PrefetchMode)
	return a
}

// handler builds the middleware chain around the router
func (a *app) handler() http.Handler {
	router := mux.NewRouter()
	setupRoutes(router, a.server)

	c := cors.New(cors.Options{
		AllowedOrigins: config.SplitList(a.conf.Configuration.CORSAllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders: []string{"X-Lyrics-Status", "X-Cache-Status", "X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
	})

	var h http.Handler = middleware.LoggingMiddleware(router)
	h = middleware.APIKeyMiddleware(a.conf.Configuration.APIKey)(h)
	h = c.Handler(h)
	return middleware.RateLimitMiddleware(a.limiter)(h)
}

// sweep periodically drops idle per-IP buckets and expired not-found
// memos until ctx ends
func (a *app) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweepOnce()
		}
	}
}

func (a *app) sweepOnce() {
	if removed := a.limiter.Cleanup(limiterIdleTimeout); removed > 0 {
		log.Debugf("%s Dropped %d idle clients", logcolors.LogRateLimit, removed)
	}
	a.orch.Sweep()
}

// close stops background work, drains event delivery and closes the store
// last so pending access times reach disk
func (a *app) close() {
	a.orch.Close()
	if a.forwarder != nil {
		a.forwarder.Close()
	}
	if a.alerts != nil {
		a.alerts.Wait()
	}
	if err := a.store.Close(); err != nil {
		log.Errorf("%s Failed to close lyrics cache: %v", logcolors.LogCacheClose, err)
	}
}
