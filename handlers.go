package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"lyrics-cache-go/cache"
	"lyrics-cache-go/circuitbreaker"
	"lyrics-cache-go/config"
	"lyrics-cache-go/logcolors"
	"lyrics-cache-go/lyrics"
	"lyrics-cache-go/signature"
	"lyrics-cache-go/stats"

	log "github.com/sirupsen/logrus"
)

const maxBodyBytes = 64 << 10

// server holds what the handlers need
type server struct {
	orch       *lyrics.Orchestrator
	store      *cache.Store
	breaker    *circuitbreaker.CircuitBreaker // may be nil
	stats      *stats.Stats
	strategies []string // race order
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil
}

func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	log.Warnf("%s %s %s: %v", logcolors.LogRequest, r.Method, r.URL.Path, err)
	Respond(w, r).Error(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Message: err.Error()})
}

func respondState(w http.ResponseWriter, r *http.Request, st lyrics.State) {
	resp := Respond(w, r).SetLyricsStatus(string(st.Status))
	if st.Diagnostics != nil {
		resp.SetCacheStatus(st.Diagnostics.CacheStatus)
	}
	resp.JSON(st)
}

// postMetadata resolves lyrics for pushed playback metadata. Resolution is
// shared state, so it keeps running when the pushing client disconnects.
func (s *server) postMetadata(w http.ResponseWriter, r *http.Request) {
	var m signature.Metadata
	if err := decodeBody(w, r, &m); err != nil {
		badRequest(w, r, err)
		return
	}

	st := s.orch.Resolve(context.WithoutCancel(r.Context()), &m)
	respondState(w, r, st)
}

func (s *server) postNextMetadata(w http.ResponseWriter, r *http.Request) {
	var m signature.Metadata
	if err := decodeBody(w, r, &m); err != nil {
		badRequest(w, r, err)
		return
	}

	progress := s.orch.PrefetchNext(context.WithoutCancel(r.Context()), &m)
	Respond(w, r).JSON(progress)
}

func (s *server) getLyrics(w http.ResponseWriter, r *http.Request) {
	respondState(w, r, s.orch.Current())
}

// deleteCurrentLyrics drops the stored record of the current track so it is
// fetched again the next time it plays
func (s *server) deleteCurrentLyrics(w http.ResponseWriter, r *http.Request) {
	key := s.orch.Current().TrackKey
	if key == "" {
		Respond(w, r).Error(http.StatusNotFound, ErrorResponse{Error: "No current track"})
		return
	}

	deleted, err := s.store.Delete(key)
	switch {
	case errors.Is(err, cache.ErrDisabled):
		Respond(w, r).Error(http.StatusConflict, ErrorResponse{Error: "Cache disabled"})
		return
	case err != nil:
		log.Errorf("%s Failed to delete %s: %v", logcolors.LogCache, key, err)
		Respond(w, r).Error(http.StatusServiceUnavailable, ErrorResponse{Error: "Cache unavailable", Message: err.Error()})
		return
	}
	log.Infof("%s Dropped stored lyrics for %s (deleted=%v)", logcolors.LogCache, key, deleted)
	Respond(w, r).JSON(CacheDeleteResponse{Key: key, Deleted: deleted})
}

func (s *server) getSettings(w http.ResponseWriter, r *http.Request) {
	Respond(w, r).JSON(s.orch.Settings())
}

func (s *server) postSettings(w http.ResponseWriter, r *http.Request) {
	var u config.SettingsUpdate
	if err := decodeBody(w, r, &u); err != nil {
		badRequest(w, r, err)
		return
	}
	Respond(w, r).JSON(s.orch.UpdateSettings(u))
}

func (s *server) getCacheStats(w http.ResponseWriter, r *http.Request) {
	resp := CacheStatsResponse{
		Store:      s.store.Stats(),
		InFlight:   s.orch.InFlight().Len(),
		Strategies: s.strategies,
		Counters:   s.stats.Snapshot(),
	}
	if s.breaker != nil {
		snap := s.breaker.Snapshot()
		resp.Upstream = &snap
	}
	Respond(w, r).JSON(resp)
}

func (s *server) getHealthStatus(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status: "ok",
		Lyrics: "disabled",
		Cache:  "disabled",
		Uptime: s.stats.Uptime().String(),
	}
	if s.orch.Settings().Enabled {
		health.Lyrics = "enabled"
	}

	storeStats := s.store.Stats()
	switch {
	case storeStats.Enabled && storeStats.Available:
		health.Cache = "ok"
	case storeStats.Enabled:
		// Lyrics still resolve without the store
		health.Cache = "unavailable"
		health.Status = "degraded"
	}

	if s.breaker != nil {
		health.Upstream = s.breaker.State().String()
		if s.breaker.IsOpen() {
			health.Status = "degraded"
		}
	}

	Respond(w, r).JSON(health)
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		Respond(w, r).Error(http.StatusNotFound, ErrorResponse{Error: "Not found"})
		return
	}
	Respond(w, r).JSON(map[string]interface{}{
		"endpoints": map[string]string{
			"POST /metadata":       "Push now-playing metadata; returns the resolved lyrics state",
			"POST /metadata/next":  "Push upcoming-track metadata to fetch its lyrics ahead of time",
			"GET /lyrics":          "Current lyrics state",
			"DELETE /lyrics/cache": "Drop the stored lyrics of the current track",
			"GET /settings":        "Current lyrics settings",
			"POST /settings":       "Partial settings update, e.g. {\"enabled\":true,\"cache\":{\"maxSizeMB\":20}}",
			"GET /cache/stats":     "Cache usage and counters",
			"GET /health":          "Health status",
		},
	})
}
