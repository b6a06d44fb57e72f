package main

import (
	"net/http"

	"github.com/gorilla/mux"
)

// setupRoutes configures all HTTP routes for the API
func setupRoutes(router *mux.Router, s *server) {
	// Playback collaborator: metadata pushes
	router.HandleFunc("/metadata", s.postMetadata).Methods(http.MethodPost)
	router.HandleFunc("/metadata/next", s.postNextMetadata).Methods(http.MethodPost)

	// Current lyrics state
	router.HandleFunc("/lyrics", s.getLyrics).Methods(http.MethodGet)
	router.HandleFunc("/lyrics/cache", s.deleteCurrentLyrics).Methods(http.MethodDelete)

	// Settings collaborator
	router.HandleFunc("/settings", s.getSettings).Methods(http.MethodGet)
	router.HandleFunc("/settings", s.postSettings).Methods(http.MethodPost)

	// Health and stats endpoints
	router.HandleFunc("/cache/stats", s.getCacheStats).Methods(http.MethodGet)
	router.HandleFunc("/health", s.getHealthStatus).Methods(http.MethodGet)

	// Help endpoint
	router.HandleFunc("/", helpHandler)
}
