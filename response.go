package main

import (
	"encoding/json"
	"net/http"
)

// APIResponse handles consistent header setting and JSON responses.
// X-Lyrics-Status carries the resolution status and X-Cache-Status the
// store lookup outcome, so clients can branch without parsing the body.
type APIResponse struct {
	w            http.ResponseWriter
	r            *http.Request
	cacheStatus  string
	lyricsStatus string
}

// Respond creates a response helper
func Respond(w http.ResponseWriter, r *http.Request) *APIResponse {
	return &APIResponse{w: w, r: r}
}

// SetCacheStatus sets the X-Cache-Status header value
func (a *APIResponse) SetCacheStatus(status string) *APIResponse {
	a.cacheStatus = status
	return a
}

// SetLyricsStatus sets the X-Lyrics-Status header value
func (a *APIResponse) SetLyricsStatus(status string) *APIResponse {
	a.lyricsStatus = status
	return a
}

func (a *APIResponse) writeHeaders() {
	a.w.Header().Set("Content-Type", "application/json")
	a.w.Header().Set("Cache-Control", "no-store")

	if a.cacheStatus != "" {
		a.w.Header().Set("X-Cache-Status", a.cacheStatus)
	}
	if a.lyricsStatus != "" {
		a.w.Header().Set("X-Lyrics-Status", a.lyricsStatus)
	}
}

// JSON writes headers and encodes data as JSON (200 OK)
func (a *APIResponse) JSON(data interface{}) error {
	a.writeHeaders()
	return json.NewEncoder(a.w).Encode(data)
}

// Error writes headers, sets status code, and encodes error response
func (a *APIResponse) Error(statusCode int, data interface{}) error {
	a.writeHeaders()
	a.w.WriteHeader(statusCode)
	return json.NewEncoder(a.w).Encode(data)
}
