package middleware

import (
	"crypto/subtle"
	"net/http"

	"lyrics-cache-go/logcolors"

	log "github.com/sirupsen/logrus"
)

// APIKeyMiddleware requires a matching X-API-Key header on requests whose
// method changes state (anything but GET, HEAD and OPTIONS). An empty key
// disables the check, which is the normal setup on a trusted LAN.
func APIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || isReadOnly(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-API-Key")
			if provided == "" {
				log.Warnf("%s Missing API key from %s for %s %s", logcolors.LogAPIKey, r.RemoteAddr, r.Method, r.URL.Path)
				writeUnauthorized(w, `{"error":"API key required","message":"Provide a valid API key via X-API-Key header"}`)
				return
			}
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				log.Warnf("%s Invalid API key from %s for %s %s", logcolors.LogAPIKey, r.RemoteAddr, r.Method, r.URL.Path)
				writeUnauthorized(w, `{"error":"Invalid API key","message":"The provided API key is not valid"}`)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isReadOnly(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func writeUnauthorized(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(body))
}
