// Package lrclib talks to the lrclib.net public lyrics API.
package lrclib

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lyrics-cache-go/circuitbreaker"
	"lyrics-cache-go/logcolors"
	"lyrics-cache-go/services/providers"
	"lyrics-cache-go/signature"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ProviderName tags records and errors from this service
const ProviderName = "lrclib"

const (
	DefaultBaseURL   = "https://lrclib.net"
	DefaultUserAgent = "lyrics-cache-go (+https://github.com/lyrics-cache-go)"
)

// Endpoint names, also used as strategy names in diagnostics
const (
	EndpointGetCached = "get-cached"
	EndpointGet       = "get"
	EndpointSearch    = "search"
)

// Config holds client options. Zero values select defaults.
type Config struct {
	BaseURL        string
	UserAgent      string
	Timeout        time.Duration
	RatePerSecond  float64
	Burst          int
	HTTPClient     *http.Client
	CircuitBreaker *circuitbreaker.CircuitBreaker
}

// Client is an lrclib.net API client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuitbreaker.CircuitBreaker
}

// New creates a client
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		breaker:    cfg.CircuitBreaker,
	}
}

// Breaker exposes the circuit breaker for stats, may be nil
func (c *Client) Breaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

func exactParams(sig signature.Signature) url.Values {
	params := url.Values{}
	params.Set("track_name", sig.TrackName)
	params.Set("artist_name", sig.ArtistName)
	params.Set("album_name", sig.AlbumName)
	params.Set("duration", strconv.Itoa(sig.Duration))
	return params
}

// GetCached looks the signature up in the service's own cache only.
// Returns nil, nil when there is no record.
func (c *Client) GetCached(ctx context.Context, sig signature.Signature) (*providers.Candidate, error) {
	return c.getOne(ctx, EndpointGetCached, exactParams(sig))
}

// GetExact looks the signature up, letting the service consult external
// sources. Returns nil, nil when there is no record.
func (c *Client) GetExact(ctx context.Context, sig signature.Signature) (*providers.Candidate, error) {
	return c.getOne(ctx, EndpointGet, exactParams(sig))
}

// Search runs a fielded search for the signature's track.
func (c *Client) Search(ctx context.Context, sig signature.Signature) ([]providers.Candidate, error) {
	params := url.Values{}
	params.Set("track_name", sig.TrackName)
	params.Set("artist_name", sig.ArtistName)
	params.Set("album_name", sig.AlbumName)
	return c.search(ctx, params)
}

// SearchAlbum lists tracks from the signature's album.
func (c *Client) SearchAlbum(ctx context.Context, sig signature.Signature) ([]providers.Candidate, error) {
	params := url.Values{}
	params.Set("album_name", sig.AlbumName)
	params.Set("artist_name", sig.ArtistName)
	params.Set("q", sig.ArtistName+" "+sig.AlbumName)
	return c.search(ctx, params)
}

func (c *Client) getOne(ctx context.Context, endpoint string, params url.Values) (*providers.Candidate, error) {
	var result *providers.Candidate
	err := c.do(ctx, endpoint, params, func(dec *json.Decoder) error {
		var candidate providers.Candidate
		if err := dec.Decode(&candidate); err != nil {
			return err
		}
		result = &candidate
		return nil
	})
	return result, err
}

func (c *Client) search(ctx context.Context, params url.Values) ([]providers.Candidate, error) {
	var results []providers.Candidate
	err := c.do(ctx, EndpointSearch, params, func(dec *json.Decoder) error {
		return dec.Decode(&results)
	})
	return results, err
}

// do performs one GET through the limiter and circuit breaker. A 404 leaves
// the decode callback uncalled and returns nil.
func (c *Client) do(ctx context.Context, endpoint string, params url.Values, decode func(*json.Decoder) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return providers.NewProviderError(ProviderName, endpoint+" rate limit wait", err)
	}

	call := func() error {
		return c.request(ctx, endpoint, params, decode)
	}
	if c.breaker == nil {
		return call()
	}
	err := c.breaker.Execute(call, isUpstreamFailure)
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return providers.NewProviderError(ProviderName, endpoint+" skipped", err)
	}
	return err
}

func (c *Client) request(ctx context.Context, endpoint string, params url.Values, decode func(*json.Decoder) error) error {
	reqURL := fmt.Sprintf("%s/api/%s?%s", c.baseURL, endpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return providers.NewProviderError(ProviderName, "create request", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return providers.NewProviderError(ProviderName, endpoint+" request failed", err)
	}
	defer resp.Body.Close()

	log.Debugf("%s %s -> %d in %v", logcolors.LogLRCLIB, endpoint, resp.StatusCode, time.Since(started))

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return providers.NewStatusError(ProviderName, resp.StatusCode)
	}

	if err := decode(json.NewDecoder(resp.Body)); err != nil {
		return providers.NewProviderError(ProviderName, endpoint+" decode response", err)
	}
	return nil
}

// isUpstreamFailure decides what counts against the circuit breaker:
// transport errors, timeouts, 429 and 5xx. Caller cancellation and 4xx do not.
func isUpstreamFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var pe *providers.ProviderError
	if errors.As(err, &pe) && pe.StatusCode != 0 {
		return pe.StatusCode == http.StatusTooManyRequests || pe.StatusCode >= 500
	}
	return true
}
