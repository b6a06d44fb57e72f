package lrclib

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"lyrics-cache-go/circuitbreaker"
	"lyrics-cache-go/services/providers"
	"lyrics-cache-go/signature"
)

func isProviderError(err error) bool {
	var pe *providers.ProviderError
	return errors.As(err, &pe)
}

var testSig = signature.Signature{
	TrackName:  "Song",
	ArtistName: "Artist",
	AlbumName:  "Album",
	Duration:   225,
}

const recordJSON = `{"id":42,"trackName":"Song","artistName":"Artist","albumName":"Album","duration":225.0,"instrumental":false,"plainLyrics":"hello","syncedLyrics":"[00:01.00]hello"}`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(Config{BaseURL: server.URL, UserAgent: "test-agent"}), server
}

func TestClient_GetCached(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/get-cached" {
			t.Errorf("Expected /api/get-cached, got %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("track_name") != "Song" || q.Get("artist_name") != "Artist" ||
			q.Get("album_name") != "Album" || q.Get("duration") != "225" {
			t.Errorf("Unexpected query: %s", r.URL.RawQuery)
		}
		if ua := r.Header.Get("User-Agent"); ua != "test-agent" {
			t.Errorf("Expected User-Agent test-agent, got %q", ua)
		}
		w.Write([]byte(recordJSON))
	})

	got, err := client.GetCached(context.Background(), testSig)
	if err != nil {
		t.Fatalf("GetCached error: %v", err)
	}
	if got == nil || got.ID != 42 || got.SyncedLyrics != "[00:01.00]hello" {
		t.Errorf("Unexpected candidate: %+v", got)
	}
}

func TestClient_GetExactEndpoint(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/get" {
			t.Errorf("Expected /api/get, got %s", r.URL.Path)
		}
		w.Write([]byte(recordJSON))
	})

	if _, err := client.GetExact(context.Background(), testSig); err != nil {
		t.Fatalf("GetExact error: %v", err)
	}
}

func TestClient_NotFoundIsAbsence(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":404,"name":"TrackNotFound"}`))
	})

	got, err := client.GetExact(context.Background(), testSig)
	if err != nil {
		t.Fatalf("Expected no error for 404, got %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil candidate for 404, got %+v", got)
	}
}

func TestClient_ErrorStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.GetCached(context.Background(), testSig)
	var pe *providers.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected ProviderError, got %v", err)
	}
	if pe.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", pe.StatusCode)
	}
}

func TestClient_DecodeError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	})

	_, err := client.Search(context.Background(), testSig)
	if !isProviderError(err) {
		t.Errorf("Expected ProviderError for bad JSON, got %v", err)
	}
}

func TestClient_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := New(Config{BaseURL: url})
	_, err := client.GetCached(context.Background(), testSig)
	if !isProviderError(err) {
		t.Errorf("Expected ProviderError for transport failure, got %v", err)
	}
}

func TestClient_Timeout(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.GetExact(ctx, testSig)
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestClient_SearchAlbumParams(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/search" {
			t.Errorf("Expected /api/search, got %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("album_name") != "Album" || q.Get("artist_name") != "Artist" || q.Get("q") != "Artist Album" {
			t.Errorf("Unexpected query: %s", r.URL.RawQuery)
		}
		if q.Has("duration") || q.Has("track_name") {
			t.Errorf("Album search should not send track fields: %s", r.URL.RawQuery)
		}
		w.Write([]byte("[" + recordJSON + "," + recordJSON + "]"))
	})

	results, err := client.SearchAlbum(context.Background(), testSig)
	if err != nil {
		t.Fatalf("SearchAlbum error: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Expected 2 results, got %d", len(results))
	}
}

func TestClient_CircuitBreakerOpens(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cb := circuitbreaker.New(circuitbreaker.Config{Name: "lrclib", Threshold: 2, Cooldown: time.Hour})
	client := New(Config{BaseURL: server.URL, CircuitBreaker: cb})

	client.GetExact(context.Background(), testSig)
	client.GetExact(context.Background(), testSig)
	_, err := client.GetExact(context.Background(), testSig)

	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if !isProviderError(err) {
		t.Error("Expected open circuit to surface as ProviderError")
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Errorf("Expected 2 upstream hits, got %d", hits)
	}
}

func TestClient_NotFoundDoesNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cb := circuitbreaker.New(circuitbreaker.Config{Threshold: 1, Cooldown: time.Hour})
	client := New(Config{BaseURL: server.URL, CircuitBreaker: cb})

	for i := 0; i < 3; i++ {
		client.GetCached(context.Background(), testSig)
	}
	if cb.IsOpen() {
		t.Error("404 responses should not open the circuit")
	}
}

func TestSearchStrategy_SelectsBest(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id":1,"trackName":"Other","artistName":"Artist","albumName":"Else","duration":260,"syncedLyrics":"x"},
			{"id":2,"trackName":"Song","artistName":"Artist","albumName":"Album","duration":226,"syncedLyrics":"y"}
		]`))
	})

	s := SearchStrategy{Client: client, Matcher: providers.DefaultMatcher()}
	got, err := s.Fetch(context.Background(), testSig)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if got == nil || got.ID != 2 {
		t.Errorf("Expected candidate 2, got %+v", got)
	}
}

func TestStrategies_Order(t *testing.T) {
	strategies := Strategies(New(Config{}), providers.DefaultMatcher())
	want := []string{EndpointGetCached, EndpointGet, EndpointSearch}
	for i, s := range strategies {
		if s.Name() != want[i] {
			t.Errorf("Expected %s at %d, got %s", want[i], i, s.Name())
		}
	}
}
