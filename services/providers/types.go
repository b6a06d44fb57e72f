package providers

import (
	"strconv"
)

// Candidate is one lyrics record as returned by the lookup service.
// Duration is in seconds; zero means unknown.
type Candidate struct {
	ID           int64   `json:"id"`
	TrackName    string  `json:"trackName"`
	ArtistName   string  `json:"artistName"`
	AlbumName    string  `json:"albumName"`
	Duration     float64 `json:"duration"`
	Instrumental bool    `json:"instrumental"`
	PlainLyrics  string  `json:"plainLyrics,omitempty"`
	SyncedLyrics string  `json:"syncedLyrics"`
}

// IsValid reports whether the candidate can be displayed: it must carry
// synced lyrics and must not be flagged instrumental.
func (c *Candidate) IsValid() bool {
	return c != nil && c.SyncedLyrics != "" && !c.Instrumental
}

// ProviderError represents an error from a provider with additional context.
// It covers transport failures, unexpected HTTP statuses and undecodable bodies.
type ProviderError struct {
	Provider   string
	Message    string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Provider + ": " + e.Message
	if e.StatusCode != 0 {
		msg += " (status " + strconv.Itoa(e.StatusCode) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new ProviderError
func NewProviderError(provider, message string, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Message:  message,
		Err:      err,
	}
}

// NewStatusError creates a ProviderError for an unexpected HTTP status.
func NewStatusError(provider string, statusCode int) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Message:    "unexpected response",
		StatusCode: statusCode,
	}
}
