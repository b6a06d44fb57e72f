// Package signature derives the lookup identity of a playing track.
package signature

import (
	"math"
	"strconv"
	"strings"

	"lyrics-cache-go/utils"
)

// KeySeparator joins the normalized fields of a cache key. Normalized text
// never contains it.
const KeySeparator = "|"

// Metadata is what the playback collaborator pushes on every track change.
// TrackDuration is the renderer's "[hh:]mm:ss" string; DurationSeconds is
// used when the source reports a number instead.
type Metadata struct {
	Title           string  `json:"title"`
	Artist          string  `json:"artist"`
	Album           string  `json:"album"`
	TrackDuration   string  `json:"trackDuration,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	Source          string  `json:"source,omitempty"`
}

// IsEmpty reports whether there is no track information at all.
func (m *Metadata) IsEmpty() bool {
	return m == nil || (m.Title == "" && m.Artist == "" && m.Album == "" &&
		m.TrackDuration == "" && m.DurationSeconds == 0)
}

// Signature is the four-field identity used for lookup.
type Signature struct {
	TrackName  string `json:"trackName"`
	ArtistName string `json:"artistName"`
	AlbumName  string `json:"albumName"`
	Duration   int    `json:"duration"`
}

// Build extracts a Signature from metadata. It returns false when any field
// is blank or the duration is missing, zero or unparseable.
func Build(m *Metadata) (Signature, bool) {
	if m == nil {
		return Signature{}, false
	}
	track := strings.TrimSpace(m.Title)
	artist := strings.TrimSpace(m.Artist)
	album := strings.TrimSpace(m.Album)

	duration, ok := ParseDurationToSeconds(m.TrackDuration)
	if !ok && m.DurationSeconds > 0 {
		duration, ok = int(math.Round(m.DurationSeconds)), true
	}

	if track == "" || artist == "" || album == "" || !ok || duration <= 0 {
		return Signature{}, false
	}
	return Signature{TrackName: track, ArtistName: artist, AlbumName: album, Duration: duration}, true
}

// ParseDurationToSeconds parses "mm:ss" or "hh:mm:ss" into whole seconds.
// A fractional seconds part ("00:03:45.000") is truncated. A bare number is
// taken as seconds and rounded.
func ParseDurationToSeconds(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	if !strings.Contains(s, ":") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
			return 0, false
		}
		return int(math.Round(f)), true
	}

	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, false
	}

	values := make([]int, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if i == len(parts)-1 {
			if dot := strings.IndexByte(p, '.'); dot >= 0 {
				p = p[:dot]
			}
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, false
		}
		values[i] = n
	}

	if len(values) == 3 {
		return values[0]*3600 + values[1]*60 + values[2], true
	}
	return values[0]*60 + values[1], true
}

// BuildKey derives the cache key: normalized track, artist and album plus the
// integer duration.
func BuildKey(sig Signature) string {
	return strings.Join([]string{
		utils.NormalizeText(sig.TrackName),
		utils.NormalizeText(sig.ArtistName),
		utils.NormalizeAlbum(sig.AlbumName),
		strconv.Itoa(sig.Duration),
	}, KeySeparator)
}

// ArtistKey and AlbumKey address album prefetch marks.
func ArtistKey(sig Signature) string { return utils.NormalizeText(sig.ArtistName) }

func AlbumKey(sig Signature) string { return utils.NormalizeAlbum(sig.AlbumName) }
