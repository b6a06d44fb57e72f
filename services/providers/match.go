package providers

import (
	"math"
	"sort"
	"strings"

	"lyrics-cache-go/logcolors"
	"lyrics-cache-go/signature"
	"lyrics-cache-go/utils"

	log "github.com/sirupsen/logrus"
)

// Scoring weights. Exact matches outweigh containment, which outweighs nothing.
const (
	trackExactScore    = 50
	trackPartialScore  = 25
	artistExactScore   = 40
	artistPartialScore = 20
	albumExactScore    = 25
	albumPartialScore  = 12

	durationCloseScore  = 30 // <= 2s
	durationNearScore   = 20 // <= 5s
	durationLooseScore  = 10 // <= 10s
	durationMissPenalty = 20 // > 10s
)

const (
	// DefaultScoreThreshold is the minimum score a candidate needs to be accepted
	DefaultScoreThreshold = 70
	// DefaultDurationTolerance drops candidates further than this many seconds away
	DefaultDurationTolerance = 10
)

// Matcher ranks search candidates against a signature.
type Matcher struct {
	Threshold         int
	DurationTolerance float64
}

// DefaultMatcher returns a Matcher with the standard threshold and tolerance
func DefaultMatcher() Matcher {
	return Matcher{Threshold: DefaultScoreThreshold, DurationTolerance: DefaultDurationTolerance}
}

// ScoredCandidate pairs a candidate with its score
type ScoredCandidate struct {
	Candidate Candidate
	Score     int
}

// Score computes the weighted agreement between a candidate and a signature.
func Score(c Candidate, sig signature.Signature) int {
	score := fieldScore(utils.NormalizeText(c.TrackName), utils.NormalizeText(sig.TrackName),
		trackExactScore, trackPartialScore)
	score += fieldScore(utils.NormalizeText(c.ArtistName), utils.NormalizeText(sig.ArtistName),
		artistExactScore, artistPartialScore)
	score += fieldScore(utils.NormalizeAlbum(c.AlbumName), utils.NormalizeAlbum(sig.AlbumName),
		albumExactScore, albumPartialScore)

	if c.Duration > 0 && sig.Duration > 0 {
		diff := math.Abs(c.Duration - float64(sig.Duration))
		switch {
		case diff <= 2:
			score += durationCloseScore
		case diff <= 5:
			score += durationNearScore
		case diff <= 10:
			score += durationLooseScore
		default:
			score -= durationMissPenalty
		}
	}
	return score
}

func fieldScore(candidate, wanted string, exact, partial int) int {
	if candidate == "" || wanted == "" {
		return 0
	}
	if candidate == wanted {
		return exact
	}
	if strings.Contains(candidate, wanted) || strings.Contains(wanted, candidate) {
		return partial
	}
	return 0
}

// Rank filters out invalid candidates and those outside the duration
// tolerance, then returns the remainder that clears the threshold ordered by
// descending score. Equal scores keep their input order.
func (m Matcher) Rank(candidates []Candidate, sig signature.Signature) []ScoredCandidate {
	scored := make([]ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.IsValid() {
			continue
		}
		if c.Duration > 0 && sig.Duration > 0 && math.Abs(c.Duration-float64(sig.Duration)) > m.DurationTolerance {
			log.Debugf("%s Dropping %q by %q (duration %.0fs vs %ds)",
				logcolors.LogDurationFilter, c.TrackName, c.ArtistName, c.Duration, sig.Duration)
			continue
		}
		s := Score(c, sig)
		if s < m.Threshold {
			log.Debugf("%s %q by %q scored %d, below threshold %d", logcolors.LogMatch, c.TrackName, c.ArtistName, s, m.Threshold)
			continue
		}
		scored = append(scored, ScoredCandidate{Candidate: c, Score: s})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

// SelectBest returns the highest scoring acceptable candidate, or nil.
func (m Matcher) SelectBest(candidates []Candidate, sig signature.Signature) *Candidate {
	ranked := m.Rank(candidates, sig)
	if len(ranked) == 0 {
		return nil
	}
	best := ranked[0].Candidate
	log.Debugf("%s %q by %q (score %d of %d candidates)",
		logcolors.LogBestMatch, best.TrackName, best.ArtistName, ranked[0].Score, len(candidates))
	return &best
}

// SelectBest uses the default matcher.
func SelectBest(candidates []Candidate, sig signature.Signature) *Candidate {
	return DefaultMatcher().SelectBest(candidates, sig)
}

// MatchesAlbum reports whether the candidate belongs to the signature's
// album. Normalized names may contain one another.
func MatchesAlbum(c Candidate, sig signature.Signature) bool {
	candidateAlbum := utils.NormalizeAlbum(c.AlbumName)
	signatureAlbum := utils.NormalizeAlbum(sig.AlbumName)
	if candidateAlbum == "" || signatureAlbum == "" {
		return false
	}
	return candidateAlbum == signatureAlbum ||
		strings.Contains(candidateAlbum, signatureAlbum) ||
		strings.Contains(signatureAlbum, candidateAlbum)
}
