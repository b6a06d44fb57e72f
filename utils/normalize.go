package utils

import (
	"regexp"
	"strings"
)

var (
	parenthesizedRe = regexp.MustCompile(`\([^)]*\)`)
	bracketedRe     = regexp.MustCompile(`\[[^\]]*\]`)
	dashRe          = regexp.MustCompile(`[-–—]`)
	nonAlnumRe      = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
)

// featuredTokens are dropped from every normalized field.
var featuredTokens = map[string]bool{
	"feat":      true,
	"ft":        true,
	"featuring": true,
}

// editionTokens are additionally dropped from album names.
var editionTokens = map[string]bool{
	"deluxe":      true,
	"edition":     true,
	"remaster":    true,
	"remastered":  true,
	"expanded":    true,
	"bonus":       true,
	"anniversary": true,
	"live":        true,
	"acoustic":    true,
	"mono":        true,
	"stereo":      true,
	"version":     true,
}

// NormalizeText canonicalizes a track, artist or album string for fuzzy matching.
// The result holds only lowercase letters, digits and single spaces, and
// NormalizeText(NormalizeText(s)) == NormalizeText(s).
func NormalizeText(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToLower(s)
	s = parenthesizedRe.ReplaceAllString(s, " ")
	s = bracketedRe.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "&", " and ")
	s = dashRe.ReplaceAllString(s, " ")
	s = nonAlnumRe.ReplaceAllString(s, " ")
	return dropTokens(s, featuredTokens)
}

// NormalizeAlbum is NormalizeText followed by removal of edition/version words.
func NormalizeAlbum(s string) string {
	return dropTokens(NormalizeText(s), editionTokens)
}

// dropTokens removes whole words found in drop, collapsing whitespace.
func dropTokens(s string, drop map[string]bool) string {
	fields := strings.Fields(s)
	kept := fields[:0]
	for _, f := range fields {
		if !drop[f] {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}
