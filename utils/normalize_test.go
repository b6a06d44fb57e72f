package utils

import "testing"

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"Song (Remastered 2011)", "song"},
		{"Song [Live at Wembley]", "song"},
		{"Artist & Friends", "artist and friends"},
		{"Artist feat. Someone", "artist someone"},
		{"Artist ft. Someone", "artist someone"},
		{"Left Behind", "left behind"},
		{"Anti-Hero", "anti hero"},
		{"Don't Stop Me Now!", "don t stop me now"},
		{"Hello — World", "hello world"},
		{"  Multiple   Spaces  ", "multiple spaces"},
		{"Beyoncé", "beyoncé"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeText(tt.in); got != tt.want {
				t.Errorf("NormalizeText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeAlbum(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Greatest Hits (Deluxe Edition)", "greatest hits"},
		{"Greatest Hits - Deluxe Edition", "greatest hits"},
		{"Abbey Road Remastered", "abbey road"},
		{"Live Through This", "through this"},
		{"Pet Sounds Mono Version", "pet sounds"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeAlbum(tt.in); got != tt.want {
				t.Errorf("NormalizeAlbum(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"Song (Remastered 2011)",
		"Artist & Friends feat. X",
		"ft_thing",
		"A—B–C-D",
		"(((nested)))",
		"[unclosed",
		"Deluxe Edition (Live)",
		"Ωmega ß straße",
	}

	for _, in := range inputs {
		once := NormalizeText(in)
		if twice := NormalizeText(once); twice != once {
			t.Errorf("NormalizeText not idempotent for %q: %q then %q", in, once, twice)
		}
		album := NormalizeAlbum(in)
		if again := NormalizeAlbum(album); again != album {
			t.Errorf("NormalizeAlbum not idempotent for %q: %q then %q", in, album, again)
		}
	}
}
