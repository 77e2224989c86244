// SPDX-License-Identifier: MIT

package normalize

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     string
		featured []string
	}{
		{"lowercase and trim", "  Hey Jude  ", "hey jude", nil},
		{"accent folding", "Télévision", "television", nil},
		{"collapse whitespace", "candy   everybody\twants", "candy everybody wants", nil},
		{"matched quotes removed", `"Heroes"`, "heroes", nil},
		{"feat clause moved to collaborators", "Empire State of Mind (feat. Alicia Keys)", "empire state of mind", []string{"alicia keys"}},
		{"ft bracket clause", "Airwaves [ft Dave Grohl]", "airwaves", []string{"dave grohl"}},
		{"thousands separator dropped", "10,000 Reasons", "10000 reasons", nil},
		{"edge punctuation stripped", "...what?!", "what", nil},
		{"empty input", "", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, featured := CleanTitle(tt.input)
			if got != tt.want {
				t.Errorf("CleanTitle(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if diff := cmp.Diff(tt.featured, featured); diff != "" {
				t.Errorf("featured mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCleanArtist(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "The Beatles", "the beatles"},
		{"feat suffix dropped", "Jay-Z feat. Alicia Keys", "jay-z"},
		{"featuring suffix dropped", "Queen featuring David Bowie", "queen"},
		{"vs suffix dropped", "Blur vs. Oasis", "blur"},
		{"duet suffix dropped", "Elton John duet with Kiki Dee", "elton john"},
		{"accents folded", "Björk", "bjork"},
		{"numeral comma kept as digits", "10,000 Maniacs", "10000 maniacs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanArtist(tt.input); got != tt.want {
				t.Errorf("CleanArtist(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// Normalization idempotence: clean(clean(x)) == clean(x).
func TestCleanIdempotence(t *testing.T) {
	inputs := []string{
		"  Hey   Jude ", "Télévision", `"Heroes"`, "10,000 Maniacs",
		"Empire State of Mind (feat. Alicia Keys)", "Jay-Z feat. Alicia Keys",
		"Symphony No. 5 (Part 1)", "...what?!", "",
	}
	for _, in := range inputs {
		once, _ := CleanTitle(in)
		twice, _ := CleanTitle(once)
		if once != twice {
			t.Errorf("CleanTitle not idempotent for %q: %q != %q", in, once, twice)
		}
		onceA := CleanArtist(in)
		twiceA := CleanArtist(onceA)
		if onceA != twiceA {
			t.Errorf("CleanArtist not idempotent for %q: %q != %q", in, onceA, twiceA)
		}
	}
}

func TestSplitArtists(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"ampersand", "Simon & Garfunkel", []string{"simon", "garfunkel"}},
		{"and", "Nick Cave and Kylie Minogue", []string{"nick cave", "kylie minogue"}},
		{"semicolon and slash", "A;B/C", []string{"a", "b", "c"}},
		{"comma", "Crosby, Stills, Nash", []string{"crosby", "stills", "nash"}},
		{"thousands separator survives", "10,000 Maniacs", []string{"10000 maniacs"}},
		{"duet with", "Elton John duet with Kiki Dee", []string{"elton john", "kiki dee"}},
		{"vs", "Blur vs Oasis", []string{"blur", "oasis"}},
		{"x", "Disclosure x Sam Smith", []string{"disclosure", "sam smith"}},
		{"dedup", "Cher & Cher", []string{"cher"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitArtists(tt.input)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("SplitArtists(%q) mismatch (-want +got):\n%s", tt.input, diff)
			}
		})
	}
}

// Split preserves numerals: no \d,\d substring is ever broken.
func TestSplitPreservesNumerals(t *testing.T) {
	for _, in := range []string{"10,000 Maniacs", "1,234,567 Band", "Blink 1,82"} {
		for _, part := range SplitArtists(in) {
			if len(part) == 0 {
				t.Errorf("empty part from %q", in)
			}
		}
		if got := SplitArtists(in); len(got) != 1 {
			t.Errorf("SplitArtists(%q) = %v, want single artist", in, got)
		}
	}
}

func TestSignatureStability(t *testing.T) {
	base := Signature("The Beatles", "Hey Jude")
	variants := []struct{ artist, title string }{
		{"the beatles", "hey jude"},
		{"THE  BEATLES", "HEY   JUDE"},
		{"The Béatles", "Hey Judé"},
		{" The Beatles ", " Hey Jude "},
	}
	for _, v := range variants {
		if got := Signature(v.artist, v.title); got != base {
			t.Errorf("Signature(%q, %q) = %s, want %s", v.artist, v.title, got, base)
		}
	}

	if Signature("The Beatles", "Hey Jude") == Signature("The Beatles", "Let It Be") {
		t.Error("different titles must not collide")
	}
	if len(base) != 64 {
		t.Errorf("signature length = %d, want 64 hex chars", len(base))
	}
}
