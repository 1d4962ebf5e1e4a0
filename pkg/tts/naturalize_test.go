package tts_test

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/teslashibe/go-voicewidget/pkg/tts"
)

func TestNaturalize(t *testing.T) {
	saved := tts.FillerWords
	tts.FillerWords = []string{"um"}
	defer func() { tts.FillerWords = saved }()

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"No punctuation here", "No punctuation here"},
		{"Hello, world", "Hello,  world"},
		{"One. Two. Three. Four.", "One. .. um . Two.  um ... Three um . ...  um Four."},
		{"Hi! How are you? Fine.", "Hi! .. um . How are you?  um ... Fine."},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := tts.Naturalize(tt.in, nil); got != tt.want {
				t.Errorf("Naturalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNaturalizeDeterministicWithSeed(t *testing.T) {
	text := "First. Second. Third. Fourth. Fifth."
	a := tts.Naturalize(text, rand.New(rand.NewPCG(1, 2)))
	b := tts.Naturalize(text, rand.New(rand.NewPCG(1, 2)))
	if a != b {
		t.Errorf("same seed gave %q and %q", a, b)
	}

	found := false
	for _, w := range tts.FillerWords {
		if strings.Contains(a, " "+w+" ") {
			found = true
		}
	}
	if !found {
		t.Errorf("no filler word in %q", a)
	}
}
