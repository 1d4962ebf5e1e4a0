package tts

import (
	"math/rand/v2"
	"regexp"
	"strings"
)

// FillerWords are the hesitations Naturalize inserts.
var FillerWords = []string{"um", "uh", "well", "like"}

var (
	sentenceEnd   = regexp.MustCompile(`([.!?])\s`)
	sentenceSplit = regexp.MustCompile(`[.!?]\s`)
)

// Naturalize loosens text for speech: a " ... " pause after every sentence
// end, a space after every comma, and a filler word before every third piece
// of the sentence split. rng picks the filler; nil uses the global source.
func Naturalize(text string, rng *rand.Rand) string {
	text = sentenceEnd.ReplaceAllString(text, "$1 ... ")
	text = strings.ReplaceAll(text, ",", ", ")

	var b strings.Builder
	for i, piece := range splitKeep(text) {
		if i > 0 && i%3 == 0 {
			b.WriteString(" ")
			b.WriteString(pickFiller(rng))
			b.WriteString(" ")
		}
		b.WriteString(piece)
	}
	return b.String()
}

// splitKeep splits on sentence boundaries, keeping each separator as its own
// piece: "a. b" yields ["a", ". ", "b"].
func splitKeep(text string) []string {
	var pieces []string
	last := 0
	for _, loc := range sentenceSplit.FindAllStringIndex(text, -1) {
		pieces = append(pieces, text[last:loc[0]], text[loc[0]:loc[1]])
		last = loc[1]
	}
	return append(pieces, text[last:])
}

func pickFiller(rng *rand.Rand) string {
	if rng == nil {
		return FillerWords[rand.IntN(len(FillerWords))]
	}
	return FillerWords[rng.IntN(len(FillerWords))]
}
