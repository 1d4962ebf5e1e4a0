package capture

import (
	"context"
	"sync"

	"github.com/teslashibe/go-voicewidget/pkg/audioio"
)

// Transcriber turns a finished recording into text. It is used when no
// streaming engine is available.
type Transcriber interface {
	Transcribe(ctx context.Context, blob audioio.Blob) (string, error)
}

// PlaceholderPhrases are returned in turn by PlaceholderTranscriber.
var PlaceholderPhrases = []string{
	"Hello, how can I help you today?",
	"I'd like more information please.",
	"Can you tell me more about this service?",
	"What are the next steps?",
	"Thank you for your assistance.",
}

// PlaceholderTranscriber stands in for a missing speech-to-text backend. It
// ignores the audio and rotates through PlaceholderPhrases.
type PlaceholderTranscriber struct {
	mu   sync.Mutex
	next int
}

// Transcribe returns the next phrase.
func (p *PlaceholderTranscriber) Transcribe(ctx context.Context, blob audioio.Blob) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	phrase := PlaceholderPhrases[p.next%len(PlaceholderPhrases)]
	p.next++
	return phrase, nil
}

var _ Transcriber = (*PlaceholderTranscriber)(nil)
