package capture

import (
	"context"
	"strings"
)

// Word is a single recognized word with timing in seconds from stream start.
type Word struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Segment is one result inside a recognition event.
type Segment struct {
	Text  string
	Final bool
	Words []Word
}

// Transcript is delivered to the session handler for every segment.
type Transcript struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
	Words   []Word `json:"words,omitempty"`
}

// Empty reports whether the transcript has no speech after trimming.
func (t Transcript) Empty() bool {
	return strings.TrimSpace(t.Text) == ""
}

// EngineEvents receives engine callbacks. Implementations may call these from
// any goroutine but never concurrently for the same engine.
type EngineEvents interface {
	// OnResult carries zero or more interim and final segments.
	OnResult(segments []Segment)

	// OnEnded reports that the engine stopped on its own.
	OnEnded()

	// OnError reports a recognition failure by code.
	OnError(code string, err error)
}

// Engine is a continuous speech recognizer with interim results.
type Engine interface {
	// Start begins recognition. Audio arrives through Write.
	Start(ctx context.Context, events EngineEvents) error

	// Write feeds mono PCM16 samples at SampleRate. Writes before Start or
	// after Abort are dropped.
	Write(samples []int16) error

	// SampleRate is the rate Write expects.
	SampleRate() int

	// Abort stops recognition and blocks until resources are released. No
	// events are delivered after Abort returns. Safe to call more than once.
	Abort() error

	// Name identifies the engine in logs.
	Name() string
}

// EngineFactory builds a fresh engine for every (re)start. Returning
// ErrEngineUnavailable selects the recording fallback.
type EngineFactory func() (Engine, error)
