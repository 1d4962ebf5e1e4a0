// Package turn orchestrates one voice exchange: a final transcript becomes a
// user message, the backend reply settles the "Thinking..." placeholder, and
// the reply is spoken unless the user talks over it.
//
// User speech always wins. A transcript that arrives while the assistant is
// speaking cancels playback at once (barge-in) and opens a short grace window
// during which a new turn may start even if the previous reply is still
// outstanding. Outside that window a second final transcript is dropped while
// a reply is pending.
package turn

import (
	"time"

	"github.com/teslashibe/go-voicewidget/pkg/capture"
)

const (
	// DefaultInterruptGrace is how long a barge-in lets a new turn bypass the
	// pending-reply guard.
	DefaultInterruptGrace = 300 * time.Millisecond

	// DefaultDebounce suppresses speaking a reply when the user spoke more
	// recently than this.
	DefaultDebounce = 500 * time.Millisecond

	// ApologyText replaces the placeholder when the backend fails.
	ApologyText = "Sorry, I couldn't process that request."
)

// Status lines shown under the panel.
const (
	StatusProcessing = "Processing..."
	StatusSpeaking   = "Speaking... (speak to interrupt)"
	StatusListening  = "Listening..."
	StatusIdle       = "Click the microphone to speak"
)

// State is the dominant activity of the controller.
type State string

const (
	StateIdle             State = "idle"
	StateListening        State = "listening"
	StateAwaitingResponse State = "awaiting_response"
	StateSpeaking         State = "speaking"
)

// Snapshot is a point-in-time view for rendering.
type Snapshot struct {
	State        State               `json:"state"`
	Listening    bool                `json:"listening"`
	Awaiting     bool                `json:"awaiting"`
	Speaking     bool                `json:"speaking"`
	Interrupting bool                `json:"interrupting"`
	Transcript   *capture.Transcript `json:"transcript,omitempty"`
	Status       string              `json:"status"`
}

func newSnapshot(listening, awaiting, speaking, interrupting bool, transcript *capture.Transcript) Snapshot {
	s := Snapshot{
		Listening:    listening,
		Awaiting:     awaiting,
		Speaking:     speaking,
		Interrupting: interrupting,
		Transcript:   transcript,
	}
	switch {
	case awaiting:
		s.State, s.Status = StateAwaitingResponse, StatusProcessing
	case speaking:
		s.State, s.Status = StateSpeaking, StatusSpeaking
	case listening:
		s.State, s.Status = StateListening, StatusListening
	default:
		s.State, s.Status = StateIdle, StatusIdle
	}
	return s
}
