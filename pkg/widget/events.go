package widget

import "github.com/teslashibe/go-voicewidget/pkg/turn"

// EventType names a widget event.
type EventType string

const (
	EventMessage    EventType = "message"
	EventTranscript EventType = "transcript"
	EventLevel      EventType = "level"
	EventStatus     EventType = "status"
	EventError      EventType = "error"
	EventPanel      EventType = "panel"
)

// Event is pushed to subscribers. Data depends on Type: a
// conversation.Event, a capture.Transcript, a float64 level, a Status,
// an ErrorData or a Panel.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// ErrorData carries an error message.
type ErrorData struct {
	Message string `json:"message"`
}

// Panel is the visibility of the widget panel.
type Panel struct {
	Open      bool `json:"open"`
	Minimized bool `json:"minimized"`
}

// Status is the full rendering state.
type Status struct {
	turn.Snapshot
	Open      bool   `json:"open"`
	Minimized bool   `json:"minimized"`
	SessionID string `json:"sessionId"`
}

// Subscribe registers fn for all events. Callbacks run on the goroutine that
// caused the event and must not block.
func (w *Widget) Subscribe(fn func(Event)) {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	w.subs = append(w.subs, fn)
}

func (w *Widget) emit(ev Event) {
	w.subMu.Lock()
	subs := make([]func(Event), len(w.subs))
	copy(subs, w.subs)
	w.subMu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (w *Widget) emitPanel() {
	w.mu.Lock()
	p := Panel{Open: w.open, Minimized: w.minimized}
	w.mu.Unlock()
	w.emit(Event{Type: EventPanel, Data: p})
}
