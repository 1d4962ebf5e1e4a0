package conversation

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Log is a goroutine-safe, append-only conversation.
type Log struct {
	mu       sync.Mutex
	messages []Message
	index    map[string]int
	clock    clockwork.Clock

	subMu       sync.Mutex
	subscribers []func(Event)
}

// Option configures a Log.
type Option func(*Log)

// WithClock sets the clock used for message timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(l *Log) {
		l.clock = c
	}
}

// WithInitialMessages seeds the log. Messages without an ID get one assigned.
func WithInitialMessages(msgs []Message) Option {
	return func(l *Log) {
		for _, m := range msgs {
			if m.ID == "" {
				m.ID = uuid.NewString()
			}
			l.index[m.ID] = len(l.messages)
			l.messages = append(l.messages, m)
		}
	}
}

// NewLog creates an empty conversation log.
func NewLog(opts ...Option) *Log {
	l := &Log{
		messages: make([]Message, 0, 32),
		index:    make(map[string]int),
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Subscribe registers fn to be called after every change. Callbacks run
// synchronously on the mutating goroutine, outside the log's lock.
func (l *Log) Subscribe(fn func(Event)) {
	l.subMu.Lock()
	l.subscribers = append(l.subscribers, fn)
	l.subMu.Unlock()
}

// Append adds a final message from sender.
func (l *Log) Append(sender Sender, text string) Message {
	return l.add(Message{Sender: sender, Text: text})
}

// AppendPending adds an AI placeholder that must later be settled.
func (l *Log) AppendPending() Message {
	return l.add(Message{Sender: SenderAI, Text: PlaceholderText, Pending: true})
}

func (l *Log) add(m Message) Message {
	m.ID = uuid.NewString()
	m.Timestamp = l.clock.Now()

	l.mu.Lock()
	l.index[m.ID] = len(l.messages)
	l.messages = append(l.messages, m)
	l.mu.Unlock()

	l.publish(Event{Kind: EventAdded, Message: m})
	return m
}

// Settle replaces the text of a pending message and clears its pending flag.
// A message can be settled only once.
func (l *Log) Settle(id, text string) (Message, error) {
	l.mu.Lock()
	i, ok := l.index[id]
	if !ok {
		l.mu.Unlock()
		return Message{}, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	m := l.messages[i]
	if !m.Pending {
		l.mu.Unlock()
		return m, fmt.Errorf("%w: %s", ErrNotPending, id)
	}
	m.Text = text
	m.Pending = false
	l.messages[i] = m
	l.mu.Unlock()

	l.publish(Event{Kind: EventSettled, Message: m})
	return m, nil
}

// Messages returns a snapshot of the conversation in order.
func (l *Log) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

func (l *Log) publish(ev Event) {
	l.subMu.Lock()
	subs := make([]func(Event), len(l.subscribers))
	copy(subs, l.subscribers)
	l.subMu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}
