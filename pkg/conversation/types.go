// Package conversation holds the message list shown in the widget panel.
//
// The list is append-only. The single permitted mutation is settling a
// pending AI placeholder ("Thinking...") into its final text, which happens
// exactly once per placeholder.
package conversation

import (
	"time"
)

// Sender identifies who authored a message.
type Sender string

const (
	// SenderUser marks a message spoken by the user.
	SenderUser Sender = "user"
	// SenderAI marks a message produced by the assistant.
	SenderAI Sender = "ai"
)

// PlaceholderText is shown while the assistant reply is outstanding.
const PlaceholderText = "Thinking..."

// Message is one entry in the conversation.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Pending   bool      `json:"pending,omitempty"`
}

// IsUser reports whether the message was authored by the user.
func (m Message) IsUser() bool {
	return m.Sender == SenderUser
}

// EventKind describes a change to the list.
type EventKind string

const (
	// EventAdded is emitted when a message is appended.
	EventAdded EventKind = "added"
	// EventSettled is emitted when a pending message receives its final text.
	EventSettled EventKind = "settled"
)

// Event is delivered to subscribers after the list changes.
type Event struct {
	Kind    EventKind `json:"kind"`
	Message Message   `json:"message"`
}
