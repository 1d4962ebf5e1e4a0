package conversation

import "errors"

// Sentinel errors for the conversation package.
var (
	// ErrMessageNotFound indicates no message has the requested ID.
	ErrMessageNotFound = errors.New("conversation: message not found")

	// ErrNotPending indicates the message was already settled.
	ErrNotPending = errors.New("conversation: message is not pending")
)
