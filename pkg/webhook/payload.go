package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/teslashibe/go-voicewidget/pkg/conversation"
)

// FallbackText replaces a response that carries no usable text.
const FallbackText = "I received your message but I'm not sure how to respond."

// isoLayout matches JavaScript's Date.toISOString.
const isoLayout = "2006-01-02T15:04:05.000Z"

// Payload is the JSON body posted to the webhook. The utterance is sent as
// both chatInput and message.
type Payload struct {
	Action              string         `json:"action"`
	SessionID           string         `json:"sessionId"`
	ChatInput           string         `json:"chatInput"`
	Message             string         `json:"message"`
	Type                string         `json:"type"`
	Timestamp           string         `json:"timestamp"`
	ConversationHistory []HistoryEntry `json:"conversationHistory"`
}

// HistoryEntry is one prior message.
type HistoryEntry struct {
	Content   string `json:"content"`
	IsUser    bool   `json:"isUser"`
	Timestamp string `json:"timestamp"`
}

// FormatTimestamp renders t the way the webhook expects.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// BuildPayload assembles the request body.
func BuildPayload(sessionID, text string, history []conversation.Message, now time.Time) Payload {
	entries := make([]HistoryEntry, 0, len(history))
	for _, m := range history {
		entries = append(entries, HistoryEntry{
			Content:   m.Text,
			IsUser:    m.IsUser(),
			Timestamp: FormatTimestamp(m.Timestamp),
		})
	}
	return Payload{
		Action:              "sendMessage",
		SessionID:           sessionID,
		ChatInput:           text,
		Message:             text,
		Type:                "text",
		Timestamp:           FormatTimestamp(now),
		ConversationHistory: entries,
	}
}

// responseFields are checked in order on object responses.
var responseFields = []string{"output", "message", "response", "content", "text"}

// Normalize extracts the reply text from a response body. JSON content types
// must decode; anything else is tried as JSON and otherwise used verbatim.
// Bodies without usable text yield FallbackText.
func Normalize(body []byte, contentType string) (string, error) {
	var v any
	if strings.Contains(contentType, "application/json") {
		if err := json.Unmarshal(body, &v); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
	} else if err := json.Unmarshal(body, &v); err != nil {
		v = string(body)
	}

	if text := resolve(v); text != "" {
		return text, nil
	}
	return FallbackText, nil
}

func resolve(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		for _, field := range responseFields {
			if s, ok := t[field].(string); ok && s != "" {
				return s
			}
		}
	case []any:
		// n8n "respond with all items" wraps the reply in an array.
		if len(t) > 0 {
			return resolve(t[0])
		}
	}
	return ""
}
