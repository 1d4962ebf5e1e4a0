package store

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// Keys used by the widget. They match the names the browser widget keeps in
// localStorage so state can be migrated verbatim.
const (
	KeySessionID     = "n8n_session_id"
	KeyWebhookConfig = "n8nWebhookConfig"
)

const sessionIDPrefix = "session_"

// WebhookSettings is the persisted webhook configuration.
type WebhookSettings struct {
	WebhookURL string `json:"webhookUrl"`
	APIKey     string `json:"apiKey,omitempty"`
	Mode       string `json:"mode,omitempty"`
}

// NewSessionID returns a fresh opaque session identifier of the form
// "session_" followed by 13 base36 characters.
func NewSessionID() string {
	id := uuid.New()
	n := new(big.Int).SetBytes(id[:])
	s := n.Text(36)
	if len(s) < 13 {
		s = strings.Repeat("0", 13-len(s)) + s
	}
	return sessionIDPrefix + s[:13]
}

// SessionID returns the persisted session id, creating and storing one on
// first use. The id is stable for the lifetime of the store.
func SessionID(s Store) (string, error) {
	var id string
	ok, err := s.Get(KeySessionID, &id)
	if err == nil && ok && strings.TrimSpace(id) != "" {
		return id, nil
	}

	id = NewSessionID()
	if err := s.Set(KeySessionID, id); err != nil {
		return "", fmt.Errorf("persist session id: %w", err)
	}
	return id, nil
}

// LoadWebhookSettings reads the persisted webhook configuration.
// It reports false when nothing has been saved yet.
func LoadWebhookSettings(s Store) (WebhookSettings, bool, error) {
	var ws WebhookSettings
	ok, err := s.Get(KeyWebhookConfig, &ws)
	if err != nil || !ok {
		return WebhookSettings{}, false, err
	}
	if ws.Mode == "" {
		ws.Mode = "standard"
	}
	return ws, true, nil
}

// SaveWebhookSettings persists the webhook configuration. An empty URL is rejected.
func SaveWebhookSettings(s Store, ws WebhookSettings) error {
	if strings.TrimSpace(ws.WebhookURL) == "" {
		return fmt.Errorf("store: webhook url required")
	}
	return s.Set(KeyWebhookConfig, ws)
}
