// Package widget assembles the voice assistant: capture, turn controller,
// webhook client and speech player behind one embeddable object with the
// panel state (open, minimized) the browser widget renders.
package widget

import (
	"errors"
	"fmt"
	"strings"

	"github.com/teslashibe/go-voicewidget/pkg/conversation"
)

// Position is the corner the widget button is anchored to.
type Position string

const (
	PositionBottomRight Position = "bottom-right"
	PositionBottomLeft  Position = "bottom-left"
	PositionTopRight    Position = "top-right"
	PositionTopLeft     Position = "top-left"
)

// Theme selects the color scheme.
type Theme string

const (
	ThemeLight  Theme = "light"
	ThemeDark   Theme = "dark"
	ThemeSystem Theme = "system"
)

// Mode selects the panel layout. Both modes share the same core.
type Mode string

const (
	ModeStandard Mode = "standard"
	ModePopup    Mode = "popup"
)

// Defaults.
const (
	DefaultButtonLabel     = "Voice Assistant"
	DefaultGreetingMessage = "Hello! How can I assist you today?"
	DefaultTTSProvider     = "deepgram"
)

// ErrNoWebhookURL is returned when no webhook URL is configured or persisted.
var ErrNoWebhookURL = errors.New("widget: webhook URL required")

// Config holds the embedding options.
type Config struct {
	WebhookURL      string                 `json:"webhookUrl"`
	APIKey          string                 `json:"apiKey,omitempty"`
	Position        Position               `json:"position"`
	ButtonLabel     string                 `json:"buttonLabel"`
	GreetingMessage string                 `json:"greetingMessage"`
	Theme           Theme                  `json:"theme"`
	Mode            Mode                   `json:"mode"`
	TTSProvider     string                 `json:"ttsProvider"`
	InitialMessages []conversation.Message `json:"initialMessages,omitempty"`

	// NoGreeting disables the greeting. An empty GreetingMessage alone
	// falls back to DefaultGreetingMessage.
	NoGreeting bool `json:"-"`
}

// applyDefaults fills unset presentation options.
func (c *Config) applyDefaults() {
	if c.Position == "" {
		c.Position = PositionBottomRight
	}
	if c.ButtonLabel == "" {
		c.ButtonLabel = DefaultButtonLabel
	}
	if c.GreetingMessage == "" && !c.NoGreeting {
		c.GreetingMessage = DefaultGreetingMessage
	}
	if c.NoGreeting {
		c.GreetingMessage = ""
	}
	if c.Theme == "" {
		c.Theme = ThemeSystem
	}
	if c.Mode == "" {
		c.Mode = ModeStandard
	}
	if c.TTSProvider == "" {
		c.TTSProvider = DefaultTTSProvider
	}
}

// Validate checks the options after defaults are applied.
func (c Config) Validate() error {
	if strings.TrimSpace(c.WebhookURL) == "" {
		return ErrNoWebhookURL
	}
	switch c.Position {
	case PositionBottomRight, PositionBottomLeft, PositionTopRight, PositionTopLeft:
	default:
		return fmt.Errorf("widget: invalid position %q", c.Position)
	}
	switch c.Theme {
	case ThemeLight, ThemeDark, ThemeSystem:
	default:
		return fmt.Errorf("widget: invalid theme %q", c.Theme)
	}
	switch c.Mode {
	case ModeStandard, ModePopup:
	default:
		return fmt.Errorf("widget: invalid mode %q", c.Mode)
	}
	switch c.TTSProvider {
	case "deepgram", "elevenlabs", "openai":
	default:
		return fmt.Errorf("widget: invalid tts provider %q", c.TTSProvider)
	}
	return nil
}
