// Package config provides configuration helpers for go-voicewidget commands.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for the widget server.
const (
	DefaultAddr           = ":8080"
	DefaultDataDirName    = ".voicewidget"
	DefaultTTSProvider    = "deepgram"
	DefaultDeepgramModel  = "nova-2"
	DefaultAuraModel      = "aura-asteria-en"
	DefaultSampleRate     = 16000
	DefaultWebhookTimeout = 60 * time.Second
)

// Config is the process-level configuration assembled from .env files,
// the environment and command line flags (flags win).
type Config struct {
	Addr     string
	LogLevel string
	DataDir  string

	// Webhook backend
	WebhookURL     string
	WebhookAPIKey  string
	WebhookTimeout time.Duration

	// Presentation options passed through to the widget
	Position        string
	ButtonLabel     string
	GreetingMessage string
	Theme           string
	Mode            string

	// Speech output
	TTSProvider       string
	Naturalize        bool
	DeepgramAPIKey    string
	AuraModel         string
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string
	OpenAIAPIKey      string

	// Speech input
	DeepgramModel string
	Language      string
	AudioBackend  string
	AudioDevice   string
	FFmpegCommand string
	SampleRate    int
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set.
// Missing files are skipped; with no arguments ".env" is tried.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// FromEnv reads the configuration from environment variables.
func FromEnv() Config {
	return Config{
		Addr:     envOrDefault("VOICEWIDGET_ADDR", DefaultAddr),
		LogLevel: envOrDefault("VOICEWIDGET_LOG_LEVEL", "info"),
		DataDir:  envOrDefault("VOICEWIDGET_DATA_DIR", defaultDataDir()),

		WebhookURL:     firstNonEmpty(os.Getenv("N8N_WEBHOOK_URL"), os.Getenv("VOICEWIDGET_WEBHOOK_URL")),
		WebhookAPIKey:  firstNonEmpty(os.Getenv("N8N_API_KEY"), os.Getenv("VOICEWIDGET_WEBHOOK_API_KEY")),
		WebhookTimeout: envOrDefaultDuration("VOICEWIDGET_WEBHOOK_TIMEOUT", DefaultWebhookTimeout),

		Position:        os.Getenv("VOICEWIDGET_POSITION"),
		ButtonLabel:     os.Getenv("VOICEWIDGET_BUTTON_LABEL"),
		GreetingMessage: os.Getenv("VOICEWIDGET_GREETING"),
		Theme:           os.Getenv("VOICEWIDGET_THEME"),
		Mode:            os.Getenv("VOICEWIDGET_MODE"),

		TTSProvider:       envOrDefault("VOICEWIDGET_TTS_PROVIDER", DefaultTTSProvider),
		Naturalize:        envOrDefaultBool("VOICEWIDGET_NATURALIZE", false),
		DeepgramAPIKey:    os.Getenv("DEEPGRAM_API_KEY"),
		AuraModel:         envOrDefault("DEEPGRAM_TTS_MODEL", DefaultAuraModel),
		ElevenLabsAPIKey:  os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),

		DeepgramModel: envOrDefault("DEEPGRAM_MODEL", DefaultDeepgramModel),
		Language:      envOrDefault("DEEPGRAM_LANGUAGE", "en-US"),
		AudioBackend:  envOrDefault("VOICEWIDGET_AUDIO_BACKEND", "auto"),
		AudioDevice:   os.Getenv("VOICEWIDGET_AUDIO_DEVICE"),
		FFmpegCommand: envOrDefault("VOICEWIDGET_FFMPEG", "ffmpeg"),
		SampleRate:    envOrDefaultInt("VOICEWIDGET_SAMPLE_RATE", DefaultSampleRate),
	}
}

// StorePath returns the path of the persisted state file inside DataDir.
func (c Config) StorePath() string {
	return filepath.Join(c.DataDir, "state.json")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDataDirName
	}
	return filepath.Join(home, DefaultDataDirName)
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
