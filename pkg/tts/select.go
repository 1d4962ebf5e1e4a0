package tts

import (
	"fmt"
	"log/slog"
	"strings"
)

// ProviderNames lists the selectable providers in fallback order.
var ProviderNames = []string{providerDeepgram, providerElevenLabs, providerOpenAI}

// Credentials carries the per-provider keys and voice choices.
type Credentials struct {
	DeepgramKey     string
	AuraModel       string
	ElevenLabsKey   string
	ElevenLabsVoice string
	OpenAIKey       string
}

func (c Credentials) has(name string) bool {
	switch name {
	case providerDeepgram:
		return c.DeepgramKey != ""
	case providerElevenLabs:
		return c.ElevenLabsKey != ""
	case providerOpenAI:
		return c.OpenAIKey != ""
	}
	return false
}

// NewSelected builds the primary provider followed by every other provider
// that has a key, as fallbacks. Providers without keys are skipped. One
// usable provider is returned as is; several are chained. opts apply to
// every provider.
func NewSelected(primary string, creds Credentials, logger *slog.Logger, opts ...Option) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	primary = strings.ToLower(strings.TrimSpace(primary))
	if primary == "" {
		primary = providerDeepgram
	}

	order := []string{primary}
	known := false
	for _, name := range ProviderNames {
		if name == primary {
			known = true
			continue
		}
		order = append(order, name)
	}
	if !known {
		return nil, fmt.Errorf("tts: unknown provider %q", primary)
	}

	var providers []Provider
	for _, name := range order {
		if !creds.has(name) {
			if name == primary {
				logger.Warn("primary tts provider has no key", "provider", name)
			}
			continue
		}
		p, err := newNamed(name, creds, logger, opts)
		if err != nil {
			return nil, fmt.Errorf("tts: %s: %w", name, err)
		}
		providers = append(providers, p)
	}

	switch len(providers) {
	case 0:
		return nil, ErrProviderUnavailable
	case 1:
		return providers[0], nil
	}
	return NewChainWithLogger(logger, providers...)
}

func newNamed(name string, creds Credentials, logger *slog.Logger, opts []Option) (Provider, error) {
	base := append([]Option{WithLogger(logger)}, opts...)
	switch name {
	case providerDeepgram:
		o := append(base, WithAPIKey(creds.DeepgramKey))
		if creds.AuraModel != "" {
			o = append(o, WithModel(creds.AuraModel))
		}
		return NewDeepgram(o...)
	case providerElevenLabs:
		o := append(base, WithAPIKey(creds.ElevenLabsKey))
		if creds.ElevenLabsVoice != "" {
			o = append(o, WithVoice(creds.ElevenLabsVoice))
		}
		return NewElevenLabs(o...)
	default:
		return NewOpenAI(append(base, WithAPIKey(creds.OpenAIKey))...)
	}
}
