// Package tts turns assistant replies into audio and plays them.
//
// Providers (Deepgram Aura, ElevenLabs, OpenAI) implement Provider and can be
// stacked in a Chain so a failing primary falls through to the next one.
// Player owns the single reusable audio sink and enforces that at most one
// reply is audible at a time.
//
//	provider, _ := tts.NewDeepgram(tts.WithAPIKey(os.Getenv("DEEPGRAM_API_KEY")))
//	player := tts.NewPlayer(provider, playback.NewSink())
//	defer player.Close()
//
//	player.Speak(ctx, "Hello there")
//	player.Cancel()
package tts

import (
	"context"
	"time"

	"github.com/teslashibe/go-voicewidget/pkg/audioio"
)

// Provider synthesizes speech.
type Provider interface {
	// Synthesize converts text to a complete audio payload.
	Synthesize(ctx context.Context, text string) (*AudioResult, error)

	// Health checks provider connectivity and credentials.
	Health(ctx context.Context) error

	// Name identifies the provider in logs and errors.
	Name() string

	// Close releases any resources held by the provider.
	Close() error
}

// AudioResult is a synthesized payload.
type AudioResult struct {
	// Audio is the raw payload as returned by the provider.
	Audio []byte

	// Format describes Audio.
	Format AudioFormat

	// Duration is an estimate; zero when unknown.
	Duration time.Duration

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the request round trip in milliseconds.
	LatencyMs int64

	// Provider names who produced the audio.
	Provider string
}

// Clip converts the result for an audioio.Sink.
func (r *AudioResult) Clip() audioio.Clip {
	clip := audioio.Clip{
		Data:       r.Audio,
		Encoding:   r.Format.Encoding.Container(),
		SampleRate: r.Format.SampleRate,
		Channels:   r.Format.Channels,
	}
	if clip.Encoding == audioio.EncodingUnknown {
		clip.Encoding = audioio.DetectEncoding(r.Audio)
	}
	if clip.Channels == 0 {
		clip.Channels = 1
	}
	return clip
}

// AudioFormat describes an audio payload.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
	BitDepth   int
}

// Encoding names a provider output format.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm_16000"
	EncodingPCM22 Encoding = "pcm_22050"
	EncodingPCM24 Encoding = "pcm_24000"
	EncodingPCM44 Encoding = "pcm_44100"

	EncodingMP3  Encoding = "mp3_44100_128"
	EncodingOpus Encoding = "opus"
	EncodingWAV  Encoding = "wav"
)

// Container maps the provider format to a playable container.
func (e Encoding) Container() audioio.Encoding {
	switch e {
	case EncodingPCM16, EncodingPCM22, EncodingPCM24, EncodingPCM44:
		return audioio.EncodingPCM16
	case EncodingMP3:
		return audioio.EncodingMP3
	case EncodingOpus:
		return audioio.EncodingOggOpus
	case EncodingWAV:
		return audioio.EncodingWAV
	default:
		return audioio.EncodingUnknown
	}
}

// VoiceSettings controls ElevenLabs voice characteristics.
type VoiceSettings struct {
	// Stability controls voice consistency (0.0-1.0).
	Stability float64

	// SimilarityBoost controls how closely the voice matches the original (0.0-1.0).
	SimilarityBoost float64

	// Style controls style exaggeration (0.0-1.0).
	Style float64

	// SpeakerBoost enhances speaker clarity.
	SpeakerBoost bool
}

// DefaultVoiceSettings returns sensible defaults for voice synthesis.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.5,
		SimilarityBoost: 0.75,
		Style:           0.0,
		SpeakerBoost:    true,
	}
}

// SampleRateFromEncoding extracts the sample rate from an encoding type.
func SampleRateFromEncoding(enc Encoding) int {
	switch enc {
	case EncodingPCM16:
		return 16000
	case EncodingPCM22:
		return 22050
	case EncodingPCM24:
		return 24000
	case EncodingPCM44, EncodingMP3:
		return 44100
	case EncodingOpus:
		return 48000
	default:
		return 24000
	}
}
