// Package audioio provides microphone capture, spectrum analysis, raw
// recording and the playback contract used by the speech output path.
//
// Capture backends:
//   - PortAudio - native devices (build with -tags portaudio)
//   - FFmpeg - any input ffmpeg can open (pulse, alsa, avfoundation, dshow)
//   - Mock - CI/Testing without hardware
//
// The backend is selected automatically based on what is available,
// or can be explicitly specified via configuration.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto automatically selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendPortAudio uses PortAudio for cross-platform audio I/O.
	BackendPortAudio Backend = "portaudio"
	// BackendFFmpeg shells out to ffmpeg and reads raw PCM from stdout.
	BackendFFmpeg Backend = "ffmpeg"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Config holds audio capture configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto" (selects best available)
	Backend Backend `json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 16000 (speech recognition)
	SampleRate int `json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `json:"channels"`

	// BufferDuration is the size of audio buffers.
	// Default: 20ms (320 samples at 16kHz)
	BufferDuration time.Duration `json:"buffer_duration"`

	// Device is the platform-specific device identifier.
	// Examples:
	//   - FFmpeg: "default" (pulse), "hw:0,0" (alsa), ":0" (avfoundation)
	//   - PortAudio: ignored, the default input device is used
	//   - Mock: ignored
	Device string `json:"device"`

	// FFmpegCommand is the ffmpeg binary. Default: "ffmpeg".
	FFmpegCommand string `json:"ffmpeg_command"`

	// FFmpegFormat is the ffmpeg input format. Default: "pulse".
	FFmpegFormat string `json:"ffmpeg_format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     16000,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
		FFmpegCommand:  "ffmpeg",
		FFmpegFormat:   "pulse",
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	return nil
}

// BufferSize returns the number of samples per buffer.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the size of a buffer in bytes (assuming int16 samples).
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2
}
