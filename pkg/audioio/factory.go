package audioio

import (
	"fmt"
	"log/slog"
	"os/exec"
)

// NewSource creates a new audio source with the given configuration.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto || backend == "" {
		backend = detectBestBackend(cfg)
	}

	logger.Info("creating audio source",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	switch backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendFFmpeg:
		return NewFFmpegSource(cfg, logger), nil
	case BackendPortAudio:
		return newPortAudioSource(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// detectBestBackend prefers PortAudio when compiled in, then ffmpeg when it
// is on PATH, then the mock.
func detectBestBackend(cfg Config) Backend {
	if portAudioAvailable {
		return BackendPortAudio
	}
	command := cfg.FFmpegCommand
	if command == "" {
		command = "ffmpeg"
	}
	if _, err := exec.LookPath(command); err == nil {
		return BackendFFmpeg
	}
	return BackendMock
}

// AvailableBackends returns the list of backends available in this build.
func AvailableBackends() []Backend {
	backends := []Backend{BackendMock}
	if _, err := exec.LookPath("ffmpeg"); err == nil {
		backends = append(backends, BackendFFmpeg)
	}
	if portAudioAvailable {
		backends = append(backends, BackendPortAudio)
	}
	return backends
}
