package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-voicewidget/pkg/audioio"
)

// Microphone hands out started input streams. Each acquired source is owned
// by the caller, who must Stop and Close it.
type Microphone interface {
	Acquire(ctx context.Context) (audioio.Source, error)
}

// DeviceMicrophone opens the configured audioio backend.
type DeviceMicrophone struct {
	Config audioio.Config
	Logger *slog.Logger
}

// NewDeviceMicrophone returns a Microphone for cfg.
func NewDeviceMicrophone(cfg audioio.Config, logger *slog.Logger) *DeviceMicrophone {
	return &DeviceMicrophone{Config: cfg, Logger: logger}
}

// Acquire opens and starts a source.
func (d *DeviceMicrophone) Acquire(ctx context.Context) (audioio.Source, error) {
	src, err := audioio.NewSource(d.Config, d.Logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMicrophoneUnavailable, err)
	}
	if err := src.Start(ctx); err != nil {
		src.Close()
		return nil, fmt.Errorf("%w: %w", ErrMicrophoneUnavailable, err)
	}
	return src, nil
}

func asMicrophoneError(err error) error {
	if errors.Is(err, ErrMicrophoneUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrMicrophoneUnavailable, err)
}

var _ Microphone = (*DeviceMicrophone)(nil)
