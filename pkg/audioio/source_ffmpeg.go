package audioio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	ffmpegStartupGrace = 250 * time.Millisecond
	ffmpegStopTimeout  = 1200 * time.Millisecond
)

// FFmpegSource streams microphone PCM audio by running ffmpeg and reading
// s16le samples from its stdout.
type FFmpegSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	stdout   io.ReadCloser
	stderr   *bytes.Buffer
	waitErr  chan error
	streamCh chan AudioChunk

	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// NewFFmpegSource creates an ffmpeg-backed source. Nothing is spawned until Start.
func NewFFmpegSource(cfg Config, logger *slog.Logger) *FFmpegSource {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FFmpegCommand == "" {
		cfg.FFmpegCommand = "ffmpeg"
	}
	if cfg.FFmpegFormat == "" {
		cfg.FFmpegFormat = "pulse"
	}
	if cfg.Device == "" {
		cfg.Device = "default"
	}
	return &FFmpegSource{
		cfg:      cfg,
		logger:   logger,
		streamCh: make(chan AudioChunk, 10),
	}
}

func (s *FFmpegSource) args() []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", s.cfg.FFmpegFormat,
		"-i", s.cfg.Device,
		"-ac", strconv.Itoa(s.cfg.Channels),
		"-ar", strconv.Itoa(s.cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

// Start spawns ffmpeg and begins reading. It fails if ffmpeg exits during
// the startup grace period, which is how a missing or busy device shows up.
func (s *FFmpegSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	cmd := exec.CommandContext(ctx, s.cfg.FFmpegCommand, s.args()...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return errors.New("ffmpeg exited before capture started")
	case <-time.After(ffmpegStartupGrace):
	}

	s.cmd = cmd
	s.stdout = stdout
	s.stderr = &stderr
	s.waitErr = waitErr
	s.streamCh = make(chan AudioChunk, 10)
	s.running = true

	go s.readLoop(stdout, s.streamCh)

	s.logger.Info("ffmpeg audio source started",
		"format", s.cfg.FFmpegFormat,
		"device", s.cfg.Device,
		"sample_rate", s.cfg.SampleRate,
	)
	return nil
}

func (s *FFmpegSource) readLoop(stdout io.Reader, out chan AudioChunk) {
	defer close(out)

	buf := make([]byte, s.cfg.BufferBytes())
	for {
		n, err := io.ReadFull(stdout, buf)
		if n > 0 {
			var chunk AudioChunk
			chunk.FromBytes(buf[:n-n%2], s.cfg.SampleRate, s.cfg.Channels)
			select {
			case out <- chunk:
				s.chunksRead.Add(1)
				s.samplesRead.Add(int64(len(chunk.Samples)))
			default:
				s.overruns.Add(1)
			}
		}
		if err != nil {
			return
		}
	}
}

// Stop interrupts ffmpeg, escalating to kill after a timeout.
func (s *FFmpegSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cmd, stdout, stderr, waitErr := s.cmd, s.stdout, s.stderr, s.waitErr
	s.mu.Unlock()

	var stopErr error
	if cmd.Process != nil {
		_ = cmd.Process.Signal(os.Interrupt)
	}

	select {
	case err, ok := <-waitErr:
		if ok {
			stopErr = normalizeStopErr(err)
		}
	case <-time.After(ffmpegStopTimeout):
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		if err, ok := <-waitErr; ok {
			stopErr = normalizeStopErr(err)
		}
	}

	if closeErr := stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && stopErr == nil {
		stopErr = closeErr
	}
	if stopErr != nil && stderr.Len() > 0 {
		stopErr = fmt.Errorf("%w: %s", stopErr, strings.TrimSpace(stderr.String()))
	}

	s.logger.Info("ffmpeg audio source stopped")
	return stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// Read reads the next audio chunk.
func (s *FFmpegSource) Read(ctx context.Context) (AudioChunk, error) {
	ch := s.Stream()
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-ch:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stream returns the audio chunk channel.
func (s *FFmpegSource) Stream() <-chan AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Config returns the audio configuration.
func (s *FFmpegSource) Config() Config {
	return s.cfg
}

// Name returns "ffmpeg".
func (s *FFmpegSource) Name() string {
	return "ffmpeg"
}

// Close stops capture and prevents restarts.
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns source statistics.
func (s *FFmpegSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return SourceStats{
		ChunksRead:  s.chunksRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "ffmpeg",
	}
}

var _ SourceWithStats = (*FFmpegSource)(nil)
