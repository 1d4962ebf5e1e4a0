// Package playback implements audioio.Sink on top of the system speaker.
package playback

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/speaker"

	"github.com/teslashibe/go-voicewidget/pkg/audioio"
)

// Defaults for the output device.
const (
	DefaultSampleRate = beep.SampleRate(44100)
	DefaultBuffer     = 100 * time.Millisecond
	resampleQuality   = 4
)

// Sink is a single reusable speaker element. The speaker is opened lazily on
// the first Play; failing to open it is reported as audioio.ErrPlaybackRejected.
type Sink struct {
	logger     *slog.Logger
	sampleRate beep.SampleRate
	buffer     time.Duration

	initOnce sync.Once
	initErr  error

	mu      sync.Mutex
	current *track
	muted   bool
	closed  bool
}

type track struct {
	stream  beep.StreamSeekCloser
	ctrl    *beep.Ctrl
	volume  *effects.Volume
	queued  bool
	onEnded func()
}

// Option configures a Sink.
type Option func(*Sink)

// WithSampleRate sets the device sample rate.
func WithSampleRate(rate int) Option {
	return func(s *Sink) {
		s.sampleRate = beep.SampleRate(rate)
	}
}

// WithBuffer sets the device buffer duration.
func WithBuffer(d time.Duration) Option {
	return func(s *Sink) {
		s.buffer = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) {
		s.logger = logger
	}
}

// NewSink creates a speaker-backed sink. The device is not opened yet.
func NewSink(opts ...Option) *Sink {
	s := &Sink{
		logger:     slog.Default(),
		sampleRate: DefaultSampleRate,
		buffer:     DefaultBuffer,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "audioio.playback")
	return s
}

func (s *Sink) ensureSpeaker() error {
	s.initOnce.Do(func() {
		s.initErr = speaker.Init(s.sampleRate, s.sampleRate.N(s.buffer))
		if s.initErr != nil {
			s.logger.Warn("speaker init failed", "error", s.initErr)
		}
	})
	return s.initErr
}

// Load decodes clip and binds it, releasing the previous clip.
func (s *Sink) Load(clip audioio.Clip) error {
	stream, format, err := Decode(clip)
	if err != nil {
		return err
	}

	var streamer beep.Streamer = stream
	if format.SampleRate != s.sampleRate {
		streamer = beep.Resample(resampleQuality, format.SampleRate, s.sampleRate, stream)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		stream.Close()
		return fmt.Errorf("playback: sink closed")
	}

	s.releaseLocked()

	volume := &effects.Volume{Streamer: streamer, Base: 2, Silent: s.muted}
	s.current = &track{
		stream: stream,
		volume: volume,
		ctrl:   &beep.Ctrl{Streamer: volume, Paused: true},
	}

	s.logger.Debug("clip loaded",
		"encoding", clip.Encoding,
		"bytes", len(clip.Data),
		"sample_rate", int(format.SampleRate),
		"frames", stream.Len(),
	)
	return nil
}

// Play starts or resumes the bound clip.
func (s *Sink) Play(onEnded func()) error {
	if err := s.ensureSpeaker(); err != nil {
		return fmt.Errorf("%w: %v", audioio.ErrPlaybackRejected, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.current
	if t == nil {
		return audioio.ErrNoClip
	}
	t.onEnded = onEnded

	speaker.Lock()
	t.volume.Silent = s.muted
	t.ctrl.Paused = false
	speaker.Unlock()

	if !t.queued {
		t.queued = true
		speaker.Play(beep.Seq(t.ctrl, beep.Callback(s.endCallback(t))))
	}
	return nil
}

// endCallback runs on the speaker goroutine with the speaker lock held.
// Every other method takes s.mu before the speaker lock, so s.mu must not
// be taken here.
func (s *Sink) endCallback(t *track) func() {
	return func() { go s.finished(t) }
}

func (s *Sink) finished(t *track) {
	s.mu.Lock()
	if s.current != t {
		s.mu.Unlock()
		return
	}
	fn := t.onEnded
	t.onEnded = nil
	t.queued = false
	s.mu.Unlock()

	if fn != nil {
		go fn()
	}
}

// Pause halts playback at the current position.
func (s *Sink) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	s.current.onEnded = nil
	speaker.Lock()
	s.current.ctrl.Paused = true
	speaker.Unlock()
	return nil
}

// Rewind seeks the bound clip back to the start.
func (s *Sink) Rewind() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	speaker.Lock()
	err := s.current.stream.Seek(0)
	speaker.Unlock()
	return err
}

// Release unbinds the clip and closes its decoder.
func (s *Sink) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseLocked()
}

func (s *Sink) releaseLocked() error {
	t := s.current
	if t == nil {
		return nil
	}
	s.current = nil
	t.onEnded = nil

	speaker.Lock()
	t.ctrl.Paused = true
	t.ctrl.Streamer = nil
	speaker.Unlock()

	return t.stream.Close()
}

// SetMuted silences or restores output.
func (s *Sink) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
	if s.current == nil {
		return
	}
	speaker.Lock()
	s.current.volume.Silent = muted
	speaker.Unlock()
}

// Name returns "speaker".
func (s *Sink) Name() string {
	return "speaker"
}

// Close releases the clip and clears the speaker.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	err := s.releaseLocked()
	s.mu.Unlock()

	if s.initErr == nil {
		speaker.Clear()
	}
	return err
}

var _ audioio.Sink = (*Sink)(nil)
