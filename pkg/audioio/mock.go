package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource is a mock audio source for testing.
// It generates synthetic audio (silence or sine wave), or in manual mode
// emits only what the test feeds it.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan AudioChunk
	stopCh   chan struct{}
	manual   bool
	startErr error

	// Stats
	chunksRead  atomic.Int64
	samplesRead atomic.Int64
	stops       atomic.Int64

	// Synthetic audio generation
	phase     float64
	frequency float64 // Hz, 0 = silence
	amplitude float64 // 0.0 to 1.0
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithManualFeed disables the generator; chunks arrive only through Feed.
func WithManualFeed() MockSourceOption {
	return func(m *MockSource) {
		m.manual = true
	}
}

// WithStartError makes Start fail with err, simulating a denied device.
func WithStartError(err error) MockSourceOption {
	return func(m *MockSource) {
		m.startErr = err
	}
}

// NewMockSource creates a new mock audio source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockSource{
		cfg:       cfg,
		logger:    logger,
		streamCh:  make(chan AudioChunk, 10),
		stopCh:    make(chan struct{}),
		amplitude: 0.5,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start begins generating audio.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return m.startErr
	}
	if m.closed {
		return io.ErrClosedPipe
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.streamCh = make(chan AudioChunk, 10)

	if !m.manual {
		go m.generateLoop(ctx, m.stopCh, m.streamCh)
	}

	m.logger.Debug("mock audio source started",
		"sample_rate", m.cfg.SampleRate,
		"frequency", m.frequency,
		"manual", m.manual,
	)

	return nil
}

func (m *MockSource) generateLoop(ctx context.Context, stopCh chan struct{}, streamCh chan AudioChunk) {
	ticker := time.NewTicker(m.cfg.BufferDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.mu.Lock()
			if !m.running {
				m.mu.Unlock()
				return
			}
			chunk := m.generateChunk()
			select {
			case streamCh <- chunk:
				m.chunksRead.Add(1)
				m.samplesRead.Add(int64(len(chunk.Samples)))
			default:
				m.logger.Debug("mock source: buffer full, dropping chunk")
			}
			m.mu.Unlock()
		}
	}
}

func (m *MockSource) generateChunk() AudioChunk {
	bufferSize := m.cfg.BufferSize()
	samples := make([]int16, bufferSize*m.cfg.Channels)

	if m.frequency > 0 {
		for i := 0; i < bufferSize; i++ {
			sample := m.amplitude * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate))
			sampleInt := int16(sample * 32767)

			for ch := 0; ch < m.cfg.Channels; ch++ {
				samples[i*m.cfg.Channels+ch] = sampleInt
			}

			m.phase++
			if m.phase >= float64(m.cfg.SampleRate) {
				m.phase = 0
			}
		}
	}

	return AudioChunk{
		Samples:    samples,
		SampleRate: m.cfg.SampleRate,
		Channels:   m.cfg.Channels,
	}
}

// Feed delivers a chunk to readers. It reports false if the source is not
// running or the buffer is full.
func (m *MockSource) Feed(chunk AudioChunk) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return false
	}
	select {
	case m.streamCh <- chunk:
		m.chunksRead.Add(1)
		m.samplesRead.Add(int64(len(chunk.Samples)))
		return true
	default:
		return false
	}
}

// Stop halts audio generation.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.running = false
	m.stops.Add(1)
	close(m.stopCh)
	close(m.streamCh)

	m.logger.Debug("mock audio source stopped")

	return nil
}

// Read reads the next audio chunk.
func (m *MockSource) Read(ctx context.Context) (AudioChunk, error) {
	m.mu.Lock()
	ch := m.streamCh
	m.mu.Unlock()

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
func (m *MockSource) Stream() <-chan AudioChunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCh
}

// Config returns the audio configuration.
func (m *MockSource) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return "mock"
}

// Running reports whether the source is capturing.
func (m *MockSource) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// StopCount returns how many times a running source was stopped.
func (m *MockSource) StopCount() int {
	return int(m.stops.Load())
}

// Close releases resources.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return m.Stop()
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return SourceStats{
		ChunksRead:  m.chunksRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Running:     running,
		Backend:     "mock",
	}
}

// Ensure MockSource implements SourceWithStats.
var _ SourceWithStats = (*MockSource)(nil)

// MockSink is a mock playback element for testing.
// It records every call and lets tests decide when a clip "finishes".
type MockSink struct {
	mu       sync.Mutex
	clip     *Clip
	playing  bool
	muted    bool
	position int
	closed   bool
	onEnded  func()
	calls    []string

	// RejectUnmuted makes Play fail with ErrPlaybackRejected unless muted.
	RejectUnmuted bool

	// RejectAll makes every Play fail with ErrPlaybackRejected.
	RejectAll bool

	// LoadErr, when set, is returned by Load.
	LoadErr error
}

// NewMockSink creates a new mock sink.
func NewMockSink() *MockSink {
	return &MockSink{}
}

func (m *MockSink) record(call string) {
	m.calls = append(m.calls, call)
}

// Load binds clip.
func (m *MockSink) Load(clip Clip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("load")
	if m.closed {
		return io.ErrClosedPipe
	}
	if m.LoadErr != nil {
		return m.LoadErr
	}
	c := clip
	m.clip = &c
	m.playing = false
	m.position = 0
	m.onEnded = nil
	return nil
}

// Play starts the bound clip.
func (m *MockSink) Play(onEnded func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.muted {
		m.record("play-muted")
	} else {
		m.record("play")
	}
	if m.clip == nil {
		return ErrNoClip
	}
	if m.RejectAll || (m.RejectUnmuted && !m.muted) {
		return ErrPlaybackRejected
	}
	m.playing = true
	m.onEnded = onEnded
	return nil
}

// Pause halts playback.
func (m *MockSink) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("pause")
	m.playing = false
	m.onEnded = nil
	return nil
}

// Rewind resets the position.
func (m *MockSink) Rewind() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("rewind")
	m.position = 0
	return nil
}

// Release drops the bound clip.
func (m *MockSink) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("release")
	m.clip = nil
	m.playing = false
	m.onEnded = nil
	return nil
}

// SetMuted toggles muting.
func (m *MockSink) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if muted {
		m.record("mute")
	} else {
		m.record("unmute")
	}
	m.muted = muted
}

// Finish simulates the clip playing to completion.
func (m *MockSink) Finish() {
	m.mu.Lock()
	if !m.playing {
		m.mu.Unlock()
		return
	}
	m.playing = false
	fn := m.onEnded
	m.onEnded = nil
	m.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Playing reports whether a clip is currently playing.
func (m *MockSink) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

// Muted reports the mute state.
func (m *MockSink) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// Loaded returns the currently bound clip, if any.
func (m *MockSink) Loaded() (Clip, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clip == nil {
		return Clip{}, false
	}
	return *m.clip, true
}

// Calls returns the recorded call names in order.
func (m *MockSink) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// ResetCalls clears the call record.
func (m *MockSink) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Name returns "mock".
func (m *MockSink) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.clip = nil
	m.playing = false
	return nil
}

// Ensure MockSink implements Sink.
var _ Sink = (*MockSink)(nil)
