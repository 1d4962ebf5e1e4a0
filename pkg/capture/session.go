// Package capture owns the microphone, the recognition engine and the level
// analyser for continuous listening.
//
// A Session keeps recognition alive across engine ends and transient errors:
//
//	Capturing --ended--> Restarting --300ms--> Capturing
//	Capturing --ended (4th cycle)--> Restarting --500ms, new mic--> Capturing
//	Capturing --transient error--> Restarting --1000ms--> Capturing
//	Capturing --fatal error--> Idle
//
// Only one engine and one microphone stream are live at a time. A restart
// releases the previous engine before building the next one.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/teslashibe/go-voicewidget/pkg/audioio"
)

// Defaults for Session timing.
const (
	DefaultCycleLimit    = 4
	DefaultRestartDelay  = 300 * time.Millisecond
	DefaultResetDelay    = 500 * time.Millisecond
	DefaultRecoverDelay  = 1000 * time.Millisecond
	DefaultLevelInterval = 16 * time.Millisecond
)

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateRestarting
)

func (s State) String() string {
	switch s {
	case StateCapturing:
		return "capturing"
	case StateRestarting:
		return "restarting"
	default:
		return "idle"
	}
}

// Handler receives session output. Nil fields are skipped. Callbacks are
// serialized and must not call Start or Stop synchronously.
type Handler struct {
	OnTranscript func(Transcript)
	OnLevel      func(float64)
	OnError      func(error)
}

// Config holds Session settings.
type Config struct {
	NewEngine     EngineFactory
	Transcriber   Transcriber
	Clock         clockwork.Clock
	Logger        *slog.Logger
	FFTSize       int
	LevelInterval time.Duration
	CycleLimit    int
	RestartDelay  time.Duration
	ResetDelay    time.Duration
	RecoverDelay  time.Duration
}

// Option configures a Session.
type Option func(*Config)

// WithEngine sets the recognition engine factory. Without one the session
// records audio and transcribes on Stop.
func WithEngine(f EngineFactory) Option {
	return func(c *Config) {
		c.NewEngine = f
	}
}

// WithTranscriber replaces the placeholder transcriber used without an engine.
func WithTranscriber(t Transcriber) Option {
	return func(c *Config) {
		c.Transcriber = t
	}
}

// WithClock sets the clock driving restarts and level ticks.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithFFTSize sets the analyser size.
func WithFFTSize(n int) Option {
	return func(c *Config) {
		c.FFTSize = n
	}
}

// WithLevelInterval sets how often levels are sampled.
func WithLevelInterval(d time.Duration) Option {
	return func(c *Config) {
		c.LevelInterval = d
	}
}

// WithCycleLimit sets how many natural restarts trigger a full reset.
func WithCycleLimit(n int) Option {
	return func(c *Config) {
		c.CycleLimit = n
	}
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		Transcriber:   &PlaceholderTranscriber{},
		Clock:         clockwork.NewRealClock(),
		Logger:        slog.Default(),
		FFTSize:       audioio.DefaultFFTSize,
		LevelInterval: DefaultLevelInterval,
		CycleLimit:    DefaultCycleLimit,
		RestartDelay:  DefaultRestartDelay,
		ResetDelay:    DefaultResetDelay,
		RecoverDelay:  DefaultRecoverDelay,
	}
}

// media is one acquired microphone stream with its analyser and pump.
type media struct {
	source   audioio.Source
	analyser *audioio.Analyser
	cancel   context.CancelFunc
	done     chan struct{}
}

// release stops the stream, waits for the pump and closes the analyser.
func (m *media) release() {
	m.source.Stop()
	m.cancel()
	<-m.done
	m.source.Close()
	m.analyser.Close()
}

// Session runs continuous capture.
type Session struct {
	cfg     Config
	mic     Microphone
	handler Handler
	logger  *slog.Logger

	// acquireMu serializes microphone acquisition between Start and resets.
	acquireMu sync.Mutex

	// deliverMu serializes handler callbacks; Stop takes it to wait out
	// in-flight deliveries.
	deliverMu sync.Mutex

	mu         sync.Mutex
	state      State
	sessionGen uint64
	engineGen  uint64
	cycles     int
	runCtx     context.Context
	cancel     context.CancelFunc
	media      *media
	engine     Engine
	released   chan struct{}
	recorder   *audioio.Recorder
	timer      clockwork.Timer
	tickStop   chan struct{}
	restarts   int
	resets     int
}

// NewSession creates an idle session.
func NewSession(mic Microphone, handler Handler, opts ...Option) *Session {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Transcriber == nil {
		cfg.Transcriber = &PlaceholderTranscriber{}
	}
	return &Session{
		cfg:     cfg,
		mic:     mic,
		handler: handler,
		logger:  cfg.Logger.With("component", "capture.session"),
	}
}

// Start acquires the microphone and begins recognition. Calling Start on a
// running session is a no-op. A microphone failure is returned and leaves
// the session idle.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.state = StateCapturing
	s.sessionGen++
	gen := s.sessionGen
	s.cycles = 0
	s.runCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.released = nil
	s.mu.Unlock()

	s.acquireMu.Lock()
	m, err := s.acquireMedia(ctx)
	if err == nil {
		s.mu.Lock()
		if s.sessionGen != gen {
			s.mu.Unlock()
			m.release()
			s.acquireMu.Unlock()
			return nil
		}
		s.media = m
		s.startLevelsLocked(gen)
		s.mu.Unlock()
	}
	s.acquireMu.Unlock()

	if err != nil {
		s.mu.Lock()
		if s.sessionGen == gen {
			s.state = StateIdle
			s.sessionGen++
			s.cancel()
		}
		s.mu.Unlock()
		s.logger.Warn("microphone unavailable", "error", err)
		return err
	}

	s.logger.Info("capture started", "source", m.source.Name())
	s.startRecognition(gen)
	return nil
}

// Stop cancels pending restarts, aborts the engine, stops the microphone and
// closes the analyser, in that order. It is idempotent. Without an engine the
// recording is transcribed and delivered as a final transcript before Stop
// returns.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.state = StateIdle
	s.sessionGen++
	s.engineGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.tickStop != nil {
		close(s.tickStop)
		s.tickStop = nil
	}
	eng := s.engine
	s.engine = nil
	released := s.released
	s.released = nil
	rec := s.recorder
	s.recorder = nil
	m := s.media
	s.media = nil
	cancel := s.cancel
	s.mu.Unlock()

	if eng != nil {
		if err := eng.Abort(); err != nil {
			s.logger.Debug("engine abort", "error", err)
		}
	}
	if released != nil {
		<-released
	}
	if m != nil {
		m.release()
	}
	if cancel != nil {
		cancel()
	}

	s.deliverMu.Lock()
	s.deliverMu.Unlock()

	if rec != nil {
		s.transcribeRecording(rec)
	}

	s.logger.Info("capture stopped")
	return nil
}

// Active reports whether the session is capturing or restarting.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateIdle
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cycles returns the natural restarts since the last full reset.
func (s *Session) Cycles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}

// Stats reports how many engine restarts and full resets have run.
func (s *Session) Stats() (restarts, resets int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts, s.resets
}

// Recording reports whether the session is in recording fallback mode.
func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recorder != nil
}

func (s *Session) acquireMedia(ctx context.Context) (*media, error) {
	src, err := s.mic.Acquire(ctx)
	if err != nil {
		return nil, asMicrophoneError(err)
	}
	analyser, err := audioio.NewAnalyser(s.cfg.FFTSize)
	if err != nil {
		src.Stop()
		src.Close()
		return nil, err
	}

	s.mu.Lock()
	runCtx := s.runCtx
	s.mu.Unlock()

	pumpCtx, cancel := context.WithCancel(runCtx)
	m := &media{
		source:   src,
		analyser: analyser,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.pump(pumpCtx, m)
	return m, nil
}

// pump fans microphone chunks out to the analyser and the engine or recorder.
func (s *Session) pump(ctx context.Context, m *media) {
	defer close(m.done)

	for {
		chunk, err := m.source.Read(ctx)
		if err != nil {
			return
		}
		mono := chunk.Mono()
		m.analyser.Write(mono)

		s.mu.Lock()
		eng := s.engine
		rec := s.recorder
		s.mu.Unlock()

		if eng != nil {
			samples := mono
			if rate := eng.SampleRate(); rate > 0 && chunk.SampleRate > 0 && rate != chunk.SampleRate {
				samples = audioio.Resample(mono, chunk.SampleRate, rate)
			}
			if err := eng.Write(samples); err != nil {
				s.logger.Debug("engine write failed", "engine", eng.Name(), "error", err)
			}
		}
		if rec != nil {
			rec.Write(mono)
		}
	}
}

func (s *Session) startLevelsLocked(gen uint64) {
	if s.tickStop != nil || s.handler.OnLevel == nil {
		return
	}
	stop := make(chan struct{})
	s.tickStop = stop
	ticker := s.cfg.Clock.NewTicker(s.cfg.LevelInterval)
	go s.levelLoop(gen, ticker, stop)
}

func (s *Session) levelLoop(gen uint64, ticker clockwork.Ticker, stop chan struct{}) {
	defer ticker.Stop()
	var buf []byte

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			s.mu.Lock()
			if s.sessionGen != gen || s.state == StateIdle {
				s.mu.Unlock()
				return
			}
			m := s.media
			s.mu.Unlock()
			if m == nil {
				continue
			}

			data, err := m.analyser.ByteFrequencyData(buf)
			if err != nil {
				continue
			}
			buf = data
			level := audioio.LevelFromFrequencyData(data)
			s.deliver(gen, 0, false, func() { s.handler.OnLevel(level) })
		}
	}
}

// deliver runs fn under the delivery lock if the session (and, when
// checkEngine is set, the engine) generation still matches.
func (s *Session) deliver(gen, engineGen uint64, checkEngine bool, fn func()) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	ok := s.sessionGen == gen && s.state != StateIdle
	if checkEngine && s.engineGen != engineGen {
		ok = false
	}
	s.mu.Unlock()

	if ok {
		fn()
	}
}

// startRecognition builds and starts an engine, or switches to recording.
func (s *Session) startRecognition(gen uint64) {
	if s.cfg.NewEngine == nil {
		s.startRecording(gen)
		return
	}

	eng, err := s.cfg.NewEngine()
	if errors.Is(err, ErrEngineUnavailable) {
		s.logger.Info("no recognition engine, recording instead", "reason", err)
		s.startRecording(gen)
		return
	}
	if err != nil {
		s.engineFailed(gen, err)
		return
	}

	s.mu.Lock()
	if s.sessionGen != gen {
		s.mu.Unlock()
		return
	}
	s.engineGen++
	egen := s.engineGen
	ctx := s.runCtx
	s.mu.Unlock()

	if err := eng.Start(ctx, &engineEvents{s: s, sessionGen: gen, engineGen: egen}); err != nil {
		eng.Abort()
		s.engineFailed(gen, err)
		return
	}

	s.mu.Lock()
	if s.sessionGen != gen || s.engineGen != egen {
		s.mu.Unlock()
		eng.Abort()
		return
	}
	s.engine = eng
	s.state = StateCapturing
	s.mu.Unlock()

	s.logger.Debug("engine started", "engine", eng.Name())
}

func (s *Session) startRecording(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionGen != gen || s.media == nil {
		return
	}
	s.recorder = audioio.NewRecorder(s.media.source.Config().SampleRate)
	s.state = StateCapturing
}

// engineFailed handles a factory or Start failure like an engine error.
func (s *Session) engineFailed(gen uint64, err error) {
	code := CodeNetwork
	var rerr *RecognitionError
	if errors.As(err, &rerr) {
		code = rerr.Code
	}

	s.mu.Lock()
	if s.sessionGen != gen {
		s.mu.Unlock()
		return
	}
	if IsTransientCode(code) {
		s.logger.Warn("engine start failed, retrying", "code", code, "error", err)
		s.state = StateRestarting
		s.scheduleLocked(s.cfg.RecoverDelay, func() { s.restart(gen, false) })
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.fail(gen, NewRecognitionError(code, err))
}

// detachLocked unbinds the current engine and aborts it in the background.
// The next restart waits on s.released before building a new engine.
func (s *Session) detachLocked() {
	s.engineGen++
	eng := s.engine
	s.engine = nil
	if eng == nil {
		return
	}

	prev := s.released
	done := make(chan struct{})
	s.released = done
	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		if err := eng.Abort(); err != nil {
			s.logger.Debug("engine abort", "engine", eng.Name(), "error", err)
		}
	}()
}

func (s *Session) scheduleLocked(d time.Duration, fn func()) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.cfg.Clock.AfterFunc(d, fn)
}

func (s *Session) handleResult(gen, egen uint64, segments []Segment) {
	s.deliver(gen, egen, true, func() {
		if s.handler.OnTranscript == nil {
			return
		}
		for _, seg := range segments {
			s.handler.OnTranscript(Transcript{Text: seg.Text, IsFinal: seg.Final, Words: seg.Words})
		}
	})
}

func (s *Session) handleEnded(gen, egen uint64) {
	s.mu.Lock()
	if s.sessionGen != gen || s.engineGen != egen || s.state != StateCapturing {
		s.mu.Unlock()
		return
	}
	s.cycles++
	full := s.cycles >= s.cfg.CycleLimit
	delay := s.cfg.RestartDelay
	if full {
		delay = s.cfg.ResetDelay
	}
	cycles := s.cycles
	s.detachLocked()
	s.state = StateRestarting
	s.scheduleLocked(delay, func() { s.restart(gen, full) })
	s.mu.Unlock()

	s.logger.Debug("engine ended, restarting", "cycle", cycles, "full_reset", full, "delay", delay)
}

func (s *Session) handleError(gen, egen uint64, code string, err error) {
	if code == CodeAborted {
		return
	}

	s.mu.Lock()
	if s.sessionGen != gen || s.engineGen != egen || s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	if IsTransientCode(code) {
		s.detachLocked()
		s.state = StateRestarting
		s.scheduleLocked(s.cfg.RecoverDelay, func() { s.restart(gen, false) })
		s.mu.Unlock()
		s.logger.Warn("recognition error, recovering", "code", code, "error", err)
		return
	}
	s.detachLocked()
	s.mu.Unlock()

	// Engine callbacks run on the engine's own goroutine, which Abort waits for.
	go s.fail(gen, NewRecognitionError(code, err))
}

// restart runs on the clock after a delay. A full restart also replaces the
// microphone stream and analyser and resets the cycle counter.
func (s *Session) restart(gen uint64, full bool) {
	s.mu.Lock()
	if s.sessionGen != gen || s.state != StateRestarting {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	released := s.released
	s.released = nil
	var old *media
	if full {
		old = s.media
		s.media = nil
		s.cycles = 0
		s.resets++
	}
	s.restarts++
	ctx := s.runCtx
	s.mu.Unlock()

	if released != nil {
		<-released
	}

	if full {
		s.acquireMu.Lock()
		if old != nil {
			old.release()
		}
		m, err := s.acquireMedia(ctx)
		if err != nil {
			s.acquireMu.Unlock()
			s.fail(gen, err)
			return
		}
		s.mu.Lock()
		if s.sessionGen != gen {
			s.mu.Unlock()
			m.release()
			s.acquireMu.Unlock()
			return
		}
		s.media = m
		s.mu.Unlock()
		s.acquireMu.Unlock()
		s.logger.Info("capture reset", "source", m.source.Name())
	}

	s.startRecognition(gen)
}

// fail tears the session down and reports err.
func (s *Session) fail(gen uint64, err error) {
	s.mu.Lock()
	stale := s.sessionGen != gen
	s.mu.Unlock()
	if stale {
		return
	}

	s.logger.Error("capture failed", "error", err)
	s.Stop()
	if s.handler.OnError != nil {
		s.handler.OnError(err)
	}
}

func (s *Session) transcribeRecording(rec *audioio.Recorder) {
	blob, err := rec.Stop()
	if err != nil && !errors.Is(err, audioio.ErrEmptyRecording) {
		s.logger.Warn("recording failed", "error", err)
		return
	}

	text, err := s.cfg.Transcriber.Transcribe(context.Background(), blob)
	if err != nil {
		s.logger.Warn("transcription failed", "error", err)
		if s.handler.OnError != nil {
			s.handler.OnError(err)
		}
		return
	}
	if s.handler.OnTranscript != nil && text != "" {
		s.handler.OnTranscript(Transcript{Text: text, IsFinal: true})
	}
}

// engineEvents binds engine callbacks to the generation they were started with.
type engineEvents struct {
	s          *Session
	sessionGen uint64
	engineGen  uint64
}

func (e *engineEvents) OnResult(segments []Segment) {
	e.s.handleResult(e.sessionGen, e.engineGen, segments)
}

func (e *engineEvents) OnEnded() {
	e.s.handleEnded(e.sessionGen, e.engineGen)
}

func (e *engineEvents) OnError(code string, err error) {
	e.s.handleError(e.sessionGen, e.engineGen, code, err)
}

var _ EngineEvents = (*engineEvents)(nil)
