package turn

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/teslashibe/go-voicewidget/pkg/capture"
	"github.com/teslashibe/go-voicewidget/pkg/conversation"
	"github.com/teslashibe/go-voicewidget/pkg/tts"
)

// Capture is the speech input the controller toggles.
type Capture interface {
	Start(ctx context.Context) error
	Stop() error
	Active() bool
}

// Responder answers a user turn.
type Responder interface {
	Send(ctx context.Context, text string, history []conversation.Message) (string, error)
}

// Speaker plays assistant replies, one at a time. Speak returns
// tts.ErrSuperseded when the reply was cancelled before it started.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Cancel()
	Speaking() bool
}

// Observer receives controller events. Any field may be nil. Callbacks run
// outside the controller's lock, possibly from different goroutines.
type Observer struct {
	OnState      func(Snapshot)
	OnTranscript func(capture.Transcript)
	OnError      func(error)
}

// Config holds Controller settings.
type Config struct {
	Clock          clockwork.Clock
	Logger         *slog.Logger
	Observer       Observer
	Metrics        *MetricsCollector
	InterruptGrace time.Duration
	Debounce       time.Duration
}

// Option configures a Controller.
type Option func(*Config)

// WithClock sets the clock for the grace window and debounce.
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

// WithObserver registers event callbacks.
func WithObserver(o Observer) Option {
	return func(c *Config) {
		c.Observer = o
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *MetricsCollector) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithTimings overrides the grace window and the debounce.
func WithTimings(grace, debounce time.Duration) Option {
	return func(c *Config) {
		c.InterruptGrace = grace
		c.Debounce = debounce
	}
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		Clock:          clockwork.NewRealClock(),
		Logger:         slog.Default(),
		InterruptGrace: DefaultInterruptGrace,
		Debounce:       DefaultDebounce,
	}
}

// Controller is the turn state machine.
type Controller struct {
	capture   Capture
	responder Responder
	speaker   Speaker
	messages  *conversation.Log
	cfg       Config
	logger    *slog.Logger
	metrics   *MetricsCollector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	listening    bool
	inflight     int
	interrupting bool
	grace        clockwork.Timer
	graceGen     uint64
	lastSpeech   time.Time
	transcript   *capture.Transcript
	closed       bool
}

// New creates a controller. messages is the shared conversation log.
func New(c Capture, r Responder, s Speaker, messages *conversation.Log, opts ...Option) *Controller {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetricsCollector(cfg.Clock)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		capture:   c,
		responder: r,
		speaker:   s,
		messages:  messages,
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "turn.controller"),
		metrics:   cfg.Metrics,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// ToggleListening starts capture when idle and stops it when listening.
// It returns the new listening state.
func (c *Controller) ToggleListening(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	wasListening := c.listening
	c.mu.Unlock()

	if wasListening {
		c.StopListening()
		return false, nil
	}

	if err := c.capture.Start(ctx); err != nil {
		c.logger.Warn("capture start failed", "error", err)
		c.emitError(err)
		c.notify()
		return false, err
	}

	c.mu.Lock()
	c.listening = true
	c.mu.Unlock()
	c.logger.Debug("listening")
	c.notify()
	return true, nil
}

// StopListening stops capture if it is running.
func (c *Controller) StopListening() {
	c.mu.Lock()
	was := c.listening
	c.listening = false
	c.mu.Unlock()

	if !was {
		return
	}
	if err := c.capture.Stop(); err != nil {
		c.logger.Debug("capture stop failed", "error", err)
	}
	c.notify()
}

// HandleCaptureError records a capture failure. A fatal failure leaves
// capture inactive, so listening ends with it.
func (c *Controller) HandleCaptureError(err error) {
	c.logger.Warn("capture error", "error", err)
	if !c.capture.Active() {
		c.mu.Lock()
		c.listening = false
		c.mu.Unlock()
	}
	c.emitError(err)
	c.notify()
}

// HandleTranscript processes one recognition result. Interim results only
// update the displayed transcript and the time of the last user speech. A
// final result interrupts playback and starts a turn unless a reply is
// already pending and the user is not interrupting.
func (c *Controller) HandleTranscript(t capture.Transcript) {
	text := strings.TrimSpace(t.Text)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.lastSpeech = c.cfg.Clock.Now()
	tr := t
	c.transcript = &tr

	bargeIn := t.IsFinal && text != "" && c.speaker.Speaking()
	if bargeIn {
		c.startGraceLocked()
	}
	c.mu.Unlock()

	if bargeIn {
		c.logger.Info("user interrupting speech")
		c.speaker.Cancel()
		c.metrics.MarkInterrupted()
	}
	if fn := c.cfg.Observer.OnTranscript; fn != nil {
		fn(t)
	}

	if !t.IsFinal || text == "" {
		c.notify()
		return
	}

	c.mu.Lock()
	if c.inflight > 0 && !c.interrupting {
		c.mu.Unlock()
		c.logger.Info("reply pending, ignoring transcript", "chars", len(text))
		c.metrics.MarkDropped()
		return
	}
	c.inflight++
	history := c.messages.Messages()
	c.wg.Add(1)
	c.mu.Unlock()

	c.speaker.Cancel()
	c.messages.Append(conversation.SenderUser, text)
	pending := c.messages.AppendPending()
	c.metrics.MarkTranscript()
	c.notify()

	go c.respond(text, history, pending.ID)
}

// startGraceLocked opens (or extends) the interruption window.
func (c *Controller) startGraceLocked() {
	c.interrupting = true
	if c.grace != nil {
		c.grace.Stop()
	}
	c.graceGen++
	gen := c.graceGen
	c.grace = c.cfg.Clock.AfterFunc(c.cfg.InterruptGrace, func() {
		c.mu.Lock()
		if gen != c.graceGen {
			c.mu.Unlock()
			return
		}
		c.interrupting = false
		c.grace = nil
		c.mu.Unlock()
		c.notify()
	})
}

func (c *Controller) respond(text string, history []conversation.Message, pendingID string) {
	defer c.wg.Done()

	reply, err := c.responder.Send(c.ctx, text, history)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errors.New("empty reply")
	}
	c.metrics.MarkResponse(err != nil)

	if err != nil {
		c.logger.Warn("webhook failed", "error", err)
		if _, serr := c.messages.Settle(pendingID, ApologyText); serr != nil {
			c.logger.Debug("settle failed", "error", serr)
		}
		c.finishTurn()
		c.emitError(err)
		c.metrics.MarkDone()
		return
	}

	if _, serr := c.messages.Settle(pendingID, reply); serr != nil {
		c.logger.Debug("settle failed", "error", serr)
	}

	c.mu.Lock()
	c.inflight--
	speak := !c.closed &&
		c.cfg.Clock.Since(c.lastSpeech) > c.cfg.Debounce &&
		!c.interrupting
	c.mu.Unlock()
	c.notify()

	if !speak {
		c.logger.Debug("user spoke recently, not speaking reply")
		c.metrics.MarkDebounced()
		c.metrics.MarkDone()
		return
	}

	err = c.speaker.Speak(c.ctx, reply)
	if errors.Is(err, tts.ErrSuperseded) {
		c.logger.Debug("reply cancelled before playback")
		c.metrics.MarkDone()
		c.notify()
		return
	}
	if err != nil {
		c.logger.Warn("speak failed", "error", err)
		c.emitError(err)
		c.metrics.MarkDone()
		c.notify()
		return
	}
	c.metrics.MarkFirstAudio()
	c.notify()
}

func (c *Controller) finishTurn() {
	c.mu.Lock()
	c.inflight--
	c.mu.Unlock()
	c.notify()
}

// Announce adds an assistant message and speaks it unless something is
// already being spoken.
func (c *Controller) Announce(ctx context.Context, text string) error {
	c.messages.Append(conversation.SenderAI, text)
	c.notify()
	if c.speaker.Speaking() {
		return nil
	}
	err := c.speaker.Speak(ctx, text)
	c.notify()
	if errors.Is(err, tts.ErrSuperseded) {
		return nil
	}
	return err
}

// PlaybackEnded is called when a reply finishes playing.
func (c *Controller) PlaybackEnded() {
	c.metrics.MarkDone()
	c.notify()
}

// StopSpeaking cancels playback.
func (c *Controller) StopSpeaking() {
	c.speaker.Cancel()
	c.notify()
}

// Reset stops listening and speaking. Errors are logged, never returned.
// Pending replies still settle their placeholders.
func (c *Controller) Reset() {
	c.StopListening()

	c.mu.Lock()
	if c.grace != nil {
		c.grace.Stop()
		c.grace = nil
	}
	c.graceGen++
	c.interrupting = false
	c.transcript = nil
	c.mu.Unlock()

	if c.speaker.Speaking() {
		c.speaker.Cancel()
	}
	c.notify()
}

// Close resets the controller, abandons outstanding replies and waits for
// their goroutines to exit.
func (c *Controller) Close() {
	c.Reset()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// Wait blocks until all outstanding turns have completed.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Snapshot returns the current view.
func (c *Controller) Snapshot() Snapshot {
	speaking := c.speaker.Speaking()

	c.mu.Lock()
	defer c.mu.Unlock()
	var tr *capture.Transcript
	if c.transcript != nil {
		t := *c.transcript
		tr = &t
	}
	return newSnapshot(c.listening, c.inflight > 0, speaking, c.interrupting, tr)
}

// Metrics returns the collector.
func (c *Controller) Metrics() *MetricsCollector {
	return c.metrics
}

func (c *Controller) notify() {
	if fn := c.cfg.Observer.OnState; fn != nil {
		fn(c.Snapshot())
	}
}

func (c *Controller) emitError(err error) {
	if fn := c.cfg.Observer.OnError; fn != nil {
		fn(err)
	}
}
