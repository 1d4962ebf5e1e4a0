package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/teslashibe/go-voicewidget/pkg/audioio"
)

// DefaultUnmuteDelay is how long a muted retry stays muted once playing.
const DefaultUnmuteDelay = 100 * time.Millisecond

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithPlayerClock sets the clock driving the unmute timer.
func WithPlayerClock(clock clockwork.Clock) PlayerOption {
	return func(p *Player) {
		p.clock = clock
	}
}

// WithPlayerLogger sets the logger.
func WithPlayerLogger(logger *slog.Logger) PlayerOption {
	return func(p *Player) {
		p.logger = logger
	}
}

// WithNaturalize runs replies through Naturalize before synthesis.
// rng may be nil.
func WithNaturalize(rng *rand.Rand) PlayerOption {
	return func(p *Player) {
		p.naturalize = true
		p.rng = rng
	}
}

// WithUnmuteDelay overrides DefaultUnmuteDelay.
func WithUnmuteDelay(d time.Duration) PlayerOption {
	return func(p *Player) {
		p.unmuteDelay = d
	}
}

// WithOnFinished registers a callback for utterances that play to the end.
// It is not called for cancelled or superseded utterances.
func WithOnFinished(fn func()) PlayerOption {
	return func(p *Player) {
		p.onFinished = fn
	}
}

// Player speaks one utterance at a time through a single reusable sink.
// Starting a new utterance or calling Cancel silences the previous one first.
type Player struct {
	provider    Provider
	sink        audioio.Sink
	clock       clockwork.Clock
	logger      *slog.Logger
	naturalize  bool
	rng         *rand.Rand
	unmuteDelay time.Duration
	onFinished  func()

	mu         sync.Mutex
	gen        uint64
	loading    bool
	playing    bool
	loaded     bool
	muted      bool
	closed     bool
	stopSynth  context.CancelFunc
	unmute     clockwork.Timer
	lastResult *AudioResult
}

// NewPlayer creates a player over provider and sink.
func NewPlayer(provider Provider, sink audioio.Sink, opts ...PlayerOption) *Player {
	p := &Player{
		provider:    provider,
		sink:        sink,
		clock:       clockwork.NewRealClock(),
		logger:      slog.Default(),
		unmuteDelay: DefaultUnmuteDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "tts.player")
	return p
}

// Speak cancels whatever is playing, synthesizes text and starts playback.
// It returns once playback has started, not when it ends. Empty text is a
// no-op. If another Speak or Cancel happens while synthesis is in flight,
// the result is discarded and Speak returns ErrSuperseded.
func (p *Player) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPlayerClosed
	}
	p.cancelLocked()
	p.gen++
	gen := p.gen
	synthCtx, cancel := context.WithCancel(ctx)
	p.stopSynth = cancel
	p.loading = true
	p.mu.Unlock()
	defer cancel()

	input := text
	if p.naturalize {
		input = Naturalize(text, p.rng)
	}

	result, err := p.provider.Synthesize(synthCtx, input)

	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.gen {
		p.logger.Debug("discarding superseded audio", "chars", len(text))
		return ErrSuperseded
	}
	p.loading = false
	p.stopSynth = nil

	if err != nil {
		p.logger.Warn("synthesis failed", "error", err)
		return err
	}

	if err := p.sink.Load(result.Clip()); err != nil {
		return WrapError(result.Provider, fmt.Errorf("load audio: %w", err))
	}
	p.loaded = true
	p.lastResult = result

	if err := p.startLocked(gen); err != nil {
		p.releaseLocked()
		return err
	}

	p.playing = true
	p.logger.Debug("playback started",
		"provider", result.Provider,
		"bytes", len(result.Audio),
		"latency_ms", result.LatencyMs,
	)
	return nil
}

// startLocked plays the loaded clip, retrying once muted when the output
// refuses audible playback.
func (p *Player) startLocked(gen uint64) error {
	err := p.sink.Play(p.ended(gen))
	if err == nil {
		return nil
	}
	if !errors.Is(err, audioio.ErrPlaybackRejected) {
		return fmt.Errorf("play: %w", err)
	}

	p.logger.Info("playback rejected, retrying muted", "error", err)
	p.sink.SetMuted(true)
	p.muted = true

	if err := p.sink.Play(p.ended(gen)); err != nil {
		p.sink.SetMuted(false)
		p.muted = false
		return fmt.Errorf("%w: %w", ErrInteractionRequired, err)
	}

	p.unmute = p.clock.AfterFunc(p.unmuteDelay, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if gen != p.gen || !p.muted {
			return
		}
		p.sink.SetMuted(false)
		p.muted = false
	})
	return nil
}

func (p *Player) ended(gen uint64) func() {
	return func() {
		p.mu.Lock()
		if gen != p.gen || !p.playing {
			p.mu.Unlock()
			return
		}
		p.playing = false
		fn := p.onFinished
		p.mu.Unlock()

		if fn != nil {
			fn()
		}
	}
}

// Cancel stops playback immediately: pause, rewind, release. Pending
// synthesis is abandoned. Safe to call at any time, any number of times.
func (p *Player) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelLocked()
}

func (p *Player) cancelLocked() {
	if p.loading || p.playing || p.loaded {
		p.gen++
	}
	if p.stopSynth != nil {
		p.stopSynth()
		p.stopSynth = nil
	}
	p.loading = false
	p.playing = false
	p.releaseLocked()
}

func (p *Player) releaseLocked() {
	if p.unmute != nil {
		p.unmute.Stop()
		p.unmute = nil
	}
	if p.muted {
		p.sink.SetMuted(false)
		p.muted = false
	}
	if !p.loaded {
		return
	}
	p.loaded = false

	if err := p.sink.Pause(); err != nil {
		p.logger.Debug("pause failed", "error", err)
	}
	if err := p.sink.Rewind(); err != nil {
		p.logger.Debug("rewind failed", "error", err)
	}
	if err := p.sink.Release(); err != nil {
		p.logger.Debug("release failed", "error", err)
	}
}

// Speaking reports whether an utterance is being synthesized or played.
func (p *Player) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading || p.playing
}

// Playing reports whether audio is currently playing.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// LastResult returns the most recently played synthesis result.
func (p *Player) LastResult() *AudioResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastResult
}

// Close cancels playback and releases the sink and provider.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.cancelLocked()
	p.closed = true
	p.mu.Unlock()

	return errors.Join(p.sink.Close(), p.provider.Close())
}
