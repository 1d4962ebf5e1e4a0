package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/teslashibe/go-voicewidget/pkg/audioio"
	"github.com/teslashibe/go-voicewidget/pkg/capture"
	"github.com/teslashibe/go-voicewidget/pkg/conversation"
	"github.com/teslashibe/go-voicewidget/pkg/store"
	"github.com/teslashibe/go-voicewidget/pkg/tts"
	"github.com/teslashibe/go-voicewidget/pkg/turn"
	"github.com/teslashibe/go-voicewidget/pkg/webhook"
)

// CloseDelay is how long the panel stays visible after Close while
// listening and speech wind down.
const CloseDelay = 300 * time.Millisecond

// ErrDestroyed is returned by operations after Destroy.
var ErrDestroyed = errors.New("widget: destroyed")

// Deps are the collaborators. Zero fields get defaults: a device microphone
// for capture, the webhook client for replies, and a silent speaker when no
// TTS provider or sink is given.
type Deps struct {
	Microphone     capture.Microphone
	CaptureOptions []capture.Option
	Capture        turn.Capture

	TTS           tts.Provider
	Sink          audioio.Sink
	PlayerOptions []tts.PlayerOption
	Speaker       turn.Speaker

	Responder      turn.Responder
	WebhookOptions []webhook.Option

	Store  store.Store
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Widget is one embedded voice assistant.
type Widget struct {
	logger    *slog.Logger
	clock     clockwork.Clock
	store     store.Store
	sessionID string

	messages    *conversation.Log
	ctrl        *turn.Controller
	capture     turn.Capture
	speaker     turn.Speaker
	player      *tts.Player
	webhookOpts []webhook.Option

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	cfg        Config
	responder  turn.Responder
	open       bool
	minimized  bool
	greeted    bool
	destroyed  bool
	closeTimer clockwork.Timer

	subMu sync.Mutex
	subs  []func(Event)
}

// New builds a widget. A webhook URL missing from cfg is taken from the
// persisted settings in deps.Store, if any.
func New(cfg Config, deps Deps) (*Widget, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Store == nil {
		deps.Store = store.NewMemoryStore()
	}

	if cfg.WebhookURL == "" {
		ws, ok, err := store.LoadWebhookSettings(deps.Store)
		if err != nil {
			deps.Logger.Warn("load webhook settings", "error", err)
		}
		if ok {
			cfg.WebhookURL = ws.WebhookURL
			if cfg.APIKey == "" {
				cfg.APIKey = ws.APIKey
			}
			if cfg.Mode == "" {
				cfg.Mode = Mode(ws.Mode)
			}
		}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sessionID, err := store.SessionID(deps.Store)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Widget{
		logger:      deps.Logger.With("component", "widget"),
		clock:       deps.Clock,
		store:       deps.Store,
		sessionID:   sessionID,
		webhookOpts: deps.WebhookOptions,
		ctx:         ctx,
		cancel:      cancel,
		cfg:         cfg,
	}

	w.responder = deps.Responder
	if w.responder == nil {
		client, err := w.newWebhookClient(cfg.WebhookURL, cfg.APIKey)
		if err != nil {
			cancel()
			return nil, err
		}
		w.responder = client
	}

	w.messages = conversation.NewLog(
		conversation.WithClock(deps.Clock),
		conversation.WithInitialMessages(cfg.InitialMessages),
	)
	w.messages.Subscribe(func(ev conversation.Event) {
		w.emit(Event{Type: EventMessage, Data: ev})
	})

	w.speaker = deps.Speaker
	if w.speaker == nil {
		if deps.TTS != nil && deps.Sink != nil {
			opts := append([]tts.PlayerOption{
				tts.WithPlayerClock(deps.Clock),
				tts.WithPlayerLogger(deps.Logger),
				tts.WithOnFinished(w.playbackEnded),
			}, deps.PlayerOptions...)
			w.player = tts.NewPlayer(deps.TTS, deps.Sink, opts...)
			w.speaker = w.player
		} else {
			w.logger.Info("no speech output configured, replies are text only")
			w.speaker = silentSpeaker{}
		}
	}

	w.capture = deps.Capture
	if w.capture == nil {
		mic := deps.Microphone
		if mic == nil {
			mic = capture.NewDeviceMicrophone(audioio.DefaultConfig(), deps.Logger)
		}
		opts := append([]capture.Option{
			capture.WithClock(deps.Clock),
			capture.WithLogger(deps.Logger),
		}, deps.CaptureOptions...)
		w.capture = capture.NewSession(mic, capture.Handler{
			OnTranscript: w.HandleTranscript,
			OnLevel:      w.handleLevel,
			OnError:      w.handleCaptureError,
		}, opts...)
	}

	w.ctrl = turn.New(w.capture, responderFunc(w.send), w.speaker, w.messages,
		turn.WithClock(deps.Clock),
		turn.WithLogger(deps.Logger),
		turn.WithObserver(turn.Observer{
			OnState: func(s turn.Snapshot) {
				w.emit(Event{Type: EventStatus, Data: w.statusFrom(s)})
			},
			OnTranscript: func(t capture.Transcript) {
				w.emit(Event{Type: EventTranscript, Data: t})
			},
			OnError: func(err error) {
				w.emit(Event{Type: EventError, Data: ErrorData{Message: err.Error()}})
			},
		}),
	)

	w.logger.Info("widget ready",
		"session", sessionID,
		"position", cfg.Position,
		"mode", cfg.Mode,
		"tts", cfg.TTSProvider,
	)
	return w, nil
}

func (w *Widget) newWebhookClient(url, apiKey string) (*webhook.Client, error) {
	opts := append([]webhook.Option{
		webhook.WithAPIKey(apiKey),
		webhook.WithSessionID(w.sessionID),
		webhook.WithClock(w.clock),
		webhook.WithLogger(w.logger),
	}, w.webhookOpts...)
	return webhook.New(url, opts...)
}

// send forwards to the current responder, which UpdateWebhook may swap.
func (w *Widget) send(ctx context.Context, text string, history []conversation.Message) (string, error) {
	w.mu.Lock()
	r := w.responder
	w.mu.Unlock()
	return r.Send(ctx, text, history)
}

// Open shows the panel. The first open of an empty conversation adds the
// greeting and speaks it.
func (w *Widget) Open() error {
	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()
		return ErrDestroyed
	}
	if w.closeTimer != nil {
		w.closeTimer.Stop()
		w.closeTimer = nil
	}
	w.open = true
	w.minimized = false
	greeting := ""
	if !w.greeted && w.messages.Len() == 0 && w.cfg.GreetingMessage != "" {
		greeting = w.cfg.GreetingMessage
		w.greeted = true
	}
	if greeting != "" {
		w.wg.Add(1)
	}
	w.mu.Unlock()

	w.emitPanel()

	if greeting != "" {
		go func() {
			defer w.wg.Done()
			if err := w.ctrl.Announce(w.ctx, greeting); err != nil {
				w.logger.Warn("greeting speech failed", "error", err)
			}
		}()
	}
	return nil
}

// Close stops listening and speech immediately and hides the panel after
// CloseDelay.
func (w *Widget) Close() error {
	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()
		return ErrDestroyed
	}
	if !w.open {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	w.ctrl.Reset()

	w.mu.Lock()
	if w.closeTimer != nil {
		w.closeTimer.Stop()
	}
	w.closeTimer = w.clock.AfterFunc(CloseDelay, func() {
		w.mu.Lock()
		w.open = false
		w.closeTimer = nil
		w.mu.Unlock()
		w.emitPanel()
	})
	w.mu.Unlock()
	return nil
}

// ToggleMinimize flips the minimized state and returns it.
func (w *Widget) ToggleMinimize() (bool, error) {
	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()
		return false, ErrDestroyed
	}
	w.minimized = !w.minimized
	minimized := w.minimized
	w.mu.Unlock()

	w.emitPanel()
	return minimized, nil
}

// ToggleListening starts or stops speech capture.
func (w *Widget) ToggleListening(ctx context.Context) (bool, error) {
	if w.isDestroyed() {
		return false, ErrDestroyed
	}
	return w.ctrl.ToggleListening(ctx)
}

// StopSpeaking silences the current reply.
func (w *Widget) StopSpeaking() {
	w.ctrl.StopSpeaking()
}

// HandleTranscript feeds a recognition result, from the capture session or
// from an external recognizer.
func (w *Widget) HandleTranscript(t capture.Transcript) {
	w.ctrl.HandleTranscript(t)
}

func (w *Widget) handleLevel(level float64) {
	w.emit(Event{Type: EventLevel, Data: level})
}

func (w *Widget) handleCaptureError(err error) {
	w.ctrl.HandleCaptureError(err)
}

func (w *Widget) playbackEnded() {
	if w.ctrl != nil {
		w.ctrl.PlaybackEnded()
	}
}

// Messages returns the conversation.
func (w *Widget) Messages() []conversation.Message {
	return w.messages.Messages()
}

// Status returns the panel and turn state.
func (w *Widget) Status() Status {
	return w.statusFrom(w.ctrl.Snapshot())
}

func (w *Widget) statusFrom(s turn.Snapshot) Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		Snapshot:  s,
		Open:      w.open,
		Minimized: w.minimized,
		SessionID: w.sessionID,
	}
}

// Config returns the effective configuration.
func (w *Widget) Config() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// Metrics returns the turn metrics.
func (w *Widget) Metrics() *turn.MetricsCollector {
	return w.ctrl.Metrics()
}

// SessionID returns the persisted session identity.
func (w *Widget) SessionID() string {
	return w.sessionID
}

// UpdateWebhook validates, persists and applies new webhook settings.
// Turns already in flight finish against the previous endpoint.
func (w *Widget) UpdateWebhook(ws store.WebhookSettings) error {
	if w.isDestroyed() {
		return ErrDestroyed
	}
	if ws.Mode == "" {
		ws.Mode = string(ModeStandard)
	}
	mode := Mode(ws.Mode)
	if mode != ModeStandard && mode != ModePopup {
		return fmt.Errorf("widget: invalid mode %q", ws.Mode)
	}

	client, err := w.newWebhookClient(ws.WebhookURL, ws.APIKey)
	if err != nil {
		return err
	}
	if err := store.SaveWebhookSettings(w.store, ws); err != nil {
		return err
	}

	w.mu.Lock()
	w.responder = client
	w.cfg.WebhookURL = ws.WebhookURL
	w.cfg.APIKey = ws.APIKey
	w.cfg.Mode = mode
	w.mu.Unlock()

	w.logger.Info("webhook updated", "url", ws.WebhookURL)
	return nil
}

// Destroy stops everything and releases capture and playback resources.
// It is idempotent.
func (w *Widget) Destroy() error {
	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()
		return nil
	}
	w.destroyed = true
	if w.closeTimer != nil {
		w.closeTimer.Stop()
		w.closeTimer = nil
	}
	w.open = false
	w.mu.Unlock()

	w.cancel()
	w.ctrl.Close()
	w.wg.Wait()

	var err error
	if w.player != nil {
		err = w.player.Close()
	}
	w.logger.Info("widget destroyed")
	return err
}

func (w *Widget) isDestroyed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.destroyed
}

type responderFunc func(ctx context.Context, text string, history []conversation.Message) (string, error)

func (f responderFunc) Send(ctx context.Context, text string, history []conversation.Message) (string, error) {
	return f(ctx, text, history)
}

// silentSpeaker is used when no speech output is configured.
type silentSpeaker struct{}

func (silentSpeaker) Speak(context.Context, string) error { return nil }
func (silentSpeaker) Cancel()                             {}
func (silentSpeaker) Speaking() bool                      { return false }
