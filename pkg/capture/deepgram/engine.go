// Package deepgram implements a live capture.Engine over Deepgram's
// streaming websocket API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-voicewidget/pkg/audioio"
	"github.com/teslashibe/go-voicewidget/pkg/capture"
)

const (
	DefaultBaseURL    = "https://api.deepgram.com/v1"
	DefaultModel      = "nova-2"
	DefaultLanguage   = "en-US"
	DefaultSampleRate = 16000

	// DefaultKeepAlive is below the 10s idle limit after which Deepgram
	// closes a stream that receives no audio.
	DefaultKeepAlive = 8 * time.Second

	// DefaultUtteranceEnd is the word gap, in milliseconds, after which
	// Deepgram sends UtteranceEnd.
	DefaultUtteranceEnd = 1000

	audioQueue = 64
)

// ErrNoAPIKey is returned when no key is configured.
var ErrNoAPIKey = errors.New("deepgram: API key required")

// Config controls the Deepgram connection.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Language    string
	SampleRate  int
	SmartFormat bool
	// KeepAlive is the idle interval between KeepAlive frames. Negative
	// disables them.
	KeepAlive    time.Duration
	UtteranceEnd int
	Dialer       *websocket.Dialer
	Logger       *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.UtteranceEnd <= 0 {
		c.UtteranceEnd = DefaultUtteranceEnd
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// NewFactory returns an EngineFactory building a fresh engine per start.
// Without an API key it reports capture.ErrEngineUnavailable so the session
// falls back to recording.
func NewFactory(cfg Config) capture.EngineFactory {
	return func() (capture.Engine, error) {
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("%w: %w", capture.ErrEngineUnavailable, ErrNoAPIKey)
		}
		return New(cfg), nil
	}
}

// Engine is one live recognition stream.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	conn   *websocket.Conn
	events capture.EngineEvents
	audio  chan []byte
	done   chan struct{}
	wg     sync.WaitGroup

	sendMu     sync.RWMutex
	sendClosed bool

	aborted   atomic.Bool
	abortOnce sync.Once
	started   atomic.Bool
}

// New creates an engine. Nothing is dialed until Start.
func New(cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "capture.deepgram"),
		audio:  make(chan []byte, audioQueue),
		done:   make(chan struct{}),
	}
}

// Start dials the listen endpoint with interim results enabled.
func (e *Engine) Start(ctx context.Context, events capture.EngineEvents) error {
	if strings.TrimSpace(e.cfg.APIKey) == "" {
		return capture.NewRecognitionError(capture.CodeNotAllowed, ErrNoAPIKey)
	}

	wsURL, err := buildListenURL(e.cfg)
	if err != nil {
		return capture.NewRecognitionError(capture.CodeNotAllowed, err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+e.cfg.APIKey)

	conn, resp, err := e.cfg.Dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return capture.NewRecognitionError(capture.CodeNotAllowed, fmt.Errorf("deepgram handshake: %s", resp.Status))
		}
		return capture.NewRecognitionError(capture.CodeNetwork, fmt.Errorf("deepgram dial: %w", err))
	}

	e.conn = conn
	e.events = events
	e.started.Store(true)

	e.wg.Add(2)
	go e.readLoop()
	go e.writeLoop()
	go func() {
		e.wg.Wait()
		close(e.done)
		_ = conn.Close()
	}()

	e.logger.Debug("stream opened", "model", e.cfg.Model, "sample_rate", e.cfg.SampleRate)
	return nil
}

// Write queues samples for sending. A full queue drops the chunk.
func (e *Engine) Write(samples []int16) error {
	if len(samples) == 0 || !e.started.Load() {
		return nil
	}

	e.sendMu.RLock()
	defer e.sendMu.RUnlock()
	if e.sendClosed {
		return errors.New("deepgram: stream closed")
	}

	select {
	case e.audio <- audioio.SamplesToBytes(samples):
		return nil
	default:
		return errors.New("deepgram: send queue full")
	}
}

// SampleRate is the rate announced to Deepgram.
func (e *Engine) SampleRate() int {
	return e.cfg.SampleRate
}

// Name returns "deepgram".
func (e *Engine) Name() string {
	return "deepgram"
}

// Abort closes the stream and waits for both loops to exit.
func (e *Engine) Abort() error {
	e.abortOnce.Do(func() {
		e.aborted.Store(true)
		e.closeSend()
		if e.conn != nil {
			_ = e.conn.Close()
		}
	})
	if e.started.Load() {
		<-e.done
	}
	return nil
}

func (e *Engine) closeSend() {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	if !e.sendClosed {
		e.sendClosed = true
		close(e.audio)
	}
}

var (
	keepAliveFrame   = []byte(`{"type":"KeepAlive"}`)
	closeStreamFrame = []byte(`{"type":"CloseStream"}`)
)

func (e *Engine) writeLoop() {
	defer e.wg.Done()

	var tick <-chan time.Time
	if e.cfg.KeepAlive > 0 {
		ticker := time.NewTicker(e.cfg.KeepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	sent := false
	for {
		select {
		case chunk, ok := <-e.audio:
			if !ok {
				_ = e.conn.WriteMessage(websocket.TextMessage, closeStreamFrame)
				return
			}
			if err := e.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				e.logger.Debug("send failed", "error", err)
				return
			}
			sent = true
		case <-tick:
			if sent {
				sent = false
				continue
			}
			if err := e.conn.WriteMessage(websocket.TextMessage, keepAliveFrame); err != nil {
				e.logger.Debug("keepalive failed", "error", err)
				return
			}
		}
	}
}

func (e *Engine) readLoop() {
	defer e.wg.Done()
	defer e.closeSend()

	var u utterance
	for {
		_, payload, err := e.conn.ReadMessage()
		if err != nil {
			if seg, ok := u.flush(); ok && !e.aborted.Load() {
				e.events.OnResult([]capture.Segment{seg})
			}
			e.finish(err)
			return
		}

		var msg listenResponse
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}

		if strings.EqualFold(msg.Type, "Error") {
			message := strings.TrimSpace(msg.Message)
			if message == "" {
				message = "unknown error"
			}
			if !e.aborted.Load() {
				e.events.OnError(capture.CodeNetwork, errors.New(message))
			}
			return
		}

		segments := u.next(msg)
		if len(segments) == 0 || e.aborted.Load() {
			continue
		}
		e.events.OnResult(segments)
	}
}

// finish maps the terminal read error to an engine event.
func (e *Engine) finish(err error) {
	if e.aborted.Load() {
		return
	}
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		e.events.OnEnded()
	case websocket.IsCloseError(err, websocket.CloseInternalServerErr):
		// Deepgram closes idle streams with 1011.
		e.events.OnError(capture.CodeNoSpeech, err)
	default:
		e.events.OnError(capture.CodeNetwork, err)
	}
}

type listenWord struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuated_word"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
}

type listenAlternative struct {
	Transcript string       `json:"transcript"`
	Words      []listenWord `json:"words"`
}

type listenResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []listenAlternative `json:"alternatives"`
	} `json:"channel"`
}

// segment returns the top alternative; ok is false when it is blank.
func (r listenResponse) segment() (capture.Segment, bool) {
	if len(r.Channel.Alternatives) == 0 {
		return capture.Segment{}, false
	}
	alt := r.Channel.Alternatives[0]
	text := strings.TrimSpace(alt.Transcript)
	if text == "" {
		return capture.Segment{}, false
	}

	seg := capture.Segment{Text: text}
	for _, w := range alt.Words {
		word := w.PunctuatedWord
		if word == "" {
			word = w.Word
		}
		seg.Words = append(seg.Words, capture.Word{
			Text:       word,
			Start:      w.Start,
			End:        w.End,
			Confidence: w.Confidence,
		})
	}
	return seg, true
}

// utterance joins is_final chunks until Deepgram marks the end of speech
// with speech_final or UtteranceEnd, so one spoken turn yields one final
// segment. Chunks seen so far are prefixed to every interim.
type utterance struct {
	parts []string
	words []capture.Word
}

func (u *utterance) next(r listenResponse) []capture.Segment {
	if strings.EqualFold(r.Type, "UtteranceEnd") {
		return u.flushed()
	}

	seg, ok := r.segment()
	switch {
	case !ok && r.SpeechFinal:
		return u.flushed()
	case !ok:
		return nil
	case r.SpeechFinal:
		u.add(seg)
		return u.flushed()
	case r.IsFinal:
		u.add(seg)
		return []capture.Segment{u.current(nil)}
	default:
		return []capture.Segment{u.current(&seg)}
	}
}

func (u *utterance) add(seg capture.Segment) {
	u.parts = append(u.parts, seg.Text)
	u.words = append(u.words, seg.Words...)
}

func (u *utterance) current(interim *capture.Segment) capture.Segment {
	parts := u.parts
	words := u.words
	if interim != nil {
		parts = append(parts[:len(parts):len(parts)], interim.Text)
		words = append(words[:len(words):len(words)], interim.Words...)
	}
	return capture.Segment{Text: strings.Join(parts, " "), Words: words}
}

func (u *utterance) flush() (capture.Segment, bool) {
	if len(u.parts) == 0 {
		return capture.Segment{}, false
	}
	seg := u.current(nil)
	seg.Final = true
	u.parts, u.words = nil, nil
	return seg, true
}

func (u *utterance) flushed() []capture.Segment {
	if seg, ok := u.flush(); ok {
		return []capture.Segment{seg}
	}
	return nil
}

func buildListenURL(cfg Config) (string, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram base URL: %w", err)
	}
	if listenURL.Scheme != "ws" && listenURL.Scheme != "wss" {
		return "", fmt.Errorf("invalid Deepgram base URL scheme %q", listenURL.Scheme)
	}

	q := listenURL.Query()
	q.Set("model", cfg.Model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", cfg.SampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", "true")
	q.Set("utterance_end_ms", fmt.Sprintf("%d", cfg.UtteranceEnd))
	q.Set("smart_format", fmt.Sprintf("%t", cfg.SmartFormat))
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	listenURL.RawQuery = q.Encode()
	return listenURL.String(), nil
}

var _ capture.Engine = (*Engine)(nil)
