package tts

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	deepgramSpeakURL = "https://api.deepgram.com/v1/speak"
	providerDeepgram = "deepgram"
	DefaultAuraModel = "aura-asteria-en"
)

// Deepgram implements Provider for Deepgram Aura.
type Deepgram struct {
	config  *Config
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// NewDeepgram creates an Aura provider. The key is sent as
// "Authorization: Token <key>".
func NewDeepgram(opts ...Option) (*Deepgram, error) {
	cfg := DefaultConfig()
	cfg.ModelID = DefaultAuraModel
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultAuraModel
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = deepgramSpeakURL
	}

	return &Deepgram{
		config:  cfg,
		client:  cfg.httpClient(),
		logger:  cfg.Logger.With("component", "tts.deepgram"),
		baseURL: baseURL,
	}, nil
}

// Synthesize posts {"text"} to the speak endpoint and returns MP3 audio.
func (d *Deepgram) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	start := time.Now()

	audio, err := postJSON(ctx, d.client, d.config, d.logger, providerDeepgram, d.speakURL(),
		map[string]string{"text": text},
		map[string]string{"Authorization": "Token " + d.config.APIKey},
		d.parseError,
	)
	if err != nil {
		return nil, err
	}

	latency := time.Since(start).Milliseconds()
	d.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"model", d.config.ModelID,
	)

	return &AudioResult{
		Audio:     audio,
		Format:    AudioFormat{Encoding: EncodingMP3, SampleRate: 22050, Channels: 1},
		CharCount: len(text),
		LatencyMs: latency,
		Provider:  providerDeepgram,
	}, nil
}

func (d *Deepgram) speakURL() string {
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return d.baseURL
	}
	q := u.Query()
	if q.Get("model") == "" {
		q.Set("model", d.config.ModelID)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Health lists the key's projects to verify the key.
func (d *Deepgram) Health(ctx context.Context) error {
	healthURL := strings.TrimSuffix(d.baseURL, "/speak") + "/projects"
	if u, err := url.Parse(d.baseURL); err == nil {
		u.Path = strings.TrimSuffix(u.Path, "/speak") + "/projects"
		u.RawQuery = ""
		healthURL = u.String()
	}
	return get(ctx, d.client, providerDeepgram, healthURL,
		map[string]string{"Authorization": "Token " + d.config.APIKey},
		d.parseError,
	)
}

// Name returns "deepgram".
func (d *Deepgram) Name() string {
	return providerDeepgram
}

// Close releases resources held by the provider.
func (d *Deepgram) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

// ModelID returns the Aura model.
func (d *Deepgram) ModelID() string {
	return d.config.ModelID
}

func (d *Deepgram) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		ErrCode string `json:"err_code"`
		ErrMsg  string `json:"err_msg"`
	}

	message := string(body)
	code := ""
	if json.Unmarshal(body, &errResp) == nil && errResp.ErrMsg != "" {
		message = errResp.ErrMsg
		code = errResp.ErrCode
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   providerDeepgram,
	}
}

var _ Provider = (*Deepgram)(nil)
