// Package webhook posts user turns to the configured chat webhook and
// normalizes its replies.
package webhook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/teslashibe/go-voicewidget/internal/httpc"
	"github.com/teslashibe/go-voicewidget/pkg/conversation"
)

// DefaultTimeout bounds a single webhook call.
const DefaultTimeout = 60 * time.Second

// maxBody caps how much of a response is read.
const maxBody = 1 << 20

// Config holds Client settings.
type Config struct {
	URL        string
	APIKey     string
	SessionID  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Clock      clockwork.Clock
	Logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Config)

// WithAPIKey sends "Authorization: Bearer <key>" with every call.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithSessionID sets the session identifier passed through in every payload.
func WithSessionID(id string) Option {
	return func(c *Config) {
		c.SessionID = id
	}
}

// WithTimeout bounds each call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithHTTPClient overrides the shared HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithClock sets the clock used for payload timestamps.
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

// Client sends turns to one webhook.
type Client struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// New creates a client for webhookURL.
func New(webhookURL string, opts ...Option) (*Client, error) {
	cfg := Config{
		URL:     strings.TrimSpace(webhookURL),
		Timeout: DefaultTimeout,
		Clock:   clockwork.NewRealClock(),
		Logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.URL == "" {
		return nil, ErrNoURL
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("webhook: invalid URL %q", cfg.URL)
	}

	return &Client{
		cfg:    cfg,
		client: httpc.Or(cfg.HTTPClient),
		logger: cfg.Logger.With("component", "webhook.client"),
	}, nil
}

// URL returns the configured endpoint.
func (c *Client) URL() string {
	return c.cfg.URL
}

// SessionID returns the session identifier sent with each call.
func (c *Client) SessionID() string {
	return c.cfg.SessionID
}

// Send posts text with the prior conversation and returns the reply text.
// Failures are returned as *Error and are not retried.
func (c *Client) Send(ctx context.Context, text string, history []conversation.Message) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	start := c.cfg.Clock.Now()
	payload := BuildPayload(c.cfg.SessionID, text, history, start)

	var headers map[string]string
	if c.cfg.APIKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	}

	req, err := httpc.NewJSONRequest(ctx, http.MethodPost, c.cfg.URL, payload, headers)
	if err != nil {
		return "", &Error{Err: err}
	}

	c.logger.Debug("sending turn",
		"session_id", c.cfg.SessionID,
		"chars", len(text),
		"history", len(history),
	)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("webhook unreachable", "error", err)
		return "", &Error{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", &Error{StatusCode: 0, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("webhook returned error", "status", resp.StatusCode)
		return "", &Error{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	reply, err := Normalize(body, resp.Header.Get("Content-Type"))
	if err != nil {
		c.logger.Warn("webhook returned invalid JSON", "error", err)
		return "", &Error{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body)), Err: err}
	}
	c.logger.Debug("reply received",
		"status", resp.StatusCode,
		"chars", len(reply),
		"latency_ms", c.cfg.Clock.Since(start).Milliseconds(),
	)
	return reply, nil
}
