// Package web exposes a widget over HTTP: a JSON control API and a
// websocket event stream for browser front ends.
package web

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-voicewidget/pkg/capture"
	"github.com/teslashibe/go-voicewidget/pkg/conversation"
	"github.com/teslashibe/go-voicewidget/pkg/hub"
	"github.com/teslashibe/go-voicewidget/pkg/store"
	"github.com/teslashibe/go-voicewidget/pkg/turn"
	"github.com/teslashibe/go-voicewidget/pkg/widget"
)

// Assistant is the widget surface the server drives. *widget.Widget
// implements it.
type Assistant interface {
	Open() error
	Close() error
	ToggleMinimize() (bool, error)
	ToggleListening(ctx context.Context) (bool, error)
	StopSpeaking()
	HandleTranscript(t capture.Transcript)
	Messages() []conversation.Message
	Status() widget.Status
	Config() widget.Config
	Metrics() *turn.MetricsCollector
	UpdateWebhook(ws store.WebhookSettings) error
	Subscribe(fn func(widget.Event))
}

var _ Assistant = (*widget.Widget)(nil)

// Config holds server settings.
type Config struct {
	Addr      string
	StaticDir string
	AccessLog bool
	Logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Config)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(c *Config) {
		c.Addr = addr
	}
}

// WithStaticDir serves a front end from dir at /.
func WithStaticDir(dir string) Option {
	return func(c *Config) {
		c.StaticDir = dir
	}
}

// WithAccessLog enables per-request logging.
func WithAccessLog(on bool) Option {
	return func(c *Config) {
		c.AccessLog = on
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the default server settings.
func DefaultConfig() Config {
	return Config{
		Addr:   ":8080",
		Logger: slog.Default(),
	}
}

// Server is the control surface for one widget.
type Server struct {
	app    *fiber.App
	cfg    Config
	logger *slog.Logger
	w      Assistant
	events *hub.Hub
}

// NewServer builds the routes and subscribes to the widget's events.
func NewServer(w Assistant, opts ...Option) *Server {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.Logger.With("component", "web.server")

	s := &Server{
		cfg:    cfg,
		logger: logger,
		w:      w,
		events: hub.New("events", cfg.Logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Voice Widget",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	app.Use(cors.New())
	if cfg.AccessLog {
		app.Use(fiberlogger.New(fiberlogger.Config{Output: os.Stderr}))
	}
	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/messages", s.handleMessages)
	api.Get("/metrics", s.handleMetrics)
	api.Get("/config", s.handleGetConfig)
	api.Put("/config", s.handlePutConfig)
	api.Post("/open", s.handleOpen)
	api.Post("/close", s.handleClose)
	api.Post("/minimize", s.handleMinimize)
	api.Post("/listen", s.handleListen)
	api.Post("/speak/stop", s.handleStopSpeaking)
	api.Post("/transcript", s.handleTranscript)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	w.Subscribe(s.forward)

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub returns the event hub.
func (s *Server) Hub() *hub.Hub {
	return s.events
}

// Run starts the event hub and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go s.events.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.Addr)
		errCh <- s.app.Listen(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			return err
		}
		return nil
	}
}

// forward pushes widget events to websocket clients. Encoding failures are
// logged and the event skipped.
func (s *Server) forward(ev widget.Event) {
	if err := s.events.BroadcastJSON(ev); err != nil {
		s.logger.Warn("event encode failed", "type", ev.Type, "error", err)
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var ferr *fiber.Error
	switch {
	case errors.As(err, &ferr):
		code = ferr.Code
	case errors.Is(err, widget.ErrDestroyed):
		code = fiber.StatusGone
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
