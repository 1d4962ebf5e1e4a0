package web

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-voicewidget/pkg/capture"
	"github.com/teslashibe/go-voicewidget/pkg/hub"
	"github.com/teslashibe/go-voicewidget/pkg/store"
	"github.com/teslashibe/go-voicewidget/pkg/turn"
	"github.com/teslashibe/go-voicewidget/pkg/widget"
)

// ConfigView is the configuration as served to clients. The API key is
// never echoed back.
type ConfigView struct {
	WebhookURL      string          `json:"webhookUrl"`
	HasAPIKey       bool            `json:"hasApiKey"`
	Position        widget.Position `json:"position"`
	ButtonLabel     string          `json:"buttonLabel"`
	GreetingMessage string          `json:"greetingMessage"`
	Theme           widget.Theme    `json:"theme"`
	Mode            widget.Mode     `json:"mode"`
	TTSProvider     string          `json:"ttsProvider"`
}

func newConfigView(c widget.Config) ConfigView {
	return ConfigView{
		WebhookURL:      c.WebhookURL,
		HasAPIKey:       c.APIKey != "",
		Position:        c.Position,
		ButtonLabel:     c.ButtonLabel,
		GreetingMessage: c.GreetingMessage,
		Theme:           c.Theme,
		Mode:            c.Mode,
		TTSProvider:     c.TTSProvider,
	}
}

// MetricsView is the metrics response.
type MetricsView struct {
	Current  turn.Metrics  `json:"current"`
	Average  turn.Metrics  `json:"average"`
	Counters turn.Counters `json:"counters"`
	Latency  string        `json:"latency"`
}

// WebhookRequest is the PUT /api/config body.
type WebhookRequest struct {
	WebhookURL string `json:"webhookUrl"`
	APIKey     string `json:"apiKey"`
	Mode       string `json:"mode"`
}

// TranscriptRequest is the POST /api/transcript body.
type TranscriptRequest struct {
	Text    string `json:"text"`
	IsFinal *bool  `json:"isFinal"`
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.w.Status())
}

func (s *Server) handleMessages(c *fiber.Ctx) error {
	return c.JSON(s.w.Messages())
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	m := s.w.Metrics()
	avg := m.Average()
	return c.JSON(MetricsView{
		Current:  m.Current(),
		Average:  avg,
		Counters: m.Counters(),
		Latency:  avg.FormatLatency(),
	})
}

func (s *Server) handleGetConfig(c *fiber.Ctx) error {
	return c.JSON(newConfigView(s.w.Config()))
}

func (s *Server) handlePutConfig(c *fiber.Ctx) error {
	var req WebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	err := s.w.UpdateWebhook(store.WebhookSettings{
		WebhookURL: strings.TrimSpace(req.WebhookURL),
		APIKey:     req.APIKey,
		Mode:       req.Mode,
	})
	if err != nil {
		if errors.Is(err, widget.ErrDestroyed) {
			return err
		}
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(newConfigView(s.w.Config()))
}

func (s *Server) handleOpen(c *fiber.Ctx) error {
	if err := s.w.Open(); err != nil {
		return err
	}
	return c.JSON(s.w.Status())
}

func (s *Server) handleClose(c *fiber.Ctx) error {
	if err := s.w.Close(); err != nil {
		return err
	}
	return c.JSON(s.w.Status())
}

func (s *Server) handleMinimize(c *fiber.Ctx) error {
	minimized, err := s.w.ToggleMinimize()
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"minimized": minimized})
}

func (s *Server) handleListen(c *fiber.Ctx) error {
	listening, err := s.w.ToggleListening(c.UserContext())
	if err != nil {
		if errors.Is(err, widget.ErrDestroyed) {
			return err
		}
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(fiber.Map{"listening": listening})
}

func (s *Server) handleStopSpeaking(c *fiber.Ctx) error {
	s.w.StopSpeaking()
	return c.SendStatus(fiber.StatusNoContent)
}

// handleTranscript injects a recognition result, for front ends that run
// their own recognizer. isFinal defaults to true.
func (s *Server) handleTranscript(c *fiber.Ctx) error {
	var req TranscriptRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	final := true
	if req.IsFinal != nil {
		final = *req.IsFinal
	}
	s.w.HandleTranscript(capture.Transcript{Text: req.Text, IsFinal: final})
	return c.SendStatus(fiber.StatusAccepted)
}

// handleEventsWS streams widget events. The first frame is the current
// status.
func (s *Server) handleEventsWS(conn *websocket.Conn) {
	initial, err := hub.EncodeJSON(widget.Event{Type: widget.EventStatus, Data: s.w.Status()})
	if err != nil {
		s.logger.Warn("status encode failed", "error", err)
		return
	}
	client := hub.NewClient(s.events, conn, initial)
	if client == nil {
		conn.Close()
		return
	}
	client.Run()
}
