// Command voicewidget runs a voice assistant widget: microphone capture with
// Deepgram recognition, an n8n-style webhook backend, spoken replies, and an
// HTTP control surface with a websocket event stream.
//
// Usage:
//
//	N8N_WEBHOOK_URL=https://... DEEPGRAM_API_KEY=... go run ./cmd/voicewidget
//
// Keys are read from the environment or a .env file, never from flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-voicewidget/internal/config"
	"github.com/teslashibe/go-voicewidget/internal/httpc"
	"github.com/teslashibe/go-voicewidget/internal/log"
	"github.com/teslashibe/go-voicewidget/pkg/audioio"
	"github.com/teslashibe/go-voicewidget/pkg/audioio/playback"
	"github.com/teslashibe/go-voicewidget/pkg/capture"
	"github.com/teslashibe/go-voicewidget/pkg/capture/deepgram"
	"github.com/teslashibe/go-voicewidget/pkg/store"
	"github.com/teslashibe/go-voicewidget/pkg/tts"
	"github.com/teslashibe/go-voicewidget/pkg/web"
	"github.com/teslashibe/go-voicewidget/pkg/webhook"
	"github.com/teslashibe/go-voicewidget/pkg/widget"
)

type options struct {
	config.Config
	staticDir string
	open      bool
	listen    bool
	debug     bool
	noVoice   bool
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	opts := parseFlags()

	level := opts.LogLevel
	if opts.debug {
		level = "debug"
	}
	log.Init(level)
	logger := log.L()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, logger); err != nil {
		log.Component(logger, "voicewidget").Error("voicewidget failed", "error", err)
		os.Exit(1)
	}
}

// parseFlags layers flags over the environment.
func parseFlags() options {
	env := config.FromEnv()
	o := options{Config: env}

	flag.StringVar(&o.Addr, "addr", env.Addr, "HTTP listen address")
	flag.StringVar(&o.LogLevel, "log-level", env.LogLevel, "Log level: debug, info, warn, error")
	flag.StringVar(&o.DataDir, "data-dir", env.DataDir, "Directory for persisted session and webhook settings")
	flag.StringVar(&o.WebhookURL, "webhook", env.WebhookURL, "Webhook URL (or set N8N_WEBHOOK_URL)")
	flag.DurationVar(&o.WebhookTimeout, "webhook-timeout", env.WebhookTimeout, "Webhook request timeout")
	flag.StringVar(&o.Position, "position", env.Position, "Button position: bottom-right, bottom-left, top-right, top-left")
	flag.StringVar(&o.ButtonLabel, "label", env.ButtonLabel, "Button label")
	flag.StringVar(&o.GreetingMessage, "greeting", env.GreetingMessage, "Greeting spoken on first open")
	flag.StringVar(&o.Theme, "theme", env.Theme, "Theme: light, dark, system")
	flag.StringVar(&o.Mode, "mode", env.Mode, "Panel mode: standard, popup")
	flag.StringVar(&o.TTSProvider, "tts", env.TTSProvider, "TTS provider: deepgram, elevenlabs, openai")
	flag.StringVar(&o.ElevenLabsVoiceID, "tts-voice", env.ElevenLabsVoiceID, "ElevenLabs voice name or ID")
	flag.StringVar(&o.AuraModel, "aura-model", env.AuraModel, "Deepgram Aura voice model")
	flag.BoolVar(&o.Naturalize, "naturalize", env.Naturalize, "Add pauses and fillers to spoken replies")
	flag.StringVar(&o.DeepgramModel, "stt-model", env.DeepgramModel, "Deepgram recognition model")
	flag.StringVar(&o.Language, "language", env.Language, "Recognition language")
	flag.StringVar(&o.AudioBackend, "audio-backend", env.AudioBackend, "Microphone backend: auto, portaudio, ffmpeg, mock")
	flag.StringVar(&o.AudioDevice, "audio-device", env.AudioDevice, "Microphone device")
	flag.StringVar(&o.staticDir, "static", "", "Serve a front end from this directory")
	flag.BoolVar(&o.open, "open", false, "Open the panel on start")
	flag.BoolVar(&o.listen, "listen", false, "Start listening on start")
	flag.BoolVar(&o.debug, "debug", false, "Enable debug logging and the access log")
	flag.BoolVar(&o.noVoice, "no-voice", false, "Disable spoken replies")
	flag.Parse()

	return o
}

func run(ctx context.Context, o options, logger *slog.Logger) error {
	st, err := store.NewJSONStore(o.StorePath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	audioCfg := audioio.DefaultConfig()
	audioCfg.Backend = audioio.Backend(o.AudioBackend)
	audioCfg.Device = o.AudioDevice
	audioCfg.FFmpegCommand = o.FFmpegCommand
	audioCfg.SampleRate = o.SampleRate
	if err := audioCfg.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	deps := widget.Deps{
		Microphone: capture.NewDeviceMicrophone(audioCfg, logger),
		CaptureOptions: []capture.Option{
			capture.WithLogger(logger),
			capture.WithEngine(deepgram.NewFactory(deepgram.Config{
				APIKey:      o.DeepgramAPIKey,
				Model:       o.DeepgramModel,
				Language:    o.Language,
				SampleRate:  audioCfg.SampleRate,
				SmartFormat: true,
				Logger:      logger,
			})),
		},
		WebhookOptions: []webhook.Option{
			webhook.WithTimeout(o.WebhookTimeout),
			webhook.WithHTTPClient(httpc.NewClient(o.WebhookTimeout)),
			webhook.WithLogger(logger),
		},
		Store:  st,
		Logger: logger,
	}

	if !o.noVoice {
		provider, err := tts.NewSelected(o.TTSProvider, tts.Credentials{
			DeepgramKey:     o.DeepgramAPIKey,
			AuraModel:       o.AuraModel,
			ElevenLabsKey:   o.ElevenLabsAPIKey,
			ElevenLabsVoice: o.ElevenLabsVoiceID,
			OpenAIKey:       o.OpenAIAPIKey,
		}, logger)
		switch {
		case errors.Is(err, tts.ErrProviderUnavailable):
			logger.Warn("no tts keys configured, replies will not be spoken")
		case err != nil:
			return err
		default:
			deps.TTS = provider
			deps.Sink = playback.NewSink(playback.WithLogger(logger))
			if o.Naturalize {
				deps.PlayerOptions = append(deps.PlayerOptions, tts.WithNaturalize(nil))
			}
		}
	}

	w, err := widget.New(widget.Config{
		WebhookURL:      o.WebhookURL,
		APIKey:          o.WebhookAPIKey,
		Position:        widget.Position(o.Position),
		ButtonLabel:     o.ButtonLabel,
		GreetingMessage: o.GreetingMessage,
		Theme:           widget.Theme(o.Theme),
		Mode:            widget.Mode(o.Mode),
		TTSProvider:     o.TTSProvider,
	}, deps)
	if err != nil {
		return err
	}
	defer w.Destroy()

	srv := web.NewServer(w,
		web.WithAddr(o.Addr),
		web.WithStaticDir(o.staticDir),
		web.WithAccessLog(o.debug),
		web.WithLogger(logger),
	)

	if o.open {
		if err := w.Open(); err != nil {
			return err
		}
	}
	if o.listen {
		if _, err := w.ToggleListening(ctx); err != nil {
			logger.Warn("listening not started", "error", err)
		}
	}

	log.Component(logger, "voicewidget").Info("voice widget ready",
		"addr", o.Addr,
		"session", w.SessionID(),
		"tts", o.TTSProvider,
	)
	return srv.Run(ctx)
}
