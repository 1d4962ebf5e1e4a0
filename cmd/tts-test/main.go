// Command tts-test synthesizes one line with the configured TTS provider and
// plays it on the default output device.
//
// Usage:
//
//	DEEPGRAM_API_KEY=... go run ./cmd/tts-test -text "Hello there"
//	ELEVENLABS_API_KEY=... go run ./cmd/tts-test -tts elevenlabs -voice rachel
//
// Flags:
//
//	-tts          Provider: deepgram, elevenlabs, openai
//	-text         Line to speak
//	-voice        ElevenLabs voice name or ID
//	-naturalize   Add pauses and fillers first
//	-stop-after   Cancel playback after this long (0 plays to the end)
//	-out          Also write the synthesized audio to a file
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-voicewidget/internal/config"
	"github.com/teslashibe/go-voicewidget/internal/log"
	"github.com/teslashibe/go-voicewidget/pkg/audioio/playback"
	"github.com/teslashibe/go-voicewidget/pkg/tts"
)

const defaultLine = "Hello! This is a test of the text to speech voice. How does it sound?"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	env := config.FromEnv()

	provider := flag.String("tts", env.TTSProvider, "TTS provider: deepgram, elevenlabs, openai")
	text := flag.String("text", defaultLine, "Line to speak")
	voice := flag.String("voice", env.ElevenLabsVoiceID, "ElevenLabs voice name or ID")
	naturalize := flag.Bool("naturalize", false, "Add pauses and fillers first")
	stopAfter := flag.Duration("stop-after", 0, "Cancel playback after this long")
	out := flag.String("out", "", "Write the synthesized audio to this file")
	level := flag.String("log-level", env.LogLevel, "Log level")
	flag.Parse()

	log.Init(*level)
	logger := log.L()
	lg := log.Component(logger, "tts-test")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, err := tts.NewSelected(*provider, tts.Credentials{
		DeepgramKey:     env.DeepgramAPIKey,
		AuraModel:       env.AuraModel,
		ElevenLabsKey:   env.ElevenLabsAPIKey,
		ElevenLabsVoice: *voice,
		OpenAIKey:       env.OpenAIAPIKey,
	}, logger)
	if err != nil {
		lg.Error("no provider", "error", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	var opts []tts.PlayerOption
	opts = append(opts, tts.WithPlayerLogger(logger), tts.WithOnFinished(func() { close(done) }))
	if *naturalize {
		opts = append(opts, tts.WithNaturalize(nil))
	}
	player := tts.NewPlayer(p, playback.NewSink(playback.WithLogger(logger)), opts...)
	defer player.Close()

	start := time.Now()
	if err := player.Speak(ctx, *text); err != nil {
		lg.Error("speak failed", "error", err)
		os.Exit(1)
	}

	if r := player.LastResult(); r != nil {
		lg.Info("playing",
			"provider", r.Provider,
			"encoding", r.Format.Encoding,
			"bytes", len(r.Audio),
			"synthesis_ms", r.LatencyMs,
			"first_audio", time.Since(start),
		)
		if *out != "" {
			if err := os.WriteFile(*out, r.Audio, 0o644); err != nil {
				lg.Warn("write audio failed", "path", *out, "error", err)
			}
		}
	}

	var stop <-chan time.Time
	if *stopAfter > 0 {
		stop = time.After(*stopAfter)
	}

	select {
	case <-done:
		lg.Info("finished", "elapsed", time.Since(start))
	case <-stop:
		player.Cancel()
		lg.Info("stopped", "after", *stopAfter)
	case <-ctx.Done():
		player.Cancel()
	}
}
