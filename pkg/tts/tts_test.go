package tts_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/go-voicewidget/pkg/audioio"
	"github.com/teslashibe/go-voicewidget/pkg/tts"
)

func TestMock(t *testing.T) {
	ctx := context.Background()

	t.Run("silence sized to the text", func(t *testing.T) {
		m := tts.NewMock()
		r, err := m.Synthesize(ctx, "Hi there")
		if err != nil {
			t.Fatal(err)
		}
		if r.CharCount != 8 || len(r.Audio) != 8*960 || r.Format.SampleRate != 24000 {
			t.Errorf("result = %d chars, %d bytes, %d Hz", r.CharCount, len(r.Audio), r.Format.SampleRate)
		}
		if r.Duration != 160*time.Millisecond {
			t.Errorf("duration = %v", r.Duration)
		}
	})

	t.Run("records calls until reset", func(t *testing.T) {
		m := tts.NewMock()
		m.Synthesize(ctx, "one")
		m.Health(ctx)
		m.Synthesize(ctx, "two")

		if m.CallCount("Synthesize") != 2 || m.CallCount("Health") != 1 {
			t.Errorf("calls = %+v", m.Calls())
		}
		if last := m.LastCall(); last == nil || last.Text != "two" {
			t.Errorf("last call = %+v", last)
		}
		m.Reset()
		if m.LastCall() != nil {
			t.Error("calls survived Reset")
		}
	})

	t.Run("error mock fails everything", func(t *testing.T) {
		boom := errors.New("boom")
		m := tts.WithError(boom)
		if _, err := m.Synthesize(ctx, "x"); !errors.Is(err, boom) {
			t.Errorf("Synthesize err = %v", err)
		}
		if err := m.Health(ctx); !errors.Is(err, boom) {
			t.Errorf("Health err = %v", err)
		}
	})

	t.Run("latency honours the context", func(t *testing.T) {
		m := tts.WithLatency(tts.NewMock(), time.Second)
		short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		if _, err := m.Synthesize(short, "slow"); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want deadline", err)
		}
	})
}

func TestConfig(t *testing.T) {
	tests := []struct {
		name      string
		opts      []tts.Option
		wantKey   error
		wantVoice error
	}{
		{"empty", nil, tts.ErrNoAPIKey, tts.ErrNoAPIKey},
		{"key only", []tts.Option{tts.WithAPIKey("k")}, nil, tts.ErrNoVoiceID},
		{"key and voice", []tts.Option{tts.WithAPIKey("k"), tts.WithVoice("v")}, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tts.DefaultConfig()
			cfg.Apply(tt.opts...)
			if err := cfg.Validate(); !errors.Is(err, tt.wantKey) {
				t.Errorf("Validate = %v, want %v", err, tt.wantKey)
			}
			if err := cfg.ValidateWithVoice(); !errors.Is(err, tt.wantVoice) {
				t.Errorf("ValidateWithVoice = %v, want %v", err, tt.wantVoice)
			}
		})
	}

	cfg := tts.DefaultConfig()
	cfg.Apply(
		tts.WithModel("aura-luna-en"),
		tts.WithOutputFormat(tts.EncodingPCM24),
		tts.WithTimeout(3*time.Second),
	)
	if cfg.ModelID != "aura-luna-en" || cfg.OutputFormat != tts.EncodingPCM24 || cfg.Timeout != 3*time.Second {
		t.Errorf("options not applied: %+v", cfg)
	}
	if vs := tts.DefaultVoiceSettings(); vs.Stability != 0.5 || vs.SimilarityBoost != 0.75 || !vs.SpeakerBoost {
		t.Errorf("voice settings = %+v", vs)
	}
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		code                                         int
		rateLimited, unauthorized, server, retryable bool
	}{
		{400, false, false, false, false},
		{401, false, true, false, false},
		{429, true, false, false, true},
		{500, false, false, true, true},
		{503, false, false, true, true},
	}
	for _, tt := range tests {
		e := &tts.APIError{StatusCode: tt.code, Provider: "deepgram"}
		if e.IsRateLimited() != tt.rateLimited || e.IsUnauthorized() != tt.unauthorized ||
			e.IsServerError() != tt.server || e.IsRetryable() != tt.retryable {
			t.Errorf("%d: classification wrong", tt.code)
		}
	}

	e := &tts.APIError{StatusCode: 400, Code: "bad_text", Message: "text too long", Provider: "deepgram"}
	if got := e.Error(); got != "tts [deepgram]: API error 400 (bad_text): text too long" {
		t.Errorf("Error() = %q", got)
	}
}

func TestWrapError(t *testing.T) {
	if tts.WrapError("openai", nil) != nil {
		t.Error("nil error wrapped")
	}

	inner := errors.New("dial tcp: refused")
	err := tts.WrapError("openai", inner)
	if err.Error() != "tts [openai]: dial tcp: refused" {
		t.Errorf("Error() = %q", err)
	}
	var pe *tts.ProviderError
	if !errors.As(err, &pe) || pe.Provider != "openai" || !errors.Is(err, inner) {
		t.Errorf("err = %#v", err)
	}
}

func TestEncoding(t *testing.T) {
	tests := []struct {
		enc       tts.Encoding
		rate      int
		container audioio.Encoding
	}{
		{tts.EncodingPCM16, 16000, audioio.EncodingPCM16},
		{tts.EncodingPCM22, 22050, audioio.EncodingPCM16},
		{tts.EncodingPCM24, 24000, audioio.EncodingPCM16},
		{tts.EncodingPCM44, 44100, audioio.EncodingPCM16},
		{tts.EncodingMP3, 44100, audioio.EncodingMP3},
		{tts.EncodingOpus, 48000, audioio.EncodingOggOpus},
		{tts.EncodingWAV, 24000, audioio.EncodingWAV},
	}
	for _, tt := range tests {
		t.Run(string(tt.enc), func(t *testing.T) {
			if got := tts.SampleRateFromEncoding(tt.enc); got != tt.rate {
				t.Errorf("rate = %d, want %d", got, tt.rate)
			}
			if got := tt.enc.Container(); got != tt.container {
				t.Errorf("container = %q, want %q", got, tt.container)
			}
		})
	}
}

func TestChain(t *testing.T) {
	ctx := context.Background()

	if _, err := tts.NewChain(); !errors.Is(err, tts.ErrProviderUnavailable) {
		t.Errorf("empty chain err = %v", err)
	}

	t.Run("primary answers", func(t *testing.T) {
		primary, backup := tts.NewMock(), tts.NewMock()
		chain, _ := tts.NewChain(primary, backup)
		if _, err := chain.Synthesize(ctx, "Hello"); err != nil {
			t.Fatal(err)
		}
		if backup.CallCount("Synthesize") != 0 {
			t.Error("backup called after primary succeeded")
		}
	})

	t.Run("falls back", func(t *testing.T) {
		backup := tts.NewMock()
		backup.ProviderName = "openai"
		chain, _ := tts.NewChain(tts.WithError(errors.New("deepgram down")), backup)
		r, err := chain.Synthesize(ctx, "Hello")
		if err != nil || r == nil || len(r.Audio) == 0 {
			t.Fatalf("result = %v, err = %v", r, err)
		}
	})

	t.Run("all fail", func(t *testing.T) {
		chain, _ := tts.NewChain(tts.WithError(errors.New("a")), tts.WithError(errors.New("b")))
		_, err := chain.Synthesize(ctx, "Hello")
		if !errors.Is(err, tts.ErrAllProvidersFailed) {
			t.Errorf("err = %v", err)
		}
		var ce *tts.ChainError
		if !errors.As(err, &ce) || len(ce.Errors) != 2 {
			t.Errorf("collected = %v", err)
		}
	})

	t.Run("cancellation stops the walk", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		first := &tts.Mock{SynthesizeFunc: func(ctx context.Context, text string) (*tts.AudioResult, error) {
			cancel()
			return nil, ctx.Err()
		}}
		second := tts.NewMock()

		chain, _ := tts.NewChain(first, second)
		if _, err := chain.Synthesize(cctx, "Hello"); !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
		if second.CallCount("Synthesize") != 0 {
			t.Error("walk continued after cancel")
		}
	})

	t.Run("health needs one healthy provider", func(t *testing.T) {
		chain, _ := tts.NewChain(tts.WithError(errors.New("down")), tts.NewMock())
		if err := chain.Health(ctx); err != nil {
			t.Errorf("Health = %v", err)
		}
		dead, _ := tts.NewChain(tts.WithError(errors.New("down")))
		if err := dead.Health(ctx); err == nil {
			t.Error("unhealthy chain reported healthy")
		}
	})

	t.Run("close reaches every provider", func(t *testing.T) {
		a, b := tts.NewMock(), tts.NewMock()
		b.CloseFunc = func() error { return errors.New("close failed") }
		chain, _ := tts.NewChain(a, b)
		if err := chain.Close(); err == nil {
			t.Error("close error dropped")
		}
		if a.CallCount("Close") != 1 || b.CallCount("Close") != 1 {
			t.Error("provider not closed")
		}
	})
}

func TestAudioResultClip(t *testing.T) {
	tests := []struct {
		name   string
		result tts.AudioResult
		want   audioio.Encoding
	}{
		{"pcm", tts.AudioResult{Audio: []byte{0, 0}, Format: tts.AudioFormat{Encoding: tts.EncodingPCM24, SampleRate: 24000}}, audioio.EncodingPCM16},
		{"mp3", tts.AudioResult{Audio: []byte{0xFF, 0xFB, 0, 0}, Format: tts.AudioFormat{Encoding: tts.EncodingMP3}}, audioio.EncodingMP3},
		{"sniffed", tts.AudioResult{Audio: []byte("ID3\x04rest")}, audioio.EncodingMP3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clip := tt.result.Clip()
			if clip.Encoding != tt.want {
				t.Errorf("encoding = %q, want %q", clip.Encoding, tt.want)
			}
			if clip.Channels != 1 {
				t.Errorf("channels = %d, want 1", clip.Channels)
			}
		})
	}
}

func TestResolveElevenLabsVoice(t *testing.T) {
	if got := tts.ResolveElevenLabsVoice("sarah"); got != "EXAVITQu4vr4xnSDxMaL" {
		t.Errorf("sarah = %q", got)
	}
	if got := tts.ResolveElevenLabsVoice("custom-id"); got != "custom-id" {
		t.Errorf("custom-id = %q", got)
	}
	if !tts.IsAuraModel(tts.DefaultAuraModel) || tts.IsAuraModel("nova-2") {
		t.Error("IsAuraModel mismatch")
	}
}
