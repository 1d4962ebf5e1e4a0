package tts

import (
	"errors"
	"testing"
)

func TestNewSelected(t *testing.T) {
	all := Credentials{DeepgramKey: "dg", ElevenLabsKey: "el", OpenAIKey: "oa"}

	tests := []struct {
		name    string
		primary string
		creds   Credentials
		want    []string
		wantErr error
	}{
		{"default primary alone", "", Credentials{DeepgramKey: "dg"}, []string{"deepgram"}, nil},
		{"primary first then fallbacks", "openai", all, []string{"openai", "deepgram", "elevenlabs"}, nil},
		{"primary without key skipped", "elevenlabs", Credentials{OpenAIKey: "oa"}, []string{"openai"}, nil},
		{"case insensitive", " ElevenLabs ", all, []string{"elevenlabs", "deepgram", "openai"}, nil},
		{"no keys", "deepgram", Credentials{}, nil, ErrProviderUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewSelected(tt.primary, tt.creds, nil)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}

			var names []string
			if c, ok := p.(*Chain); ok {
				for _, sub := range c.providers {
					names = append(names, sub.Name())
				}
			} else {
				names = []string{p.Name()}
			}
			if len(names) != len(tt.want) {
				t.Fatalf("providers = %v, want %v", names, tt.want)
			}
			for i := range names {
				if names[i] != tt.want[i] {
					t.Errorf("providers = %v, want %v", names, tt.want)
					break
				}
			}
		})
	}
}

func TestNewSelected_UnknownProvider(t *testing.T) {
	if _, err := NewSelected("espeak", Credentials{DeepgramKey: "dg"}, nil); err == nil {
		t.Error("expected error")
	}
}

func TestNewSelected_AppliesVoice(t *testing.T) {
	p, err := NewSelected("elevenlabs", Credentials{ElevenLabsKey: "el", ElevenLabsVoice: "rachel"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	el, ok := p.(*ElevenLabs)
	if !ok {
		t.Fatalf("provider = %T", p)
	}
	if el.VoiceID() != ElevenLabsVoices["rachel"] {
		t.Errorf("voice = %q", el.VoiceID())
	}
}
