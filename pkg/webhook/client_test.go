package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/teslashibe/go-voicewidget/pkg/conversation"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		contentType string
		want        string
		wantErr     bool
	}{
		{"json string", `"hi"`, "application/json", "hi", false},
		{"output", `{"output":"hi"}`, "application/json", "hi", false},
		{"message", `{"message":"hi"}`, "application/json", "hi", false},
		{"response", `{"response":"hi"}`, "application/json; charset=utf-8", "hi", false},
		{"content", `{"content":"hi"}`, "application/json", "hi", false},
		{"text", `{"text":"hi"}`, "application/json", "hi", false},
		{"empty object", `{}`, "application/json", FallbackText, false},
		{"priority", `{"text":"t","output":"o","message":"m"}`, "application/json", "o", false},
		{"empty output falls through", `{"output":"","message":"m"}`, "application/json", "m", false},
		{"non-string field skipped", `{"output":{"a":1},"text":"t"}`, "application/json", "t", false},
		{"plain text", `hello there`, "text/plain", "hello there", false},
		{"json as text", `{"response":"hi"}`, "text/plain", "hi", false},
		{"no content type", `{"message":"hi"}`, "", "hi", false},
		{"empty body", ``, "text/plain", FallbackText, false},
		{"empty string", `""`, "application/json", FallbackText, false},
		{"array", `[{"output":"first"},{"output":"second"}]`, "application/json", "first", false},
		{"empty array", `[]`, "application/json", FallbackText, false},
		{"broken json", `{"output":`, "application/json", "", true},
		{"broken json as text", `{"output":`, "text/plain", `{"output":`, false},
		{"number", `42`, "application/json", FallbackText, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize([]byte(tt.body), tt.contentType)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Normalize(%q) err = %v, wantErr %v", tt.body, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.body, got, tt.want)
			}
		})
	}
}

func TestBuildPayload(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 30, 45, 123_000_000, time.UTC)
	history := []conversation.Message{
		{ID: "1", Text: "Hello", Sender: conversation.SenderUser, Timestamp: now.Add(-time.Minute)},
		{ID: "2", Text: "Hi there", Sender: conversation.SenderAI, Timestamp: now.Add(-30 * time.Second)},
	}

	p := BuildPayload("session_abc", "How are you?", history, now)

	if p.Action != "sendMessage" || p.Type != "text" {
		t.Errorf("action/type = %q/%q", p.Action, p.Type)
	}
	if p.ChatInput != "How are you?" || p.Message != "How are you?" {
		t.Errorf("text fields = %q/%q", p.ChatInput, p.Message)
	}
	if p.SessionID != "session_abc" {
		t.Errorf("session = %q", p.SessionID)
	}
	if p.Timestamp != "2024-05-01T12:30:45.123Z" {
		t.Errorf("timestamp = %q", p.Timestamp)
	}
	if len(p.ConversationHistory) != 2 {
		t.Fatalf("history = %d entries", len(p.ConversationHistory))
	}
	if !p.ConversationHistory[0].IsUser || p.ConversationHistory[1].IsUser {
		t.Error("isUser flags wrong")
	}
	if p.ConversationHistory[1].Content != "Hi there" {
		t.Errorf("content = %q", p.ConversationHistory[1].Content)
	}
}

func TestBuildPayloadEmptyHistoryEncodesArray(t *testing.T) {
	data, err := json.Marshal(BuildPayload("s", "x", nil, time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	json.Unmarshal(data, &raw)
	if _, ok := raw["conversationHistory"].([]any); !ok {
		t.Errorf("conversationHistory = %v, want []", raw["conversationHistory"])
	}
}

func TestClient_Send(t *testing.T) {
	var got Payload
	var auth, contentType string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		auth = r.Header.Get("Authorization")
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response":"Hi there"}`))
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	c, err := New(srv.URL, WithAPIKey("secret"), WithSessionID("session_x"), WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}

	reply, err := c.Send(context.Background(), "Hello", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply != "Hi there" {
		t.Errorf("reply = %q", reply)
	}
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q", auth)
	}
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q", contentType)
	}
	if got.ChatInput != "Hello" || got.SessionID != "session_x" {
		t.Errorf("payload = %+v", got)
	}
	if got.Timestamp != "2024-01-02T03:04:05.000Z" {
		t.Errorf("timestamp = %q", got.Timestamp)
	}
}

func TestClient_NoAPIKeyNoHeader(t *testing.T) {
	var hasAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasAuth = r.Header["Authorization"]
		w.Write([]byte("plain reply"))
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	reply, err := c.Send(context.Background(), "hi", nil)
	if err != nil {
		t.Fatal(err)
	}
	if hasAuth {
		t.Error("Authorization sent without an API key")
	}
	if reply != "plain reply" {
		t.Errorf("reply = %q", reply)
	}
}

func TestClient_Failures(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		c, _ := New(srv.URL)
		_, err := c.Send(context.Background(), "hi", nil)
		if !errors.Is(err, ErrWebhook) {
			t.Fatalf("err = %v, want ErrWebhook", err)
		}
		var werr *Error
		if !errors.As(err, &werr) || werr.StatusCode != 500 || werr.Body != "boom" {
			t.Errorf("err = %+v", werr)
		}
	})

	t.Run("network", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := srv.URL
		srv.Close()

		c, _ := New(url)
		_, err := c.Send(context.Background(), "hi", nil)
		var werr *Error
		if !errors.As(err, &werr) || werr.StatusCode != 0 {
			t.Fatalf("err = %v, want transport *Error", err)
		}
	})

	t.Run("invalid json body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`<html>oops</html>`))
		}))
		defer srv.Close()

		c, _ := New(srv.URL)
		reply, err := c.Send(context.Background(), "hi", nil)
		if !errors.Is(err, ErrWebhook) || reply != "" {
			t.Fatalf("reply = %q, err = %v, want ErrWebhook", reply, err)
		}
		var werr *Error
		if !errors.As(err, &werr) || werr.StatusCode != 200 {
			t.Errorf("err = %+v", werr)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		c, _ := New(srv.URL, WithTimeout(20*time.Millisecond))
		_, err := c.Send(context.Background(), "hi", nil)
		if !errors.Is(err, ErrWebhook) || !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want wrapped deadline", err)
		}
	})
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"", true},
		{"   ", true},
		{"not a url", true},
		{"ftp://example.com/hook", true},
		{"https://n8n.example.com/webhook/abc", false},
		{"http://localhost:5678/webhook-test/x", false},
	}
	for _, tt := range tests {
		_, err := New(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%q) err = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
	}
	if _, err := New(""); !errors.Is(err, ErrNoURL) {
		t.Errorf("New(\"\") = %v, want ErrNoURL", err)
	}
}
