package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-voicewidget/pkg/capture"
)

type events struct {
	mu       sync.Mutex
	segments []capture.Segment
	ended    int
	codes    []string
}

func (e *events) OnResult(segments []capture.Segment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.segments = append(e.segments, segments...)
}

func (e *events) OnEnded() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ended++
}

func (e *events) OnError(code string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes = append(e.codes, code)
}

func (e *events) snapshot() ([]capture.Segment, int, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]capture.Segment(nil), e.segments...), e.ended, append([]string(nil), e.codes...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

// newServer runs handle on every upgraded connection.
func newServer(t *testing.T, handle func(*websocket.Conn, *http.Request)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEngine_ResultsThenNormalClose(t *testing.T) {
	var gotQuery string
	received := make(chan int, 1)

	srv := newServer(t, func(conn *websocket.Conn, r *http.Request) {
		gotQuery = r.URL.RawQuery

		_, audio, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- len(audio)

		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel"}]}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"hello world","words":[{"word":"hello","punctuated_word":"Hello","start":0.1,"end":0.4,"confidence":0.9},{"word":"world","start":0.5,"end":0.9,"confidence":0.8}]}]}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"  "}]}}`))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		time.Sleep(50 * time.Millisecond)
	})

	eng := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1"})
	ev := &events{}
	if err := eng.Start(context.Background(), ev); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Abort()

	if err := eng.Write(make([]int16, 160)); err != nil {
		t.Fatal(err)
	}
	select {
	case n := <-received:
		if n != 320 {
			t.Errorf("server got %d bytes, want 320", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("audio never arrived")
	}

	waitFor(t, func() bool {
		_, ended, _ := ev.snapshot()
		return ended == 1
	})

	segments, _, codes := ev.snapshot()
	if len(codes) != 0 {
		t.Errorf("unexpected errors: %v", codes)
	}
	if len(segments) != 2 {
		t.Fatalf("segments = %+v, want 2", segments)
	}
	if segments[0].Final || segments[0].Text != "hel" {
		t.Errorf("interim = %+v", segments[0])
	}
	if !segments[1].Final || segments[1].Text != "hello world" {
		t.Errorf("final = %+v", segments[1])
	}
	if len(segments[1].Words) != 2 || segments[1].Words[0].Text != "Hello" || segments[1].Words[1].Text != "world" {
		t.Errorf("words = %+v", segments[1].Words)
	}

	for _, want := range []string{"interim_results=true", "encoding=linear16", "sample_rate=16000", "model=nova-2", "utterance_end_ms=1000"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestEngine_JoinsChunksIntoOneFinal(t *testing.T) {
	srv := newServer(t, func(conn *websocket.Conn, r *http.Request) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"I would like to"}]}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"book a"}]}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"book a table for two"}]}}`))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		time.Sleep(50 * time.Millisecond)
	})

	eng := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	ev := &events{}
	if err := eng.Start(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	defer eng.Abort()

	waitFor(t, func() bool {
		_, ended, _ := ev.snapshot()
		return ended == 1
	})

	segments, _, _ := ev.snapshot()
	var finals []string
	for _, seg := range segments {
		if seg.Final {
			finals = append(finals, seg.Text)
		}
	}
	if len(finals) != 1 || finals[0] != "I would like to book a table for two" {
		t.Fatalf("finals = %q", finals)
	}
	if segments[1].Text != "I would like to book a" {
		t.Errorf("interim = %q, want the buffered prefix", segments[1].Text)
	}
}

func TestUtterance(t *testing.T) {
	result := func(text string, isFinal, speechFinal bool) listenResponse {
		r := listenResponse{Type: "Results", IsFinal: isFinal, SpeechFinal: speechFinal}
		r.Channel.Alternatives = []listenAlternative{{Transcript: text}}
		return r
	}

	tests := []struct {
		name   string
		msgs   []listenResponse
		want   []string
		flush  string
		finals int
	}{
		{
			name:   "speech_final closes the turn",
			msgs:   []listenResponse{result("a", true, false), result("b", true, true)},
			want:   []string{"a", "a b"},
			finals: 1,
		},
		{
			name:   "utterance end flushes",
			msgs:   []listenResponse{result("hi there", true, false), {Type: "UtteranceEnd"}},
			want:   []string{"hi there", "hi there"},
			finals: 1,
		},
		{
			name:   "empty speech_final flushes",
			msgs:   []listenResponse{result("ok", true, false), result("", true, true)},
			want:   []string{"ok", "ok"},
			finals: 1,
		},
		{
			name:  "pending text survives until flush",
			msgs:  []listenResponse{result("half a", true, false), result("thought", false, false)},
			want:  []string{"half a", "half a thought"},
			flush: "half a",
		},
		{
			name: "utterance end with nothing pending",
			msgs: []listenResponse{{Type: "UtteranceEnd"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var u utterance
			var got []string
			finals := 0
			for _, m := range tt.msgs {
				for _, seg := range u.next(m) {
					got = append(got, seg.Text)
					if seg.Final {
						finals++
					}
				}
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("segments = %q, want %q", got, tt.want)
			}
			if finals != tt.finals {
				t.Errorf("finals = %d, want %d", finals, tt.finals)
			}
			seg, ok := u.flush()
			if ok != (tt.flush != "") || seg.Text != tt.flush {
				t.Errorf("flush = %q, %v; want %q", seg.Text, ok, tt.flush)
			}
		})
	}
}

func TestEngine_KeepAliveWhileIdle(t *testing.T) {
	frames := make(chan string, 4)
	srv := newServer(t, func(conn *websocket.Conn, r *http.Request) {
		for {
			typ, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if typ == websocket.TextMessage {
				frames <- string(data)
			}
		}
	})

	eng := New(Config{APIKey: "test-key", BaseURL: srv.URL, KeepAlive: 10 * time.Millisecond})
	if err := eng.Start(context.Background(), &events{}); err != nil {
		t.Fatal(err)
	}
	defer eng.Abort()

	select {
	case f := <-frames:
		if f != `{"type":"KeepAlive"}` {
			t.Errorf("frame = %s", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no KeepAlive sent")
	}
}

func TestEngine_ErrorMessageIsNetwork(t *testing.T) {
	srv := newServer(t, func(conn *websocket.Conn, r *http.Request) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Error","message":"bad audio"}`))
		time.Sleep(50 * time.Millisecond)
	})

	eng := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	ev := &events{}
	if err := eng.Start(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	defer eng.Abort()

	waitFor(t, func() bool {
		_, _, codes := ev.snapshot()
		return len(codes) == 1
	})
	_, _, codes := ev.snapshot()
	if codes[0] != capture.CodeNetwork {
		t.Errorf("code = %q, want network", codes[0])
	}
}

func TestEngine_IdleCloseIsNoSpeech(t *testing.T) {
	srv := newServer(t, func(conn *websocket.Conn, r *http.Request) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "NET-0001"))
		time.Sleep(50 * time.Millisecond)
	})

	eng := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	ev := &events{}
	if err := eng.Start(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	defer eng.Abort()

	waitFor(t, func() bool {
		_, _, codes := ev.snapshot()
		return len(codes) == 1
	})
	_, _, codes := ev.snapshot()
	if codes[0] != capture.CodeNoSpeech {
		t.Errorf("code = %q, want no-speech", codes[0])
	}
}

func TestEngine_AbortSuppressesEvents(t *testing.T) {
	srv := newServer(t, func(conn *websocket.Conn, r *http.Request) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	eng := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	ev := &events{}
	if err := eng.Start(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	if err := eng.Abort(); err != nil {
		t.Fatal(err)
	}
	if err := eng.Abort(); err != nil {
		t.Fatal(err)
	}

	_, ended, codes := ev.snapshot()
	if ended != 0 || len(codes) != 0 {
		t.Errorf("events after abort: ended=%d codes=%v", ended, codes)
	}
	if err := eng.Write([]int16{1}); err == nil {
		t.Error("Write after Abort should fail")
	}
}

func TestEngine_Unauthorized(t *testing.T) {
	srv := newServer(t, func(*websocket.Conn, *http.Request) {})

	eng := New(Config{APIKey: "wrong", BaseURL: srv.URL})
	err := eng.Start(context.Background(), &events{})

	var rerr *capture.RecognitionError
	if !errors.As(err, &rerr) {
		t.Fatalf("Start = %v, want *RecognitionError", err)
	}
	if rerr.Code != capture.CodeNotAllowed || rerr.Transient {
		t.Errorf("error = %+v", rerr)
	}
}

func TestEngine_DialFailureIsTransient(t *testing.T) {
	eng := New(Config{APIKey: "test-key", BaseURL: "http://127.0.0.1:1"})
	err := eng.Start(context.Background(), &events{})

	var rerr *capture.RecognitionError
	if !errors.As(err, &rerr) || !rerr.Transient {
		t.Fatalf("Start = %v, want transient RecognitionError", err)
	}
}

func TestNewFactory(t *testing.T) {
	_, err := NewFactory(Config{})()
	if !errors.Is(err, capture.ErrEngineUnavailable) {
		t.Errorf("factory without key = %v, want ErrEngineUnavailable", err)
	}

	eng, err := NewFactory(Config{APIKey: "k", SampleRate: 8000})()
	if err != nil {
		t.Fatal(err)
	}
	if eng.SampleRate() != 8000 || eng.Name() != "deepgram" {
		t.Errorf("engine = %s @ %d", eng.Name(), eng.SampleRate())
	}
}

func TestBuildListenURL(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    []string
		wantErr bool
	}{
		{
			name: "defaults",
			cfg:  Config{},
			want: []string{"wss://api.deepgram.com/v1/listen", "language=en-US", "channels=1"},
		},
		{
			name: "local",
			cfg:  Config{BaseURL: "http://localhost:8080/v1/", Language: "de", SmartFormat: true},
			want: []string{"ws://localhost:8080/v1/listen", "language=de", "smart_format=true"},
		},
		{
			name:    "bad scheme",
			cfg:     Config{BaseURL: "ftp://example.com"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.applyDefaults()
			got, err := buildListenURL(cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("%s missing %q", got, w)
				}
			}
		})
	}
}
