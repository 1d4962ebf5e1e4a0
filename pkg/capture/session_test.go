package capture

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/teslashibe/go-voicewidget/pkg/audioio"
)

type recorder struct {
	mu          sync.Mutex
	transcripts []Transcript
	levels      []float64
	errs        []error
}

func (r *recorder) handler() Handler {
	return Handler{
		OnTranscript: func(t Transcript) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.transcripts = append(r.transcripts, t)
		},
		OnLevel: func(l float64) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.levels = append(r.levels, l)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func (r *recorder) Transcripts() []Transcript {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transcript(nil), r.transcripts...)
}

func (r *recorder) Levels() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.levels...)
}

func (r *recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fixture struct {
	clock   *clockwork.FakeClock
	mic     *MockMicrophone
	engines *MockEngines
	rec     *recorder
	session *Session
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		clock:   clockwork.NewFakeClock(),
		mic:     &MockMicrophone{},
		engines: &MockEngines{},
		rec:     &recorder{},
	}
	base := []Option{WithClock(f.clock), WithEngine(f.engines.New)}
	f.session = NewSession(f.mic, f.rec.handler(), append(base, opts...)...)
	t.Cleanup(func() { f.session.Stop() })
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if f.engines.Count() != 1 {
		t.Fatalf("engines = %d, want 1", f.engines.Count())
	}
}

// endAndRestart ends the current engine and advances past the restart delay.
func (f *fixture) endAndRestart(t *testing.T, delay time.Duration) {
	t.Helper()
	want := f.engines.Count() + 1
	f.engines.Last().End()
	f.clock.Advance(delay)
	waitFor(t, "engine restart", func() bool { return f.engines.Count() == want && f.session.State() == StateCapturing })
}

func TestSession_StartForwardsTranscripts(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	if !f.session.Active() {
		t.Fatal("session should be active")
	}
	if f.mic.Live() != 1 {
		t.Fatalf("live mics = %d, want 1", f.mic.Live())
	}

	eng := f.engines.Last()
	eng.Emit(
		Segment{Text: "hel"},
		Segment{Text: "hello"},
		Segment{Text: "hello there", Final: true},
	)

	got := f.rec.Transcripts()
	if len(got) != 3 {
		t.Fatalf("transcripts = %d, want 3", len(got))
	}
	if got[0].IsFinal || got[1].IsFinal {
		t.Error("interim segments marked final")
	}
	if !got[2].IsFinal || got[2].Text != "hello there" {
		t.Errorf("final = %+v", got[2])
	}

	// Continuous mode: a final result does not restart anything.
	if f.engines.Count() != 1 || eng.Aborted() {
		t.Error("final transcript should not restart the engine")
	}
}

func TestSession_StartTwiceIsNoop(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	if err := f.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.mic.Acquired() != 1 || f.engines.Count() != 1 {
		t.Errorf("second Start acquired resources: mics=%d engines=%d", f.mic.Acquired(), f.engines.Count())
	}
}

func TestSession_NaturalEndRestarts(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	first := f.engines.Last()
	first.End()

	if !first.Aborted() {
		waitFor(t, "old engine aborted", first.Aborted)
	}
	if f.session.State() != StateRestarting {
		t.Fatalf("state = %v, want restarting", f.session.State())
	}

	f.clock.Advance(DefaultRestartDelay - time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	if f.engines.Count() != 1 {
		t.Fatal("restarted before the delay elapsed")
	}

	f.clock.Advance(time.Millisecond)
	waitFor(t, "restart", func() bool { return f.engines.Count() == 2 })
	waitFor(t, "capturing", func() bool { return f.session.State() == StateCapturing })

	if f.session.Cycles() != 1 {
		t.Errorf("cycles = %d, want 1", f.session.Cycles())
	}
	if f.mic.Acquired() != 1 {
		t.Errorf("light restart reacquired the microphone")
	}
	if f.engines.Live() != 1 {
		t.Errorf("live engines = %d, want 1", f.engines.Live())
	}
}

func TestSession_CycleLimitForcesFullReset(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	for i := 1; i < DefaultCycleLimit; i++ {
		f.endAndRestart(t, DefaultRestartDelay)
		if f.session.Cycles() != i {
			t.Fatalf("cycles = %d, want %d", f.session.Cycles(), i)
		}
	}
	if f.mic.Acquired() != 1 {
		t.Fatalf("mic acquired %d times before the limit", f.mic.Acquired())
	}

	engines := f.engines.Count()
	f.engines.Last().End()

	f.clock.Advance(DefaultRestartDelay)
	time.Sleep(10 * time.Millisecond)
	if f.engines.Count() != engines {
		t.Fatal("full reset ran at the light restart delay")
	}

	f.clock.Advance(DefaultResetDelay - DefaultRestartDelay)
	waitFor(t, "full reset", func() bool {
		return f.engines.Count() == engines+1 && f.session.State() == StateCapturing
	})

	if f.session.Cycles() != 0 {
		t.Errorf("cycles = %d, want 0 after reset", f.session.Cycles())
	}
	if f.mic.Acquired() != 2 {
		t.Errorf("mic acquired %d times, want 2", f.mic.Acquired())
	}
	if f.mic.Live() != 1 {
		t.Errorf("live mics = %d, want 1", f.mic.Live())
	}
	if f.engines.Live() != 1 {
		t.Errorf("live engines = %d, want 1", f.engines.Live())
	}
	restarts, resets := f.session.Stats()
	if restarts != DefaultCycleLimit || resets != 1 {
		t.Errorf("stats = (%d, %d), want (%d, 1)", restarts, resets, DefaultCycleLimit)
	}
}

func TestSession_TransientErrorRecovers(t *testing.T) {
	for _, code := range []string{CodeNoSpeech, CodeAudioCapture, CodeNetwork} {
		t.Run(code, func(t *testing.T) {
			f := newFixture(t)
			f.start(t)

			f.engines.Last().Fail(code)

			f.clock.Advance(DefaultRecoverDelay - time.Millisecond)
			time.Sleep(10 * time.Millisecond)
			if f.engines.Count() != 1 {
				t.Fatal("recovered before the delay elapsed")
			}

			f.clock.Advance(time.Millisecond)
			waitFor(t, "recovery", func() bool { return f.engines.Count() == 2 })

			if f.session.Cycles() != 0 {
				t.Errorf("transient error counted as a cycle")
			}
			if f.mic.Acquired() != 1 {
				t.Errorf("transient recovery reacquired the microphone")
			}
			if len(f.rec.Errors()) != 0 {
				t.Errorf("transient error surfaced: %v", f.rec.Errors())
			}
		})
	}
}

func TestSession_FatalErrorStops(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.engines.Last().Fail(CodeNotAllowed)
	waitFor(t, "error surfaced", func() bool { return len(f.rec.Errors()) == 1 })

	var rerr *RecognitionError
	if !errors.As(f.rec.Errors()[0], &rerr) {
		t.Fatalf("error = %v, want *RecognitionError", f.rec.Errors()[0])
	}
	if rerr.Code != CodeNotAllowed || rerr.Transient {
		t.Errorf("error = %+v", rerr)
	}
	if f.session.Active() {
		t.Error("session should be inactive")
	}
	if f.mic.Live() != 0 {
		t.Error("microphone still live")
	}

	f.clock.Advance(5 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if f.engines.Count() != 1 {
		t.Error("fatal error triggered a restart")
	}
}

func TestSession_MicrophoneUnavailable(t *testing.T) {
	f := newFixture(t)
	f.mic.Err = errors.New("permission denied")

	err := f.session.Start(context.Background())
	if !errors.Is(err, ErrMicrophoneUnavailable) {
		t.Fatalf("Start = %v, want ErrMicrophoneUnavailable", err)
	}
	if f.session.Active() {
		t.Error("session should stay idle")
	}
	if f.engines.Count() != 0 {
		t.Error("engine built without a microphone")
	}
}

func TestSession_StopReleasesEverything(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	eng := f.engines.Last()
	if err := f.session.Stop(); err != nil {
		t.Fatal(err)
	}

	if !eng.Aborted() {
		t.Error("engine not aborted")
	}
	if f.mic.Live() != 0 {
		t.Error("microphone not stopped")
	}

	eng.Final("late")
	eng.End()
	f.clock.Advance(5 * time.Second)
	time.Sleep(10 * time.Millisecond)

	if n := len(f.rec.Transcripts()); n != 0 {
		t.Errorf("%d transcripts after Stop", n)
	}
	if f.engines.Count() != 1 {
		t.Error("engine restarted after Stop")
	}

	if err := f.session.Stop(); err != nil {
		t.Errorf("second Stop = %v", err)
	}
}

func TestSession_StopCancelsPendingRestart(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.engines.Last().End()
	f.session.Stop()

	f.clock.Advance(time.Second)
	time.Sleep(10 * time.Millisecond)
	if f.engines.Count() != 1 {
		t.Errorf("engines = %d after Stop, want 1", f.engines.Count())
	}
	if f.session.State() != StateIdle {
		t.Errorf("state = %v", f.session.State())
	}
}

func TestSession_RestartAfterStop(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	for i := 0; i < 2; i++ {
		f.endAndRestart(t, DefaultRestartDelay)
	}
	f.session.Stop()

	if err := f.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.session.Cycles() != 0 {
		t.Errorf("cycles = %d after fresh start", f.session.Cycles())
	}
	if f.mic.Live() != 1 || f.engines.Live() != 1 {
		t.Errorf("live mics=%d engines=%d", f.mic.Live(), f.engines.Live())
	}
}

func sineChunk(n, rate int) audioio.AudioChunk {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(16000 * math.Sin(2*math.Pi*1000*float64(i)/float64(rate)))
	}
	return audioio.AudioChunk{Samples: samples, SampleRate: rate, Channels: 1}
}

func TestSession_LevelsStopAfterStop(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.mic.Last().Feed(sineChunk(512, 16000))

	waitFor(t, "level above zero", func() bool {
		f.clock.Advance(DefaultLevelInterval)
		for _, l := range f.rec.Levels() {
			if l > 0 {
				return true
			}
		}
		return false
	})
	for _, l := range f.rec.Levels() {
		if l < 0 || l > 1 {
			t.Fatalf("level %v out of range", l)
		}
	}

	f.session.Stop()
	n := len(f.rec.Levels())
	for i := 0; i < 5; i++ {
		f.clock.Advance(DefaultLevelInterval)
	}
	time.Sleep(10 * time.Millisecond)
	if got := len(f.rec.Levels()); got != n {
		t.Errorf("levels after Stop: %d -> %d", n, got)
	}
}

func TestSession_PumpResamplesForEngine(t *testing.T) {
	f := newFixture(t)
	f.engines.Configure = func(e *MockEngine) { e.Rate = 8000 }
	f.start(t)

	f.mic.Last().Feed(sineChunk(320, 16000))
	eng := f.engines.Last()
	waitFor(t, "samples written", func() bool { return eng.Samples() == 160 })
}

func TestSession_RecordingFallback(t *testing.T) {
	clock := clockwork.NewFakeClock()
	mic := &MockMicrophone{}
	rec := &recorder{}
	s := NewSession(mic, rec.handler(), WithClock(clock))

	for i := 0; i < 2; i++ {
		if err := s.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		if !s.Recording() {
			t.Fatal("expected recording fallback")
		}
		mic.Last().Feed(sineChunk(320, 16000))
		s.Stop()
	}

	got := rec.Transcripts()
	if len(got) != 2 {
		t.Fatalf("transcripts = %d, want 2", len(got))
	}
	for i, tr := range got {
		if !tr.IsFinal || tr.Text != PlaceholderPhrases[i] {
			t.Errorf("transcript %d = %+v, want final %q", i, tr, PlaceholderPhrases[i])
		}
	}
}

func TestSession_EngineUnavailableFallsBack(t *testing.T) {
	f := newFixture(t)
	f.engines.Err = ErrEngineUnavailable

	if err := f.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !f.session.Recording() {
		t.Error("expected recording fallback")
	}
}

func TestSession_EngineStartFatal(t *testing.T) {
	f := newFixture(t)
	f.engines.Configure = func(e *MockEngine) {
		e.StartErr = NewRecognitionError(CodeNotAllowed, errors.New("401"))
	}

	if err := f.session.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "error surfaced", func() bool { return len(f.rec.Errors()) == 1 })
	if f.session.Active() {
		t.Error("session should be idle")
	}
	if f.mic.Live() != 0 {
		t.Error("microphone still live")
	}
}

func TestIsTransientCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{CodeNoSpeech, true},
		{CodeAudioCapture, true},
		{CodeNetwork, true},
		{CodeNotAllowed, false},
		{"service-not-allowed", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsTransientCode(tt.code); got != tt.want {
			t.Errorf("IsTransientCode(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestPlaceholderTranscriberRotates(t *testing.T) {
	p := &PlaceholderTranscriber{}
	for i := 0; i < len(PlaceholderPhrases)+1; i++ {
		got, err := p.Transcribe(context.Background(), audioio.Blob{})
		if err != nil {
			t.Fatal(err)
		}
		want := PlaceholderPhrases[i%len(PlaceholderPhrases)]
		if got != want {
			t.Errorf("phrase %d = %q, want %q", i, got, want)
		}
	}
}
