package playback

import (
	"testing"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/speaker"
)

type silence struct{ pos, n int }

func (s *silence) Stream(samples [][2]float64) (int, bool) {
	if s.pos >= s.n {
		return 0, false
	}
	n := min(len(samples), s.n-s.pos)
	for i := range samples[:n] {
		samples[i] = [2]float64{}
	}
	s.pos += n
	return n, true
}

func (s *silence) Err() error       { return nil }
func (s *silence) Len() int         { return s.n }
func (s *silence) Position() int    { return s.pos }
func (s *silence) Seek(p int) error { s.pos = p; return nil }
func (s *silence) Close() error     { return nil }

func bind(s *Sink) *track {
	stream := &silence{n: 100}
	volume := &effects.Volume{Streamer: stream, Base: 2}
	t := &track{stream: stream, volume: volume, ctrl: &beep.Ctrl{Streamer: volume}, queued: true}
	s.mu.Lock()
	s.current = t
	s.mu.Unlock()
	return t
}

func TestSink_EndCallbackDoesNotBlockCancel(t *testing.T) {
	s := NewSink()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			tr := bind(s)
			cb := s.endCallback(tr)

			ended := make(chan struct{})
			go func() {
				speaker.Lock()
				cb()
				speaker.Unlock()
				close(ended)
			}()
			s.Pause()
			s.SetMuted(i%2 == 0)
			<-ended
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("end of clip and Pause deadlocked")
	}
}

func TestSink_FinishedFiresOnce(t *testing.T) {
	s := NewSink()
	tr := bind(s)

	fired := make(chan struct{}, 2)
	tr.onEnded = func() { fired <- struct{}{} }

	s.endCallback(tr)()
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("onEnded not called")
	}

	s.finished(tr)
	select {
	case <-fired:
		t.Error("onEnded called twice")
	case <-time.After(20 * time.Millisecond):
	}

	s.mu.Lock()
	queued := tr.queued
	s.mu.Unlock()
	if queued {
		t.Error("track still queued after end")
	}
}

func TestSink_FinishedIgnoresReplacedTrack(t *testing.T) {
	s := NewSink()
	old := bind(s)
	called := false
	old.onEnded = func() { called = true }

	bind(s)
	s.finished(old)
	time.Sleep(10 * time.Millisecond)
	if called {
		t.Error("stale track reported its end")
	}
}
