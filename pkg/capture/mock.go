package capture

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/teslashibe/go-voicewidget/pkg/audioio"
)

// MockEngine is a scriptable Engine for tests. Drive it with Interim, Final,
// End and Fail.
type MockEngine struct {
	// StartErr, when set, is returned by Start.
	StartErr error

	// Rate is reported by SampleRate. Zero accepts any rate.
	Rate int

	mu      sync.Mutex
	events  EngineEvents
	started bool
	aborted bool
	samples int
}

// Start records the event sink.
func (m *MockEngine) Start(ctx context.Context, events EngineEvents) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartErr != nil {
		return m.StartErr
	}
	m.events = events
	m.started = true
	return nil
}

// Write counts samples.
func (m *MockEngine) Write(samples []int16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.aborted {
		return io.ErrClosedPipe
	}
	if m.started {
		m.samples += len(samples)
	}
	return nil
}

// SampleRate returns Rate.
func (m *MockEngine) SampleRate() int {
	return m.Rate
}

// Abort marks the engine aborted.
func (m *MockEngine) Abort() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aborted = true
	return nil
}

// Name returns "mock".
func (m *MockEngine) Name() string {
	return "mock"
}

// Aborted reports whether Abort was called.
func (m *MockEngine) Aborted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aborted
}

// Samples returns the number of samples written after Start.
func (m *MockEngine) Samples() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.samples
}

func (m *MockEngine) sink() EngineEvents {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events
}

// Emit delivers segments as one result event.
func (m *MockEngine) Emit(segments ...Segment) {
	if ev := m.sink(); ev != nil {
		ev.OnResult(segments)
	}
}

// Interim delivers one interim segment.
func (m *MockEngine) Interim(text string) {
	m.Emit(Segment{Text: text})
}

// Final delivers one final segment.
func (m *MockEngine) Final(text string) {
	m.Emit(Segment{Text: text, Final: true})
}

// End reports a natural end.
func (m *MockEngine) End() {
	if ev := m.sink(); ev != nil {
		ev.OnEnded()
	}
}

// Fail reports an error code.
func (m *MockEngine) Fail(code string) {
	if ev := m.sink(); ev != nil {
		ev.OnError(code, errors.New(code))
	}
}

var _ Engine = (*MockEngine)(nil)

// MockEngines is an EngineFactory that records every engine it builds.
type MockEngines struct {
	// Err, when set, is returned instead of an engine.
	Err error

	// Configure, when set, is applied to each new engine.
	Configure func(*MockEngine)

	mu      sync.Mutex
	engines []*MockEngine
}

// New builds a MockEngine.
func (f *MockEngines) New() (Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	e := &MockEngine{}
	if f.Configure != nil {
		f.Configure(e)
	}
	f.engines = append(f.engines, e)
	return e, nil
}

// Count returns how many engines were built.
func (f *MockEngines) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}

// Last returns the newest engine, or nil.
func (f *MockEngines) Last() *MockEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.engines) == 0 {
		return nil
	}
	return f.engines[len(f.engines)-1]
}

// Live returns how many engines have not been aborted.
func (f *MockEngines) Live() int {
	f.mu.Lock()
	engines := append([]*MockEngine(nil), f.engines...)
	f.mu.Unlock()

	n := 0
	for _, e := range engines {
		if !e.Aborted() {
			n++
		}
	}
	return n
}

// MockMicrophone hands out manually fed MockSources.
type MockMicrophone struct {
	// Err, when set, is returned by Acquire.
	Err error

	// Config is used for every source. Zero means audioio.DefaultConfig.
	Config audioio.Config

	mu      sync.Mutex
	sources []*audioio.MockSource
}

// Acquire returns a started MockSource.
func (m *MockMicrophone) Acquire(ctx context.Context) (audioio.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	cfg := m.Config
	if cfg.SampleRate == 0 {
		cfg = audioio.DefaultConfig()
		cfg.Backend = audioio.BackendMock
	}
	src := audioio.NewMockSource(cfg, nil, audioio.WithManualFeed())
	if err := src.Start(ctx); err != nil {
		return nil, err
	}
	m.sources = append(m.sources, src)
	return src, nil
}

// Acquired returns how many sources were handed out.
func (m *MockMicrophone) Acquired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sources)
}

// Live returns how many sources are still running.
func (m *MockMicrophone) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sources {
		if s.Running() {
			n++
		}
	}
	return n
}

// Last returns the newest source, or nil.
func (m *MockMicrophone) Last() *audioio.MockSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sources) == 0 {
		return nil
	}
	return m.sources[len(m.sources)-1]
}

var _ Microphone = (*MockMicrophone)(nil)
