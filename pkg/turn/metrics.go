package turn

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const metricsHistory = 100

// Metrics tracks latency for one turn, measured from the final transcript.
type Metrics struct {
	TranscriptTime time.Time `json:"transcriptTime"`
	ResponseTime   time.Time `json:"responseTime"`
	FirstAudioTime time.Time `json:"firstAudioTime"`
	DoneTime       time.Time `json:"doneTime"`

	WebhookLatency time.Duration `json:"webhookLatency"`
	TTSFirstAudio  time.Duration `json:"ttsFirstAudio"`
	TotalLatency   time.Duration `json:"totalLatency"`

	Failed    bool `json:"failed"`
	Spoken    bool `json:"spoken"`
	Debounced bool `json:"debounced"`
}

// Counters are running totals since the collector was created.
type Counters struct {
	Turns         int `json:"turns"`
	Dropped       int `json:"dropped"`
	Interruptions int `json:"interruptions"`
	Failures      int `json:"failures"`
	Debounced     int `json:"debounced"`
}

// MetricsCollector collects per-turn latency and running counters.
// It is goroutine-safe.
type MetricsCollector struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	current  Metrics
	history  []Metrics
	counters Counters
	onUpdate func(Metrics)
}

// NewMetricsCollector creates a collector. A nil clock uses the real one.
func NewMetricsCollector(clock clockwork.Clock) *MetricsCollector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MetricsCollector{
		clock:   clock,
		history: make([]Metrics, 0, metricsHistory),
	}
}

// OnUpdate sets a callback that fires whenever a turn is archived.
func (m *MetricsCollector) OnUpdate(fn func(Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// MarkTranscript starts a new turn.
func (m *MetricsCollector) MarkTranscript() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Metrics{TranscriptTime: m.clock.Now()}
	m.counters.Turns++
}

// MarkResponse records the backend answer.
func (m *MetricsCollector) MarkResponse(failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.ResponseTime = m.clock.Now()
	m.current.WebhookLatency = m.since(m.current.ResponseTime)
	m.current.Failed = failed
	if failed {
		m.counters.Failures++
	}
}

// MarkFirstAudio records when playback of the reply started.
func (m *MetricsCollector) MarkFirstAudio() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.FirstAudioTime.IsZero() {
		m.current.FirstAudioTime = m.clock.Now()
		m.current.TTSFirstAudio = m.since(m.current.FirstAudioTime)
		m.current.Spoken = true
	}
}

// MarkDebounced records a reply that was not spoken.
func (m *MetricsCollector) MarkDebounced() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.Debounced = true
	m.counters.Debounced++
}

// MarkDropped counts a final transcript ignored while a reply was pending.
func (m *MetricsCollector) MarkDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.Dropped++
}

// MarkInterrupted counts a barge-in.
func (m *MetricsCollector) MarkInterrupted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters.Interruptions++
}

// MarkDone archives the current turn.
func (m *MetricsCollector) MarkDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.DoneTime = m.clock.Now()
	m.current.TotalLatency = m.since(m.current.DoneTime)

	m.history = append(m.history, m.current)
	if len(m.history) > metricsHistory {
		m.history = m.history[1:]
	}
	if m.onUpdate != nil {
		go m.onUpdate(m.current)
	}
}

func (m *MetricsCollector) since(t time.Time) time.Duration {
	if m.current.TranscriptTime.IsZero() {
		return 0
	}
	return t.Sub(m.current.TranscriptTime)
}

// Current returns the current turn.
func (m *MetricsCollector) Current() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Counters returns the running totals.
func (m *MetricsCollector) Counters() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

// Average returns mean latencies over recent turns. Turns that were never
// spoken do not count towards TTSFirstAudio.
func (m *MetricsCollector) Average() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return Metrics{}
	}

	var avg Metrics
	var spoken time.Duration
	for _, h := range m.history {
		avg.WebhookLatency += h.WebhookLatency
		avg.TotalLatency += h.TotalLatency
		if h.Spoken {
			avg.TTSFirstAudio += h.TTSFirstAudio
			spoken++
		}
	}

	n := time.Duration(len(m.history))
	avg.WebhookLatency /= n
	avg.TotalLatency /= n
	if spoken > 0 {
		avg.TTSFirstAudio /= spoken
	}
	return avg
}

// FormatLatency returns a one-line summary.
func (m *Metrics) FormatLatency() string {
	return formatDuration(m.WebhookLatency) + " WEBHOOK | " +
		formatDuration(m.TTSFirstAudio) + " TTS | " +
		formatDuration(m.TotalLatency) + " TOTAL"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}
