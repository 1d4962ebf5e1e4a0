package audioio

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrEmptyRecording is returned by Stop when no samples were written.
var ErrEmptyRecording = errors.New("audioio: empty recording")

// Blob is a finished recording.
type Blob struct {
	Data     []byte
	MIMEType string
	Duration time.Duration
}

// Recorder accumulates mono PCM16 samples and encodes them as a WAV blob.
// It backs the capture path when no streaming recognizer is available.
type Recorder struct {
	sampleRate int

	mu      sync.Mutex
	samples []int
}

// NewRecorder creates a recorder for mono audio at sampleRate.
func NewRecorder(sampleRate int) *Recorder {
	return &Recorder{sampleRate: sampleRate}
}

// Write appends samples.
func (r *Recorder) Write(samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range samples {
		r.samples = append(r.samples, int(s))
	}
}

// Len returns the number of buffered samples.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// Stop encodes everything written so far and resets the buffer.
func (r *Recorder) Stop() (Blob, error) {
	r.mu.Lock()
	samples := r.samples
	r.samples = nil
	r.mu.Unlock()

	if len(samples) == 0 {
		return Blob{}, ErrEmptyRecording
	}

	data, err := encodeWAV(samples, r.sampleRate)
	if err != nil {
		return Blob{}, err
	}
	return Blob{
		Data:     data,
		MIMEType: "audio/wav",
		Duration: time.Duration(len(samples)) * time.Second / time.Duration(r.sampleRate),
	}, nil
}

// encodeWAV writes through a temp file because the encoder needs to seek
// back and patch the RIFF header sizes.
func encodeWAV(samples []int, sampleRate int) ([]byte, error) {
	f, err := os.CreateTemp("", "voicewidget-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp wav: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}

	data, err := os.ReadFile(f.Name())
	if err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	return data, nil
}
