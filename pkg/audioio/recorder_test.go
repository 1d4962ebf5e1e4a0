package audioio

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/go-audio/wav"
)

func TestRecorderEmpty(t *testing.T) {
	r := NewRecorder(16000)
	if _, err := r.Stop(); !errors.Is(err, ErrEmptyRecording) {
		t.Errorf("err = %v, want ErrEmptyRecording", err)
	}
}

func TestRecorderProducesWAV(t *testing.T) {
	r := NewRecorder(16000)
	r.Write(sine(440, 0.3, 16000, 8000))
	r.Write(sine(440, 0.3, 16000, 8000))

	if r.Len() != 16000 {
		t.Fatalf("Len = %d, want 16000", r.Len())
	}

	blob, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if blob.MIMEType != "audio/wav" {
		t.Errorf("MIMEType = %q", blob.MIMEType)
	}
	if blob.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", blob.Duration)
	}
	if DetectEncoding(blob.Data) != EncodingWAV {
		t.Fatal("blob is not a WAV file")
	}

	dec := wav.NewDecoder(bytes.NewReader(blob.Data))
	if !dec.IsValidFile() {
		t.Fatal("decoder rejected blob")
	}
	if dec.SampleRate != 16000 || dec.NumChans != 1 || dec.BitDepth != 16 {
		t.Errorf("format = %d Hz, %d ch, %d bit", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}

	if r.Len() != 0 {
		t.Error("Stop should reset the buffer")
	}
}
