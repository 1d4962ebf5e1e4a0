package playback

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-voicewidget/pkg/audioio"
)

// opusSampleRate is the rate libopusfile always decodes to.
const opusSampleRate = 48000

// ErrUnsupportedEncoding is returned for clips no decoder can handle.
var ErrUnsupportedEncoding = errors.New("playback: unsupported encoding")

// Decode turns an encoded clip into a seekable beep stream. When the clip
// carries no encoding the payload header is sniffed.
func Decode(clip audioio.Clip) (beep.StreamSeekCloser, beep.Format, error) {
	enc := clip.Encoding
	if enc == audioio.EncodingUnknown {
		enc = audioio.DetectEncoding(clip.Data)
	}

	switch enc {
	case audioio.EncodingMP3:
		s, f, err := mp3.Decode(io.NopCloser(bytes.NewReader(clip.Data)))
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("decode mp3: %w", err)
		}
		return s, f, nil

	case audioio.EncodingWAV:
		s, f, err := wav.Decode(bytes.NewReader(clip.Data))
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("decode wav: %w", err)
		}
		return s, f, nil

	case audioio.EncodingPCM16:
		if clip.SampleRate <= 0 {
			return nil, beep.Format{}, fmt.Errorf("decode pcm: sample rate required")
		}
		channels := clip.Channels
		if channels <= 0 {
			channels = 1
		}
		s := newPCMStreamer(audioio.BytesToSamples(clip.Data), channels)
		return s, pcmFormat(clip.SampleRate, channels), nil

	case audioio.EncodingOggOpus:
		samples, err := decodeOggOpus(clip.Data)
		if err != nil {
			return nil, beep.Format{}, err
		}
		return newPCMStreamer(samples, 1), pcmFormat(opusSampleRate, 1), nil

	default:
		return nil, beep.Format{}, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, enc)
	}
}

// decodeOggOpus decodes a mono Ogg Opus payload to 48 kHz PCM16.
func decodeOggOpus(data []byte) ([]int16, error) {
	stream, err := opus.NewStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode opus: %w", err)
	}
	defer stream.Close()

	var out []int16
	buf := make([]int16, 960*4)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err == io.EOF || (err == nil && n == 0) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode opus: %w", err)
		}
	}
	return out, nil
}

func pcmFormat(rate, channels int) beep.Format {
	return beep.Format{
		SampleRate:  beep.SampleRate(rate),
		NumChannels: channels,
		Precision:   2,
	}
}

// pcmStreamer plays interleaved PCM16 samples.
type pcmStreamer struct {
	samples  []int16
	channels int
	pos      int
}

func newPCMStreamer(samples []int16, channels int) *pcmStreamer {
	return &pcmStreamer{samples: samples, channels: channels}
}

func (p *pcmStreamer) Stream(out [][2]float64) (int, bool) {
	frames := p.Len()
	if p.pos >= frames {
		return 0, false
	}
	n := 0
	for n < len(out) && p.pos < frames {
		i := p.pos * p.channels
		left := float64(p.samples[i]) / 32768
		right := left
		if p.channels > 1 {
			right = float64(p.samples[i+1]) / 32768
		}
		out[n] = [2]float64{left, right}
		n++
		p.pos++
	}
	return n, true
}

func (p *pcmStreamer) Err() error { return nil }

func (p *pcmStreamer) Len() int { return len(p.samples) / p.channels }

func (p *pcmStreamer) Position() int { return p.pos }

func (p *pcmStreamer) Seek(pos int) error {
	if pos < 0 || pos > p.Len() {
		return fmt.Errorf("playback: seek %d out of range [0, %d]", pos, p.Len())
	}
	p.pos = pos
	return nil
}

func (p *pcmStreamer) Close() error { return nil }

var _ beep.StreamSeekCloser = (*pcmStreamer)(nil)
