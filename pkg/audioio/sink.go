package audioio

import (
	"errors"
	"io"
)

// Encoding names the container/codec of a Clip.
type Encoding string

const (
	EncodingMP3     Encoding = "mp3"
	EncodingWAV     Encoding = "wav"
	EncodingPCM16   Encoding = "pcm16"    // raw little-endian PCM16
	EncodingOggOpus Encoding = "ogg_opus" // Ogg-encapsulated Opus
	EncodingUnknown Encoding = ""
)

// ErrPlaybackRejected is returned by Play when the output refuses to start
// audible playback (no output device, device busy, policy). Callers may retry
// muted.
var ErrPlaybackRejected = errors.New("audioio: playback rejected")

// ErrNoClip is returned by Play when nothing has been loaded.
var ErrNoClip = errors.New("audioio: no clip loaded")

// Clip is a complete, encoded audio payload ready to be bound to a Sink.
type Clip struct {
	Data       []byte
	Encoding   Encoding
	SampleRate int // required for EncodingPCM16
	Channels   int // required for EncodingPCM16
}

// Sink is a single reusable playback element. One clip is bound at a time;
// loading a new clip replaces the previous one.
type Sink interface {
	// Load decodes clip and binds it as the current source, replacing
	// (and releasing) whatever was loaded before. Playback does not start.
	Load(clip Clip) error

	// Play starts or resumes the current clip. onEnded is called once when
	// the clip plays to completion; it is not called if playback is paused,
	// rewound or released first. Play returns ErrPlaybackRejected when the
	// output cannot start audibly.
	Play(onEnded func()) error

	// Pause halts playback, keeping the position.
	Pause() error

	// Rewind moves the position back to the start.
	Rewind() error

	// Release drops the current clip and any decoder resources.
	// Releasing an empty sink is a no-op.
	Release() error

	// SetMuted silences or restores output without affecting position.
	SetMuted(muted bool)

	// Name returns the backend name.
	Name() string

	io.Closer
}

// DetectEncoding sniffs the payload header. It recognises RIFF/WAVE, Ogg and
// MP3 (ID3 tag or frame sync). Anything else is reported as EncodingUnknown.
func DetectEncoding(data []byte) Encoding {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return EncodingWAV
	case len(data) >= 4 && string(data[0:4]) == "OggS":
		return EncodingOggOpus
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return EncodingMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return EncodingMP3
	default:
		return EncodingUnknown
	}
}
