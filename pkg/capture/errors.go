package capture

import (
	"errors"
	"fmt"
)

// Recognition error codes. The transient ones are recovered by restarting the
// engine; anything else ends the capture session.
const (
	CodeNoSpeech     = "no-speech"
	CodeAudioCapture = "audio-capture"
	CodeNetwork      = "network"
	CodeNotAllowed   = "not-allowed"
	CodeAborted      = "aborted"
)

var (
	// ErrMicrophoneUnavailable is returned when no input device can be opened,
	// either because access was denied or because none exists. It is not retried.
	ErrMicrophoneUnavailable = errors.New("capture: microphone unavailable")

	// ErrEngineUnavailable is returned by an EngineFactory when no recognizer
	// can be built. The session then records raw audio instead.
	ErrEngineUnavailable = errors.New("capture: recognition engine unavailable")
)

// IsTransientCode reports whether code is recovered by a delayed restart.
func IsTransientCode(code string) bool {
	switch code {
	case CodeNoSpeech, CodeAudioCapture, CodeNetwork:
		return true
	default:
		return false
	}
}

// RecognitionError is a recognition engine failure.
type RecognitionError struct {
	Code      string
	Transient bool
	Err       error
}

// NewRecognitionError builds a RecognitionError, deriving Transient from code.
func NewRecognitionError(code string, err error) *RecognitionError {
	return &RecognitionError{Code: code, Transient: IsTransientCode(code), Err: err}
}

func (e *RecognitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture: recognition error %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("capture: recognition error %s", e.Code)
}

func (e *RecognitionError) Unwrap() error {
	return e.Err
}
