package webhook

import (
	"errors"
	"fmt"
)

var (
	// ErrWebhook matches every *Error.
	ErrWebhook = errors.New("webhook: request failed")

	// ErrNoURL is returned when no webhook URL is configured.
	ErrNoURL = errors.New("webhook: no URL configured")
)

// Error is a failed webhook call: a non-2xx status or a transport failure.
type Error struct {
	// StatusCode is zero for transport failures.
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook: status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("webhook: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrWebhook) hold for any *Error.
func (e *Error) Is(target error) bool {
	return target == ErrWebhook
}
