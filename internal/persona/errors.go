package persona

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoCandidates means every reply in a batch was missing a name or text.
	ErrNoCandidates = errors.New("no valid candidates")
	// ErrNoQuestion means the conversation has no tutor message to answer.
	ErrNoQuestion = errors.New("no tutor message to answer")
)

// TransientError is a failure that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string { return e.err.Error() }

func (e *TransientError) Unwrap() error { return e.err }

// FatalError is a failure that should not be retried.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string { return e.err.Error() }

func (e *FatalError) Unwrap() error { return e.err }

// IsTransient returns true if err is retryable.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

func classifyStatus(status int, body []byte) error {
	msg := string(body)
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	err := fmt.Errorf("persona endpoint status %d: %s", status, msg)
	if status == http.StatusTooManyRequests || status >= 500 {
		return &TransientError{err: err}
	}
	return &FatalError{err: err}
}
