// Package agent talks to the tutor's chat stream endpoint and drives tutor
// turns against a session's state machine.
package agent

import (
	"errors"
	"time"

	"github.com/ashureev/synthtutor/internal/domain"
)

// ChatRequest is the body sent to the chat stream endpoint.
type ChatRequest struct {
	Messages []domain.PromptMessage `json:"messages"`
}

// Sentinel frames and errors of the chat stream protocol.
const (
	doneSentinel = "[DONE]"
	errorEvent   = "error"
)

var (
	// ErrChatStream means the endpoint reported a failure mid-stream.
	ErrChatStream = errors.New("chat stream returned error")
	// ErrNotIdle means a turn was requested while the conversation was not
	// waiting for the tutor.
	ErrNotIdle = errors.New("conversation is not idle")
	// ErrTurnInProgress means another turn is already streaming for the session.
	ErrTurnInProgress = errors.New("tutor turn already in progress")
)

// Config holds tutor driver configuration.
type Config struct {
	// TurnTimeout bounds one streamed tutor reply.
	TurnTimeout time.Duration
	// Opening is the first user message sent once the conversation starts.
	// %s is replaced with the participant name.
	Opening string
}

// DefaultConfig returns default tutor driver configuration.
func DefaultConfig() Config {
	return Config{
		TurnTimeout: 2 * time.Minute,
		Opening:     "Hi, I'm %s. I'm ready to learn about merge sort.",
	}
}
