package agent

import (
	"context"
	"iter"
)

// Streamer streams a tutor reply token by token.
// This interface is implemented by the SSE chat client.
type Streamer interface {
	// Chat sends the conversation and yields reply tokens in arrival order.
	// A non-nil error is always the last value yielded.
	Chat(ctx context.Context, req ChatRequest) iter.Seq2[string, error]
}

// Ensure Client implements Streamer.
var _ Streamer = (*Client)(nil)
