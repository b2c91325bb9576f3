package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
)

// Client streams tutor replies from the chat stream endpoint over SSE.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a chat stream client. The HTTP client carries no
// overall timeout; callers bound a turn through the context.
func NewClient(url string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{url: url, httpClient: httpClient, logger: logger}
}

// Chat posts the conversation and yields each data frame as a token until
// the done sentinel. Error frames and non-2xx statuses end the stream with
// an error, as does EOF before the sentinel.
func (c *Client) Chat(ctx context.Context, req ChatRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		body, err := json.Marshal(req)
		if err != nil {
			yield("", fmt.Errorf("encode chat request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			yield("", fmt.Errorf("create chat request: %w", err))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			yield("", fmt.Errorf("chat request failed: %w", err))
			return
		}
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				c.logger.Debug("failed to close chat stream body", "error", closeErr)
			}
		}()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			yield("", fmt.Errorf("chat endpoint status %d: %s", resp.StatusCode, bytes.TrimSpace(msg)))
			return
		}

		stopped, done := false, false
		err = readSSE(resp.Body, func(event, data string) error {
			if event == errorEvent {
				if data == "" {
					return ErrChatStream
				}
				return fmt.Errorf("%w: %s", ErrChatStream, data)
			}
			if data == doneSentinel {
				done = true
				return errStopStream
			}
			if !yield(data, nil) {
				stopped = true
				return errStopStream
			}
			return nil
		})
		if stopped || done {
			return
		}
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		if !errors.Is(err, ErrChatStream) {
			err = fmt.Errorf("chat stream error: %w", err)
		}
		yield("", err)
	}
}
