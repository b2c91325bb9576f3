package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/synthtutor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		var req ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)
	return server
}

func drain(c *Client) ([]string, error) {
	var tokens []string
	for tok, err := range c.Chat(context.Background(), ChatRequest{
		Messages: []domain.PromptMessage{{Role: domain.RoleUser, Content: "hi"}},
	}) {
		if err != nil {
			return tokens, err
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

func TestClientChatStreamsUntilDone(t *testing.T) {
	t.Parallel()

	server := sseServer(t, "data: Hel\n\ndata: lo\n\ndata: !\n\ndata: [DONE]\n\ndata: ignored\n\n", http.StatusOK)
	tokens, err := drain(NewClient(server.URL, nil, nil))

	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo", "!"}, tokens)
}

func TestClientChatErrorEvent(t *testing.T) {
	t.Parallel()

	server := sseServer(t, "data: Hel\n\nevent: error\ndata: model overloaded\n\n", http.StatusOK)
	tokens, err := drain(NewClient(server.URL, nil, nil))

	require.ErrorIs(t, err, ErrChatStream)
	assert.Contains(t, err.Error(), "model overloaded")
	assert.Equal(t, []string{"Hel"}, tokens)
}

func TestClientChatNon2xx(t *testing.T) {
	t.Parallel()

	server := sseServer(t, "upstream unavailable", http.StatusBadGateway)
	tokens, err := drain(NewClient(server.URL, nil, nil))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Empty(t, tokens)
}

func TestClientChatEOFBeforeDone(t *testing.T) {
	t.Parallel()

	server := sseServer(t, "data: partial\n\n", http.StatusOK)
	tokens, err := drain(NewClient(server.URL, nil, nil))

	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, []string{"partial"}, tokens)
}

func TestClientChatEarlyBreak(t *testing.T) {
	t.Parallel()

	server := sseServer(t, "data: a\n\ndata: b\n\ndata: [DONE]\n\n", http.StatusOK)
	c := NewClient(server.URL, nil, nil)

	var got []string
	for tok, err := range c.Chat(context.Background(), ChatRequest{}) {
		require.NoError(t, err)
		got = append(got, tok)
		break
	}
	assert.Equal(t, []string{"a"}, got)
}
