package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/synthtutor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistPostsRecord(t *testing.T) {
	t.Parallel()

	at := time.UnixMilli(1_767_225_600_000)
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	c := New(server.URL, nil, nil)
	err := c.Persist(context.Background(), domain.ResponseRecord{
		Name:      "Ada",
		Responses: domain.Responses{TopicA: "a", TopicB: "b"},
		Timestamp: at,
	})
	require.NoError(t, err)

	assert.Equal(t, "Ada", got["name"])
	assert.Equal(t, map[string]any{"topicA": "a", "topicB": "b"}, got["responses"])
	assert.InDelta(t, float64(at.UnixMilli()), got["timestamp"], 0)
}

func TestPersistNon2xx(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	err := New(server.URL, nil, nil).Persist(context.Background(), domain.ResponseRecord{Name: "Ada"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestPersistUnreachable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := New(url, nil, nil).Persist(context.Background(), domain.ResponseRecord{Name: "Ada"})
	assert.Error(t, err)
}
