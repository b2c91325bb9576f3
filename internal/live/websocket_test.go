package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/synthtutor/internal/agent"
	"github.com/ashureev/synthtutor/internal/identity"
	"github.com/ashureev/synthtutor/internal/machine"
	"github.com/ashureev/synthtutor/internal/session"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTutor struct {
	calls atomic.Int32
	err   error
}

func (f *fakeTutor) Start(_ context.Context, _ string, _ agent.Machine) error {
	f.calls.Add(1)
	return f.err
}

type liveServer struct {
	url  string
	reg  *session.Registry
	live *Handler
}

func newLiveServer(t *testing.T, tutor TurnStarter) *liveServer {
	t.Helper()
	reg := session.NewRegistry(func(sessionID, _ string) *machine.Machine {
		return machine.New(machine.Options{SessionID: sessionID})
	}, nil)
	t.Cleanup(reg.CloseAll)

	h := NewHandler(reg, NewConnManager(), tutor, "https://tutor.example.com", false)
	t.Cleanup(h.Close)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(identity.WithUserID(r.Context(), r.Header.Get("X-Test-User"))))
		})
	})
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &liveServer{url: "ws" + strings.TrimPrefix(srv.URL, "http"), reg: reg, live: h}
}

func (s *liveServer) dial(t *testing.T, ctx context.Context, sessionID, user string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("X-Test-User", user)
	conn, _, err := websocket.Dial(ctx, s.url+"/ws/sessions/"+sessionID, &websocket.DialOptions{HTTPHeader: header})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) outbound {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg outbound
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func writeFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, v string) {
	t.Helper()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(v)))
}

func TestLiveEventsProduceSnapshots(t *testing.T) {
	s := newLiveServer(t, nil)
	s.reg.Get("s1", "u1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := s.dial(t, ctx, "s1", "u1")

	first := readFrame(t, ctx, conn)
	require.Equal(t, "snapshot", first.Type)
	assert.Equal(t, "welcome", first.Snapshot.Value)

	writeFrame(t, ctx, conn, `{"type":"begin"}`)
	next := readFrame(t, ctx, conn)
	require.Equal(t, "snapshot", next.Type)
	assert.Equal(t, "nameCapture", next.Snapshot.Value)

	writeFrame(t, ctx, conn, `{"type":"ping"}`)
	assert.Equal(t, "pong", readFrame(t, ctx, conn).Type)

	writeFrame(t, ctx, conn, `{"type":"warp"}`)
	bad := readFrame(t, ctx, conn)
	assert.Equal(t, "error", bad.Type)
	assert.Contains(t, bad.Error, "unknown event")
}

func TestLiveTurnFrames(t *testing.T) {
	t.Run("no tutor", func(t *testing.T) {
		s := newLiveServer(t, nil)
		s.reg.Get("s1", "u1")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		conn := s.dial(t, ctx, "s1", "u1")
		readFrame(t, ctx, conn)

		writeFrame(t, ctx, conn, `{"type":"turn"}`)
		msg := readFrame(t, ctx, conn)
		assert.Equal(t, "error", msg.Type)
		assert.Equal(t, "tutor not configured", msg.Error)
	})

	t.Run("tutor error is reported", func(t *testing.T) {
		tutor := &fakeTutor{err: errors.New("not idle")}
		s := newLiveServer(t, tutor)
		s.reg.Get("s1", "u1")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		conn := s.dial(t, ctx, "s1", "u1")
		readFrame(t, ctx, conn)

		writeFrame(t, ctx, conn, `{"type":"turn"}`)
		msg := readFrame(t, ctx, conn)
		assert.Equal(t, "error", msg.Type)
		assert.Equal(t, "not idle", msg.Error)
		assert.Equal(t, int32(1), tutor.calls.Load())
	})
}

func TestLiveTrafficKeepsSessionAlive(t *testing.T) {
	s := newLiveServer(t, nil)
	s.reg.Get("s1", "u1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := s.dial(t, ctx, "s1", "u1")
	readFrame(t, ctx, conn)

	for range 5 {
		time.Sleep(20 * time.Millisecond)
		writeFrame(t, ctx, conn, `{"type":"ping"}`)
		require.Equal(t, "pong", readFrame(t, ctx, conn).Type)
	}

	assert.Empty(t, s.reg.EvictIdle(60*time.Millisecond))
	_, ok := s.reg.Lookup("s1")
	assert.True(t, ok)
}

func TestLiveRejectsForeignSession(t *testing.T) {
	s := newLiveServer(t, nil)
	s.reg.Get("s1", "u1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	header := http.Header{}
	header.Set("X-Test-User", "u2")
	_, resp, err := websocket.Dial(ctx, s.url+"/ws/sessions/s1", &websocket.DialOptions{HTTPHeader: header})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLiveRejectsOrigin(t *testing.T) {
	s := newLiveServer(t, nil)
	s.reg.Get("s1", "u1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	header := http.Header{}
	header.Set("X-Test-User", "u1")
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.Dial(ctx, s.url+"/ws/sessions/s1", &websocket.DialOptions{HTTPHeader: header})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestLiveSessionCloseEndsConnection(t *testing.T) {
	s := newLiveServer(t, nil)
	s.reg.Get("s1", "u1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := s.dial(t, ctx, "s1", "u1")
	readFrame(t, ctx, conn)

	s.reg.Remove("s1")
	assert.Equal(t, "closed", readFrame(t, ctx, conn).Type)
	_, _, err := conn.Read(ctx)
	assert.Error(t, err)
}

func TestConnManagerReplacesConnection(t *testing.T) {
	s := newLiveServer(t, nil)
	s.reg.Get("s1", "u1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	old := s.dial(t, ctx, "s1", "u1")
	readFrame(t, ctx, old)

	fresh := s.dial(t, ctx, "s1", "u1")
	readFrame(t, ctx, fresh)

	_, _, err := old.Read(ctx)
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return s.live.conns.count() == 1 }, time.Second, 10*time.Millisecond)
}
