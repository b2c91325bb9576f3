package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/synthtutor/internal/agent"
	"github.com/ashureev/synthtutor/internal/identity"
	"github.com/ashureev/synthtutor/internal/machine"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

const writeTimeout = 5 * time.Second

// Sessions resolves session ids for the live channel.
type Sessions interface {
	Lookup(sessionID string) (*machine.Machine, bool)
	Owner(sessionID string) (string, bool)
	// Touch keeps the session from being evicted as idle.
	Touch(sessionID string) bool
}

// TurnStarter runs a tutor turn in the background of a session.
type TurnStarter interface {
	Start(ctx context.Context, sessionID string, m agent.Machine) error
}

// Handler upgrades /ws/sessions/{id} to a WebSocket. Inbound text
// frames are machine events; outbound frames carry snapshots.
type Handler struct {
	sessions      Sessions
	conns         *ConnManager
	tutor         TurnStarter
	allowedOrigin string
	isDev         bool

	ctx    context.Context
	cancel context.CancelFunc
	turns  sync.WaitGroup
}

// NewHandler creates a live handler. tutor may be nil, which rejects
// "turn" frames.
func NewHandler(sessions Sessions, conns *ConnManager, tutor TurnStarter, allowedOrigin string, isDev bool) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		sessions:      sessions,
		conns:         conns,
		tutor:         tutor,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// RegisterRoutes registers the live route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/sessions/{id}", h.ServeHTTP)
}

// outbound is the shape of every frame the server sends.
type outbound struct {
	Type     string            `json:"type"`
	Snapshot *machine.Snapshot `json:"snapshot,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	userID := identity.UserIDFromContext(r.Context())
	slog.Info("Live connection request", "user_id", userID, "session_id", sessionID, "ip", r.RemoteAddr)

	if owner, ok := h.sessions.Owner(sessionID); !ok || owner != userID {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	m, ok := h.sessions.Lookup(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.conns.Register(sessionID, ws)
	defer h.conns.Unregister(sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	snaps, unsubscribe := m.Subscribe()
	defer unsubscribe()

	// Writes happen on the output loop and on replies from the input loop.
	var writeMu sync.Mutex
	send := func(msg outbound) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
		defer wcancel()
		return ws.Write(wctx, websocket.MessageText, data)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, m, sessionID, send)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, snaps, sessionID, send)
	}()

	wg.Wait()
	slog.Info("Live connection ended", "session_id", sessionID)
}

// Close cancels turns started from live connections and waits for them.
func (h *Handler) Close() {
	h.cancel()
	h.turns.Wait()
	h.conns.CloseAll()
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) inputLoop(ctx context.Context, ws *websocket.Conn, m *machine.Machine, sessionID string, send func(outbound) error) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}
		h.sessions.Touch(sessionID)

		var envelope struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(message, &envelope)

		switch envelope.Type {
		case "ping":
			if err := send(outbound{Type: "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
			}
			continue
		case "turn":
			h.startTurn(sessionID, m, send)
			continue
		}

		ev, err := machine.DecodeEvent(message)
		if err != nil {
			if err := send(outbound{Type: "error", Error: err.Error()}); err != nil {
				slog.Debug("Failed to send decode error", "error", err)
			}
			continue
		}
		m.Send(ev)
	}
}

func (h *Handler) startTurn(sessionID string, m *machine.Machine, send func(outbound) error) {
	if h.tutor == nil {
		_ = send(outbound{Type: "error", Error: "tutor not configured"})
		return
	}
	h.turns.Add(1)
	go func() {
		defer h.turns.Done()
		if err := h.tutor.Start(h.ctx, sessionID, m); err != nil {
			slog.Warn("Live tutor turn did not complete", "session_id", sessionID, "error", err)
			// The connection may already be gone.
			_ = send(outbound{Type: "error", Error: err.Error()})
		}
	}()
}

func (h *Handler) outputLoop(ctx context.Context, snaps <-chan machine.Snapshot, sessionID string, send func(outbound) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				_ = send(outbound{Type: "closed"})
				return
			}
			if err := send(outbound{Type: "snapshot", Snapshot: &snap}); err != nil {
				if ctx.Err() == nil {
					slog.Debug("WebSocket write error", "error", err, "session_id", sessionID)
				}
				return
			}
		}
	}
}
