package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/synthtutor/internal/domain"
	"github.com/ashureev/synthtutor/internal/identity"
	"github.com/ashureev/synthtutor/internal/machine"
	"github.com/ashureev/synthtutor/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// Sessions is the session registry as seen by the API.
type Sessions interface {
	Get(sessionID, userID string) *machine.Machine
	Lookup(sessionID string) (*machine.Machine, bool)
	Owner(sessionID string) (string, bool)
	Remove(sessionID string) bool
}

// ResumeLoader finds a device's saved onboarding answers.
type ResumeLoader interface {
	LoadResume(ctx context.Context, userID string, maxAge time.Duration) (domain.ResponseRecord, error)
}

// SessionConfig tunes the session endpoints.
type SessionConfig struct {
	ResumeMaxAge       time.Duration
	MaxRequestBodySize int64
	KeepaliveInterval  time.Duration
	RetryDelay         time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.ResumeMaxAge <= 0 {
		c.ResumeMaxAge = store.DefaultResumeMaxAge
	}
	if c.MaxRequestBodySize <= 0 {
		c.MaxRequestBodySize = 1 << 20
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 10 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	return c
}

// SessionHandler exposes the per-session state machines over HTTP.
type SessionHandler struct {
	sessions Sessions
	resumes  ResumeLoader
	cfg      SessionConfig
}

// NewSessionHandler creates a session handler. resumes may be nil, which
// disables the resume endpoint.
func NewSessionHandler(sessions Sessions, resumes ResumeLoader, cfg SessionConfig) *SessionHandler {
	return &SessionHandler{sessions: sessions, resumes: resumes, cfg: cfg.withDefaults()}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/sessions", h.Create)
	r.Get("/api/sessions/{id}", h.Get)
	r.Delete("/api/sessions/{id}", h.Delete)
	r.Post("/api/sessions/{id}/events", h.SendEvent)
	r.Post("/api/sessions/{id}/resume", h.Resume)
	r.Get("/api/sessions/{id}/stream", h.Stream)
}

type sessionResponse struct {
	SessionID string           `json:"session_id"`
	Snapshot  machine.Snapshot `json:"snapshot"`
}

// Create starts a new session in the welcome state.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessionID := uuid.NewString()
	m := h.sessions.Get(sessionID, userID)
	slog.Info("Session opened",
		"session_id", sessionID,
		"user_id", userID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)
	JSON(w, http.StatusCreated, sessionResponse{SessionID: sessionID, Snapshot: m.Snapshot()})
}

// Get returns the session's current snapshot.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID, m, ok := h.owned(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, sessionResponse{SessionID: sessionID, Snapshot: m.Snapshot()})
}

// Delete closes the session.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sessionID, _, ok := h.owned(w, r)
	if !ok {
		return
	}
	h.sessions.Remove(sessionID)
	slog.Info("Session closed", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// SendEvent decodes one event, dispatches it and returns the resulting
// snapshot. Events invalid in the current state leave it unchanged.
func (h *SessionHandler) SendEvent(w http.ResponseWriter, r *http.Request) {
	sessionID, m, ok := h.owned(w, r)
	if !ok {
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxRequestBodySize))
	if err != nil {
		Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	ev, err := machine.DecodeEvent(raw)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	m.Send(ev)
	slog.Debug("Session event dispatched", "session_id", sessionID, "event", ev.Type())
	JSON(w, http.StatusOK, sessionResponse{SessionID: sessionID, Snapshot: m.Snapshot()})
}

// Resume restores the device's saved onboarding answers into a fresh session.
func (h *SessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	sessionID, m, ok := h.owned(w, r)
	if !ok {
		return
	}
	if h.resumes == nil {
		Error(w, http.StatusNotFound, "resume not available")
		return
	}
	if snap := m.Snapshot(); snap.State != machine.StateWelcome {
		JSON(w, http.StatusConflict, map[string]string{"error": "session already started", "state": snap.Value})
		return
	}

	userID := identity.UserIDFromContext(r.Context())
	rec, err := h.resumes.LoadResume(r.Context(), userID, h.cfg.ResumeMaxAge)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "no saved responses")
		return
	}
	if err != nil {
		slog.Error("Failed to load resume record", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load saved responses")
		return
	}

	m.Send(machine.ResumeWithName{Name: rec.Name, Responses: rec.Responses})
	slog.Info("Session resumed", "session_id", sessionID, "user_id", userID)
	JSON(w, http.StatusOK, sessionResponse{SessionID: sessionID, Snapshot: m.Snapshot()})
}

// owned resolves the {id} session and checks it belongs to the caller.
// Sessions of other devices are reported as missing.
func (h *SessionHandler) owned(w http.ResponseWriter, r *http.Request) (string, *machine.Machine, bool) {
	sessionID := chi.URLParam(r, "id")
	owner, ok := h.sessions.Owner(sessionID)
	if !ok || owner != identity.UserIDFromContext(r.Context()) {
		Error(w, http.StatusNotFound, "session not found")
		return "", nil, false
	}
	m, ok := h.sessions.Lookup(sessionID)
	if !ok {
		Error(w, http.StatusNotFound, "session not found")
		return "", nil, false
	}
	return sessionID, m, true
}
