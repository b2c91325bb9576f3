package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/synthtutor/internal/identity"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// LookupFunc resolves a session id to its machine. It reports false when
// the session does not exist or belongs to another device.
type LookupFunc func(sessionID, userID string) (Machine, bool)

// RateLimiter implements a per-device rate limiter.
// The key is the device id, not the session id, so clients cannot bypass
// throttling by rotating session ids.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter and starts the background eviction goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		done:     make(chan struct{}),
	}
	rl.startEviction()
	return rl
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	recent := r.recentLocked(key, now.Add(-r.window))
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Stop ends the eviction goroutine.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *RateLimiter) recentLocked(key string, cutoff time.Time) []time.Time {
	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	return recent
}

// startEviction periodically removes expired keys so the map stays bounded.
func (r *RateLimiter) startEviction() {
	go func() {
		ticker := time.NewTicker(r.window)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
			}
			r.mu.Lock()
			cutoff := time.Now().Add(-r.window)
			for key := range r.requests {
				if fresh := r.recentLocked(key, cutoff); len(fresh) == 0 {
					delete(r.requests, key)
				} else {
					r.requests[key] = fresh
				}
			}
			r.mu.Unlock()
		}
	}()
}

// HandlerConfig holds turn endpoint limits.
type HandlerConfig struct {
	RequestsPerWindow int
	Window            time.Duration
}

// Handler serves the tutor turn endpoint. Turns run in the background; the
// response only acknowledges that one was started.
type Handler struct {
	tutor       *Tutor
	lookup      LookupFunc
	rateLimiter *RateLimiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHandler creates a turn handler.
func NewHandler(tutor *Tutor, lookup LookupFunc, cfg HandlerConfig) *Handler {
	if cfg.RequestsPerWindow <= 0 {
		cfg.RequestsPerWindow = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		tutor:       tutor,
		lookup:      lookup,
		rateLimiter: NewRateLimiter(cfg.RequestsPerWindow, cfg.Window),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// RegisterRoutes registers the turn route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/sessions/{id}/turns", h.HandleTurn)
}

// HandleTurn handles POST /api/sessions/{id}/turns. The first turn of a
// conversation also inserts the opening messages.
func (h *Handler) HandleTurn(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	userID := identity.UserIDFromContext(r.Context())
	m, ok := h.lookup(sessionID, userID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}

	if !h.rateLimiter.Allow(userID) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		return
	}

	snap := m.Snapshot()
	if snap.Value != idleValue {
		writeJSON(w, http.StatusConflict, map[string]string{"error": ErrNotIdle.Error(), "state": snap.Value})
		return
	}

	reqID := chiMiddleware.GetReqID(r.Context())
	slog.Info("Tutor turn requested",
		"session_id", sessionID,
		"request_id", reqID,
	)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.tutor.Start(h.ctx, sessionID, m); err != nil {
			level := slog.LevelWarn
			if errors.Is(err, ErrTurnInProgress) || errors.Is(err, ErrNotIdle) {
				level = slog.LevelDebug
			}
			slog.Log(h.ctx, level, "Tutor turn did not complete",
				"session_id", sessionID,
				"request_id", reqID,
				"error", err,
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, snap)
}

// Close stops in-flight turns and waits for them to return.
func (h *Handler) Close() {
	h.cancel()
	h.wg.Wait()
	h.rateLimiter.Stop()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}
