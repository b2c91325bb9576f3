package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Stream serves the session's snapshots as server-sent events. The current
// snapshot is sent on connect; every applied transition follows. The event
// id is the snapshot version.
func (h *SessionHandler) Stream(w http.ResponseWriter, r *http.Request) {
	sessionID, m, ok := h.owned(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", h.cfg.RetryDelay.Milliseconds()); err != nil {
		slog.Warn("failed to write SSE retry header", "error", err, "session_id", sessionID)
		return
	}
	flusher.Flush()

	snaps, cancel := m.Subscribe()
	defer cancel()

	slog.Info("Session stream connected", "session_id", sessionID)
	defer slog.Info("Session stream closed", "session_id", sessionID)

	keepalive := time.NewTicker(h.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, open := <-snaps:
			if !open {
				// Session closed.
				_ = writeSSE(w, "closed", `{"status":"closed"}`)
				flusher.Flush()
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				slog.Warn("failed to marshal snapshot", "error", err, "session_id", sessionID)
				return
			}
			if err := writeSSEWithID(w, snap.Version, "snapshot", string(data)); err != nil {
				slog.Warn("failed to write SSE snapshot", "error", err, "session_id", sessionID)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				slog.Warn("failed to write SSE keepalive ping", "error", err, "session_id", sessionID)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id uint64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
