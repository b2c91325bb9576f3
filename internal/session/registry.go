// Package session is the process-wide store of per-session state machines.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/synthtutor/internal/machine"
)

// Factory builds the machine for a new session. userID is the device that
// opened it.
type Factory func(sessionID, userID string) *machine.Machine

type entry struct {
	machine  *machine.Machine
	userID   string
	lastSeen time.Time
}

// Registry maps session ids to machines, creating them lazily.
type Registry struct {
	factory Factory
	now     func() time.Time
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates a Registry.
func NewRegistry(factory Factory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factory: factory,
		now:     time.Now,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Get returns the session's machine, creating it for userID if needed.
func (r *Registry) Get(sessionID, userID string) *machine.Machine {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[sessionID]; ok {
		e.lastSeen = r.now()
		return e.machine
	}
	m := r.factory(sessionID, userID)
	r.entries[sessionID] = &entry{machine: m, userID: userID, lastSeen: r.now()}
	r.logger.Info("Session created", "session_id", sessionID, "user_id", userID)
	return m
}

// Lookup returns an existing session's machine.
func (r *Registry) Lookup(sessionID string) (*machine.Machine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[sessionID]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.machine, true
}

// Touch marks the session as in use. It reports whether the session exists.
func (r *Registry) Touch(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[sessionID]
	if ok {
		e.lastSeen = r.now()
	}
	return ok
}

// Remove closes and forgets a session. It reports whether it existed.
func (r *Registry) Remove(sessionID string) bool {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	delete(r.entries, sessionID)
	r.mu.Unlock()

	if ok {
		e.machine.Close()
	}
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// EvictIdle closes every session not touched within ttl and returns their ids.
func (r *Registry) EvictIdle(ttl time.Duration) []string {
	cutoff := r.now().Add(-ttl)

	r.mu.Lock()
	var expired []*entry
	var ids []string
	for id, e := range r.entries {
		if e.lastSeen.Before(cutoff) {
			expired = append(expired, e)
			ids = append(ids, id)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	for _, e := range expired {
		e.machine.Close()
	}
	return ids
}

// CloseAll closes every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.machine.Close()
	}
}

// Owner returns the device that opened the session.
func (r *Registry) Owner(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[sessionID]
	if !ok {
		return "", false
	}
	return e.userID, true
}
