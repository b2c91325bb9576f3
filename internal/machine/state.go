// Package machine implements the demo's orchestration state machine: the
// onboarding flow followed by the tutoring conversation phase.
package machine

import (
	"strings"

	"github.com/ashureev/synthtutor/internal/domain"
)

// State is a top-level machine state.
type State string

// Top-level states.
const (
	StateWelcome              State = "welcome"
	StateResuming             State = "resuming"
	StateNameCapture          State = "nameCapture"
	StateTopicACapture        State = "topicACapture"
	StateTopicAAcknowledged   State = "topicAAcknowledged"
	StateTopicBCapture        State = "topicBCapture"
	StateConversationComplete State = "conversationComplete"
	StateConversationPhase    State = "conversationPhase"
)

// Phase is a sub-state of StateConversationPhase.
type Phase string

// Conversation sub-states. PhaseInitializing is transient and never
// observed in a snapshot.
const (
	PhaseInitializing         Phase = "initializing"
	PhaseIdle                 Phase = "idle"
	PhaseStreaming            Phase = "streaming"
	PhaseGeneratingCandidates Phase = "generatingCandidates"
)

// Snapshot is a read-only copy of the machine for rendering.
type Snapshot struct {
	// Value is the dotted state path, e.g. "conversationPhase.idle".
	Value   string         `json:"value"`
	State   State          `json:"state"`
	Phase   Phase          `json:"phase,omitempty"`
	Context domain.Context `json:"context"`
	// Version increases by one on every applied transition.
	Version uint64 `json:"version"`
}

// Matches reports whether the snapshot is in the state named by path.
// A parent path matches all of its sub-states.
func (s Snapshot) Matches(path string) bool {
	return s.Value == path || strings.HasPrefix(s.Value, path+".")
}

func stateValue(st State, ph Phase) string {
	if st == StateConversationPhase && ph != "" {
		return string(st) + "." + string(ph)
	}
	return string(st)
}
