package machine

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ashureev/synthtutor/internal/domain"
)

// Event is anything that can be dispatched to a Machine.
type Event interface {
	Type() string
}

// ErrUnknownEvent is returned by DecodeEvent for an unrecognized type.
var ErrUnknownEvent = errors.New("unknown event type")

// Begin leaves the welcome screen for name capture.
type Begin struct{}

// ResumeWithName restores a prior session and skips the topic captures.
type ResumeWithName struct {
	Name      string           `json:"name"`
	Responses domain.Responses `json:"responses"`
}

// SubmitName records the participant name.
type SubmitName struct {
	Name string `json:"name"`
}

// SkipName records the sentinel name.
type SkipName struct{}

// SubmitTopicA records the first free-form answer.
type SubmitTopicA struct {
	Text string `json:"text"`
}

// SubmitTopicB records the second free-form answer.
type SubmitTopicB struct {
	Text string `json:"text"`
}

// Continue enters the conversation phase after onboarding.
type Continue struct{}

// BeginStreaming starts a tutor turn.
type BeginStreaming struct{}

// AppendMessages carries either a full message list (outside streaming) or
// a token in its last entry (while streaming).
type AppendMessages struct {
	Messages []domain.Message `json:"messages"`
}

// EndStreaming finalizes the tutor turn and starts candidate generation.
type EndStreaming struct{}

// StreamFailed aborts the tutor turn.
type StreamFailed struct {
	Error string `json:"error,omitempty"`
}

// SelectCandidate appends the chosen synthetic reply as a user message.
type SelectCandidate struct {
	Persona     string `json:"persona"`
	Text        string `json:"text"`
	MilestoneID string `json:"milestoneId,omitempty"`
}

// CheckMilestones scans the latest tutor message for milestone markers.
type CheckMilestones struct{}

func (Begin) Type() string           { return "begin" }
func (ResumeWithName) Type() string  { return "resumeWithName" }
func (SubmitName) Type() string      { return "submitName" }
func (SkipName) Type() string        { return "skipName" }
func (SubmitTopicA) Type() string    { return "submitTopicA" }
func (SubmitTopicB) Type() string    { return "submitTopicB" }
func (Continue) Type() string        { return "continue" }
func (BeginStreaming) Type() string  { return "beginStreaming" }
func (AppendMessages) Type() string  { return "appendMessages" }
func (EndStreaming) Type() string    { return "endStreaming" }
func (StreamFailed) Type() string    { return "streamFailed" }
func (SelectCandidate) Type() string { return "selectCandidate" }
func (CheckMilestones) Type() string { return "checkMilestones" }

// delayElapsed fires when a timed transition's delay has passed.
type delayElapsed struct {
	gen uint64
}

func (delayElapsed) Type() string { return "delayElapsed" }

// candidatesSettled carries a fan-out outcome back into the machine.
type candidatesSettled struct {
	gen        uint64
	candidates []domain.Candidate
	err        error
}

func (candidatesSettled) Type() string { return "candidatesSettled" }

// DecodeEvent parses a JSON event of the form {"type": "...", ...}.
// Internal events cannot be decoded.
func DecodeEvent(raw []byte) (Event, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	switch envelope.Type {
	case "begin":
		return Begin{}, nil
	case "skipName":
		return SkipName{}, nil
	case "continue":
		return Continue{}, nil
	case "beginStreaming":
		return BeginStreaming{}, nil
	case "endStreaming":
		return EndStreaming{}, nil
	case "checkMilestones":
		return CheckMilestones{}, nil
	case "resumeWithName":
		return decodeAs[ResumeWithName](raw)
	case "submitName":
		return decodeAs[SubmitName](raw)
	case "submitTopicA":
		return decodeAs[SubmitTopicA](raw)
	case "submitTopicB":
		return decodeAs[SubmitTopicB](raw)
	case "appendMessages":
		return decodeAs[AppendMessages](raw)
	case "streamFailed":
		return decodeAs[StreamFailed](raw)
	case "selectCandidate":
		return decodeAs[SelectCandidate](raw)
	case "":
		return nil, errors.New("decode event: missing type")
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, envelope.Type)
	}
}

func decodeAs[T Event](raw []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", ev.Type(), err)
	}
	return ev, nil
}
