package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/synthtutor/internal/domain"
	"github.com/ashureev/synthtutor/internal/lesson"
	"github.com/ashureev/synthtutor/internal/machine"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("synthtutor/agent")

// Machine is the part of a session's state machine the tutor drives.
type Machine interface {
	Send(ev machine.Event)
	Apply(ev machine.Event) bool
	Snapshot() machine.Snapshot
}

var _ Machine = (*machine.Machine)(nil)

const idleValue = "conversationPhase.idle"

// Tutor runs tutor turns: it streams a reply from the chat endpoint and
// feeds every token into the session's machine.
type Tutor struct {
	chat    Streamer
	lessons lesson.Source
	cfg     Config
	logger  *slog.Logger

	mu   sync.Mutex
	busy map[Machine]struct{}
}

// NewTutor creates a Tutor.
func NewTutor(chat Streamer, lessons lesson.Source, cfg Config, logger *slog.Logger) *Tutor {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = def.TurnTimeout
	}
	if cfg.Opening == "" {
		cfg.Opening = def.Opening
	}
	return &Tutor{
		chat:    chat,
		lessons: lessons,
		cfg:     cfg,
		logger:  logger,
		busy:    make(map[Machine]struct{}),
	}
}

// Start seeds an empty conversation with the system prompt and the opening
// user message, then runs the first turn. On a conversation that already
// has messages it behaves like Turn.
func (t *Tutor) Start(ctx context.Context, sessionID string, m Machine) error {
	if !t.acquire(m) {
		return ErrTurnInProgress
	}
	defer t.release(m)

	snap := m.Snapshot()
	if snap.Value != idleValue {
		return ErrNotIdle
	}
	if len(snap.Context.Conversation.Messages) == 0 {
		prompt, err := t.systemPrompt(ctx)
		if err != nil {
			return err
		}
		m.Send(machine.AppendMessages{Messages: []domain.Message{
			{Role: domain.RoleSystem, Text: prompt},
			{Role: domain.RoleUser, Text: fmt.Sprintf(t.cfg.Opening, snap.Context.ParticipantName)},
		}})
	}
	return t.turn(ctx, sessionID, m)
}

// Turn streams one tutor reply for the current conversation. It returns the
// transport error, if any, after the machine has been told the stream failed.
func (t *Tutor) Turn(ctx context.Context, sessionID string, m Machine) error {
	if !t.acquire(m) {
		return ErrTurnInProgress
	}
	defer t.release(m)
	return t.turn(ctx, sessionID, m)
}

func (t *Tutor) turn(ctx context.Context, sessionID string, m Machine) error {
	// Another driver may have begun streaming since the caller looked.
	if !m.Apply(machine.BeginStreaming{}) {
		return ErrNotIdle
	}
	req := chatRequest(m.Snapshot().Context.Conversation.Messages)

	ctx, span := tracer.Start(ctx, "tutor.turn")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, t.cfg.TurnTimeout)
	defer cancel()

	t.logger.Info("Tutor turn started",
		"session_id", sessionID,
		"message_count", len(req.Messages),
	)

	chunks, length := 0, 0
	for token, err := range t.chat.Chat(ctx, req) {
		if err != nil {
			m.Send(machine.StreamFailed{Error: err.Error()})
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			t.logger.Error("Tutor stream failed",
				"session_id", sessionID,
				"stream_chunks", chunks,
				"error", err,
			)
			return err
		}
		if token == "" {
			continue
		}
		chunks++
		length += len(token)
		m.Send(machine.AppendMessages{Messages: []domain.Message{
			{Role: domain.RoleAssistant, Text: token},
		}})
	}
	m.Send(machine.EndStreaming{})
	m.Send(machine.CheckMilestones{})

	span.SetAttributes(attribute.Int("tutor.stream_chunks", chunks))
	t.logger.Info("Tutor turn complete",
		"session_id", sessionID,
		"stream_chunks", chunks,
		"content_length", length,
	)
	return nil
}

func (t *Tutor) systemPrompt(ctx context.Context) (string, error) {
	instructions, err := t.lessons.FetchText(ctx, lesson.KeyInstructions)
	if err != nil {
		return "", fmt.Errorf("fetch tutor instructions: %w", err)
	}
	body, err := t.lessons.FetchText(ctx, lesson.KeyLesson)
	if err != nil {
		return "", fmt.Errorf("fetch lesson body: %w", err)
	}
	return strings.TrimSpace(instructions) + "\n\n" + strings.TrimSpace(body), nil
}

func (t *Tutor) acquire(m Machine) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.busy[m]; ok {
		return false
	}
	t.busy[m] = struct{}{}
	return true
}

func (t *Tutor) release(m Machine) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.busy, m)
}

// chatRequest converts the conversation into the endpoint's wire shape,
// skipping messages without text.
func chatRequest(messages []domain.Message) ChatRequest {
	out := make([]domain.PromptMessage, 0, len(messages))
	for _, m := range messages {
		if m.Text == "" {
			continue
		}
		out = append(out, domain.PromptMessage{Role: m.Role, Content: m.Text})
	}
	return ChatRequest{Messages: out}
}
