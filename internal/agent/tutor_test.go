package agent

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/synthtutor/internal/domain"
	"github.com/ashureev/synthtutor/internal/lesson"
	"github.com/ashureev/synthtutor/internal/machine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStreamer struct {
	tokens []string
	err    error
	gate   chan struct{}

	mu   sync.Mutex
	reqs []ChatRequest
}

func (f *fakeStreamer) Chat(ctx context.Context, req ChatRequest) iter.Seq2[string, error] {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return func(yield func(string, error) bool) {
		if f.gate != nil {
			select {
			case <-f.gate:
			case <-ctx.Done():
				yield("", ctx.Err())
				return
			}
		}
		for _, tok := range f.tokens {
			if !yield(tok, nil) {
				return
			}
		}
		if f.err != nil {
			yield("", f.err)
		}
	}
}

func (f *fakeStreamer) lastRequest() ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

var testLessons = lesson.Static{
	lesson.KeyInstructions: "Teach merge sort.",
	lesson.KeyLesson:       "Merge sort splits lists.",
}

func idleMachine(t *testing.T) *machine.Machine {
	t.Helper()
	m := machine.New(machine.Options{ResumeDelay: time.Millisecond})
	t.Cleanup(m.Close)
	m.Send(machine.ResumeWithName{Name: "Rae"})
	require.Eventually(t, func() bool {
		return m.Snapshot().Value == idleValue
	}, time.Second, time.Millisecond)
	return m
}

func TestTutorStartSeedsAndStreams(t *testing.T) {
	t.Parallel()

	chat := &fakeStreamer{tokens: []string{"Let's ", "begin. ", "MILESTONE[divide]"}}
	tutor := NewTutor(chat, testLessons, Config{}, nil)
	m := idleMachine(t)

	require.NoError(t, tutor.Start(context.Background(), "s1", m))

	req := chat.lastRequest()
	require.Len(t, req.Messages, 2)
	assert.Equal(t, domain.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "Teach merge sort.\n\nMerge sort splits lists.", req.Messages[0].Content)
	assert.Equal(t, "Hi, I'm Rae. I'm ready to learn about merge sort.", req.Messages[1].Content)

	snap := m.Snapshot()
	assert.True(t, snap.Matches("conversationPhase"))
	conv := snap.Context.Conversation
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, domain.RoleAssistant, conv.Messages[2].Role)
	assert.Equal(t, "Let's begin. MILESTONE[divide]", conv.Messages[2].Text)
	assert.True(t, conv.Milestones[0].Complete, "markers are checked after the turn")
}

func TestTutorStartOnSeededConversationOnlyTurns(t *testing.T) {
	t.Parallel()

	chat := &fakeStreamer{tokens: []string{"ok"}}
	tutor := NewTutor(chat, testLessons, Config{}, nil)
	m := idleMachine(t)
	m.Send(machine.AppendMessages{Messages: []domain.Message{{Role: domain.RoleUser, Text: "already here"}}})

	require.NoError(t, tutor.Start(context.Background(), "s1", m))
	req := chat.lastRequest()
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "already here", req.Messages[0].Content)
}

func TestTutorTurnFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	chat := &fakeStreamer{tokens: []string{"Half a "}, err: boom}
	tutor := NewTutor(chat, testLessons, Config{}, nil)
	m := idleMachine(t)
	m.Send(machine.AppendMessages{Messages: []domain.Message{{Role: domain.RoleUser, Text: "hi"}}})

	err := tutor.Turn(context.Background(), "s1", m)
	require.ErrorIs(t, err, boom)

	snap := m.Snapshot()
	assert.Equal(t, idleValue, snap.Value)
	require.Len(t, snap.Context.Conversation.Messages, 1)
	assert.Equal(t, "hi", snap.Context.Conversation.Messages[0].Text)
}

func TestTutorTurnRequiresIdle(t *testing.T) {
	t.Parallel()

	tutor := NewTutor(&fakeStreamer{}, testLessons, Config{}, nil)
	m := machine.New(machine.Options{})
	defer m.Close()

	assert.ErrorIs(t, tutor.Turn(context.Background(), "s1", m), ErrNotIdle)
	assert.ErrorIs(t, tutor.Start(context.Background(), "s1", m), ErrNotIdle)
}

func TestTutorRejectsConcurrentTurn(t *testing.T) {
	t.Parallel()

	chat := &fakeStreamer{tokens: []string{"x"}, gate: make(chan struct{})}
	tutor := NewTutor(chat, testLessons, Config{}, nil)
	m := idleMachine(t)

	done := make(chan error, 1)
	go func() { done <- tutor.Turn(context.Background(), "s1", m) }()
	require.Eventually(t, func() bool {
		return m.Snapshot().Value == "conversationPhase.streaming"
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, tutor.Turn(context.Background(), "s1", m), ErrTurnInProgress)
	close(chat.gate)
	require.NoError(t, <-done)
}

// staleMachine reports the snapshot taken before another driver began
// streaming.
type staleMachine struct {
	*machine.Machine
	stale machine.Snapshot
}

func (s staleMachine) Snapshot() machine.Snapshot { return s.stale }

func TestTutorDoesNotJoinAnotherDriversTurn(t *testing.T) {
	t.Parallel()

	chat := &fakeStreamer{tokens: []string{"mine"}}
	tutor := NewTutor(chat, testLessons, Config{}, nil)
	m := idleMachine(t)
	m.Send(machine.AppendMessages{Messages: []domain.Message{{Role: domain.RoleUser, Text: "hi"}}})
	stale := m.Snapshot()

	m.Send(machine.BeginStreaming{})
	m.Send(machine.AppendMessages{Messages: []domain.Message{{Role: domain.RoleAssistant, Text: "theirs"}}})

	err := tutor.Turn(context.Background(), "s1", staleMachine{Machine: m, stale: stale})
	require.ErrorIs(t, err, ErrNotIdle)

	chat.mu.Lock()
	assert.Empty(t, chat.reqs)
	chat.mu.Unlock()
	conv := m.Snapshot().Context.Conversation
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "theirs", conv.Messages[1].Text)
}

func TestTutorMissingLesson(t *testing.T) {
	t.Parallel()

	tutor := NewTutor(&fakeStreamer{}, lesson.Static{}, Config{}, nil)
	m := idleMachine(t)

	err := tutor.Start(context.Background(), "s1", m)
	require.ErrorIs(t, err, lesson.ErrNotFound)
	assert.Empty(t, m.Snapshot().Context.Conversation.Messages)
}

func TestChatRequestSkipsEmptyMessages(t *testing.T) {
	t.Parallel()

	req := chatRequest([]domain.Message{
		{Role: domain.RoleSystem, Text: "s"},
		{Role: domain.RoleAssistant, Text: ""},
		{Role: domain.RoleUser, Text: "u"},
	})
	assert.Equal(t, []domain.PromptMessage{
		{Role: domain.RoleSystem, Content: "s"},
		{Role: domain.RoleUser, Content: "u"},
	}, req.Messages)
}
