package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"ray":     "Ray",
		"  rae  ": "Rae",
		"":        SentinelName,
		"   ":     SentinelName,
		"élodie":  "Élodie",
		"Sam":     "Sam",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeName(in), "input %q", in)
	}
}

func TestIDSourceStrictlyIncreasingOnStalledClock(t *testing.T) {
	t.Parallel()

	fixed := time.UnixMilli(1_700_000_000_000)
	ids := NewIDSource(func() time.Time { return fixed })

	prev := ids.Next()
	for i := 0; i < 100; i++ {
		next := ids.Next()
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestIDSourceObserve(t *testing.T) {
	t.Parallel()

	ids := NewIDSource(func() time.Time { return time.UnixMilli(10) })
	ids.Observe(500)
	assert.Equal(t, int64(501), ids.Next())
}

func TestContextCloneDoesNotAlias(t *testing.T) {
	t.Parallel()

	c := Context{
		ParticipantName: "Ray",
		Conversation: &Conversation{
			Messages:   []Message{{ID: 1, Role: RoleUser, Text: "hi"}},
			Milestones: DefaultMilestones(),
			Candidates: []Candidate{{DisplayName: "Ada", Text: "ok"}},
		},
	}

	snap := c.Clone()
	c.Conversation.Messages[0].Text = "changed"
	c.Conversation.Milestones[0].Complete = true
	c.Conversation.Candidates[0].Text = "changed"

	assert.Equal(t, "hi", snap.Conversation.Messages[0].Text)
	assert.False(t, snap.Conversation.Milestones[0].Complete)
	assert.Equal(t, "ok", snap.Conversation.Candidates[0].Text)
}

func TestResponsesComplete(t *testing.T) {
	t.Parallel()

	assert.False(t, Responses{}.Complete())
	assert.False(t, Responses{TopicA: "x"}.Complete())
	assert.True(t, Responses{TopicA: "x", TopicB: "y"}.Complete())
}
