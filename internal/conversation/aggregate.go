// Package conversation holds the pure state transformations applied to a
// tutoring conversation: token aggregation and milestone scanning.
package conversation

import "github.com/ashureev/synthtutor/internal/domain"

// New returns the initial conversation: no messages, every milestone
// incomplete, streaming inactive.
func New() *domain.Conversation {
	return &domain.Conversation{
		Messages:   []domain.Message{},
		Milestones: domain.DefaultMilestones(),
	}
}

// Append applies a batch of messages to conv.
//
// When conv is not streaming the batch replaces the message list wholesale;
// messages without an ID are assigned one. While streaming, only the text of
// the batch's final entry is used, as the next token of the current
// assistant turn: the first token appends one new assistant message and
// every later token rewrites that same message in place.
func Append(conv *domain.Conversation, batch []domain.Message, ids *domain.IDSource) {
	if !conv.Streaming.Active {
		replace(conv, batch, ids)
		return
	}
	if len(batch) == 0 {
		return
	}
	token := batch[len(batch)-1].Text

	if idx := streamingIndex(conv); idx >= 0 {
		conv.Streaming.PartialText += token
		conv.Messages[idx].Text = conv.Streaming.PartialText
		return
	}

	id := ids.Next()
	conv.Messages = append(conv.Messages, domain.Message{
		ID:   id,
		Role: domain.RoleAssistant,
		Text: token,
	})
	conv.Streaming.PartialText = token
	conv.Streaming.MessageID = id
}

// DropStreamingMessage removes the assistant message of an unfinished turn.
// It reports whether a message was removed.
func DropStreamingMessage(conv *domain.Conversation) bool {
	idx := streamingIndex(conv)
	if idx < 0 {
		return false
	}
	conv.Messages = append(conv.Messages[:idx], conv.Messages[idx+1:]...)
	return true
}

// streamingIndex returns the index of the current turn's message when it is
// still the last assistant message, or -1.
func streamingIndex(conv *domain.Conversation) int {
	if conv.Streaming.MessageID == 0 || len(conv.Messages) == 0 {
		return -1
	}
	last := len(conv.Messages) - 1
	m := conv.Messages[last]
	if m.Role != domain.RoleAssistant || m.ID != conv.Streaming.MessageID {
		return -1
	}
	return last
}

func replace(conv *domain.Conversation, batch []domain.Message, ids *domain.IDSource) {
	msgs := make([]domain.Message, len(batch))
	copy(msgs, batch)
	for i := range msgs {
		if msgs[i].ID == 0 {
			msgs[i].ID = ids.Next()
			continue
		}
		ids.Observe(msgs[i].ID)
	}
	conv.Messages = msgs
}
