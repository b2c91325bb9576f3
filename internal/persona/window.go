// Package persona builds synthetic-student requests and fans them out to the
// persona-generation endpoint.
package persona

import "github.com/ashureev/synthtutor/internal/domain"

// RedactedPlaceholder replaces earlier student turns so a persona is not
// anchored on what previous personas said.
const RedactedPlaceholder = "[previous student reply]"

// DefaultWindowSize is the maximum number of context messages sent along
// with the open question.
const DefaultWindowSize = 5

// ContextWindow is the slice of conversation a persona sees.
type ContextWindow struct {
	// Question is the tutor's latest message.
	Question string
	// Context holds up to the window size of earlier non-system messages,
	// oldest first, with user text redacted.
	Context []domain.Message
}

// Window extracts the open question and its trailing context from messages.
// It returns false when there is no tutor message to answer.
func Window(messages []domain.Message, size int) (ContextWindow, bool) {
	if size < 0 {
		size = 0
	}
	q := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleAssistant {
			q = i
			break
		}
	}
	if q < 0 {
		return ContextWindow{}, false
	}

	var ctx []domain.Message
	for i := q - 1; i >= 0 && len(ctx) < size; i-- {
		m := messages[i]
		if m.Role == domain.RoleSystem {
			continue
		}
		if m.Role == domain.RoleUser {
			m.Text = RedactedPlaceholder
			m.DisplayPersona = ""
		}
		ctx = append(ctx, m)
	}
	for i, j := 0, len(ctx)-1; i < j; i, j = i+1, j-1 {
		ctx[i], ctx[j] = ctx[j], ctx[i]
	}

	return ContextWindow{Question: messages[q].Text, Context: ctx}, true
}
