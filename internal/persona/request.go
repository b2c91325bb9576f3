package persona

import (
	"fmt"
	"strings"

	"github.com/ashureev/synthtutor/internal/domain"
	"github.com/ashureev/synthtutor/internal/traits"
)

// SystemRules is the persona-generation ruleset sent as the system message.
const SystemRules = `You write one reply from a synthetic student in a tutoring session.
Rules:
- Stay fully in character for the trait levels given; the DOMINANT trait should be the most noticeable.
- Answer only the tutor's latest message. Do not address earlier student replies.
- Never mention traits, levels, or that you are simulated.
- Invent a short, friendly first name for the student.
- Respond with JSON only: {"name": "<student name>", "response": "<student reply>"}.`

// Request is one persona-generation call.
type Request struct {
	SystemMessage string                 `json:"systemMessage"`
	Messages      []domain.PromptMessage `json:"messages"`
}

// Reply is the endpoint's answer.
type Reply struct {
	Name     string `json:"name"`
	Response string `json:"response"`
}

// Candidate converts the reply, trimming whitespace.
func (r Reply) Candidate() domain.Candidate {
	return domain.Candidate{
		DisplayName: strings.TrimSpace(r.Name),
		Text:        strings.TrimSpace(r.Response),
	}
}

// BuildRequest turns a profile and context window into a request payload.
func BuildRequest(p traits.Profile, w ContextWindow) Request {
	var b strings.Builder
	b.WriteString("Your traits:\n")
	b.WriteString(p.Format())

	if len(w.Context) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, m := range w.Context {
			fmt.Fprintf(&b, "%s: %s\n", speaker(m.Role), m.Text)
		}
	}

	b.WriteString("\nThe tutor just said:\n")
	b.WriteString(w.Question)
	b.WriteString("\n\nWrite this student's reply.")

	return Request{
		SystemMessage: SystemRules,
		Messages: []domain.PromptMessage{
			{Role: domain.RoleUser, Content: b.String()},
		},
	}
}

func speaker(r domain.Role) string {
	if r == domain.RoleAssistant {
		return "Tutor"
	}
	return "Student"
}
