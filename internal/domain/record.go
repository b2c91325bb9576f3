package domain

import "time"

// ResponseRecord is what onboarding persists so a returning participant can
// skip straight to the conversation.
type ResponseRecord struct {
	Name      string    `json:"name"`
	Responses Responses `json:"responses"`
	Timestamp time.Time `json:"timestamp"`
}

// PromptMessage is the role-tagged wire shape both LLM endpoints accept.
type PromptMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
