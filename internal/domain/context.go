// Package domain contains the session data model shared by the demo's
// state machine, its collaborators and the HTTP surface.
package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SentinelName is the participant name used when the user skips the prompt.
const SentinelName = "Anon"

// Responses holds the two free-form onboarding answers. Empty strings are
// valid and mean the user skipped the question.
type Responses struct {
	TopicA string `json:"topicA"`
	TopicB string `json:"topicB"`
}

// Complete returns true if both answers are non-blank.
func (r Responses) Complete() bool {
	return strings.TrimSpace(r.TopicA) != "" && strings.TrimSpace(r.TopicB) != ""
}

// Context is the single mutable aggregate owned by the state machine.
type Context struct {
	ParticipantName string        `json:"participantName"`
	Responses       Responses     `json:"freeformResponses"`
	Conversation    *Conversation `json:"conversation,omitempty"`
}

// IsAnonymous returns true if the participant never supplied a name.
func (c *Context) IsAnonymous() bool {
	return c.ParticipantName == "" || c.ParticipantName == SentinelName
}

// Clone returns a deep copy safe to hand to readers outside the machine.
func (c *Context) Clone() Context {
	out := Context{
		ParticipantName: c.ParticipantName,
		Responses:       c.Responses,
	}
	if c.Conversation != nil {
		conv := c.Conversation.Clone()
		out.Conversation = &conv
	}
	return out
}

// NormalizeName trims the raw name and upper-cases its first letter.
// Blank input maps to SentinelName.
func NormalizeName(raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		return SentinelName
	}
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}
