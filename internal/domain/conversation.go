package domain

// Role tags who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in the conversation. Insertion order is
// chronological and rendering order.
type Message struct {
	ID             int64  `json:"id"`
	Role           Role   `json:"role"`
	Text           string `json:"text"`
	DisplayPersona string `json:"displayPersona,omitempty"`
}

// Candidate is one synthetic-student reply offered to the user.
type Candidate struct {
	DisplayName string `json:"displayName"`
	Text        string `json:"text"`
}

// Valid reports whether the candidate has both a display name and text.
func (c Candidate) Valid() bool {
	return c.DisplayName != "" && c.Text != ""
}

// Streaming tracks the in-flight tutor response. PartialText is non-empty
// only while Active is true. MessageID is the assistant message being
// written by the current turn, zero until its first token arrives.
type Streaming struct {
	Active      bool   `json:"active"`
	PartialText string `json:"partialText"`
	MessageID   int64  `json:"messageId,omitempty"`
}

// Conversation is the tutoring-phase state.
type Conversation struct {
	Messages             []Message   `json:"messages"`
	Milestones           []Milestone `json:"milestones"`
	Streaming            Streaming   `json:"streaming"`
	Candidates           []Candidate `json:"candidateReplies,omitempty"`
	GeneratingCandidates bool        `json:"isGeneratingCandidates"`
}

// Clone deep-copies the conversation.
func (c *Conversation) Clone() Conversation {
	out := Conversation{
		Streaming:            c.Streaming,
		GeneratingCandidates: c.GeneratingCandidates,
	}
	if c.Messages != nil {
		out.Messages = append([]Message(nil), c.Messages...)
	}
	if c.Milestones != nil {
		out.Milestones = append([]Milestone(nil), c.Milestones...)
	}
	if c.Candidates != nil {
		out.Candidates = append([]Candidate(nil), c.Candidates...)
	}
	return out
}
