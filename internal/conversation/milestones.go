package conversation

import (
	"regexp"

	"github.com/ashureev/synthtutor/internal/domain"
)

// The tutor embeds progress markers such as "MILESTONE [merge]" in its text.
var markerPattern = regexp.MustCompile(`(?i)\bMILESTONE\s*\[\s*([A-Za-z0-9_-]+)\s*\]`)

// Markers returns the milestone ids referenced in text, in order.
func Markers(text string) []string {
	matches := markerPattern.FindAllStringSubmatch(text, -1)
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m[1])
	}
	return ids
}

// ScanMilestones inspects only the most recent message. When it is an
// assistant message carrying a marker for a known milestone, that milestone
// is marked complete. The input slice is not modified.
func ScanMilestones(messages []domain.Message, milestones []domain.Milestone) []domain.Milestone {
	out := append([]domain.Milestone(nil), milestones...)
	if len(messages) == 0 {
		return out
	}
	last := messages[len(messages)-1]
	if last.Role != domain.RoleAssistant {
		return out
	}
	for _, id := range Markers(last.Text) {
		out = Complete(out, id)
	}
	return out
}

// Complete marks the milestone with the given id. Unknown ids are ignored.
// Completion is never reverted.
func Complete(milestones []domain.Milestone, id string) []domain.Milestone {
	for i := range milestones {
		if milestones[i].ID == id {
			milestones[i].Complete = true
		}
	}
	return milestones
}
