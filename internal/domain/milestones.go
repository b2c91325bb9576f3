package domain

// Milestone is one checkpoint in the lesson's progress model. Only
// Complete ever changes, and only from false to true.
type Milestone struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Complete    bool   `json:"isComplete"`
}

// DefaultMilestones returns the merge-sort lesson checkpoints, all incomplete.
func DefaultMilestones() []Milestone {
	return []Milestone{
		{
			ID:          "divide",
			Label:       "Understanding the divide step",
			Description: "Explains how the input is split in half until single elements remain.",
		},
		{
			ID:          "merge",
			Label:       "Understanding the merge step",
			Description: "Describes combining two sorted halves by repeatedly taking the smaller head.",
		},
		{
			ID:          "recursion",
			Label:       "Grasping recursive nature",
			Description: "Connects the divide and merge steps into a recursive procedure with a base case.",
		},
		{
			ID:          "complexity",
			Label:       "Analyzing time complexity",
			Description: "Derives O(n log n) from log n levels of linear merging work.",
		},
	}
}
