package domain

import "time"

// The five scoring dimensions every feedback record carries, always in
// this order.
const (
	CategoryTechnicalAccuracy      = "Technical Accuracy"
	CategoryDocumentationAlignment = "Documentation Alignment"
	CategoryResponseStructure      = "Response Structure"
	CategoryCriticalThinking       = "Critical Thinking"
	CategoryTimeManagement         = "Time Management"
)

// FeedbackCategories is the fixed, ordered category set.
func FeedbackCategories() []string {
	return []string{
		CategoryTechnicalAccuracy,
		CategoryDocumentationAlignment,
		CategoryResponseStructure,
		CategoryCriticalThinking,
		CategoryTimeManagement,
	}
}

// CategoryScore is one named sub-score, 0-100, with commentary.
type CategoryScore struct {
	Name    string `json:"name"`
	Score   int    `json:"score"`
	Comment string `json:"comment"`
}

// Feedback is the scored evaluation of one examination transcript.
// A session has zero or one feedback; regeneration replaces the record
// wholesale, there are no partial feedback updates.
type Feedback struct {
	ID        FeedbackID
	SessionID SessionID
	UserID    UserID

	TotalScore      int
	CategoryScores  []CategoryScore
	Strengths       []string
	Improvements    []string
	FinalAssessment string
	DocumentGaps    []string
	Suggestions     []string

	CreatedAt time.Time
}
