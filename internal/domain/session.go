package domain

import "time"

// Session is one student's defense run, from upload through feedback.
// It is created once with placeholder values and patched incrementally
// as the preparation call discovers the project's metadata.
type Session struct {
	ID     SessionID
	UserID UserID

	Title      string
	Level      AcademicLevel
	Techstack  []string
	FocusRatio string
	Questions  []string

	// Finalized flips to true once enough metadata is known to show the
	// session in listing views.
	Finalized bool
	Status    string

	FeedbackGeneratedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SessionPatch is a partial update: nil fields are left untouched by
// UpdatePartial, everything else overwrites. Slices use nil-means-skip,
// so an explicit empty slice clears the field.
type SessionPatch struct {
	Title               *string
	Level               *AcademicLevel
	Techstack           []string
	FocusRatio          *string
	Questions           []string
	Finalized           *bool
	Status              *string
	FeedbackGeneratedAt *time.Time
}

// IsZero reports whether the patch would change nothing.
func (p SessionPatch) IsZero() bool {
	return p.Title == nil && p.Level == nil && p.Techstack == nil &&
		p.FocusRatio == nil && p.Questions == nil && p.Finalized == nil &&
		p.Status == nil && p.FeedbackGeneratedAt == nil
}

// TranscriptTurn is one finalized utterance of an examination call.
// Turns live only in the phase controller's memory; the derived
// Feedback is the only thing persisted.
type TranscriptTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
