package domain

import (
	"context"
	"errors"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrFeedbackNotFound = errors.New("feedback not found")

	// ErrNoCredentials marks the evaluator as unconfigured. Callers
	// treat it as a first-class condition and fall back locally rather
	// than failing the user-visible operation.
	ErrNoCredentials = errors.New("evaluator credentials not configured")
)

// SessionStore defines session persistence. UpdatePartial only patches
// the fields set on the patch and always stamps UpdatedAt.
type SessionStore interface {
	CreateSession(session *Session) error
	GetSession(id SessionID) (*Session, error)
	UpdatePartial(id SessionID, patch SessionPatch) error
	DeleteSession(id SessionID) error
	ListSessionsByUser(userID UserID, limit int) ([]*Session, error)
	ListSessionsByOthers(excluding UserID, limit int) ([]*Session, error)
}

// FeedbackStore defines feedback persistence. Feedback and sessions are
// independent collections related by session id only; nothing cascades
// at the storage layer.
type FeedbackStore interface {
	CreateFeedback(fb *Feedback) error
	GetFeedbackBySessionAndUser(sessionID SessionID, userID UserID) (*Feedback, error)
	DeleteFeedback(id FeedbackID) error
}

// Schema describes the shape of a structured evaluator response. It is
// a deliberately small subset of JSON schema; adapters translate it to
// whatever their backend expects.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Minimum     *float64           `json:"minimum,omitempty"`
	Maximum     *float64           `json:"maximum,omitempty"`
}

// GenerateOptions tune a single evaluator call.
type GenerateOptions struct {
	System      string
	Temperature float32
	MaxTokens   int32
}

// Evaluator is the narrow capability the app needs from a hosted
// language model: free text for question generation, schema-validated
// JSON for scoring.
type Evaluator interface {
	GenerateText(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	GenerateStructured(ctx context.Context, prompt string, schema *Schema, opts GenerateOptions) ([]byte, error)
}

// CallVariables is the configuration map handed to the voice transport
// when a call starts. The examiner workflow reads these to drive the
// conversation.
type CallVariables struct {
	Username           string   `json:"username"`
	UserID             string   `json:"userId"`
	SessionID          string   `json:"sessionId"`
	Phase              string   `json:"phase"`
	IsExaminer         bool     `json:"isExaminer"`
	UseExternalEval    bool     `json:"useExternalEvaluatorForExamination"`
	ProjectContext     string   `json:"projectContext"`
	ProjectTitle       string   `json:"projectTitle"`
	AcademicLevel      string   `json:"academicLevel"`
	Technologies       string   `json:"technologies"`
	Questions          []string `json:"questions"`
	HasDocumentContext bool     `json:"hasDocumentContext"`
}

// CallTransport starts and stops voice calls on the hosted provider.
// Call lifecycle events arrive out-of-band (webhooks) and are routed to
// the phase controller by session id.
type CallTransport interface {
	StartCall(ctx context.Context, workflowID string, vars CallVariables) error
	StopCall(ctx context.Context, sessionID SessionID) error
}
