package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vivaprep/defense-agent/internal/app/extract"
	"github.com/vivaprep/defense-agent/internal/app/questions"
	"github.com/vivaprep/defense-agent/internal/domain"
	"github.com/vivaprep/defense-agent/internal/observability"
)

// ErrNotOwner guards every session mutation behind ownership.
var ErrNotOwner = errors.New("session belongs to another user")

const initialStatus = "Preparing for defense"

// Service owns the session lifecycle outside the voice calls: creation
// from an upload, listing, and the explicit cascade delete.
type Service struct {
	sessions domain.SessionStore
	feedback domain.FeedbackStore
	synth    *questions.Synthesizer
	now      func() time.Time
}

func NewService(sessions domain.SessionStore, feedback domain.FeedbackStore, synth *questions.Synthesizer) *Service {
	return &Service{
		sessions: sessions,
		feedback: feedback,
		synth:    synth,
		now:      time.Now,
	}
}

type CreateInput struct {
	UserID domain.UserID
	Title  string
	Level  domain.AcademicLevel

	// Document is optional; sessions without one run on fallback
	// questions and generic context.
	Document    []byte
	ContentType string
	Filename    string
}

type CreateOutput struct {
	Session *domain.Session

	// DocumentText is the extracted text, kept for the voice call's
	// project context; it is not persisted.
	DocumentText string
	Warning      string
}

// Create runs the upload-to-session pipeline: extract text, synthesize
// questions, persist the draft record. The draft is not finalized
// until the preparation call discovers enough metadata.
func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateOutput, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if in.Level == "" {
		in.Level = domain.LevelUndetermined
	}
	if in.Title == "" {
		in.Title = "Untitled project"
	}

	log := observability.LoggerFromContext(ctx).With("user_id", in.UserID, "title", in.Title)
	log.Info("creating defense session")

	var (
		docText string
		warning string
	)
	if len(in.Document) > 0 {
		res, err := extract.Extract(in.Document, in.ContentType, in.Filename)
		if err != nil {
			return nil, fmt.Errorf("extracting document: %w", err)
		}
		docText = res.Text
		warning = res.Warning
		if !res.Success {
			log.Warn("document extraction degraded to placeholder", "warning", res.Warning)
		}
	}

	qs := s.synth.Synthesize(ctx, questions.Input{
		DocumentText: docText,
		Title:        in.Title,
		Level:        in.Level,
		Techstack:    nil,
		Count:        questions.DefaultCount,
	})

	now := s.now()
	sess := &domain.Session{
		ID:        domain.SessionID(uuid.NewString()),
		UserID:    in.UserID,
		Title:     in.Title,
		Level:     in.Level,
		Questions: qs,
		Finalized: false,
		Status:    initialStatus,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.sessions.CreateSession(sess); err != nil {
		log.Error("failed to create session", "error", err)
		return nil, err
	}

	log.Info("session created", "session_id", sess.ID, "questions", len(qs))

	return &CreateOutput{
		Session:      sess,
		DocumentText: docText,
		Warning:      warning,
	}, nil
}

// Get returns the session if it belongs to the user.
func (s *Service) Get(ctx context.Context, id domain.SessionID, userID domain.UserID) (*domain.Session, error) {
	sess, err := s.sessions.GetSession(id)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ErrNotOwner
	}
	return sess, nil
}

// ListMine returns the user's finalized sessions.
func (s *Service) ListMine(ctx context.Context, userID domain.UserID, limit int) ([]*domain.Session, error) {
	return s.sessions.ListSessionsByUser(userID, limit)
}

// ListCommunity returns other users' finalized sessions.
func (s *Service) ListCommunity(ctx context.Context, userID domain.UserID, limit int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.sessions.ListSessionsByOthers(userID, limit)
}

// DeleteResult reports a cascade delete. A failed feedback delete is
// tolerated: the session is still removed and the failure surfaced as
// a warning rather than an error.
type DeleteResult struct {
	FeedbackDeleted bool
	Warning         string
}

// Delete removes the session and, when present, its feedback record.
// The two collections are independent, so both deletes are explicit.
func (s *Service) Delete(ctx context.Context, id domain.SessionID, userID domain.UserID) (*DeleteResult, error) {
	log := observability.LoggerFromContext(ctx).With("session_id", id, "user_id", userID)

	sess, err := s.sessions.GetSession(id)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ErrNotOwner
	}

	result := &DeleteResult{}

	fb, err := s.feedback.GetFeedbackBySessionAndUser(id, userID)
	switch {
	case err == nil:
		if delErr := s.feedback.DeleteFeedback(fb.ID); delErr != nil {
			log.Warn("feedback delete failed, continuing with session delete", "error", delErr)
			result.Warning = "associated feedback could not be deleted"
		} else {
			result.FeedbackDeleted = true
		}
	case errors.Is(err, domain.ErrFeedbackNotFound):
		// nothing to cascade
	default:
		log.Warn("feedback lookup failed, continuing with session delete", "error", err)
		result.Warning = "associated feedback could not be checked"
	}

	if err := s.sessions.DeleteSession(id); err != nil {
		log.Error("session delete failed", "error", err)
		return nil, err
	}

	log.Info("session deleted", "feedback_deleted", result.FeedbackDeleted)
	return result, nil
}

// GetFeedback returns the feedback for a session owned by the user.
func (s *Service) GetFeedback(ctx context.Context, id domain.SessionID, userID domain.UserID) (*domain.Feedback, error) {
	return s.feedback.GetFeedbackBySessionAndUser(id, userID)
}
