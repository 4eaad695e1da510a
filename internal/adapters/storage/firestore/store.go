package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vivaprep/defense-agent/internal/domain"
)

// Store implements domain.SessionStore and domain.FeedbackStore on two
// independent top-level collections related by session_id only. There
// is no foreign-key enforcement: deleting a session does not touch its
// feedback, cascading is the caller's job.
type Store struct {
	client *firestore.Client
	now    func() time.Time
}

func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client, now: time.Now}, nil
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) sessionsCol() *firestore.CollectionRef {
	return s.client.Collection("sessions")
}

func (s *Store) sessionDoc(id domain.SessionID) *firestore.DocumentRef {
	return s.sessionsCol().Doc(string(id))
}

func (s *Store) feedbackCol() *firestore.CollectionRef {
	return s.client.Collection("feedback")
}

func (s *Store) feedbackDoc(id domain.FeedbackID) *firestore.DocumentRef {
	return s.feedbackCol().Doc(string(id))
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type sessionDoc struct {
	UserID              string     `firestore:"user_id"`
	Title               string     `firestore:"title"`
	Level               string     `firestore:"level"`
	Techstack           []string   `firestore:"techstack"`
	FocusRatio          string     `firestore:"focus_ratio"`
	Questions           []string   `firestore:"questions"`
	Finalized           bool       `firestore:"finalized"`
	Status              string     `firestore:"status"`
	FeedbackGeneratedAt *time.Time `firestore:"feedback_generated_at"`
	CreatedAt           time.Time  `firestore:"created_at"`
	UpdatedAt           time.Time  `firestore:"updated_at"`
}

type categoryScoreDoc struct {
	Name    string `firestore:"name"`
	Score   int    `firestore:"score"`
	Comment string `firestore:"comment"`
}

type feedbackDoc struct {
	SessionID       string             `firestore:"session_id"`
	UserID          string             `firestore:"user_id"`
	TotalScore      int                `firestore:"total_score"`
	CategoryScores  []categoryScoreDoc `firestore:"category_scores"`
	Strengths       []string           `firestore:"strengths"`
	Improvements    []string           `firestore:"improvements"`
	FinalAssessment string             `firestore:"final_assessment"`
	DocumentGaps    []string           `firestore:"document_gaps"`
	Suggestions     []string           `firestore:"suggestions"`
	CreatedAt       time.Time          `firestore:"created_at"`
}

// ─────────────────────────────────────────
// SessionStore implementation
// ─────────────────────────────────────────

func (s *Store) CreateSession(session *domain.Session) error {
	ctx := context.Background()

	doc := sessionDoc{
		UserID:              string(session.UserID),
		Title:               session.Title,
		Level:               string(session.Level),
		Techstack:           session.Techstack,
		FocusRatio:          session.FocusRatio,
		Questions:           session.Questions,
		Finalized:           session.Finalized,
		Status:              session.Status,
		FeedbackGeneratedAt: session.FeedbackGeneratedAt,
		CreatedAt:           session.CreatedAt,
		UpdatedAt:           session.UpdatedAt,
	}

	_, err := s.sessionDoc(session.ID).Create(ctx, doc)
	if err != nil {
		return fmt.Errorf("firestore CreateSession: %w", err)
	}
	return nil
}

func (s *Store) GetSession(id domain.SessionID) (*domain.Session, error) {
	ctx := context.Background()

	snap, err := s.sessionDoc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("firestore GetSession: %w", err)
	}

	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore GetSession decode: %w", err)
	}

	return toDomainSession(id, doc), nil
}

// UpdatePartial builds a merge map from the fields actually set on the
// patch. Unset fields never reach Firestore, so they cannot clobber
// values written by a concurrent patch. An empty patch skips the write
// entirely.
func (s *Store) UpdatePartial(id domain.SessionID, patch domain.SessionPatch) error {
	if patch.IsZero() {
		return nil
	}

	ctx := context.Background()

	fields := map[string]interface{}{
		"updated_at": s.now(),
	}
	if patch.Title != nil {
		fields["title"] = *patch.Title
	}
	if patch.Level != nil {
		fields["level"] = string(*patch.Level)
	}
	if patch.Techstack != nil {
		fields["techstack"] = patch.Techstack
	}
	if patch.FocusRatio != nil {
		fields["focus_ratio"] = *patch.FocusRatio
	}
	if patch.Questions != nil {
		fields["questions"] = patch.Questions
	}
	if patch.Finalized != nil {
		fields["finalized"] = *patch.Finalized
	}
	if patch.Status != nil {
		fields["status"] = *patch.Status
	}
	if patch.FeedbackGeneratedAt != nil {
		fields["feedback_generated_at"] = *patch.FeedbackGeneratedAt
	}

	_, err := s.sessionDoc(id).Set(ctx, fields, firestore.MergeAll)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.ErrSessionNotFound
		}
		return fmt.Errorf("firestore UpdatePartial: %w", err)
	}
	return nil
}

func (s *Store) DeleteSession(id domain.SessionID) error {
	ctx := context.Background()

	if _, err := s.sessionDoc(id).Delete(ctx); err != nil {
		return fmt.Errorf("firestore DeleteSession: %w", err)
	}
	return nil
}

func (s *Store) ListSessionsByUser(userID domain.UserID, limit int) ([]*domain.Session, error) {
	q := s.sessionsCol().
		Where("user_id", "==", string(userID)).
		Where("finalized", "==", true).
		OrderBy("created_at", firestore.Desc)
	return s.listSessions(q, limit, "ListSessionsByUser")
}

func (s *Store) ListSessionsByOthers(excluding domain.UserID, limit int) ([]*domain.Session, error) {
	q := s.sessionsCol().
		Where("user_id", "!=", string(excluding)).
		Where("finalized", "==", true)
	return s.listSessions(q, limit, "ListSessionsByOthers")
}

func (s *Store) listSessions(q firestore.Query, limit int, op string) ([]*domain.Session, error) {
	ctx := context.Background()

	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*domain.Session
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("firestore %s: %w", op, err)
		}

		var doc sessionDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode sessionDoc: %w", err)
		}

		out = append(out, toDomainSession(domain.SessionID(snap.Ref.ID), doc))
	}
	return out, nil
}

func toDomainSession(id domain.SessionID, doc sessionDoc) *domain.Session {
	return &domain.Session{
		ID:                  id,
		UserID:              domain.UserID(doc.UserID),
		Title:               doc.Title,
		Level:               domain.AcademicLevel(doc.Level),
		Techstack:           doc.Techstack,
		FocusRatio:          doc.FocusRatio,
		Questions:           doc.Questions,
		Finalized:           doc.Finalized,
		Status:              doc.Status,
		FeedbackGeneratedAt: doc.FeedbackGeneratedAt,
		CreatedAt:           doc.CreatedAt,
		UpdatedAt:           doc.UpdatedAt,
	}
}

// ─────────────────────────────────────────
// FeedbackStore implementation
// ─────────────────────────────────────────

func (s *Store) CreateFeedback(fb *domain.Feedback) error {
	ctx := context.Background()

	scores := make([]categoryScoreDoc, 0, len(fb.CategoryScores))
	for _, cs := range fb.CategoryScores {
		scores = append(scores, categoryScoreDoc{Name: cs.Name, Score: cs.Score, Comment: cs.Comment})
	}

	doc := feedbackDoc{
		SessionID:       string(fb.SessionID),
		UserID:          string(fb.UserID),
		TotalScore:      fb.TotalScore,
		CategoryScores:  scores,
		Strengths:       fb.Strengths,
		Improvements:    fb.Improvements,
		FinalAssessment: fb.FinalAssessment,
		DocumentGaps:    fb.DocumentGaps,
		Suggestions:     fb.Suggestions,
		CreatedAt:       fb.CreatedAt,
	}

	// Set (not Create): regenerating feedback replaces the record.
	_, err := s.feedbackDoc(fb.ID).Set(ctx, doc)
	if err != nil {
		return fmt.Errorf("firestore CreateFeedback: %w", err)
	}
	return nil
}

func (s *Store) GetFeedbackBySessionAndUser(sessionID domain.SessionID, userID domain.UserID) (*domain.Feedback, error) {
	ctx := context.Background()

	q := s.feedbackCol().
		Where("session_id", "==", string(sessionID)).
		Where("user_id", "==", string(userID)).
		Limit(1)

	iter := q.Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if err != nil {
		if err == iterator.Done {
			return nil, domain.ErrFeedbackNotFound
		}
		return nil, fmt.Errorf("firestore GetFeedbackBySessionAndUser: %w", err)
	}

	var doc feedbackDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode feedbackDoc: %w", err)
	}

	scores := make([]domain.CategoryScore, 0, len(doc.CategoryScores))
	for _, cs := range doc.CategoryScores {
		scores = append(scores, domain.CategoryScore{Name: cs.Name, Score: cs.Score, Comment: cs.Comment})
	}

	return &domain.Feedback{
		ID:              domain.FeedbackID(snap.Ref.ID),
		SessionID:       sessionID,
		UserID:          userID,
		TotalScore:      doc.TotalScore,
		CategoryScores:  scores,
		Strengths:       doc.Strengths,
		Improvements:    doc.Improvements,
		FinalAssessment: doc.FinalAssessment,
		DocumentGaps:    doc.DocumentGaps,
		Suggestions:     doc.Suggestions,
		CreatedAt:       doc.CreatedAt,
	}, nil
}

func (s *Store) DeleteFeedback(id domain.FeedbackID) error {
	ctx := context.Background()

	if _, err := s.feedbackDoc(id).Delete(ctx); err != nil {
		return fmt.Errorf("firestore DeleteFeedback: %w", err)
	}
	return nil
}
