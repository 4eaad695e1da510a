package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vivaprep/defense-agent/internal/domain"
	"github.com/vivaprep/defense-agent/internal/observability"
)

// MinTranscriptTurns is the shortest transcript worth scoring.
const MinTranscriptTurns = 3

const (
	defaultScore      = 75
	defaultAssessment = "The examination was completed. A detailed assessment could not be produced for every dimension, so defaults were applied where the evaluator left gaps."
)

// Synthesizer scores an examination transcript through the evaluator
// and persists the resulting feedback record.
type Synthesizer struct {
	evaluator domain.Evaluator
	store     domain.FeedbackStore
	sessions  domain.SessionStore
	now       func() time.Time
}

func NewSynthesizer(evaluator domain.Evaluator, store domain.FeedbackStore, sessions domain.SessionStore) *Synthesizer {
	return &Synthesizer{
		evaluator: evaluator,
		store:     store,
		sessions:  sessions,
		now:       time.Now,
	}
}

type Input struct {
	Session    *domain.Session
	Transcript []domain.TranscriptTurn
}

// Generate evaluates the transcript and writes the feedback record.
// With no evaluator configured it persists a simplified default record
// instead; a configured evaluator that fails surfaces the error and
// writes nothing.
func (s *Synthesizer) Generate(ctx context.Context, in Input) (*domain.Feedback, error) {
	if in.Session == nil {
		return nil, fmt.Errorf("session is required")
	}
	if len(in.Transcript) < MinTranscriptTurns {
		return nil, fmt.Errorf("transcript too short: %d turns, need %d", len(in.Transcript), MinTranscriptTurns)
	}

	ctx = observability.WithSessionID(ctx, string(in.Session.ID))
	log := observability.LoggerFromContext(ctx).With("turns", len(in.Transcript))

	var fb *domain.Feedback
	if s.evaluator == nil {
		log.Info("no evaluator configured, writing simplified feedback")
		fb = s.simplified(in.Session)
	} else {
		raw, err := s.evaluator.GenerateStructured(ctx, buildPrompt(in), evaluationSchema(), domain.GenerateOptions{
			Temperature: 0.2,
		})
		if errors.Is(err, domain.ErrNoCredentials) {
			log.Info("evaluator credentials missing, writing simplified feedback")
			fb = s.simplified(in.Session)
		} else if err != nil {
			log.Error("feedback evaluation failed", "error", err)
			return nil, fmt.Errorf("evaluating transcript: %w", err)
		} else {
			fb, err = s.fromStructured(in.Session, raw)
			if err != nil {
				log.Error("feedback response unusable", "error", err)
				return nil, err
			}
		}
	}

	if err := s.store.CreateFeedback(fb); err != nil {
		log.Error("failed to persist feedback", "error", err)
		return nil, err
	}

	// Stamp the session; a failure here is logged but does not undo
	// the feedback that was already written.
	generatedAt := fb.CreatedAt
	done := "Defense completed"
	if err := s.sessions.UpdatePartial(in.Session.ID, domain.SessionPatch{
		Status:              &done,
		FeedbackGeneratedAt: &generatedAt,
	}); err != nil {
		log.Warn("failed to stamp session with feedback time", "error", err)
	}

	log.Info("feedback generated", "feedback_id", fb.ID, "total_score", fb.TotalScore)
	return fb, nil
}

// evaluationResult mirrors the schema handed to the evaluator. Every
// field is optional on the wire; defaults fill the gaps.
type evaluationResult struct {
	TotalScore     *int `json:"total_score"`
	CategoryScores []struct {
		Name    string `json:"name"`
		Score   *int   `json:"score"`
		Comment string `json:"comment"`
	} `json:"category_scores"`
	Strengths       []string `json:"strengths"`
	Improvements    []string `json:"improvements"`
	FinalAssessment string   `json:"final_assessment"`
	DocumentGaps    []string `json:"document_gaps"`
	Suggestions     []string `json:"suggestions"`
}

func (s *Synthesizer) fromStructured(session *domain.Session, raw []byte) (*domain.Feedback, error) {
	var res evaluationResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decoding evaluation result: %w", err)
	}

	byName := make(map[string]domain.CategoryScore, len(res.CategoryScores))
	for _, cs := range res.CategoryScores {
		score := defaultScore
		if cs.Score != nil {
			score = clampScore(*cs.Score)
		}
		byName[strings.ToLower(strings.TrimSpace(cs.Name))] = domain.CategoryScore{
			Name:    cs.Name,
			Score:   score,
			Comment: cs.Comment,
		}
	}

	// Clients rely on the five fixed categories in a fixed order, so
	// normalize whatever came back onto that frame.
	scores := make([]domain.CategoryScore, 0, len(domain.FeedbackCategories()))
	for _, name := range domain.FeedbackCategories() {
		if cs, ok := byName[strings.ToLower(name)]; ok {
			cs.Name = name
			scores = append(scores, cs)
			continue
		}
		scores = append(scores, domain.CategoryScore{
			Name:    name,
			Score:   defaultScore,
			Comment: "Not enough signal to assess this dimension.",
		})
	}

	total := defaultScore
	if res.TotalScore != nil {
		total = clampScore(*res.TotalScore)
	}

	assessment := strings.TrimSpace(res.FinalAssessment)
	if assessment == "" {
		assessment = defaultAssessment
	}

	return &domain.Feedback{
		ID:              domain.FeedbackID(uuid.NewString()),
		SessionID:       session.ID,
		UserID:          session.UserID,
		TotalScore:      total,
		CategoryScores:  scores,
		Strengths:       orEmpty(res.Strengths),
		Improvements:    orEmpty(res.Improvements),
		FinalAssessment: assessment,
		DocumentGaps:    orEmpty(res.DocumentGaps),
		Suggestions:     orEmpty(res.Suggestions),
		CreatedAt:       s.now(),
	}, nil
}

// simplified is the fixed record written when no evaluator is
// configured. The system always produces some feedback rather than
// blocking the student.
func (s *Synthesizer) simplified(session *domain.Session) *domain.Feedback {
	scores := make([]domain.CategoryScore, 0, 5)
	for _, name := range domain.FeedbackCategories() {
		scores = append(scores, domain.CategoryScore{
			Name:    name,
			Score:   defaultScore,
			Comment: "Automated scoring was unavailable for this session.",
		})
	}

	return &domain.Feedback{
		ID:             domain.FeedbackID(uuid.NewString()),
		SessionID:      session.ID,
		UserID:         session.UserID,
		TotalScore:     defaultScore,
		CategoryScores: scores,
		Strengths: []string{
			"You completed the full examination.",
			"You engaged with every question that was asked.",
		},
		Improvements: []string{
			"Practice giving more structured answers.",
			"Rehearse the defense again once automated scoring is available.",
		},
		FinalAssessment: "The examination was completed, but the automated evaluator was not configured, so this is a simplified summary rather than a scored assessment.",
		DocumentGaps:    []string{},
		Suggestions:     []string{},
		CreatedAt:       s.now(),
	}
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
