package feedback_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vivaprep/defense-agent/internal/adapters/llm"
	"github.com/vivaprep/defense-agent/internal/adapters/storage/memory"
	"github.com/vivaprep/defense-agent/internal/app/feedback"
	"github.com/vivaprep/defense-agent/internal/domain"
)

func structuredEvaluator(raw []byte, err error) *llm.MockEvaluator {
	ev := llm.NewMockEvaluator()
	ev.GenerateStructuredFunc = func(ctx context.Context, prompt string, schema *domain.Schema, opts domain.GenerateOptions) ([]byte, error) {
		return raw, err
	}
	return ev
}

func testSession(t *testing.T, sessions *memory.SessionStore) *domain.Session {
	t.Helper()
	sess := &domain.Session{
		ID:        "sess-1",
		UserID:    "user-1",
		Title:     "Library System",
		Level:     domain.LevelMasters,
		Techstack: []string{"Go"},
		Finalized: true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, sessions.CreateSession(sess))
	return sess
}

func threeTurns() []domain.TranscriptTurn {
	return []domain.TranscriptTurn{
		{Role: domain.RoleAssistant, Content: "Why Go?"},
		{Role: domain.RoleUser, Content: "Concurrency and simple deployment."},
		{Role: domain.RoleAssistant, Content: "Fair enough."},
	}
}

func TestGenerateRejectsShortTranscript(t *testing.T) {
	sessions := memory.NewSessionStore()
	store := memory.NewFeedbackStore()
	sess := testSession(t, sessions)

	synth := feedback.NewSynthesizer(structuredEvaluator([]byte(`{}`), nil), store, sessions)

	_, err := synth.Generate(context.Background(), feedback.Input{
		Session:    sess,
		Transcript: threeTurns()[:2],
	})
	require.Error(t, err)

	_, err = store.GetFeedbackBySessionAndUser(sess.ID, sess.UserID)
	assert.ErrorIs(t, err, domain.ErrFeedbackNotFound)
}

func TestGenerateNormalizesCategoriesAndDefaults(t *testing.T) {
	sessions := memory.NewSessionStore()
	store := memory.NewFeedbackStore()
	sess := testSession(t, sessions)

	// Missing categories, out-of-range scores, no assessment, no lists.
	raw := []byte(`{
		"total_score": 120,
		"category_scores": [
			{"name": "technical accuracy", "score": -5, "comment": "rough"},
			{"name": "Critical Thinking", "score": 90, "comment": "strong"},
			{"name": "Made Up Category", "score": 50, "comment": "ignored"}
		]
	}`)

	synth := feedback.NewSynthesizer(structuredEvaluator(raw, nil), store, sessions)

	fb, err := synth.Generate(context.Background(), feedback.Input{Session: sess, Transcript: threeTurns()})
	require.NoError(t, err)

	assert.Equal(t, 100, fb.TotalScore, "scores clamp to 0-100")

	require.Len(t, fb.CategoryScores, 5)
	for i, name := range domain.FeedbackCategories() {
		assert.Equal(t, name, fb.CategoryScores[i].Name, "fixed names in fixed order")
	}
	assert.Equal(t, 0, fb.CategoryScores[0].Score, "case-insensitive match, clamped")
	assert.Equal(t, 90, fb.CategoryScores[3].Score)
	assert.Equal(t, 75, fb.CategoryScores[1].Score, "missing categories default to 75")

	assert.NotEmpty(t, fb.FinalAssessment)
	assert.NotNil(t, fb.Strengths)
	assert.Empty(t, fb.Strengths)

	// Session stamped with the feedback time.
	got, err := sessions.GetSession(sess.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.FeedbackGeneratedAt)
}

func TestGenerateSurfacesEvaluatorFailure(t *testing.T) {
	sessions := memory.NewSessionStore()
	store := memory.NewFeedbackStore()
	sess := testSession(t, sessions)

	synth := feedback.NewSynthesizer(structuredEvaluator(nil, errors.New("model exploded")), store, sessions)

	_, err := synth.Generate(context.Background(), feedback.Input{Session: sess, Transcript: threeTurns()})
	require.Error(t, err)

	// No partial feedback is ever written on evaluator failure.
	_, err = store.GetFeedbackBySessionAndUser(sess.ID, sess.UserID)
	assert.ErrorIs(t, err, domain.ErrFeedbackNotFound)

	got, err := sessions.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Nil(t, got.FeedbackGeneratedAt)
}

func TestGenerateWritesSimplifiedFeedbackWithoutCredentials(t *testing.T) {
	sessions := memory.NewSessionStore()
	store := memory.NewFeedbackStore()
	sess := testSession(t, sessions)

	// The default mock reports ErrNoCredentials.
	synth := feedback.NewSynthesizer(llm.NewMockEvaluator(), store, sessions)

	fb, err := synth.Generate(context.Background(), feedback.Input{Session: sess, Transcript: threeTurns()})
	require.NoError(t, err)

	require.Len(t, fb.CategoryScores, 5)
	assert.Equal(t, 75, fb.TotalScore)
	assert.NotEmpty(t, fb.Strengths)
	assert.NotEmpty(t, fb.FinalAssessment)

	stored, err := store.GetFeedbackBySessionAndUser(sess.ID, sess.UserID)
	require.NoError(t, err)
	assert.Equal(t, fb.ID, stored.ID)
}

func TestGenerateRejectsUndecodableResponse(t *testing.T) {
	sessions := memory.NewSessionStore()
	store := memory.NewFeedbackStore()
	sess := testSession(t, sessions)

	synth := feedback.NewSynthesizer(structuredEvaluator([]byte(`not json at all`), nil), store, sessions)

	_, err := synth.Generate(context.Background(), feedback.Input{Session: sess, Transcript: threeTurns()})
	require.Error(t, err)

	_, err = store.GetFeedbackBySessionAndUser(sess.ID, sess.UserID)
	assert.ErrorIs(t, err, domain.ErrFeedbackNotFound)
}
