package defense_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vivaprep/defense-agent/internal/adapters/llm"
	"github.com/vivaprep/defense-agent/internal/adapters/storage/memory"
	"github.com/vivaprep/defense-agent/internal/app/defense"
	feedbackapp "github.com/vivaprep/defense-agent/internal/app/feedback"
	"github.com/vivaprep/defense-agent/internal/domain"
)

type fakeTransport struct {
	mu     sync.Mutex
	starts []domain.CallVariables
	stops  int

	startErr error
}

func (f *fakeTransport) StartCall(ctx context.Context, workflowID string, vars domain.CallVariables) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts = append(f.starts, vars)
	return nil
}

func (f *fakeTransport) StopCall(ctx context.Context, sessionID domain.SessionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeTransport) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

func (f *fakeTransport) lastStart() domain.CallVariables {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts[len(f.starts)-1]
}

func (f *fakeTransport) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *fakeTransport) setStartErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErr = err
}

type exitRecorder struct {
	mu      sync.Mutex
	reasons []defense.ExitReason
}

func (r *exitRecorder) record(_ domain.SessionID, reason defense.ExitReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *exitRecorder) last() defense.ExitReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reasons) == 0 {
		return ""
	}
	return r.reasons[len(r.reasons)-1]
}

func (r *exitRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons)
}

func testTiming() defense.Timing {
	return defense.Timing{
		SettleDelay:    10 * time.Millisecond,
		ReconnectDelay: 10 * time.Millisecond,
		ConnectTimeout: 500 * time.Millisecond,
		MaxReconnects:  3,
	}
}

// scoringEvaluator answers the structured call with a full evaluation.
func scoringEvaluator() *llm.MockEvaluator {
	ev := llm.NewMockEvaluator()
	ev.GenerateStructuredFunc = func(ctx context.Context, prompt string, schema *domain.Schema, opts domain.GenerateOptions) ([]byte, error) {
		return json.Marshal(map[string]any{
			"total_score": 82,
			"category_scores": []map[string]any{
				{"name": "Technical Accuracy", "score": 85, "comment": "solid"},
				{"name": "Documentation Alignment", "score": 80, "comment": "good"},
				{"name": "Response Structure", "score": 78, "comment": "clear"},
				{"name": "Critical Thinking", "score": 88, "comment": "sharp"},
				{"name": "Time Management", "score": 79, "comment": "fine"},
			},
			"strengths":        []string{"clear answers", "good depth", "calm delivery"},
			"improvements":     []string{"more examples", "tighter summaries", "cite the document"},
			"final_assessment": "A confident defense.",
		})
	}
	return ev
}

type harness struct {
	transport *fakeTransport
	sessions  *memory.SessionStore
	feedback  *memory.FeedbackStore
	exits     *exitRecorder
	ctrl      *defense.Controller
	session   *domain.Session
}

func newHarness(t *testing.T, evaluator domain.Evaluator) *harness {
	t.Helper()

	sessions := memory.NewSessionStore()
	feedbackStore := memory.NewFeedbackStore()

	sess := &domain.Session{
		ID:        domain.SessionID("sess-1"),
		UserID:    domain.UserID("user-1"),
		Title:     "Library System",
		Level:     domain.LevelMasters,
		Techstack: []string{"Go", "React"},
		Questions: []string{"Why Go?", "Why React?"},
		Status:    "Preparing for defense",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, sessions.CreateSession(sess))

	transport := &fakeTransport{}
	exits := &exitRecorder{}
	synth := feedbackapp.NewSynthesizer(evaluator, feedbackStore, sessions)

	cfg := defense.Config{
		SessionID:      sess.ID,
		UserID:         sess.UserID,
		Username:       "Ada",
		PrepWorkflowID: "wf-prep",
		ExamWorkflowID: "wf-exam",
		ProjectContext: "some document text",
		HasDocument:    true,
	}

	ctrl := defense.NewController(cfg, testTiming(), transport, sessions, synth, exits.record)

	return &harness{
		transport: transport,
		sessions:  sessions,
		feedback:  feedbackStore,
		exits:     exits,
		ctrl:      ctrl,
		session:   sess,
	}
}

func TestPreparationEndHandsOffToExaminationOnce(t *testing.T) {
	h := newHarness(t, scoringEvaluator())
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, domain.PhasePreparation))
	assert.Equal(t, domain.CallConnecting, h.ctrl.Snapshot().Status)

	h.ctrl.HandleCallStart(ctx)
	assert.Equal(t, domain.CallActive, h.ctrl.Snapshot().Status)

	h.ctrl.HandleCallEnd(ctx)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, domain.PhaseExamination, snap.Phase)

	require.Eventually(t, func() bool {
		return h.transport.startCount() == 2
	}, time.Second, 5*time.Millisecond, "examination call should auto-start after the settling delay")

	vars := h.transport.lastStart()
	assert.Equal(t, string(domain.PhaseExamination), vars.Phase)
	assert.True(t, vars.IsExaminer)

	// No second auto-start sneaks in later.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, h.transport.startCount())

	// The phase transition was persisted.
	sess, err := h.sessions.GetSession(h.session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ready for examination", sess.Status)
}

func TestExaminationAutoStartSeesFreshMetadata(t *testing.T) {
	h := newHarness(t, scoringEvaluator())
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, domain.PhasePreparation))
	h.ctrl.HandleCallStart(ctx)

	h.ctrl.HandleMetadata(ctx, []byte(`{"projectTitle":"Smart Library","academicLevel":"PhD"}`))

	h.ctrl.HandleCallEnd(ctx)

	require.Eventually(t, func() bool {
		return h.transport.startCount() == 2
	}, time.Second, 5*time.Millisecond)

	vars := h.transport.lastStart()
	assert.Equal(t, "Smart Library", vars.ProjectTitle)
	assert.Equal(t, string(domain.LevelPhD), vars.AcademicLevel)
}

func TestReconnectBoundedAtThreeAttempts(t *testing.T) {
	h := newHarness(t, scoringEvaluator())
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, domain.PhasePreparation))
	h.ctrl.HandleCallStart(ctx)

	for attempt := 1; attempt <= 3; attempt++ {
		h.ctrl.HandleError(ctx, "network connection lost")
		want := 1 + attempt
		require.Eventually(t, func() bool {
			return h.transport.startCount() == want
		}, time.Second, 5*time.Millisecond, "reconnect attempt %d should re-start the call", attempt)
	}

	// Fourth consecutive connectivity error: navigate away, no retry,
	// and definitely no feedback.
	h.ctrl.HandleError(ctx, "network connection lost")

	require.Eventually(t, func() bool {
		return h.exits.last() == defense.ExitReconnectExhausted
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 4, h.transport.startCount())

	_, err := h.feedback.GetFeedbackBySessionAndUser(h.session.ID, h.session.UserID)
	assert.ErrorIs(t, err, domain.ErrFeedbackNotFound)
}

func TestConnectTimeoutReconnectsLikeConnectivityError(t *testing.T) {
	h := newHarness(t, scoringEvaluator())
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, domain.PhasePreparation))
	assert.Equal(t, domain.CallConnecting, h.ctrl.Snapshot().Status)

	// The call-start confirmation never arrives; the controller
	// synthesizes its own timeout and reconnects.
	require.Eventually(t, func() bool {
		return h.transport.startCount() == 2
	}, 2*time.Second, 10*time.Millisecond, "a connect timeout should retry, not abort")

	assert.Equal(t, 1, h.ctrl.Snapshot().Reconnects)
	assert.Zero(t, h.exits.count())

	h.ctrl.Stop(ctx)
}

func TestFailedAutoStartSurfacesManualRetry(t *testing.T) {
	h := newHarness(t, scoringEvaluator())
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, domain.PhasePreparation))
	h.ctrl.HandleCallStart(ctx)

	// The examination auto-start after the settle delay will fail.
	h.transport.setStartErr(errors.New("provider rejected the call"))
	h.ctrl.HandleCallEnd(ctx)

	require.Eventually(t, func() bool {
		return h.ctrl.Snapshot().Notice.Kind == defense.NoticeRetry
	}, time.Second, 5*time.Millisecond, "a failed hand-off must prompt a manual retry")

	snap := h.ctrl.Snapshot()
	assert.Equal(t, domain.PhaseExamination, snap.Phase)
	assert.Equal(t, domain.CallError, snap.Status)
}

func TestCallStartResetsReconnectCounter(t *testing.T) {
	h := newHarness(t, scoringEvaluator())
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, domain.PhasePreparation))
	h.ctrl.HandleCallStart(ctx)

	h.ctrl.HandleError(ctx, "connection dropped")
	require.Eventually(t, func() bool {
		return h.transport.startCount() == 2
	}, time.Second, 5*time.Millisecond)

	// Reconnect succeeded: a new episode starts from zero.
	h.ctrl.HandleCallStart(ctx)
	assert.Equal(t, 0, h.ctrl.Snapshot().Reconnects)
	assert.Equal(t, defense.Notice{}, h.ctrl.Snapshot().Notice)
}

func TestEmptyErrorTreatedAsConnectivity(t *testing.T) {
	h := newHarness(t, scoringEvaluator())
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, domain.PhasePreparation))
	h.ctrl.HandleCallStart(ctx)

	h.ctrl.HandleError(ctx, "")

	require.Eventually(t, func() bool {
		return h.transport.startCount() == 2
	}, time.Second, 5*time.Millisecond, "an empty error payload should reconnect, not abort")
	assert.Zero(t, h.exits.count())
}

func TestAuthErrorIsTerminal(t *testing.T) {
	h := newHarness(t, scoringEvaluator())
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, domain.PhasePreparation))
	h.ctrl.HandleCallStart(ctx)

	h.ctrl.HandleError(ctx, "401 unauthorized: bad api key")

	snap := h.ctrl.Snapshot()
	assert.Equal(t, domain.CallError, snap.Status)
	assert.Equal(t, defense.NoticeBlocking, snap.Notice.Kind)
	assert.Equal(t, defense.ExitAuthError, h.exits.last())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.transport.startCount(), "terminal errors must not retry")
}

func TestExaminationEndGeneratesFeedback(t *testing.T) {
	h := newHarness(t, scoringEvaluator())
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, domain.PhaseExamination))
	h.ctrl.HandleCallStart(ctx)

	h.ctrl.HandleTranscript("assistant", "Why did you choose Go?")
	h.ctrl.HandleTranscript("user", "For its concurrency model and deployment story.")
	h.ctrl.HandleTranscript("assistant", "How would it scale?")
	h.ctrl.HandleTranscript("user", "Horizontally, the service is stateless.")

	h.ctrl.HandleCallEnd(ctx)

	require.Eventually(t, func() bool {
		return h.exits.last() == defense.ExitFeedbackReady
	}, time.Second, 5*time.Millisecond)

	fb, err := h.feedback.GetFeedbackBySessionAndUser(h.session.ID, h.session.UserID)
	require.NoError(t, err)
	assert.Equal(t, 82, fb.TotalScore)

	require.Len(t, fb.CategoryScores, 5)
	for i, name := range domain.FeedbackCategories() {
		assert.Equal(t, name, fb.CategoryScores[i].Name)
	}

	sess, err := h.sessions.GetSession(h.session.ID)
	require.NoError(t, err)
	assert.NotNil(t, sess.FeedbackGeneratedAt)
}

func TestShortExaminationAwaitsResumeThenAbandons(t *testing.T) {
	h := newHarness(t, scoringEvaluator())
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, domain.PhaseExamination))
	h.ctrl.HandleCallStart(ctx)
	h.ctrl.HandleTranscript("assistant", "First question?")

	// First early end: keep the controller alive for a resume.
	h.ctrl.HandleCallEnd(ctx)
	snap := h.ctrl.Snapshot()
	assert.True(t, snap.ReadyForFeedback)
	assert.Zero(t, h.exits.count())

	// Second end, still too short: abandon without feedback.
	require.NoError(t, h.ctrl.Start(ctx, domain.PhaseExamination))
	h.ctrl.HandleCallStart(ctx)
	h.ctrl.HandleCallEnd(ctx)

	assert.Equal(t, defense.ExitTooShort, h.exits.last())
	_, err := h.feedback.GetFeedbackBySessionAndUser(h.session.ID, h.session.UserID)
	assert.ErrorIs(t, err, domain.ErrFeedbackNotFound)
}

func TestUnknownErrorSalvagesUsableTranscript(t *testing.T) {
	h := newHarness(t, scoringEvaluator())
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, domain.PhaseExamination))
	h.ctrl.HandleCallStart(ctx)

	h.ctrl.HandleTranscript("assistant", "Question one?")
	h.ctrl.HandleTranscript("user", "Answer one.")
	h.ctrl.HandleTranscript("user", "Answer one, continued.")

	h.ctrl.HandleError(ctx, "some inexplicable failure")

	require.Eventually(t, func() bool {
		return h.exits.last() == defense.ExitFeedbackReady
	}, time.Second, 5*time.Millisecond, "errors must not discard a usable transcript")

	_, err := h.feedback.GetFeedbackBySessionAndUser(h.session.ID, h.session.UserID)
	require.NoError(t, err)
}

func TestMetadataMergeUpdatesOnlyPresentFields(t *testing.T) {
	h := newHarness(t, scoringEvaluator())
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, domain.PhasePreparation))
	h.ctrl.HandleCallStart(ctx)

	h.ctrl.HandleMetadata(ctx, []byte(`{"academicLevel":"PhD"}`))

	sess, err := h.sessions.GetSession(h.session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LevelPhD, sess.Level)
	assert.Equal(t, "Library System", sess.Title, "absent fields stay untouched")
	assert.Equal(t, []string{"Go", "React"}, sess.Techstack)
	assert.True(t, sess.Finalized, "any metadata merge finalizes the session")

	// A system turn summarizing the change was appended.
	assert.Equal(t, 1, h.ctrl.Snapshot().TranscriptTurns)
}

func TestMalformedMetadataIsIgnored(t *testing.T) {
	h := newHarness(t, scoringEvaluator())
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, domain.PhasePreparation))
	h.ctrl.HandleCallStart(ctx)

	h.ctrl.HandleMetadata(ctx, []byte(`{"academicLevel": `))
	h.ctrl.HandleMetadata(ctx, []byte(`{}`))

	sess, err := h.sessions.GetSession(h.session.ID)
	require.NoError(t, err)
	assert.False(t, sess.Finalized)
	assert.Equal(t, domain.CallActive, h.ctrl.Snapshot().Status)
}

func TestTranscriptRolesNormalized(t *testing.T) {
	h := newHarness(t, scoringEvaluator())
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, domain.PhaseExamination))
	h.ctrl.HandleCallStart(ctx)

	h.ctrl.HandleTranscript("bot", "hello")
	h.ctrl.HandleTranscript("user", "hi")
	h.ctrl.HandleTranscript("", "   ")

	assert.Equal(t, 2, h.ctrl.Snapshot().TranscriptTurns, "blank turns are dropped")
}

func TestStopIsIdempotentAndCancelsReconnect(t *testing.T) {
	h := newHarness(t, scoringEvaluator())
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, domain.PhasePreparation))
	h.ctrl.HandleCallStart(ctx)

	// Pending reconnect gets cancelled by stop.
	h.ctrl.HandleError(ctx, "connection lost")
	h.ctrl.Stop(ctx)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.transport.startCount(), "stop must cancel the pending reconnect")
	assert.Equal(t, domain.CallFinished, h.ctrl.Snapshot().Status)

	// Second stop is a no-op, not a panic.
	h.ctrl.Stop(ctx)
	assert.Equal(t, 1, h.transport.stopCount())
}

func TestStartRejectedWhileCallInFlight(t *testing.T) {
	h := newHarness(t, scoringEvaluator())
	ctx := context.Background()

	require.NoError(t, h.ctrl.Start(ctx, domain.PhasePreparation))
	assert.Error(t, h.ctrl.Start(ctx, domain.PhasePreparation))

	h.ctrl.HandleCallStart(ctx)
	assert.Error(t, h.ctrl.Start(ctx, domain.PhasePreparation))
}

func TestStartWithoutWorkflowIsBlocking(t *testing.T) {
	sessions := memory.NewSessionStore()
	sess := &domain.Session{ID: "s", UserID: "u", Title: "t"}
	require.NoError(t, sessions.CreateSession(sess))

	ctrl := defense.NewController(
		defense.Config{SessionID: sess.ID, UserID: sess.UserID},
		testTiming(),
		&fakeTransport{},
		sessions,
		feedbackapp.NewSynthesizer(llm.NewMockEvaluator(), memory.NewFeedbackStore(), sessions),
		nil,
	)

	err := ctrl.Start(context.Background(), domain.PhasePreparation)
	require.Error(t, err)

	snap := ctrl.Snapshot()
	assert.Equal(t, domain.CallError, snap.Status)
	assert.Equal(t, defense.NoticeBlocking, snap.Notice.Kind)
}
