package defense

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vivaprep/defense-agent/internal/app/feedback"
	"github.com/vivaprep/defense-agent/internal/domain"
	"github.com/vivaprep/defense-agent/internal/observability"
)

// Timing groups the controller's delays so tests can shrink them.
type Timing struct {
	// SettleDelay is waited between the preparation call ending and the
	// examination call auto-starting.
	SettleDelay time.Duration
	// ReconnectDelay is the fixed backoff between reconnect attempts.
	ReconnectDelay time.Duration
	// ConnectTimeout bounds how long a call may sit in connecting
	// before the controller synthesizes its own timeout error.
	ConnectTimeout time.Duration
	// MaxReconnects bounds automatic reconnection per error episode.
	MaxReconnects int
}

func DefaultTiming() Timing {
	return Timing{
		SettleDelay:    2 * time.Second,
		ReconnectDelay: 5 * time.Second,
		ConnectTimeout: 15 * time.Second,
		MaxReconnects:  3,
	}
}

// NoticeKind tells the client how to render the controller's last word.
type NoticeKind string

const (
	NoticeNone     NoticeKind = ""
	NoticeInfo     NoticeKind = "info"
	NoticeWarning  NoticeKind = "warning"
	NoticeBlocking NoticeKind = "blocking"
	NoticeRetry    NoticeKind = "retry"
)

type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
}

// ExitReason is why a controller left the active session flow.
type ExitReason string

const (
	ExitFeedbackReady      ExitReason = "feedback_ready"
	ExitFeedbackFailed     ExitReason = "feedback_failed"
	ExitTooShort           ExitReason = "transcript_too_short"
	ExitReconnectExhausted ExitReason = "reconnect_exhausted"
	ExitAuthError          ExitReason = "auth_error"
	ExitError              ExitReason = "error"
)

// Config is the per-session wiring a controller needs to start calls.
type Config struct {
	SessionID domain.SessionID
	UserID    domain.UserID
	Username  string

	PrepWorkflowID  string
	ExamWorkflowID  string
	UseExternalEval bool

	// ProjectContext is the extracted document text handed to the
	// examiner workflow.
	ProjectContext string
	HasDocument    bool
}

// Controller is the state machine driving one session's two voice
// calls: preparation (metadata discovery) then examination (scored
// Q&A). All its mutable state belongs to a single session lifetime;
// every event entry point serializes on one mutex, so transcript turns
// append in arrival order and metadata writes never interleave.
type Controller struct {
	cfg      Config
	timing   Timing
	transport domain.CallTransport
	sessions  domain.SessionStore
	feedback  *feedback.Synthesizer
	onExit    func(id domain.SessionID, reason ExitReason)

	mu               sync.Mutex
	status           domain.CallStatus
	phase            domain.Phase
	transcript       []domain.TranscriptTurn
	reconnects       int
	readyForFeedback bool
	notice           Notice
	reconnectTimer   *time.Timer
	connectTimer     *time.Timer
	settleTimer      *time.Timer
}

func NewController(
	cfg Config,
	timing Timing,
	transport domain.CallTransport,
	sessions domain.SessionStore,
	fb *feedback.Synthesizer,
	onExit func(id domain.SessionID, reason ExitReason),
) *Controller {
	if onExit == nil {
		onExit = func(domain.SessionID, ExitReason) {}
	}
	return &Controller{
		cfg:       cfg,
		timing:    timing,
		transport: transport,
		sessions:  sessions,
		feedback:  fb,
		onExit:    onExit,
		status:    domain.CallInactive,
		phase:     domain.PhasePreparation,
	}
}

// Snapshot is the client-visible view of the controller.
type Snapshot struct {
	Status           domain.CallStatus `json:"status"`
	Phase            domain.Phase      `json:"phase"`
	TranscriptTurns  int               `json:"transcriptTurns"`
	Reconnects       int               `json:"reconnects"`
	ReadyForFeedback bool              `json:"readyForFeedback"`
	Notice           Notice            `json:"notice"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Status:           c.status,
		Phase:            c.phase,
		TranscriptTurns:  len(c.transcript),
		Reconnects:       c.reconnects,
		ReadyForFeedback: c.readyForFeedback,
		Notice:           c.notice,
	}
}

// Start begins a voice call for the given phase. Only valid while no
// call is in flight (inactive, finished or error).
func (c *Controller) Start(ctx context.Context, phase domain.Phase) error {
	ctx = observability.WithSessionID(ctx, string(c.cfg.SessionID))

	c.mu.Lock()
	switch c.status {
	case domain.CallInactive, domain.CallFinished, domain.CallError:
	default:
		c.mu.Unlock()
		return fmt.Errorf("cannot start call while status is %q", c.status)
	}

	workflowID := c.cfg.PrepWorkflowID
	if phase == domain.PhaseExamination {
		workflowID = c.cfg.ExamWorkflowID
	}
	if workflowID == "" {
		c.status = domain.CallError
		c.notice = Notice{Kind: NoticeBlocking, Message: "voice workflow is not configured"}
		c.mu.Unlock()
		return fmt.Errorf("no workflow configured for phase %q", phase)
	}

	c.phase = phase
	c.status = domain.CallConnecting
	c.armConnectTimeoutLocked()
	c.mu.Unlock()

	// Re-fetch the session so the examination call sees the metadata
	// gathered during preparation.
	session, err := c.sessions.GetSession(c.cfg.SessionID)
	if err != nil {
		c.failStart(fmt.Errorf("loading session: %w", err))
		return err
	}

	vars := domain.CallVariables{
		Username:           c.cfg.Username,
		UserID:             string(c.cfg.UserID),
		SessionID:          string(c.cfg.SessionID),
		Phase:              string(phase),
		IsExaminer:         phase == domain.PhaseExamination,
		UseExternalEval:    c.cfg.UseExternalEval,
		ProjectContext:     c.cfg.ProjectContext,
		ProjectTitle:       session.Title,
		AcademicLevel:      string(session.Level),
		Technologies:       strings.Join(session.Techstack, ", "),
		Questions:          session.Questions,
		HasDocumentContext: c.cfg.HasDocument,
	}

	observability.LoggerFromContext(ctx).Info("starting voice call",
		"phase", phase, "workflow_id", workflowID)

	if err := c.transport.StartCall(ctx, workflowID, vars); err != nil {
		c.failStart(fmt.Errorf("starting call: %w", err))
		return err
	}
	return nil
}

func (c *Controller) failStart(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearConnectTimerLocked()
	c.status = domain.CallError
	c.notice = Notice{Kind: NoticeRetry, Message: err.Error()}
}

// HandleCallStart marks the call active, clears any displayed error and
// resets the reconnect counter for the next error episode.
func (c *Controller) HandleCallStart(ctx context.Context) {
	ctx = observability.WithSessionID(ctx, string(c.cfg.SessionID))

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearConnectTimerLocked()
	c.status = domain.CallActive
	c.reconnects = 0
	c.notice = Notice{}

	observability.LoggerFromContext(ctx).Info("voice call active", "phase", c.phase)
}

// HandleCallEnd routes a clean end-of-call by phase: preparation hands
// off to examination after the settling delay; examination triggers
// feedback once the transcript qualifies.
func (c *Controller) HandleCallEnd(ctx context.Context) {
	ctx = observability.WithSessionID(ctx, string(c.cfg.SessionID))

	c.mu.Lock()
	c.clearTimersLocked()
	c.status = domain.CallFinished

	log := observability.LoggerFromContext(ctx)

	if c.phase == domain.PhasePreparation {
		c.phase = domain.PhaseExamination
		c.transcript = append(c.transcript, domain.TranscriptTurn{
			Role:    domain.RoleSystem,
			Content: "Preparation call complete. The examination will begin shortly.",
		})
		c.settleTimer = time.AfterFunc(c.timing.SettleDelay, func() {
			c.autoStartExamination()
		})
		c.mu.Unlock()

		log.Info("preparation finished, examination scheduled")

		status := "Ready for examination"
		if err := c.sessions.UpdatePartial(c.cfg.SessionID, domain.SessionPatch{Status: &status}); err != nil {
			log.Warn("failed to persist phase transition", "error", err)
		}
		return
	}

	turns := len(c.transcript)
	switch {
	case turns >= feedback.MinTranscriptTurns:
		transcript := make([]domain.TranscriptTurn, turns)
		copy(transcript, c.transcript)
		c.mu.Unlock()

		log.Info("examination finished, generating feedback", "turns", turns)
		c.generateFeedback(ctx, transcript)

	case !c.readyForFeedback:
		// First end of a short examination call: the student likely
		// dropped early, keep the controller alive for a resume.
		c.readyForFeedback = true
		c.notice = Notice{Kind: NoticeInfo, Message: "The examination ended early. Start the call again to resume."}
		c.mu.Unlock()

		log.Info("examination ended with short transcript, awaiting resume", "turns", turns)

	default:
		c.notice = Notice{Kind: NoticeWarning, Message: "The examination was too short to evaluate."}
		c.mu.Unlock()

		log.Info("examination abandoned, transcript too short", "turns", turns)
		c.onExit(c.cfg.SessionID, ExitTooShort)
	}
}

func (c *Controller) autoStartExamination() {
	ctx := observability.WithSessionID(context.Background(), string(c.cfg.SessionID))
	if err := c.Start(ctx, domain.PhaseExamination); err != nil {
		observability.LoggerFromContext(ctx).Error("automatic examination start failed", "error", err)
		c.mu.Lock()
		c.notice = Notice{Kind: NoticeRetry, Message: "The examination could not start automatically. Start it manually to continue."}
		c.mu.Unlock()
	}
}

// HandleTranscript appends one finalized utterance in arrival order.
func (c *Controller) HandleTranscript(role, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript = append(c.transcript, domain.TranscriptTurn{
		Role:    domain.NormalizeRole(role),
		Content: content,
	})
}

// HandleSpeech tracks speech boundaries. The controller has no state to
// change on them, they are logged for call diagnostics only.
func (c *Controller) HandleSpeech(ctx context.Context, started bool) {
	ctx = observability.WithSessionID(ctx, string(c.cfg.SessionID))
	observability.LoggerFromContext(ctx).Debug("speech boundary", "started", started)
}

// Stop forces the call to finished, clears pending timers and asks the
// transport to terminate. Safe to call however the call ended; an
// already-closed transport call is not an error. It does not cancel a
// feedback generation already dispatched.
func (c *Controller) Stop(ctx context.Context) {
	ctx = observability.WithSessionID(ctx, string(c.cfg.SessionID))

	c.mu.Lock()
	c.clearTimersLocked()
	alreadyDone := c.status == domain.CallFinished || c.status == domain.CallInactive
	if !alreadyDone {
		c.status = domain.CallFinished
	}
	c.mu.Unlock()

	if alreadyDone {
		return
	}
	if err := c.transport.StopCall(ctx, c.cfg.SessionID); err != nil {
		observability.LoggerFromContext(ctx).Warn("stopping voice call", "error", err)
	}
}

func (c *Controller) generateFeedback(ctx context.Context, transcript []domain.TranscriptTurn) {
	ctx = observability.WithSessionID(ctx, string(c.cfg.SessionID))
	log := observability.LoggerFromContext(ctx)

	session, err := c.sessions.GetSession(c.cfg.SessionID)
	if err != nil {
		log.Error("loading session for feedback", "error", err)
		c.setNotice(NoticeWarning, "Your answers were recorded, but feedback generation failed. Try again from the session page.")
		c.onExit(c.cfg.SessionID, ExitFeedbackFailed)
		return
	}

	if _, err := c.feedback.Generate(ctx, feedback.Input{Session: session, Transcript: transcript}); err != nil {
		log.Error("feedback generation failed", "error", err)
		c.setNotice(NoticeWarning, "Your answers were recorded, but feedback generation failed. Try again from the session page.")
		c.onExit(c.cfg.SessionID, ExitFeedbackFailed)
		return
	}

	c.setNotice(NoticeInfo, "Your defense feedback is ready.")
	c.onExit(c.cfg.SessionID, ExitFeedbackReady)
}

func (c *Controller) setNotice(kind NoticeKind, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notice = Notice{Kind: kind, Message: msg}
}

// ─────────────────────────────────────────
// timers
// ─────────────────────────────────────────

func (c *Controller) armConnectTimeoutLocked() {
	c.clearConnectTimerLocked()
	c.connectTimer = time.AfterFunc(c.timing.ConnectTimeout, func() {
		c.mu.Lock()
		stillConnecting := c.status == domain.CallConnecting
		c.mu.Unlock()
		if stillConnecting {
			ctx := observability.WithSessionID(context.Background(), string(c.cfg.SessionID))
			c.HandleError(ctx, "connection timeout: the call did not start in time")
		}
	})
}

func (c *Controller) clearConnectTimerLocked() {
	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}
}

func (c *Controller) clearReconnectTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Controller) clearTimersLocked() {
	c.clearConnectTimerLocked()
	c.clearReconnectTimerLocked()
	if c.settleTimer != nil {
		c.settleTimer.Stop()
		c.settleTimer = nil
	}
}
