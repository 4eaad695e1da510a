package defense

import (
	"sync"

	"github.com/vivaprep/defense-agent/internal/app/feedback"
	"github.com/vivaprep/defense-agent/internal/domain"
	"github.com/vivaprep/defense-agent/internal/observability"
)

// Registry holds one live controller per session so webhook events can
// be routed by session id. Controllers are dropped when they exit;
// a controller awaiting a resumed call stays registered.
type Registry struct {
	transport domain.CallTransport
	sessions  domain.SessionStore
	feedback  *feedback.Synthesizer
	timing    Timing

	prepWorkflowID  string
	examWorkflowID  string
	useExternalEval bool

	mu          sync.Mutex
	controllers map[domain.SessionID]*Controller
}

func NewRegistry(
	transport domain.CallTransport,
	sessions domain.SessionStore,
	fb *feedback.Synthesizer,
	timing Timing,
	prepWorkflowID, examWorkflowID string,
	useExternalEval bool,
) *Registry {
	return &Registry{
		transport:       transport,
		sessions:        sessions,
		feedback:        fb,
		timing:          timing,
		prepWorkflowID:  prepWorkflowID,
		examWorkflowID:  examWorkflowID,
		useExternalEval: useExternalEval,
		controllers:     make(map[domain.SessionID]*Controller),
	}
}

// GetOrCreate returns the session's controller, creating it on first
// use.
func (r *Registry) GetOrCreate(session *domain.Session, username, projectContext string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.controllers[session.ID]; ok {
		return c
	}

	cfg := Config{
		SessionID:       session.ID,
		UserID:          session.UserID,
		Username:        username,
		PrepWorkflowID:  r.prepWorkflowID,
		ExamWorkflowID:  r.examWorkflowID,
		UseExternalEval: r.useExternalEval,
		ProjectContext:  projectContext,
		HasDocument:     projectContext != "",
	}

	c := NewController(cfg, r.timing, r.transport, r.sessions, r.feedback, r.remove)
	r.controllers[session.ID] = c
	return c
}

// Get returns the controller for a session, or nil if none is live.
func (r *Registry) Get(id domain.SessionID) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controllers[id]
}

func (r *Registry) remove(id domain.SessionID, reason ExitReason) {
	r.mu.Lock()
	delete(r.controllers, id)
	r.mu.Unlock()

	observability.Logger().Info("controller retired",
		"session_id", id, "reason", reason)
}
