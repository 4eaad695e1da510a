package memory

import (
	"errors"
	"sync"
	"time"

	"github.com/vivaprep/defense-agent/internal/domain"
)

type SessionStore struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*domain.Session
	now      func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[domain.SessionID]*domain.Session),
		now:      time.Now,
	}
}

func (s *SessionStore) CreateSession(session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return errors.New("session already exists")
	}

	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *SessionStore) GetSession(id domain.SessionID) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	cp := *sess
	return &cp, nil
}

// UpdatePartial applies only the fields set on the patch and stamps
// UpdatedAt. Nil patch fields never overwrite; a patch with no fields
// set writes nothing at all.
func (s *SessionStore) UpdatePartial(id domain.SessionID, patch domain.SessionPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}

	if patch.IsZero() {
		return nil
	}

	if patch.Title != nil {
		sess.Title = *patch.Title
	}
	if patch.Level != nil {
		sess.Level = *patch.Level
	}
	if patch.Techstack != nil {
		sess.Techstack = patch.Techstack
	}
	if patch.FocusRatio != nil {
		sess.FocusRatio = *patch.FocusRatio
	}
	if patch.Questions != nil {
		sess.Questions = patch.Questions
	}
	if patch.Finalized != nil {
		sess.Finalized = *patch.Finalized
	}
	if patch.Status != nil {
		sess.Status = *patch.Status
	}
	if patch.FeedbackGeneratedAt != nil {
		sess.FeedbackGeneratedAt = patch.FeedbackGeneratedAt
	}
	sess.UpdatedAt = s.now()

	return nil
}

func (s *SessionStore) DeleteSession(id domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *SessionStore) ListSessionsByUser(userID domain.UserID, limit int) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Session
	for _, sess := range s.sessions {
		if sess.UserID != userID || !sess.Finalized {
			continue
		}
		cp := *sess
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *SessionStore) ListSessionsByOthers(excluding domain.UserID, limit int) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Session
	for _, sess := range s.sessions {
		if sess.UserID == excluding || !sess.Finalized {
			continue
		}
		cp := *sess
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}
