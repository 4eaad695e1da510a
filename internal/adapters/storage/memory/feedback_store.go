package memory

import (
	"errors"
	"sync"

	"github.com/vivaprep/defense-agent/internal/domain"
)

type FeedbackStore struct {
	mu      sync.RWMutex
	records map[domain.FeedbackID]*domain.Feedback
}

func NewFeedbackStore() *FeedbackStore {
	return &FeedbackStore{
		records: make(map[domain.FeedbackID]*domain.Feedback),
	}
}

// CreateFeedback inserts or fully replaces the record for its id.
// Regenerated feedback overwrites, there are no partial updates.
func (s *FeedbackStore) CreateFeedback(fb *domain.Feedback) error {
	if fb == nil {
		return errors.New("feedback is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *fb
	s.records[fb.ID] = &cp
	return nil
}

func (s *FeedbackStore) GetFeedbackBySessionAndUser(sessionID domain.SessionID, userID domain.UserID) (*domain.Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, fb := range s.records {
		if fb.SessionID == sessionID && fb.UserID == userID {
			cp := *fb
			return &cp, nil
		}
	}
	return nil, domain.ErrFeedbackNotFound
}

func (s *FeedbackStore) DeleteFeedback(id domain.FeedbackID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return domain.ErrFeedbackNotFound
	}
	delete(s.records, id)
	return nil
}
