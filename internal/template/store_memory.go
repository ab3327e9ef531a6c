package template

import (
	"context"
	"sync"

	"openbadger/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu        sync.RWMutex
	templates map[string]EmailTemplate
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{templates: make(map[string]EmailTemplate)}
}

func (s *InMemoryStore) GetByBadge(_ context.Context, badgeID string) (EmailTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.templates[badgeID]; ok {
		return t, nil
	}
	return EmailTemplate{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) Upsert(_ context.Context, t EmailTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.BadgeID] = t
	return nil
}
