package criteria

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"openbadger/pkg/platform/sentinel"
)

// InMemoryStore keeps the development and test implementation lightweight.
// A single mutex guards every collection, which makes MarkMet's
// check-and-insert atomic without a separate uniqueness structure.
type InMemoryStore struct {
	mu        sync.RWMutex
	criteria  map[string]Criterion
	ledger    map[ledgerKey]time.Time
	issuances []issuanceRecord
}

type ledgerKey struct {
	criterionID string
	userID      string
}

type issuanceRecord struct {
	criterionID string
	eventID     string
	at          time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		criteria: make(map[string]Criterion),
		ledger:   make(map[ledgerKey]time.Time),
	}
}

func (s *InMemoryStore) Save(_ context.Context, c *Criterion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
		c.CreatedAt = time.Now().UTC()
	}
	stored := *c
	stored.Links = append([]CourseLink(nil), c.Links...)
	s.criteria[c.ID] = stored
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id string) (Criterion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.criteria[id]; ok {
		return copyCriterion(c), nil
	}
	return Criterion{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListAll(_ context.Context) ([]Criterion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Criterion, 0, len(s.criteria))
	for _, c := range s.criteria {
		out = append(out, copyCriterion(c))
	}
	return out, nil
}

func (s *InMemoryStore) ListByCourse(_ context.Context, courseID string) ([]Criterion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Criterion
	for _, c := range s.criteria {
		if c.HasCourse(courseID) {
			out = append(out, copyCriterion(c))
		}
	}
	return out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.criteria[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.criteria, id)
	for key := range s.ledger {
		if key.criterionID == id {
			delete(s.ledger, key)
		}
	}
	return nil
}

func (s *InMemoryStore) RemoveCourse(_ context.Context, courseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeCourseLocked(courseID)
	return nil
}

func (s *InMemoryStore) PruneOrphaned(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(), nil
}

func (s *InMemoryStore) DeleteCourse(_ context.Context, courseID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeCourseLocked(courseID)
	return s.pruneLocked(), nil
}

func (s *InMemoryStore) removeCourseLocked(courseID string) {
	for id, c := range s.criteria {
		kept := c.Links[:0:0]
		for _, link := range c.Links {
			if link.CourseID != courseID {
				kept = append(kept, link)
			}
		}
		c.Links = kept
		s.criteria[id] = c
	}
}

func (s *InMemoryStore) pruneLocked() int64 {
	var removed int64
	for id, c := range s.criteria {
		if c.Unsatisfiable() {
			delete(s.criteria, id)
			removed++
		}
	}
	for key := range s.ledger {
		if _, ok := s.criteria[key.criterionID]; !ok {
			delete(s.ledger, key)
		}
	}
	return removed
}

func (s *InMemoryStore) MarkMet(_ context.Context, criterionID, userID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ledgerKey{criterionID: criterionID, userID: userID}
	if _, exists := s.ledger[key]; exists {
		return false, nil
	}
	s.ledger[key] = at
	return true, nil
}

func (s *InMemoryStore) IsMet(_ context.Context, criterionID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ledger[ledgerKey{criterionID: criterionID, userID: userID}]
	return ok, nil
}

func (s *InMemoryStore) HasAnyMet(_ context.Context, criterionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key := range s.ledger {
		if key.criterionID == criterionID {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) ListMet(_ context.Context, criterionID string) ([]LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []LedgerEntry
	for key, at := range s.ledger {
		if key.criterionID == criterionID {
			out = append(out, LedgerEntry{CriterionID: key.criterionID, UserID: key.userID, MetAt: at})
		}
	}
	return out, nil
}

func (s *InMemoryStore) RecordIssuance(_ context.Context, criterionID, eventID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issuances = append(s.issuances, issuanceRecord{criterionID: criterionID, eventID: eventID, at: at})
	return nil
}

func copyCriterion(c Criterion) Criterion {
	out := c
	out.Links = append([]CourseLink(nil), c.Links...)
	return out
}
