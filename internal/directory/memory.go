package directory

import (
	"context"
	"sync"
	"time"

	"openbadger/pkg/platform/sentinel"
)

// InMemory is the development and test Directory. Mutators are exported so
// tests and the completion-event consumer can feed it facts.
type InMemory struct {
	mu          sync.RWMutex
	completions map[userCourse]CompletionRecord
	enrolments  map[string][]string // courseID -> userIDs
	earners     map[string]bool
	emails      map[string]string
	backpacks   map[string]string
}

type userCourse struct {
	userID   string
	courseID string
}

func NewInMemory() *InMemory {
	return &InMemory{
		completions: make(map[userCourse]CompletionRecord),
		enrolments:  make(map[string][]string),
		earners:     make(map[string]bool),
		emails:      make(map[string]string),
		backpacks:   make(map[string]string),
	}
}

func (d *InMemory) CourseCompletion(_ context.Context, userID, courseID string) (*CompletionRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if rec, ok := d.completions[userCourse{userID: userID, courseID: courseID}]; ok {
		out := rec
		if rec.Grade != nil {
			g := *rec.Grade
			out.Grade = &g
		}
		return &out, nil
	}
	return nil, nil
}

func (d *InMemory) EnrolledEarners(_ context.Context, courseID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for _, userID := range d.enrolments[courseID] {
		if d.earners[userID] {
			out = append(out, userID)
		}
	}
	return out, nil
}

func (d *InMemory) CanEarnBadge(_ context.Context, userID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.earners[userID], nil
}

func (d *InMemory) PrimaryEmail(_ context.Context, userID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	email, ok := d.emails[userID]
	if !ok {
		return "", sentinel.ErrNotFound
	}
	return email, nil
}

func (d *InMemory) BackpackEmail(_ context.Context, userID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.backpacks[userID], nil
}

// AddUser registers a user with their account email and earning capability.
func (d *InMemory) AddUser(userID, email string, canEarn bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emails[userID] = email
	d.earners[userID] = canEarn
}

// SetBackpackEmail records the address the user's backpack is registered under.
func (d *InMemory) SetBackpackEmail(userID, email string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backpacks[userID] = email
}

// Enrol adds the user to the course roster.
func (d *InMemory) Enrol(userID, courseID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enrolments[courseID] = append(d.enrolments[courseID], userID)
}

// SetCompletion records that the user completed the course.
func (d *InMemory) SetCompletion(userID, courseID string, at time.Time, grade *float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec := CompletionRecord{CompletedAt: at}
	if grade != nil {
		g := *grade
		rec.Grade = &g
	}
	d.completions[userCourse{userID: userID, courseID: courseID}] = rec
}
