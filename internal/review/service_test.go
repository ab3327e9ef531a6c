package review

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"openbadger/internal/assertion"
	"openbadger/internal/criteria"
	"openbadger/internal/directory"
	"openbadger/internal/issuance"
	"openbadger/internal/template"
)

type fakeIssuer struct {
	mu    sync.Mutex
	calls []issuance.IssueRequest
}

func (f *fakeIssuer) Issue(_ context.Context, req issuance.IssueRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return "evt-1", nil
}

func (f *fakeIssuer) Assertions(context.Context, string) ([]assertion.Assertion, error) {
	return nil, nil
}

func (f *fakeIssuer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// countingDirectory wraps the in-memory directory and counts completion
// lookups, so tests can assert evaluation skipped work. Lookups for users in
// failFor error out, standing in for a flaky upstream record.
type countingDirectory struct {
	*directory.InMemory
	mu          sync.Mutex
	completions int
	failFor     map[string]error
}

func (d *countingDirectory) CourseCompletion(ctx context.Context, userID, courseID string) (*directory.CompletionRecord, error) {
	d.mu.Lock()
	d.completions++
	failure := d.failFor[userID]
	d.mu.Unlock()
	if failure != nil {
		return nil, failure
	}
	return d.InMemory.CourseCompletion(ctx, userID, courseID)
}

func (d *countingDirectory) completionLookups() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.completions
}

type ReviewServiceSuite struct {
	suite.Suite
	store   *criteria.InMemoryStore
	dir     *countingDirectory
	issuer  *fakeIssuer
	service *Service
	ctx     context.Context
}

func TestReviewServiceSuite(t *testing.T) {
	suite.Run(t, new(ReviewServiceSuite))
}

func (s *ReviewServiceSuite) SetupTest() {
	s.store = criteria.NewInMemoryStore()
	s.dir = &countingDirectory{InMemory: directory.NewInMemory()}
	s.issuer = &fakeIssuer{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	coordinator := issuance.NewCoordinator(s.store, template.NewInMemoryStore(), s.dir, s.issuer, nil, log)
	s.service = New(s.store, s.dir, coordinator, nil, log)
	s.ctx = context.Background()
}

func (s *ReviewServiceSuite) saveCriterion(mode criteria.CompletionMode, courses ...string) criteria.Criterion {
	links := make([]criteria.CourseLink, 0, len(courses))
	for _, course := range courses {
		links = append(links, criteria.CourseLink{CourseID: course})
	}
	c := criteria.Criterion{BadgeID: "badge-1", Mode: mode, Links: links}
	s.Require().NoError(s.store.Save(s.ctx, &c))
	return c
}

func (s *ReviewServiceSuite) complete(userID, courseID string) {
	s.dir.SetCompletion(userID, courseID, time.Now().UTC(), nil)
}

// =============================================================================
// Completion Event Handling
// =============================================================================

func (s *ReviewServiceSuite) TestCompletionTriggersIssuance() {
	c := s.saveCriterion(criteria.ModeAll, "go-101")
	s.dir.AddUser("user-1", "one@example.org", true)
	s.complete("user-1", "go-101")

	s.Require().NoError(s.service.HandleCompletion(s.ctx, "user-1", "go-101"))

	s.Equal(1, s.issuer.callCount())
	met, err := s.store.IsMet(s.ctx, c.ID, "user-1")
	s.NoError(err)
	s.True(met)
}

func (s *ReviewServiceSuite) TestDuplicateEventIssuesOnce() {
	s.saveCriterion(criteria.ModeAll, "go-101")
	s.dir.AddUser("user-1", "one@example.org", true)
	s.complete("user-1", "go-101")

	s.Require().NoError(s.service.HandleCompletion(s.ctx, "user-1", "go-101"))
	s.Require().NoError(s.service.HandleCompletion(s.ctx, "user-1", "go-101"))

	s.Equal(1, s.issuer.callCount(), "the ledger check must absorb the duplicate")
}

func (s *ReviewServiceSuite) TestCompletionWithoutCapabilitySkipsEvaluation() {
	s.saveCriterion(criteria.ModeAll, "go-101")
	s.dir.AddUser("user-1", "one@example.org", false)
	s.complete("user-1", "go-101")

	s.Require().NoError(s.service.HandleCompletion(s.ctx, "user-1", "go-101"))

	s.Zero(s.issuer.callCount())
	s.Zero(s.dir.completionLookups(), "gated users must not be evaluated at all")
}

func (s *ReviewServiceSuite) TestAllModeWaitsForEveryCourse() {
	c := s.saveCriterion(criteria.ModeAll, "go-101", "go-102")
	s.dir.AddUser("user-1", "one@example.org", true)

	s.complete("user-1", "go-101")
	s.Require().NoError(s.service.HandleCompletion(s.ctx, "user-1", "go-101"))
	s.Zero(s.issuer.callCount(), "one of two courses is not enough")

	s.complete("user-1", "go-102")
	s.Require().NoError(s.service.HandleCompletion(s.ctx, "user-1", "go-102"))
	s.Equal(1, s.issuer.callCount())

	met, err := s.store.IsMet(s.ctx, c.ID, "user-1")
	s.NoError(err)
	s.True(met)
}

func (s *ReviewServiceSuite) TestAnyModeIssuesOnFirstCourse() {
	s.saveCriterion(criteria.ModeAny, "go-101", "go-102")
	s.dir.AddUser("user-1", "one@example.org", true)
	s.complete("user-1", "go-101")

	s.Require().NoError(s.service.HandleCompletion(s.ctx, "user-1", "go-101"))
	s.Equal(1, s.issuer.callCount())
}

// =============================================================================
// Backlog Review
// =============================================================================

func (s *ReviewServiceSuite) TestBacklogFindsUnledgeredSatisfiers() {
	c := s.saveCriterion(criteria.ModeAll, "go-101")
	for _, userID := range []string{"user-1", "user-2", "user-3"} {
		s.dir.AddUser(userID, userID+"@example.org", true)
		s.dir.Enrol(userID, "go-101")
	}
	s.complete("user-1", "go-101")
	s.complete("user-2", "go-101")
	// user-3 has not completed.

	users, err := s.service.ReviewBacklog(s.ctx, c)
	s.Require().NoError(err)
	s.ElementsMatch([]string{"user-1", "user-2"}, users)

	// ReviewBacklog alone writes nothing.
	entries, err := s.store.ListMet(s.ctx, c.ID)
	s.NoError(err)
	s.Empty(entries)
}

func (s *ReviewServiceSuite) TestRunBacklogIssuesThenSecondRunIsEmpty() {
	c := s.saveCriterion(criteria.ModeAll, "go-101")
	s.dir.AddUser("user-1", "one@example.org", true)
	s.dir.Enrol("user-1", "go-101")
	s.complete("user-1", "go-101")

	result, err := s.service.RunBacklog(s.ctx, c)
	s.Require().NoError(err)
	s.True(result.Issued)
	s.Equal(1, s.issuer.callCount())

	users, err := s.service.ReviewBacklog(s.ctx, c)
	s.Require().NoError(err)
	s.Empty(users, "everyone issued in the first run is on the ledger now")

	result, err = s.service.RunBacklog(s.ctx, c)
	s.Require().NoError(err)
	s.False(result.Issued)
	s.Equal(1, s.issuer.callCount(), "no second issuer call")
}

func (s *ReviewServiceSuite) TestBacklogSkipsNonEarners() {
	c := s.saveCriterion(criteria.ModeAll, "go-101")
	s.dir.AddUser("user-1", "one@example.org", false)
	s.dir.Enrol("user-1", "go-101")
	s.complete("user-1", "go-101")

	users, err := s.service.ReviewBacklog(s.ctx, c)
	s.Require().NoError(err)
	s.Empty(users)
}

func (s *ReviewServiceSuite) TestBacklogSurvivesOneUsersBadFacts() {
	c := s.saveCriterion(criteria.ModeAll, "go-101")
	for _, userID := range []string{"user-1", "user-2", "user-3"} {
		s.dir.AddUser(userID, userID+"@example.org", true)
		s.dir.Enrol(userID, "go-101")
		s.complete(userID, "go-101")
	}
	s.dir.failFor = map[string]error{"user-2": errors.New("completion record unavailable")}

	users, err := s.service.ReviewBacklog(s.ctx, c)
	s.Require().NoError(err, "one user's lookup failure must not sink the sweep")
	s.ElementsMatch([]string{"user-1", "user-3"}, users)
}

func (s *ReviewServiceSuite) TestBacklogDeduplicatesAcrossCourses() {
	c := s.saveCriterion(criteria.ModeAny, "go-101", "go-102")
	s.dir.AddUser("user-1", "one@example.org", true)
	s.dir.Enrol("user-1", "go-101")
	s.dir.Enrol("user-1", "go-102")
	s.complete("user-1", "go-101")

	users, err := s.service.ReviewBacklog(s.ctx, c)
	s.Require().NoError(err)
	s.Equal([]string{"user-1"}, users, "enrolment in both courses must not double-count")
}
