package issuance

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
	"openbadger/internal/template"
)

type fakeIssuer struct {
	mu      sync.Mutex
	calls   []IssueRequest
	eventID string
	err     error
}

func (f *fakeIssuer) Issue(_ context.Context, req IssueRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return "", f.err
	}
	return f.eventID, nil
}

func (f *fakeIssuer) Assertions(context.Context, string) ([]assertion.Assertion, error) {
	return nil, nil
}

func (f *fakeIssuer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type CoordinatorSuite struct {
	suite.Suite
	store       *criteria.InMemoryStore
	templates   *template.InMemoryStore
	dir         *directory.InMemory
	issuer      *fakeIssuer
	coordinator *Coordinator
	ctx         context.Context
}

func TestCoordinatorSuite(t *testing.T) {
	suite.Run(t, new(CoordinatorSuite))
}

func (s *CoordinatorSuite) SetupTest() {
	s.store = criteria.NewInMemoryStore()
	s.templates = template.NewInMemoryStore()
	s.dir = directory.NewInMemory()
	s.issuer = &fakeIssuer{eventID: "evt-1"}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.coordinator = NewCoordinator(s.store, s.templates, s.dir, s.issuer, nil, log)
	s.ctx = context.Background()
}

func (s *CoordinatorSuite) saveCriterion() criteria.Criterion {
	c := criteria.Criterion{
		BadgeID: "badge-1",
		Mode:    criteria.ModeAll,
		Links:   []criteria.CourseLink{{CourseID: "go-101"}},
	}
	s.Require().NoError(s.store.Save(s.ctx, &c))
	return c
}

// =============================================================================
// Happy Path
// =============================================================================

func (s *CoordinatorSuite) TestIssueWritesLedgerAfterSuccess() {
	c := s.saveCriterion()
	s.dir.AddUser("user-1", "one@example.org", true)
	s.dir.AddUser("user-2", "two@example.org", true)
	metAt := time.Now().UTC()

	result, err := s.coordinator.Issue(s.ctx, c, []string{"user-1", "user-2"}, metAt)
	s.Require().NoError(err)
	s.True(result.Issued)
	s.Equal("evt-1", result.EventID)
	s.Len(result.Resolved, 2)
	s.Empty(result.Unresolved)
	s.Equal(1, s.issuer.callCount(), "one batch, one issuer call")

	for _, userID := range []string{"user-1", "user-2"} {
		met, err := s.store.IsMet(s.ctx, c.ID, userID)
		s.NoError(err)
		s.True(met, "ledger row for %s", userID)
	}
}

func (s *CoordinatorSuite) TestIssueDeduplicatesUsers() {
	c := s.saveCriterion()
	s.dir.AddUser("user-1", "one@example.org", true)

	result, err := s.coordinator.Issue(s.ctx, c, []string{"user-1", "user-1", " user-1 "}, time.Now())
	s.Require().NoError(err)
	s.Len(result.Requested, 1)
	s.Require().Equal(1, s.issuer.callCount())
	s.Len(s.issuer.calls[0].Recipients, 1)
}

func (s *CoordinatorSuite) TestIssuePrefersBackpackEmail() {
	c := s.saveCriterion()
	s.dir.AddUser("user-1", "account@example.org", true)
	s.dir.SetBackpackEmail("user-1", "backpack@example.org")

	result, err := s.coordinator.Issue(s.ctx, c, []string{"user-1"}, time.Now())
	s.Require().NoError(err)
	s.Equal("backpack@example.org", result.Resolved["user-1"])
}

// =============================================================================
// Failure Semantics
// =============================================================================

func (s *CoordinatorSuite) TestIssuerFailureLeavesNoLedgerRows() {
	c := s.saveCriterion()
	s.dir.AddUser("user-1", "one@example.org", true)
	s.issuer.err = errors.New("issuer down")

	result, err := s.coordinator.Issue(s.ctx, c, []string{"user-1"}, time.Now())
	s.Error(err)
	s.False(result.Issued)

	entries, lerr := s.store.ListMet(s.ctx, c.ID)
	s.NoError(lerr)
	s.Empty(entries, "a failed issuer call must leave the ledger untouched")
}

func (s *CoordinatorSuite) TestUnresolvedUsersAreExcludedNotFatal() {
	c := s.saveCriterion()
	s.dir.AddUser("user-1", "one@example.org", true)
	// user-ghost has no directory entry at all.

	result, err := s.coordinator.Issue(s.ctx, c, []string{"user-1", "user-ghost"}, time.Now())
	s.Require().NoError(err)
	s.True(result.Issued)
	s.Equal([]string{"user-ghost"}, result.Unresolved)

	met, err := s.store.IsMet(s.ctx, c.ID, "user-ghost")
	s.NoError(err)
	s.False(met, "excluded users stay off the ledger so a sweep retries them")
}

func (s *CoordinatorSuite) TestAllUnresolvedSkipsIssuerCall() {
	c := s.saveCriterion()

	result, err := s.coordinator.Issue(s.ctx, c, []string{"user-ghost"}, time.Now())
	s.Require().NoError(err)
	s.False(result.Issued)
	s.Zero(s.issuer.callCount(), "empty batch must not reach the issuer")
}

// =============================================================================
// Template Handling
// =============================================================================

func (s *CoordinatorSuite) TestAddendumAppendedToBody() {
	c := criteria.Criterion{
		BadgeID:     "badge-1",
		Mode:        criteria.ModeAll,
		Links:       []criteria.CourseLink{{CourseID: "go-101"}},
		Addendum:    "Complete Go Fundamentals with 80% or better.",
		UseAddendum: true,
	}
	s.Require().NoError(s.store.Save(s.ctx, &c))
	s.Require().NoError(s.templates.Upsert(s.ctx, template.EmailTemplate{
		BadgeID: "badge-1",
		Subject: "You earned a badge",
		Body:    "Congratulations!",
	}))
	s.dir.AddUser("user-1", "one@example.org", true)

	_, err := s.coordinator.Issue(s.ctx, c, []string{"user-1"}, time.Now())
	s.Require().NoError(err)

	s.Require().Equal(1, s.issuer.callCount())
	s.Equal("Congratulations!\n\nComplete Go Fundamentals with 80% or better.", s.issuer.calls[0].Body)
}

func (s *CoordinatorSuite) TestMissingTemplateStillIssues() {
	c := s.saveCriterion()
	s.dir.AddUser("user-1", "one@example.org", true)

	result, err := s.coordinator.Issue(s.ctx, c, []string{"user-1"}, time.Now())
	s.Require().NoError(err)
	s.True(result.Issued)
}

// =============================================================================
// Ad Hoc Issuance
// =============================================================================

func (s *CoordinatorSuite) TestIssueAdHocWritesNoLedger() {
	s.dir.AddUser("user-1", "one@example.org", true)

	result, err := s.coordinator.IssueAdHoc(s.ctx, "badge-9", []string{"user-1"})
	s.Require().NoError(err)
	s.True(result.Issued)
	s.Equal(1, s.issuer.callCount())
}
