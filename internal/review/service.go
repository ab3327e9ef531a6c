// Package review decides which users have newly satisfied which criteria.
// It is triggered two ways: a single course-completion event reviews one
// user against the criteria touching that course, and the backlog sweep
// reviews every enrolled earner against one criterion.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"openbadger/internal/criteria"
	"openbadger/internal/criteria/metrics"
	"openbadger/internal/directory"
	"openbadger/internal/issuance"
	platformstrings "openbadger/pkg/platform/strings"
)

// Service evaluates criteria against directory facts and hands newly
// satisfied users to the issuance coordinator.
type Service struct {
	store       criteria.Store
	dir         directory.Directory
	coordinator *issuance.Coordinator
	metrics     *metrics.Metrics
	log         *slog.Logger
}

func New(
	store criteria.Store,
	dir directory.Directory,
	coordinator *issuance.Coordinator,
	m *metrics.Metrics,
	log *slog.Logger,
) *Service {
	return &Service{
		store:       store,
		dir:         dir,
		coordinator: coordinator,
		metrics:     m,
		log:         log,
	}
}

// HandleCompletion reviews one user against every criterion linked to the
// completed course. Duplicate events are harmless: the ledger check skips
// users who already satisfied a criterion, and the issuance ledger insert is
// idempotent besides.
func (s *Service) HandleCompletion(ctx context.Context, userID, courseID string) error {
	start := time.Now()
	defer func() { s.metrics.ObserveReviewLatency("event", time.Since(start)) }()

	canEarn, err := s.dir.CanEarnBadge(ctx, userID)
	if err != nil {
		return fmt.Errorf("capability check for %s: %w", userID, err)
	}
	if !canEarn {
		s.log.Debug("user cannot earn badges, skipping review", "user_id", userID)
		return nil
	}

	candidates, err := s.store.ListByCourse(ctx, courseID)
	if err != nil {
		return fmt.Errorf("list criteria for course %s: %w", courseID, err)
	}

	for _, criterion := range candidates {
		if _, err := s.ReviewOne(ctx, criterion, userID); err != nil {
			// One broken criterion must not block the rest of the event.
			s.log.Error("criterion review failed",
				"criterion_id", criterion.ID, "user_id", userID, "error", err)
		}
	}
	return nil
}

// ReviewOne evaluates a single (criterion, user) pair and issues on success.
// It reports whether the user newly satisfied the criterion.
func (s *Service) ReviewOne(ctx context.Context, criterion criteria.Criterion, userID string) (bool, error) {
	met, err := s.store.IsMet(ctx, criterion.ID, userID)
	if err != nil {
		return false, fmt.Errorf("ledger check: %w", err)
	}
	if met {
		return false, nil
	}

	satisfied, err := s.evaluate(ctx, criterion, userID)
	if err != nil {
		return false, err
	}
	if !satisfied {
		return false, nil
	}

	result, err := s.coordinator.Issue(ctx, criterion, []string{userID}, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("issue: %w", err)
	}
	return result.Issued, nil
}

// ReviewBacklog evaluates every enrolled earner against the criterion and
// returns the users who satisfy it but are not yet on the ledger. No ledger
// writes happen here; issuance owns those.
func (s *Service) ReviewBacklog(ctx context.Context, criterion criteria.Criterion) ([]string, error) {
	candidates, err := s.candidates(ctx, criterion)
	if err != nil {
		return nil, err
	}

	var satisfied []string
	for _, userID := range candidates {
		met, err := s.store.IsMet(ctx, criterion.ID, userID)
		if err != nil {
			return nil, fmt.Errorf("ledger check: %w", err)
		}
		if met {
			continue
		}

		ok, err := s.evaluate(ctx, criterion, userID)
		if err != nil {
			// One user's bad facts must not sink the sweep.
			s.log.Error("backlog evaluation failed",
				"criterion_id", criterion.ID, "user_id", userID, "error", err)
			continue
		}
		if ok {
			satisfied = append(satisfied, userID)
		}
	}
	return satisfied, nil
}

// RunBacklog reviews the criterion's backlog and issues to everyone found.
func (s *Service) RunBacklog(ctx context.Context, criterion criteria.Criterion) (issuance.Result, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveReviewLatency("backlog", time.Since(start)) }()

	users, err := s.ReviewBacklog(ctx, criterion)
	if err != nil {
		return issuance.Result{}, err
	}
	if len(users) == 0 {
		return issuance.Result{}, nil
	}
	return s.coordinator.Issue(ctx, criterion, users, time.Now().UTC())
}

// candidates gathers enrolled earners across the criterion's courses,
// fetching rosters concurrently and deduplicating the union.
func (s *Service) candidates(ctx context.Context, criterion criteria.Criterion) ([]string, error) {
	rosters := make([][]string, len(criterion.Links))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, link := range criterion.Links {
		g.Go(func() error {
			users, err := s.dir.EnrolledEarners(gctx, link.CourseID)
			if err != nil {
				return fmt.Errorf("roster for course %s: %w", link.CourseID, err)
			}
			rosters[i] = users
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []string
	for _, roster := range rosters {
		all = append(all, roster...)
	}
	return platformstrings.DedupeAndTrim(all), nil
}

// evaluate runs the criterion's rules against fresh directory facts. Facts
// are fetched lazily per link, so short-circuits skip roundtrips.
func (s *Service) evaluate(ctx context.Context, criterion criteria.Criterion, userID string) (bool, error) {
	source := func(link criteria.CourseLink) (criteria.CompletionFacts, error) {
		rec, err := s.dir.CourseCompletion(ctx, userID, link.CourseID)
		if err != nil {
			return criteria.CompletionFacts{}, err
		}
		if rec == nil {
			return criteria.CompletionFacts{}, nil
		}
		completedAt := rec.CompletedAt
		return criteria.CompletionFacts{CompletedAt: &completedAt, Grade: rec.Grade}, nil
	}

	met, err := criteria.Evaluate(criterion, source)
	if err != nil {
		s.metrics.IncrementEvaluation(string(criterion.Mode), "error")
		return false, fmt.Errorf("evaluate criterion %s: %w", criterion.ID, err)
	}
	if met {
		s.metrics.IncrementEvaluation(string(criterion.Mode), "met")
	} else {
		s.metrics.IncrementEvaluation(string(criterion.Mode), "unmet")
	}
	return met, nil
}
