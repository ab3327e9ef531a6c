package criteria

import (
	"context"
	"time"
)

// Store persists criteria, their course links, and the met ledger. It is
// interface-driven so the review and issuance services stay testable and the
// in-memory and PostgreSQL implementations remain interchangeable.
//
// MarkMet is the concurrency-correctness anchor: it must be a
// uniqueness-enforcing insert (insert-or-ignore on the (criterion, user) key),
// not a check-then-insert, so racing evaluators cannot both land a row.
type Store interface {
	// Save inserts the criterion (assigning an ID when empty) or updates it
	// in place, replacing its links.
	Save(ctx context.Context, c *Criterion) error

	FindByID(ctx context.Context, id string) (Criterion, error)
	ListAll(ctx context.Context) ([]Criterion, error)

	// ListByCourse returns criteria with at least one link referencing the
	// course - the secondary index driving single-event review.
	ListByCourse(ctx context.Context, courseID string) ([]Criterion, error)

	// Delete removes the criterion, its links, and its ledger entries in one
	// transaction. Returns sentinel.ErrNotFound when it does not exist.
	Delete(ctx context.Context, id string) error

	// RemoveCourse drops every link referencing the course (course deleted
	// upstream). Criteria left without links are picked up by PruneOrphaned.
	RemoveCourse(ctx context.Context, courseID string) error

	// DeleteCourse is the course-deletion flow: RemoveCourse plus
	// PruneOrphaned as one atomic step, so no reader observes a zero-link
	// criterion in between. Returns the number of criteria removed.
	DeleteCourse(ctx context.Context, courseID string) (int64, error)

	// PruneOrphaned removes criteria with zero links and ledger entries whose
	// criterion no longer exists. Returns the number of criteria removed.
	PruneOrphaned(ctx context.Context) (int64, error)

	// MarkMet records that the user satisfied the criterion. The insert is
	// idempotent: a duplicate is a no-op, never an error. The bool reports
	// whether a new row landed.
	MarkMet(ctx context.Context, criterionID, userID string, at time.Time) (bool, error)

	// IsMet reports whether a ledger entry exists for (criterion, user).
	IsMet(ctx context.Context, criterionID, userID string) (bool, error)

	// HasAnyMet reports whether the criterion has fired for at least one user.
	// Callers use it to freeze criteria edits after first issuance.
	HasAnyMet(ctx context.Context, criterionID string) (bool, error)

	// ListMet returns the criterion's ledger entries.
	ListMet(ctx context.Context, criterionID string) ([]LedgerEntry, error)

	// RecordIssuance links an issuer event id to the criterion that caused it,
	// for audit trails.
	RecordIssuance(ctx context.Context, criterionID, eventID string, at time.Time) error
}
