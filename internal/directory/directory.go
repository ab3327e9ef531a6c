// Package directory answers questions about users and courses: completion
// facts, enrolment, badge-earning capability, and recipient addresses. It is
// the read side of evaluation; the criteria package owns the write side.
package directory

import (
	"context"
	"time"
)

// Directory is the facts source consulted during criterion evaluation and
// recipient resolution. Implementations must return current data on every
// call: evaluation never tolerates stale completion state.
type Directory interface {
	// CourseCompletion returns the user's completion record for the course,
	// or nil when the course is not complete.
	CourseCompletion(ctx context.Context, userID, courseID string) (*CompletionRecord, error)

	// EnrolledEarners returns the ids of users enrolled in the course who
	// hold the badge-earning capability.
	EnrolledEarners(ctx context.Context, courseID string) ([]string, error)

	// CanEarnBadge reports whether the user holds the badge-earning
	// capability. Users without it are never evaluated.
	CanEarnBadge(ctx context.Context, userID string) (bool, error)

	// PrimaryEmail returns the user's account email.
	PrimaryEmail(ctx context.Context, userID string) (string, error)

	// BackpackEmail returns the address the user registered with their badge
	// backpack, or "" when they have none. Issuance prefers this address.
	BackpackEmail(ctx context.Context, userID string) (string, error)
}

// CompletionRecord carries the completion facts for one (user, course) pair.
// Grade is nil when no final grade has been recorded; a grade threshold can
// never be satisfied without one.
type CompletionRecord struct {
	CompletedAt time.Time
	Grade       *float64
}
