// Package criteria holds the badge completion rules: which courses a user
// must complete, under which constraints, and the ledger recording who has
// already satisfied each rule.
package criteria

import (
	"fmt"
	"time"
)

// CompletionMode determines how a criterion combines its course links.
type CompletionMode string

const (
	// ModeAll requires every linked course to be satisfied.
	ModeAll CompletionMode = "all"
	// ModeAny requires at least one linked course to be satisfied.
	ModeAny CompletionMode = "any"
)

// ParseCompletionMode validates a mode received from the outside.
func ParseCompletionMode(s string) (CompletionMode, error) {
	switch CompletionMode(s) {
	case ModeAll:
		return ModeAll, nil
	case ModeAny:
		return ModeAny, nil
	default:
		return "", fmt.Errorf("unknown completion mode %q", s)
	}
}

// CourseLink ties a criterion to one prerequisite course, with optional
// constraints. A link with neither constraint is satisfied by completion alone.
type CourseLink struct {
	CourseID string

	// Deadline, when set, requires completion on or before this instant.
	Deadline *time.Time

	// MinGrade, when set, requires a final grade >= this value.
	MinGrade *float64
}

// Criterion is one completion rule for a badge. A badge may carry several
// criteria, each independently sufficient to earn it.
type Criterion struct {
	ID      string
	BadgeID string
	Mode    CompletionMode
	Links   []CourseLink

	// Addendum is optional criteria text appended to the issuance email body
	// when UseAddendum is set.
	Addendum    string
	UseAddendum bool

	CreatedAt time.Time
}

// HasCourse reports whether any link references the given course.
func (c Criterion) HasCourse(courseID string) bool {
	for _, link := range c.Links {
		if link.CourseID == courseID {
			return true
		}
	}
	return false
}

// Unsatisfiable reports whether the criterion can never fire. Zero-link
// criteria are never satisfiable and get removed by PruneOrphaned.
func (c Criterion) Unsatisfiable() bool {
	return len(c.Links) == 0
}

// LedgerEntry records that a user satisfied a criterion. The
// (CriterionID, UserID) pair is unique: it is the at-most-once issuance guard.
type LedgerEntry struct {
	CriterionID string
	UserID      string
	MetAt       time.Time
}

// CompletionFacts are the directory facts a link is judged against.
// A nil CompletedAt means the course is not complete; a nil Grade means no
// final grade has been recorded.
type CompletionFacts struct {
	CompletedAt *time.Time
	Grade       *float64
}
