package criteria

// This file is pure domain logic - no I/O, no side effects. The evaluation
// rules receive all facts through the supplied source and return a boolean.
// Ledger writes are the caller's responsibility, which keeps evaluation
// repeatable and testable.

// FactSource supplies fresh completion facts for one course link. Evaluation
// never caches facts between calls: completion state can change between events.
type FactSource func(link CourseLink) (CompletionFacts, error)

// Satisfied reports whether a single link is met by the given facts.
// Rule chain (fail-fast):
//  1. the course must be complete
//  2. when a deadline is set, completion must be on or before it (inclusive)
//  3. when a grade threshold is set, the grade must exist and be >= it;
//     a completion with no recorded grade never satisfies a threshold
func (l CourseLink) Satisfied(facts CompletionFacts) bool {
	if facts.CompletedAt == nil {
		return false
	}
	if l.Deadline != nil && facts.CompletedAt.After(*l.Deadline) {
		return false
	}
	if l.MinGrade != nil {
		if facts.Grade == nil || *facts.Grade < *l.MinGrade {
			return false
		}
	}
	return true
}

// Evaluate decides whether the criterion is met, fetching facts lazily per
// link in deterministic link order:
//   - ModeAll: short-circuits false on the first unsatisfied link
//   - ModeAny: short-circuits true on the first satisfied link
//
// A zero-link criterion is never satisfiable. A fact-source error aborts
// evaluation; the criterion is not met and the error propagates.
func Evaluate(c Criterion, facts FactSource) (bool, error) {
	if c.Unsatisfiable() {
		return false, nil
	}

	met := false
	for _, link := range c.Links {
		linkFacts, err := facts(link)
		if err != nil {
			return false, err
		}
		satisfied := link.Satisfied(linkFacts)

		if c.Mode == ModeAll {
			if !satisfied {
				return false, nil
			}
			met = true
			continue
		}

		// ModeAny
		if satisfied {
			return true, nil
		}
	}

	return met, nil
}
