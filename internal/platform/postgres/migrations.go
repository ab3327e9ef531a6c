package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is idempotent; Migrate runs it on every startup. The
// (criterion_id, user_id) primary key on criterion_met is load-bearing: the
// ledger's at-most-once guarantee is this constraint.
const schema = `
CREATE TABLE IF NOT EXISTS badge_criteria (
    id UUID PRIMARY KEY,
    badge_id TEXT NOT NULL,
    completion_mode TEXT NOT NULL,
    addendum TEXT NOT NULL DEFAULT '',
    use_addendum BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_completion_mode CHECK (completion_mode IN ('all', 'any'))
);

CREATE INDEX IF NOT EXISTS idx_badge_criteria_badge ON badge_criteria(badge_id);

CREATE TABLE IF NOT EXISTS criterion_courses (
    criterion_id UUID NOT NULL REFERENCES badge_criteria(id) ON DELETE CASCADE,
    course_id TEXT NOT NULL,
    deadline TIMESTAMP WITH TIME ZONE,
    min_grade DOUBLE PRECISION,
    position INTEGER NOT NULL DEFAULT 0,

    CONSTRAINT valid_min_grade CHECK (min_grade IS NULL OR min_grade >= 0)
);

CREATE INDEX IF NOT EXISTS idx_criterion_courses_criterion ON criterion_courses(criterion_id);
CREATE INDEX IF NOT EXISTS idx_criterion_courses_course ON criterion_courses(course_id);

CREATE TABLE IF NOT EXISTS criterion_met (
    criterion_id UUID NOT NULL,
    user_id TEXT NOT NULL,
    met_at TIMESTAMP WITH TIME ZONE NOT NULL,

    PRIMARY KEY (criterion_id, user_id)
);

CREATE TABLE IF NOT EXISTS issuance_events (
    id UUID PRIMARY KEY,
    criterion_id UUID NOT NULL,
    event_id TEXT NOT NULL,
    issued_at TIMESTAMP WITH TIME ZONE NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_issuance_events_criterion ON issuance_events(criterion_id);

CREATE TABLE IF NOT EXISTS email_templates (
    badge_id TEXT PRIMARY KEY,
    subject TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    footer TEXT NOT NULL DEFAULT '',
    link_text TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL,
    can_earn_badges BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS user_backpacks (
    user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    backpack_email TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS enrolments (
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    course_id TEXT NOT NULL,

    PRIMARY KEY (user_id, course_id)
);

CREATE INDEX IF NOT EXISTS idx_enrolments_course ON enrolments(course_id);

CREATE TABLE IF NOT EXISTS course_completions (
    user_id TEXT NOT NULL,
    course_id TEXT NOT NULL,
    completed_at TIMESTAMP WITH TIME ZONE NOT NULL,

    PRIMARY KEY (user_id, course_id)
);

CREATE TABLE IF NOT EXISTS course_grades (
    user_id TEXT NOT NULL,
    course_id TEXT NOT NULL,
    final_grade DOUBLE PRECISION NOT NULL,

    PRIMARY KEY (user_id, course_id)
);
`

// Migrate applies the schema. Safe to run concurrently from multiple
// instances; every statement is IF NOT EXISTS.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
