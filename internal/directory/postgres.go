package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"openbadger/pkg/platform/sentinel"
)

// Postgres reads directory facts from the platform database. All queries hit
// live tables; nothing is cached here.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (d *Postgres) CourseCompletion(ctx context.Context, userID, courseID string) (*CompletionRecord, error) {
	var rec CompletionRecord
	var grade sql.NullFloat64
	err := d.db.QueryRowContext(ctx, `
		SELECT cc.completed_at, cg.final_grade
		FROM course_completions cc
		LEFT JOIN course_grades cg ON cg.user_id = cc.user_id AND cg.course_id = cc.course_id
		WHERE cc.user_id = $1 AND cc.course_id = $2`,
		userID, courseID).Scan(&rec.CompletedAt, &grade)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("course completion: %w", err)
	}
	if grade.Valid {
		g := grade.Float64
		rec.Grade = &g
	}
	return &rec, nil
}

func (d *Postgres) EnrolledEarners(ctx context.Context, courseID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT e.user_id
		FROM enrolments e
		JOIN users u ON u.id = e.user_id
		WHERE e.course_id = $1 AND u.can_earn_badges
		ORDER BY e.user_id`, courseID)
	if err != nil {
		return nil, fmt.Errorf("enrolled earners: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan earner: %w", err)
		}
		out = append(out, userID)
	}
	return out, rows.Err()
}

func (d *Postgres) CanEarnBadge(ctx context.Context, userID string) (bool, error) {
	var canEarn bool
	err := d.db.QueryRowContext(ctx,
		`SELECT can_earn_badges FROM users WHERE id = $1`, userID).Scan(&canEarn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("can earn badge: %w", err)
	}
	return canEarn, nil
}

func (d *Postgres) PrimaryEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := d.db.QueryRowContext(ctx,
		`SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", sentinel.ErrNotFound
		}
		return "", fmt.Errorf("primary email: %w", err)
	}
	return email, nil
}

func (d *Postgres) BackpackEmail(ctx context.Context, userID string) (string, error) {
	var email string
	err := d.db.QueryRowContext(ctx,
		`SELECT backpack_email FROM user_backpacks WHERE user_id = $1`, userID).Scan(&email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("backpack email: %w", err)
	}
	return email, nil
}
