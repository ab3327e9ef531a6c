package criteria

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"openbadger/pkg/platform/sentinel"
	txcontext "openbadger/pkg/platform/tx"
)

// PostgresStore persists criteria in PostgreSQL. The met ledger relies on the
// (criterion_id, user_id) primary key plus ON CONFLICT DO NOTHING so the
// at-most-once guarantee holds under concurrent writers without any lock in
// this layer.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Save(ctx context.Context, c *Criterion) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
		c.CreatedAt = time.Now().UTC()
	}

	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		ex := s.execer(ctx)

		_, err := ex.ExecContext(ctx, `
			INSERT INTO badge_criteria (id, badge_id, completion_mode, addendum, use_addendum, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				badge_id = EXCLUDED.badge_id,
				completion_mode = EXCLUDED.completion_mode,
				addendum = EXCLUDED.addendum,
				use_addendum = EXCLUDED.use_addendum`,
			c.ID, c.BadgeID, string(c.Mode), c.Addendum, c.UseAddendum, c.CreatedAt)
		if err != nil {
			return fmt.Errorf("save criterion: %w", err)
		}

		if _, err := ex.ExecContext(ctx, `DELETE FROM criterion_courses WHERE criterion_id = $1`, c.ID); err != nil {
			return fmt.Errorf("clear criterion links: %w", err)
		}
		for i, link := range c.Links {
			_, err := ex.ExecContext(ctx, `
				INSERT INTO criterion_courses (criterion_id, course_id, deadline, min_grade, position)
				VALUES ($1, $2, $3, $4, $5)`,
				c.ID, link.CourseID, link.Deadline, link.MinGrade, i)
			if err != nil {
				return fmt.Errorf("save criterion link: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (Criterion, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, badge_id, completion_mode, addendum, use_addendum, created_at
		FROM badge_criteria WHERE id = $1`, id)

	c, err := scanCriterion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Criterion{}, sentinel.ErrNotFound
		}
		return Criterion{}, fmt.Errorf("find criterion: %w", err)
	}

	links, err := s.loadLinks(ctx, c.ID)
	if err != nil {
		return Criterion{}, err
	}
	c.Links = links
	return c, nil
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]Criterion, error) {
	return s.list(ctx, `
		SELECT id, badge_id, completion_mode, addendum, use_addendum, created_at
		FROM badge_criteria ORDER BY created_at`)
}

func (s *PostgresStore) ListByCourse(ctx context.Context, courseID string) ([]Criterion, error) {
	return s.list(ctx, `
		SELECT id, badge_id, completion_mode, addendum, use_addendum, created_at
		FROM badge_criteria
		WHERE id IN (SELECT criterion_id FROM criterion_courses WHERE course_id = $1)
		ORDER BY created_at`, courseID)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]Criterion, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list criteria: %w", err)
	}
	defer rows.Close()

	var out []Criterion
	for rows.Next() {
		c, err := scanCriterion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan criterion: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list criteria: %w", err)
	}

	for i := range out {
		links, err := s.loadLinks(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Links = links
	}
	return out, nil
}

func (s *PostgresStore) loadLinks(ctx context.Context, criterionID string) ([]CourseLink, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT course_id, deadline, min_grade
		FROM criterion_courses WHERE criterion_id = $1 ORDER BY position`, criterionID)
	if err != nil {
		return nil, fmt.Errorf("load criterion links: %w", err)
	}
	defer rows.Close()

	var links []CourseLink
	for rows.Next() {
		var link CourseLink
		var deadline sql.NullTime
		var minGrade sql.NullFloat64
		if err := rows.Scan(&link.CourseID, &deadline, &minGrade); err != nil {
			return nil, fmt.Errorf("scan criterion link: %w", err)
		}
		if deadline.Valid {
			t := deadline.Time
			link.Deadline = &t
		}
		if minGrade.Valid {
			g := minGrade.Float64
			link.MinGrade = &g
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

// Delete cascades to links and ledger entries inside one transaction so the
// caller never observes a half-deleted criterion.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		ex := s.execer(ctx)

		if _, err := ex.ExecContext(ctx, `DELETE FROM criterion_courses WHERE criterion_id = $1`, id); err != nil {
			return fmt.Errorf("delete criterion links: %w", err)
		}
		if _, err := ex.ExecContext(ctx, `DELETE FROM criterion_met WHERE criterion_id = $1`, id); err != nil {
			return fmt.Errorf("delete criterion ledger: %w", err)
		}
		res, err := ex.ExecContext(ctx, `DELETE FROM badge_criteria WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete criterion: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete criterion: %w", err)
		}
		if affected == 0 {
			return sentinel.ErrNotFound
		}
		return nil
	})
}

func (s *PostgresStore) RemoveCourse(ctx context.Context, courseID string) error {
	if _, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM criterion_courses WHERE course_id = $1`, courseID); err != nil {
		return fmt.Errorf("remove course links: %w", err)
	}
	return nil
}

func (s *PostgresStore) PruneOrphaned(ctx context.Context) (int64, error) {
	var removed int64
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		var err error
		removed, err = s.prune(ctx)
		return err
	})
	return removed, err
}

// DeleteCourse removes the course's links and prunes the criteria they leave
// empty in one transaction, so the window where a zero-link criterion exists
// is never visible to readers.
func (s *PostgresStore) DeleteCourse(ctx context.Context, courseID string) (int64, error) {
	var removed int64
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		if err := s.RemoveCourse(ctx, courseID); err != nil {
			return err
		}
		var err error
		removed, err = s.prune(ctx)
		return err
	})
	return removed, err
}

// prune runs inside the caller's transaction via the execer.
func (s *PostgresStore) prune(ctx context.Context) (int64, error) {
	ex := s.execer(ctx)

	res, err := ex.ExecContext(ctx, `
		DELETE FROM badge_criteria
		WHERE id NOT IN (SELECT criterion_id FROM criterion_courses)`)
	if err != nil {
		return 0, fmt.Errorf("prune criteria: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune criteria: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		DELETE FROM criterion_met
		WHERE criterion_id NOT IN (SELECT id FROM badge_criteria)`)
	if err != nil {
		return 0, fmt.Errorf("prune ledger: %w", err)
	}
	return removed, nil
}

func (s *PostgresStore) MarkMet(ctx context.Context, criterionID, userID string, at time.Time) (bool, error) {
	res, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO criterion_met (criterion_id, user_id, met_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (criterion_id, user_id) DO NOTHING`,
		criterionID, userID, at)
	if err != nil {
		return false, fmt.Errorf("mark met: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark met: %w", err)
	}
	return affected == 1, nil
}

func (s *PostgresStore) IsMet(ctx context.Context, criterionID, userID string) (bool, error) {
	var exists bool
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM criterion_met WHERE criterion_id = $1 AND user_id = $2)`,
		criterionID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("is met: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) HasAnyMet(ctx context.Context, criterionID string) (bool, error) {
	var exists bool
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM criterion_met WHERE criterion_id = $1)`,
		criterionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has any met: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListMet(ctx context.Context, criterionID string) ([]LedgerEntry, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT criterion_id, user_id, met_at
		FROM criterion_met WHERE criterion_id = $1 ORDER BY met_at`, criterionID)
	if err != nil {
		return nil, fmt.Errorf("list met: %w", err)
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var entry LedgerEntry
		if err := rows.Scan(&entry.CriterionID, &entry.UserID, &entry.MetAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecordIssuance(ctx context.Context, criterionID, eventID string, at time.Time) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO issuance_events (id, criterion_id, event_id, issued_at)
		VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), criterionID, eventID, at)
	if err != nil {
		return fmt.Errorf("record issuance: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCriterion(row rowScanner) (Criterion, error) {
	var c Criterion
	var mode string
	if err := row.Scan(&c.ID, &c.BadgeID, &mode, &c.Addendum, &c.UseAddendum, &c.CreatedAt); err != nil {
		return Criterion{}, err
	}
	c.Mode = CompletionMode(mode)
	return c, nil
}
