package template

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"openbadger/pkg/platform/sentinel"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetByBadge(ctx context.Context, badgeID string) (EmailTemplate, error) {
	var t EmailTemplate
	err := s.db.QueryRowContext(ctx, `
		SELECT badge_id, subject, body, footer, link_text
		FROM email_templates WHERE badge_id = $1`, badgeID).
		Scan(&t.BadgeID, &t.Subject, &t.Body, &t.Footer, &t.LinkText)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return EmailTemplate{}, sentinel.ErrNotFound
		}
		return EmailTemplate{}, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, t EmailTemplate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_templates (badge_id, subject, body, footer, link_text)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (badge_id) DO UPDATE SET
			subject = EXCLUDED.subject,
			body = EXCLUDED.body,
			footer = EXCLUDED.footer,
			link_text = EXCLUDED.link_text`,
		t.BadgeID, t.Subject, t.Body, t.Footer, t.LinkText)
	if err != nil {
		return fmt.Errorf("upsert template: %w", err)
	}
	return nil
}
