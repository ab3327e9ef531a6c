package template

import "context"

// Store persists email templates keyed by badge.
type Store interface {
	// GetByBadge returns the badge's template, or sentinel.ErrNotFound when
	// none has been configured.
	GetByBadge(ctx context.Context, badgeID string) (EmailTemplate, error)

	// Upsert inserts or replaces the badge's template.
	Upsert(ctx context.Context, t EmailTemplate) error
}
