package issuance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"openbadger/internal/criteria"
	"openbadger/internal/criteria/metrics"
	"openbadger/internal/directory"
	"openbadger/internal/template"
	"openbadger/pkg/platform/sentinel"
	platformstrings "openbadger/pkg/platform/strings"
)

// Coordinator drives one issuance batch end to end. The ordering is the
// at-most-once contract: the issuer call happens first, and ledger rows are
// written only after it succeeds. A failed call leaves no ledger entries, so
// the next review retries the whole batch.
type Coordinator struct {
	store     criteria.Store
	templates template.Store
	dir       directory.Directory
	issuer    Issuer
	metrics   *metrics.Metrics
	log       *slog.Logger
}

func NewCoordinator(
	store criteria.Store,
	templates template.Store,
	dir directory.Directory,
	issuer Issuer,
	m *metrics.Metrics,
	log *slog.Logger,
) *Coordinator {
	return &Coordinator{
		store:     store,
		templates: templates,
		dir:       dir,
		issuer:    issuer,
		metrics:   m,
		log:       log,
	}
}

// Issue grants the criterion's badge to the given users. Users whose address
// cannot be resolved are excluded from the batch, not failed: they stay off
// the ledger and a later sweep picks them up again.
func (c *Coordinator) Issue(ctx context.Context, criterion criteria.Criterion, userIDs []string, metAt time.Time) (Result, error) {
	result := Result{
		BatchID:   uuid.NewString(),
		Requested: platformstrings.DedupeAndTrim(userIDs),
		Resolved:  make(map[string]string),
	}

	for _, userID := range result.Requested {
		email, err := c.resolveRecipient(ctx, userID)
		if err != nil {
			c.log.Warn("recipient unresolved, excluding from batch",
				"criterion_id", criterion.ID, "user_id", userID, "error", err)
			result.Unresolved = append(result.Unresolved, userID)
			continue
		}
		result.Resolved[userID] = email
	}

	if len(result.Resolved) == 0 {
		return result, nil
	}

	req, err := c.buildRequest(ctx, criterion.BadgeID, criterion, result, metAt)
	if err != nil {
		return result, err
	}

	eventID, err := c.issuer.Issue(ctx, req)
	if err != nil {
		c.metrics.IncrementIssuerCall(callResult(err))
		return result, fmt.Errorf("issue badge %s: %w", criterion.BadgeID, err)
	}
	c.metrics.IncrementIssuerCall("ok")

	result.Issued = true
	result.EventID = eventID
	result.IssuedAt = time.Now().UTC()

	for userID := range result.Resolved {
		inserted, err := c.store.MarkMet(ctx, criterion.ID, userID, metAt)
		if err != nil {
			// The issuer call already happened; surface the error but keep
			// writing the remaining rows so as few users as possible get
			// re-issued on the next sweep.
			c.log.Error("ledger write failed after issuance",
				"criterion_id", criterion.ID, "user_id", userID, "error", err)
			continue
		}
		c.metrics.IncrementLedgerWrite(inserted)
	}

	if err := c.store.RecordIssuance(ctx, criterion.ID, eventID, result.IssuedAt); err != nil {
		c.log.Error("issuance event record failed",
			"criterion_id", criterion.ID, "event_id", eventID, "error", err)
	}

	c.log.Info("badge issued",
		"criterion_id", criterion.ID,
		"badge_id", criterion.BadgeID,
		"batch_id", result.BatchID,
		"event_id", eventID,
		"recipients", len(result.Resolved),
		"unresolved", len(result.Unresolved))
	return result, nil
}

// IssueAdHoc grants a badge outside any criterion (operator-initiated). No
// ledger rows are written; the grant is not guarded against repetition.
func (c *Coordinator) IssueAdHoc(ctx context.Context, badgeID string, userIDs []string) (Result, error) {
	result := Result{
		BatchID:   uuid.NewString(),
		Requested: platformstrings.DedupeAndTrim(userIDs),
		Resolved:  make(map[string]string),
	}

	for _, userID := range result.Requested {
		email, err := c.resolveRecipient(ctx, userID)
		if err != nil {
			result.Unresolved = append(result.Unresolved, userID)
			continue
		}
		result.Resolved[userID] = email
	}
	if len(result.Resolved) == 0 {
		return result, nil
	}

	req, err := c.buildRequest(ctx, badgeID, criteria.Criterion{}, result, time.Now().UTC())
	if err != nil {
		return result, err
	}

	eventID, err := c.issuer.Issue(ctx, req)
	if err != nil {
		c.metrics.IncrementIssuerCall(callResult(err))
		return result, fmt.Errorf("issue badge %s: %w", badgeID, err)
	}
	c.metrics.IncrementIssuerCall("ok")

	result.Issued = true
	result.EventID = eventID
	result.IssuedAt = time.Now().UTC()
	c.log.Info("badge issued ad hoc",
		"badge_id", badgeID, "batch_id", result.BatchID, "event_id", eventID,
		"recipients", len(result.Resolved))
	return result, nil
}

// resolveRecipient prefers the address the user's backpack is registered
// under, so the badge lands where the user collects them.
func (c *Coordinator) resolveRecipient(ctx context.Context, userID string) (string, error) {
	if email, err := c.dir.BackpackEmail(ctx, userID); err == nil && email != "" {
		return email, nil
	} else if err != nil {
		c.log.Warn("backpack lookup failed, falling back to account email",
			"user_id", userID, "error", err)
	}

	email, err := c.dir.PrimaryEmail(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("resolve recipient %s: %w", userID, err)
	}
	return email, nil
}

func (c *Coordinator) buildRequest(ctx context.Context, badgeID string, criterion criteria.Criterion, result Result, issuedAt time.Time) (IssueRequest, error) {
	tmpl, err := c.templates.GetByBadge(ctx, badgeID)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			return IssueRequest{}, fmt.Errorf("load template for badge %s: %w", badgeID, err)
		}
		tmpl = template.EmailTemplate{BadgeID: badgeID}
	}

	body := tmpl.Body
	if criterion.UseAddendum {
		body = tmpl.RenderBody(criterion.Addendum)
	}

	recipients := make([]string, 0, len(result.Resolved))
	for _, email := range result.Resolved {
		recipients = append(recipients, email)
	}

	return IssueRequest{
		BadgeID:    badgeID,
		Recipients: platformstrings.DedupeAndTrimLower(recipients),
		Subject:    tmpl.Subject,
		Body:       body,
		Footer:     tmpl.Footer,
		LinkText:   tmpl.LinkText,
		IssuedAt:   issuedAt,
	}, nil
}

func callResult(err error) string {
	if errors.Is(err, sentinel.ErrUnavailable) {
		return "fast_fail"
	}
	return "error"
}
