package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"openbadger/internal/criteria"
	"openbadger/internal/issuance"
	dErrors "openbadger/pkg/domain-errors"
	"openbadger/pkg/platform/httputil"
)

// Coordinator defines the interface for operator-initiated issuance. Issue is
// the ledgered path; IssueAdHoc grants without touching the met ledger.
type Coordinator interface {
	Issue(ctx context.Context, criterion criteria.Criterion, userIDs []string, metAt time.Time) (issuance.Result, error)
	IssueAdHoc(ctx context.Context, badgeID string, userIDs []string) (issuance.Result, error)
}

// Handler exposes manual issuance. A request naming a criterion_id goes
// through the ledgered path, so a later automatic review cannot issue the
// same badge again; without one the grant is ad hoc and unledgered.
type Handler struct {
	coordinator Coordinator
	store       criteria.Store
	logger      *slog.Logger
}

func New(coordinator Coordinator, store criteria.Store, logger *slog.Logger) *Handler {
	return &Handler{coordinator: coordinator, store: store, logger: logger}
}

// Register mounts issuance endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/badges/{badgeID}/issue", h.HandleIssue)
}

type issueRequest struct {
	UserIDs     []string `json:"user_ids"`
	CriterionID string   `json:"criterion_id,omitempty"`
}

type issueResponse struct {
	BatchID    string   `json:"batch_id"`
	Issued     bool     `json:"issued"`
	Recipients int      `json:"recipients"`
	Unresolved []string `json:"unresolved,omitempty"`
	EventID    string   `json:"event_id,omitempty"`
}

// HandleIssue handles POST /badges/{badgeID}/issue.
func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	badgeID := chi.URLParam(r, "badgeID")

	req, ok := httputil.Decode[issueRequest](w, r)
	if !ok {
		return
	}
	if len(req.UserIDs) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "user_ids must not be empty"))
		return
	}

	var (
		result issuance.Result
		err    error
	)
	if req.CriterionID != "" {
		var criterion criteria.Criterion
		criterion, err = h.store.FindByID(r.Context(), req.CriterionID)
		if err != nil {
			httputil.WriteError(w, dErrors.FromSentinel(err, "criterion not found"))
			return
		}
		if criterion.BadgeID != badgeID {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest,
				"criterion "+criterion.ID+" does not belong to badge "+badgeID))
			return
		}
		result, err = h.coordinator.Issue(r.Context(), criterion, req.UserIDs, time.Now().UTC())
	} else {
		result, err = h.coordinator.IssueAdHoc(r.Context(), badgeID, req.UserIDs)
	}
	if err != nil {
		h.logger.Error("manual issuance failed",
			"badge_id", badgeID, "criterion_id", req.CriterionID, "error", err)
		httputil.WriteError(w, dErrors.FromSentinel(err, "issuance failed"))
		return
	}

	status := http.StatusOK
	if !result.Issued {
		// Nothing resolved; nothing was sent to the issuer.
		status = http.StatusUnprocessableEntity
	}
	httputil.WriteJSON(w, status, issueResponse{
		BatchID:    result.BatchID,
		Issued:     result.Issued,
		Recipients: len(result.Resolved),
		Unresolved: result.Unresolved,
		EventID:    result.EventID,
	})
}
