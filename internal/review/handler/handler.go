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

// Service defines the interface for review operations.
type Service interface {
	HandleCompletion(ctx context.Context, userID, courseID string) error
	RunBacklog(ctx context.Context, criterion criteria.Criterion) (issuance.Result, error)
}

// Handler exposes the two review triggers: a completion-event ingress and an
// on-demand backlog review for one criterion.
type Handler struct {
	service Service
	store   criteria.Store
	logger  *slog.Logger
}

func New(service Service, store criteria.Store, logger *slog.Logger) *Handler {
	return &Handler{service: service, store: store, logger: logger}
}

// Register mounts review endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/events/completion", h.HandleCompletionEvent)
	r.Post("/criteria/{id}/review", h.HandleReview)
}

type completionEventRequest struct {
	UserID   string `json:"user_id"`
	CourseID string `json:"course_id"`
}

// HandleCompletionEvent handles POST /events/completion, the HTTP ingress
// for platforms that push completions directly instead of through the broker.
func (h *Handler) HandleCompletionEvent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	req, ok := httputil.Decode[completionEventRequest](w, r)
	if !ok {
		return
	}
	if req.UserID == "" || req.CourseID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "user_id and course_id are required"))
		return
	}

	if err := h.service.HandleCompletion(r.Context(), req.UserID, req.CourseID); err != nil {
		h.logger.Error("completion review failed",
			"user_id", req.UserID, "course_id", req.CourseID, "error", err)
		httputil.WriteError(w, dErrors.FromSentinel(err, "review failed"))
		return
	}

	h.logger.Info("completion reviewed",
		"user_id", req.UserID,
		"course_id", req.CourseID,
		"duration_ms", time.Since(start).Milliseconds())
	w.WriteHeader(http.StatusAccepted)
}

type reviewResponse struct {
	BatchID    string   `json:"batch_id,omitempty"`
	Issued     bool     `json:"issued"`
	Recipients int      `json:"recipients"`
	Unresolved []string `json:"unresolved,omitempty"`
	EventID    string   `json:"event_id,omitempty"`
}

// HandleReview handles POST /criteria/{id}/review: an operator-triggered
// backlog sweep for one criterion.
func (h *Handler) HandleReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	criterion, err := h.store.FindByID(ctx, id)
	if err != nil {
		httputil.WriteError(w, dErrors.FromSentinel(err, "criterion not found"))
		return
	}

	result, err := h.service.RunBacklog(ctx, criterion)
	if err != nil {
		h.logger.Error("backlog review failed", "criterion_id", id, "error", err)
		httputil.WriteError(w, dErrors.FromSentinel(err, "review failed"))
		return
	}

	httputil.WriteJSON(w, http.StatusOK, reviewResponse{
		BatchID:    result.BatchID,
		Issued:     result.Issued,
		Recipients: len(result.Resolved),
		Unresolved: result.Unresolved,
		EventID:    result.EventID,
	})
}
