package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"openbadger/internal/assertion"
	dErrors "openbadger/pkg/domain-errors"
	"openbadger/pkg/platform/httputil"
)

// Service defines the interface for assertion reads.
type Service interface {
	ForUser(ctx context.Context, userID string) ([]assertion.Assertion, error)
}

// Handler serves a user's earned badges.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts assertion endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/users/{userID}/assertions", h.HandleList)
}

// HandleList handles GET /users/{userID}/assertions.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	assertions, err := h.service.ForUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("assertion lookup failed", "user_id", userID, "error", err)
		httputil.WriteError(w, dErrors.FromSentinel(err, "could not fetch assertions"))
		return
	}
	if assertions == nil {
		assertions = []assertion.Assertion{}
	}
	httputil.WriteJSON(w, http.StatusOK, assertions)
}
