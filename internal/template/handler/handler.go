package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"openbadger/internal/template"
	dErrors "openbadger/pkg/domain-errors"
	"openbadger/pkg/platform/httputil"
)

// Handler wires email template endpoints to the store.
type Handler struct {
	store  template.Store
	logger *slog.Logger
}

func New(store template.Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Register mounts template endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/badges/{badgeID}/template", h.HandleGet)
	r.Put("/badges/{badgeID}/template", h.HandlePut)
}

type templateDTO struct {
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	Footer   string `json:"footer,omitempty"`
	LinkText string `json:"link_text,omitempty"`
}

// HandleGet handles GET /badges/{badgeID}/template.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.GetByBadge(r.Context(), chi.URLParam(r, "badgeID"))
	if err != nil {
		httputil.WriteError(w, dErrors.FromSentinel(err, "template not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, templateDTO{
		Subject:  t.Subject,
		Body:     t.Body,
		Footer:   t.Footer,
		LinkText: t.LinkText,
	})
}

// HandlePut handles PUT /badges/{badgeID}/template.
func (h *Handler) HandlePut(w http.ResponseWriter, r *http.Request) {
	badgeID := chi.URLParam(r, "badgeID")

	req, ok := httputil.Decode[templateDTO](w, r)
	if !ok {
		return
	}

	t := template.EmailTemplate{
		BadgeID:  badgeID,
		Subject:  req.Subject,
		Body:     req.Body,
		Footer:   req.Footer,
		LinkText: req.LinkText,
	}
	if err := h.store.Upsert(r.Context(), t); err != nil {
		h.logger.Error("template upsert failed", "badge_id", badgeID, "error", err)
		httputil.WriteError(w, dErrors.FromSentinel(err, "could not save template"))
		return
	}

	h.logger.Info("template saved", "badge_id", badgeID)
	httputil.WriteJSON(w, http.StatusOK, req)
}
