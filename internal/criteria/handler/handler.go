package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"openbadger/internal/criteria"
	dErrors "openbadger/pkg/domain-errors"
	"openbadger/pkg/platform/httputil"
)

// Handler wires criteria CRUD endpoints to the store. Edits are frozen once
// a criterion has fired for anyone: changing the rules after an issuance
// would make past grants unexplainable.
type Handler struct {
	store  criteria.Store
	logger *slog.Logger
}

func New(store criteria.Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Register mounts criteria endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/criteria", h.HandleCreate)
	r.Get("/criteria", h.HandleList)
	r.Get("/criteria/{id}", h.HandleGet)
	r.Delete("/criteria/{id}", h.HandleDelete)
	r.Post("/criteria/{id}/links", h.HandleAddLinks)
	r.Get("/criteria/{id}/ledger", h.HandleLedger)
	r.Delete("/courses/{courseID}/links", h.HandleCourseDeleted)
}

type courseLinkDTO struct {
	CourseID string     `json:"course_id"`
	Deadline *time.Time `json:"deadline,omitempty"`
	MinGrade *float64   `json:"min_grade,omitempty"`
}

type criterionRequest struct {
	BadgeID     string          `json:"badge_id"`
	Mode        string          `json:"mode"`
	Links       []courseLinkDTO `json:"links"`
	Addendum    string          `json:"addendum,omitempty"`
	UseAddendum bool            `json:"use_addendum,omitempty"`
}

type criterionResponse struct {
	ID          string          `json:"id"`
	BadgeID     string          `json:"badge_id"`
	Mode        string          `json:"mode"`
	Links       []courseLinkDTO `json:"links"`
	Addendum    string          `json:"addendum,omitempty"`
	UseAddendum bool            `json:"use_addendum,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func toResponse(c criteria.Criterion) criterionResponse {
	links := make([]courseLinkDTO, 0, len(c.Links))
	for _, l := range c.Links {
		links = append(links, courseLinkDTO{CourseID: l.CourseID, Deadline: l.Deadline, MinGrade: l.MinGrade})
	}
	return criterionResponse{
		ID:          c.ID,
		BadgeID:     c.BadgeID,
		Mode:        string(c.Mode),
		Links:       links,
		Addendum:    c.Addendum,
		UseAddendum: c.UseAddendum,
		CreatedAt:   c.CreatedAt,
	}
}

func parseLinks(dtos []courseLinkDTO) ([]criteria.CourseLink, error) {
	links := make([]criteria.CourseLink, 0, len(dtos))
	for _, dto := range dtos {
		if dto.CourseID == "" {
			return nil, errors.New("course_id is required on every link")
		}
		links = append(links, criteria.CourseLink{
			CourseID: dto.CourseID,
			Deadline: dto.Deadline,
			MinGrade: dto.MinGrade,
		})
	}
	return links, nil
}

// HandleCreate handles POST /criteria.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[criterionRequest](w, r)
	if !ok {
		return
	}
	if req.BadgeID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "badge_id is required"))
		return
	}
	mode, err := criteria.ParseCompletionMode(req.Mode)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, err.Error()))
		return
	}
	links, err := parseLinks(req.Links)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, err.Error()))
		return
	}

	criterion := criteria.Criterion{
		BadgeID:     req.BadgeID,
		Mode:        mode,
		Links:       links,
		Addendum:    req.Addendum,
		UseAddendum: req.UseAddendum,
	}
	if err := h.store.Save(r.Context(), &criterion); err != nil {
		h.logger.Error("criterion create failed", "badge_id", req.BadgeID, "error", err)
		httputil.WriteError(w, dErrors.FromSentinel(err, "could not save criterion"))
		return
	}

	h.logger.Info("criterion created",
		"criterion_id", criterion.ID, "badge_id", criterion.BadgeID,
		"mode", criterion.Mode, "links", len(criterion.Links))
	httputil.WriteJSON(w, http.StatusCreated, toResponse(criterion))
}

// HandleList handles GET /criteria.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	all, err := h.store.ListAll(r.Context())
	if err != nil {
		httputil.WriteError(w, dErrors.FromSentinel(err, "could not list criteria"))
		return
	}
	out := make([]criterionResponse, 0, len(all))
	for _, c := range all {
		out = append(out, toResponse(c))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// HandleGet handles GET /criteria/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.FromSentinel(err, "criterion not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(c))
}

// HandleDelete handles DELETE /criteria/{id}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		httputil.WriteError(w, dErrors.FromSentinel(err, "criterion not found"))
		return
	}
	h.logger.Info("criterion deleted", "criterion_id", id)
	w.WriteHeader(http.StatusNoContent)
}

type addLinksRequest struct {
	Links []courseLinkDTO `json:"links"`
}

// HandleAddLinks handles POST /criteria/{id}/links. Returns 409 once the
// criterion has fired for any user.
func (h *Handler) HandleAddLinks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	c, err := h.store.FindByID(ctx, id)
	if err != nil {
		httputil.WriteError(w, dErrors.FromSentinel(err, "criterion not found"))
		return
	}

	fired, err := h.store.HasAnyMet(ctx, id)
	if err != nil {
		httputil.WriteError(w, dErrors.FromSentinel(err, "could not check ledger"))
		return
	}
	if fired {
		httputil.WriteError(w, dErrors.New(dErrors.CodeConflict, "criterion is frozen after first issuance"))
		return
	}

	req, ok := httputil.Decode[addLinksRequest](w, r)
	if !ok {
		return
	}
	if len(req.Links) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "links must not be empty"))
		return
	}
	links, err := parseLinks(req.Links)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, err.Error()))
		return
	}

	for _, link := range links {
		if c.HasCourse(link.CourseID) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeConflict, "course already linked: "+link.CourseID))
			return
		}
		c.Links = append(c.Links, link)
	}

	if err := h.store.Save(ctx, &c); err != nil {
		h.logger.Error("link add failed", "criterion_id", id, "error", err)
		httputil.WriteError(w, dErrors.FromSentinel(err, "could not save criterion"))
		return
	}

	h.logger.Info("criterion links added", "criterion_id", id, "links", len(links))
	httputil.WriteJSON(w, http.StatusOK, toResponse(c))
}

// HandleCourseDeleted handles DELETE /courses/{courseID}/links, the ingress
// for the upstream course-deleted hook. Every link referencing the course is
// removed, and criteria left without links are pruned along with their
// ledger entries.
func (h *Handler) HandleCourseDeleted(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "courseID")

	removed, err := h.store.DeleteCourse(r.Context(), courseID)
	if err != nil {
		h.logger.Error("course deletion failed", "course_id", courseID, "error", err)
		httputil.WriteError(w, dErrors.FromSentinel(err, "could not remove course links"))
		return
	}

	h.logger.Info("course links removed", "course_id", courseID, "pruned_criteria", removed)
	httputil.WriteJSON(w, http.StatusOK, map[string]int64{"pruned_criteria": removed})
}

type ledgerEntryDTO struct {
	UserID string    `json:"user_id"`
	MetAt  time.Time `json:"met_at"`
}

// HandleLedger handles GET /criteria/{id}/ledger.
func (h *Handler) HandleLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if _, err := h.store.FindByID(ctx, id); err != nil {
		httputil.WriteError(w, dErrors.FromSentinel(err, "criterion not found"))
		return
	}
	entries, err := h.store.ListMet(ctx, id)
	if err != nil {
		httputil.WriteError(w, dErrors.FromSentinel(err, "could not list ledger"))
		return
	}

	out := make([]ledgerEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, ledgerEntryDTO{UserID: e.UserID, MetAt: e.MetAt})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
