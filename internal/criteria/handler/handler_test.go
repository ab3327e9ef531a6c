package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"openbadger/internal/criteria"
)

type CriteriaHandlerSuite struct {
	suite.Suite
	store  *criteria.InMemoryStore
	router chi.Router
	ctx    context.Context
}

func TestCriteriaHandlerSuite(t *testing.T) {
	suite.Run(t, new(CriteriaHandlerSuite))
}

func (s *CriteriaHandlerSuite) SetupTest() {
	s.store = criteria.NewInMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.router = chi.NewRouter()
	New(s.store, log).Register(s.router)
	s.ctx = context.Background()
}

func (s *CriteriaHandlerSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *CriteriaHandlerSuite) createCriterion() string {
	rec := s.do(http.MethodPost, "/criteria", map[string]any{
		"badge_id": "badge-1",
		"mode":     "all",
		"links":    []map[string]any{{"course_id": "go-101"}},
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ID string `json:"id"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Require().NotEmpty(resp.ID)
	return resp.ID
}

func (s *CriteriaHandlerSuite) TestCreateAndGet() {
	id := s.createCriterion()

	rec := s.do(http.MethodGet, "/criteria/"+id, nil)
	s.Equal(http.StatusOK, rec.Code)

	var resp struct {
		BadgeID string `json:"badge_id"`
		Mode    string `json:"mode"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal("badge-1", resp.BadgeID)
	s.Equal("all", resp.Mode)
}

func (s *CriteriaHandlerSuite) TestCreateValidation() {
	s.Run("missing badge_id", func() {
		rec := s.do(http.MethodPost, "/criteria", map[string]any{"mode": "all"})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("unknown mode", func() {
		rec := s.do(http.MethodPost, "/criteria", map[string]any{
			"badge_id": "badge-1", "mode": "most",
		})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("link without course_id", func() {
		rec := s.do(http.MethodPost, "/criteria", map[string]any{
			"badge_id": "badge-1", "mode": "all",
			"links": []map[string]any{{"min_grade": 80}},
		})
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *CriteriaHandlerSuite) TestGetNotFound() {
	rec := s.do(http.MethodGet, "/criteria/missing", nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *CriteriaHandlerSuite) TestDelete() {
	id := s.createCriterion()

	rec := s.do(http.MethodDelete, "/criteria/"+id, nil)
	s.Equal(http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/criteria/"+id, nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *CriteriaHandlerSuite) TestAddLinks() {
	id := s.createCriterion()

	rec := s.do(http.MethodPost, "/criteria/"+id+"/links", map[string]any{
		"links": []map[string]any{{"course_id": "go-102", "min_grade": 75}},
	})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Links []struct {
			CourseID string `json:"course_id"`
		} `json:"links"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Len(resp.Links, 2)
}

func (s *CriteriaHandlerSuite) TestAddLinksFrozenAfterFirstIssuance() {
	id := s.createCriterion()
	_, err := s.store.MarkMet(s.ctx, id, "user-1", time.Now())
	s.Require().NoError(err)

	rec := s.do(http.MethodPost, "/criteria/"+id+"/links", map[string]any{
		"links": []map[string]any{{"course_id": "go-102"}},
	})
	s.Equal(http.StatusConflict, rec.Code)
}

func (s *CriteriaHandlerSuite) TestAddDuplicateCourseConflicts() {
	id := s.createCriterion()

	rec := s.do(http.MethodPost, "/criteria/"+id+"/links", map[string]any{
		"links": []map[string]any{{"course_id": "go-101"}},
	})
	s.Equal(http.StatusConflict, rec.Code)
}

func (s *CriteriaHandlerSuite) TestCourseDeletedPrunesEmptiedCriteria() {
	id := s.createCriterion() // single link: go-101

	rec := s.do(http.MethodDelete, "/courses/go-101/links", nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Pruned int64 `json:"pruned_criteria"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal(int64(1), resp.Pruned)

	rec = s.do(http.MethodGet, "/criteria/"+id, nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *CriteriaHandlerSuite) TestCourseDeletedKeepsCriteriaWithOtherLinks() {
	id := s.createCriterion()
	rec := s.do(http.MethodPost, "/criteria/"+id+"/links", map[string]any{
		"links": []map[string]any{{"course_id": "go-102"}},
	})
	s.Require().Equal(http.StatusOK, rec.Code)

	rec = s.do(http.MethodDelete, "/courses/go-102/links", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var resp struct {
		Pruned int64 `json:"pruned_criteria"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal(int64(0), resp.Pruned)

	rec = s.do(http.MethodGet, "/criteria/"+id, nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var criterion struct {
		Links []struct {
			CourseID string `json:"course_id"`
		} `json:"links"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &criterion))
	s.Require().Len(criterion.Links, 1)
	s.Equal("go-101", criterion.Links[0].CourseID)
}

func (s *CriteriaHandlerSuite) TestLedgerListing() {
	id := s.createCriterion()
	_, err := s.store.MarkMet(s.ctx, id, "user-1", time.Now())
	s.Require().NoError(err)

	rec := s.do(http.MethodGet, "/criteria/"+id+"/ledger", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var entries []struct {
		UserID string `json:"user_id"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &entries))
	s.Require().Len(entries, 1)
	s.Equal("user-1", entries[0].UserID)
}
