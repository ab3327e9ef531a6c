package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"openbadger/internal/criteria"
	"openbadger/internal/issuance"
)

type fakeService struct {
	completions [][2]string
	completeErr error
	backlogRes  issuance.Result
	backlogErr  error
}

func (f *fakeService) HandleCompletion(_ context.Context, userID, courseID string) error {
	f.completions = append(f.completions, [2]string{userID, courseID})
	return f.completeErr
}

func (f *fakeService) RunBacklog(context.Context, criteria.Criterion) (issuance.Result, error) {
	return f.backlogRes, f.backlogErr
}

type ReviewHandlerSuite struct {
	suite.Suite
	service *fakeService
	store   *criteria.InMemoryStore
	router  chi.Router
}

func TestReviewHandlerSuite(t *testing.T) {
	suite.Run(t, new(ReviewHandlerSuite))
}

func (s *ReviewHandlerSuite) SetupTest() {
	s.service = &fakeService{}
	s.store = criteria.NewInMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.router = chi.NewRouter()
	New(s.service, s.store, log).Register(s.router)
}

func (s *ReviewHandlerSuite) post(path string, body any) *httptest.ResponseRecorder {
	raw, err := json.Marshal(body)
	s.Require().NoError(err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *ReviewHandlerSuite) TestCompletionEventAccepted() {
	rec := s.post("/events/completion", map[string]string{
		"user_id": "user-1", "course_id": "go-101",
	})
	s.Equal(http.StatusAccepted, rec.Code)
	s.Require().Len(s.service.completions, 1)
	s.Equal([2]string{"user-1", "go-101"}, s.service.completions[0])
}

func (s *ReviewHandlerSuite) TestCompletionEventValidation() {
	rec := s.post("/events/completion", map[string]string{"user_id": "user-1"})
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Empty(s.service.completions)
}

func (s *ReviewHandlerSuite) TestCompletionEventServiceError() {
	s.service.completeErr = errors.New("boom")
	rec := s.post("/events/completion", map[string]string{
		"user_id": "user-1", "course_id": "go-101",
	})
	s.Equal(http.StatusInternalServerError, rec.Code)
}

func (s *ReviewHandlerSuite) TestReviewUnknownCriterion() {
	rec := s.post("/criteria/missing/review", map[string]string{})
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *ReviewHandlerSuite) TestReviewReturnsBatchSummary() {
	c := criteria.Criterion{BadgeID: "badge-1", Mode: criteria.ModeAll, Links: []criteria.CourseLink{{CourseID: "go-101"}}}
	s.Require().NoError(s.store.Save(context.Background(), &c))
	s.service.backlogRes = issuance.Result{
		BatchID:  "batch-1",
		Issued:   true,
		Resolved: map[string]string{"user-1": "one@example.org"},
		EventID:  "evt-1",
	}

	rec := s.post("/criteria/"+c.ID+"/review", map[string]string{})
	s.Require().Equal(http.StatusOK, rec.Code)

	var resp struct {
		Issued     bool   `json:"issued"`
		Recipients int    `json:"recipients"`
		EventID    string `json:"event_id"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.True(resp.Issued)
	s.Equal(1, resp.Recipients)
	s.Equal("evt-1", resp.EventID)
}
