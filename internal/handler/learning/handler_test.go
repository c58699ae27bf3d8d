package learning_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/citta/backend/internal/analysis/learner"
	"github.com/zhouzirui/citta/backend/internal/handler/learning"
	"github.com/zhouzirui/citta/backend/internal/middleware"
	domain "github.com/zhouzirui/citta/backend/internal/model/tutoring"
	"github.com/zhouzirui/citta/backend/internal/service/tutoring"
	"github.com/zhouzirui/citta/backend/internal/store"
)

func newRouter(t *testing.T) (http.Handler, *tutoring.Service, *store.MemoryStore) {
	t.Helper()
	repo := store.NewMemory()
	svc := tutoring.NewService(repo, nil, nil, tutoring.Options{UploadDir: t.TempDir()})
	r := chi.NewRouter()
	r.Use(middleware.Identity)
	learning.New(svc).RegisterRoutes(r)
	return r, svc, repo
}

func call(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(middleware.UserIDHeader, "u1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTrackAndSuggest(t *testing.T) {
	h, _, _ := newRouter(t)

	for i := 0; i < 3; i++ {
		if rec := call(t, h, http.MethodPost, "/interactions/track", `{"mode":"K","text":"this is too hard"}`); rec.Code != http.StatusOK {
			t.Fatalf("track status %d: %s", rec.Code, rec.Body.String())
		}
	}
	rec := call(t, h, http.MethodPost, "/interactions/track", `{"mode":"auditory","isNegativeResponse":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("track status %d", rec.Code)
	}
	if rec := call(t, h, http.MethodPost, "/interactions/track", `{"mode":"Q"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid mode should be 400, got %d", rec.Code)
	}

	rec = call(t, h, http.MethodGet, "/interactions/performance", "")
	var perf []struct {
		Mode        domain.Mode `json:"mode"`
		SuccessRate float64     `json:"successRate"`
	}
	json.Unmarshal(rec.Body.Bytes(), &perf)
	if len(perf) != 4 || perf[1].Mode != domain.ModeAuditory || perf[1].SuccessRate != 100 || perf[3].Mode != domain.ModeKinesthetic || perf[3].SuccessRate != 0 {
		t.Fatalf("unexpected performance %+v", perf)
	}

	rec = call(t, h, http.MethodGet, "/interactions/mode-suggestion/K", "")
	var suggestion learner.Suggestion
	json.Unmarshal(rec.Body.Bytes(), &suggestion)
	if !suggestion.ShouldSwitch || suggestion.SuggestedMode != domain.ModeAuditory {
		t.Fatalf("unexpected suggestion %+v", suggestion)
	}
}

func TestValidateKinesthetic(t *testing.T) {
	h, _, repo := newRouter(t)
	ctx := context.Background()

	session := &domain.Session{
		ID:     "s1",
		UserID: "u1",
		Mode:   domain.ModeKinesthetic,
		Challenge: &domain.KinestheticChallenge{
			DropZones: []domain.DropZone{{ElementID: "leaf", X: 100, Y: 100, Tolerance: 50}},
		},
	}
	if err := repo.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	rec := call(t, h, http.MethodPost, "/interactions/validate-kinesthetic", `{"sessionId":"s1","elementId":"leaf","coordinates":{"x":130,"y":140}}`)
	var result tutoring.DropResult
	json.Unmarshal(rec.Body.Bytes(), &result)
	if rec.Code != http.StatusOK || !result.Correct || result.Distance != 50 {
		t.Fatalf("unexpected result %d %+v", rec.Code, result)
	}

	if result.CorrectPosition == nil || result.CorrectPosition.X != 100 || result.CorrectPosition.Y != 100 {
		t.Fatalf("expected correct position, got %+v", result.CorrectPosition)
	}

	rec = call(t, h, http.MethodPost, "/interactions/validate-kinesthetic", `{"sessionId":"s1","elementId":"stem","coordinates":{"x":0,"y":0}}`)
	var unknown map[string]any
	json.Unmarshal(rec.Body.Bytes(), &unknown)
	if rec.Code != http.StatusOK || unknown["correct"] != false {
		t.Fatalf("unknown element should be 200 incorrect, got %d %s", rec.Code, rec.Body.String())
	}
	if _, ok := unknown["correctPosition"]; ok {
		t.Fatalf("unknown element should not report a position: %s", rec.Body.String())
	}

	for _, body := range []string{
		`{"sessionId":"s1","elementId":"leaf"}`,
		`{"sessionId":"s1","elementId":"leaf","coordinates":{"x":130}}`,
		`{"sessionId":"s1","elementId":"leaf","coordinates":{"x":"130","y":140}}`,
	} {
		if rec := call(t, h, http.MethodPost, "/interactions/validate-kinesthetic", body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rec.Code)
		}
	}

	if err := repo.CreateSession(ctx, &domain.Session{ID: "s2", UserID: "u1", Mode: domain.ModeReading}); err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	if rec := call(t, h, http.MethodPost, "/interactions/validate-kinesthetic", `{"sessionId":"s2","elementId":"leaf","coordinates":{"x":0,"y":0}}`); rec.Code != http.StatusNotFound {
		t.Fatalf("session without challenge should be 404, got %d", rec.Code)
	}
	if rec := call(t, h, http.MethodPost, "/interactions/validate-kinesthetic", `{"sessionId":"missing","elementId":"leaf","coordinates":{"x":0,"y":0}}`); rec.Code != http.StatusNotFound {
		t.Fatalf("missing session should be 404, got %d", rec.Code)
	}
}
