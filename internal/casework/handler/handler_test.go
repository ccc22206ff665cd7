package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"wealthcheck/internal/casework/checks"
	"wealthcheck/internal/casework/models"
	"wealthcheck/internal/casework/service"
	"wealthcheck/internal/casework/store"
	jwttoken "wealthcheck/internal/jwt_token"
	"wealthcheck/internal/platform/middleware"
	id "wealthcheck/pkg/domain"
	dErrors "wealthcheck/pkg/domain-errors"
	"wealthcheck/pkg/platform/sentinel"
)

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	router http.Handler
	tokens *jwttoken.JWTService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := func() time.Time { return fixedNow }
	svc, err := service.New(store.NewInMemoryStore(), checks.Default(checks.WithClock(clock)), service.WithClock(clock))
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	logger := slog.New(slog.DiscardHandler)
	tokens := jwttoken.NewJWTService("test-signing-key", "wealthcheck", "wealthcheck-reviewers")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	New(svc, logger).Register(r, middleware.RequireReviewer(tokens, logger))
	return &testEnv{router: r, tokens: tokens}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) reviewerAuth(t *testing.T, reviewer string) map[string]string {
	t.Helper()
	token, err := e.tokens.GenerateReviewerToken(reviewer, time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeCase(t *testing.T, rec *httptest.ResponseRecorder) CaseResponse {
	t.Helper()
	var resp CaseResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode case response: %v", err)
	}
	return resp
}

func validIdentity() map[string]any {
	return map[string]any{
		"full_name":       "Jane Doe",
		"document_type":   "passport",
		"document_number": "X1234567",
		"expiry_date":     "2030-01-01",
	}
}

func TestStartCaseCompletesWhenIdentityIsClean(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/cases", map[string]any{
		"subject_name": "Jane Doe",
		"case_data":    map[string]any{"identity": validIdentity()},
		"checks":       []string{"identity"},
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeCase(t, rec)
	if resp.Status != "completed" {
		t.Fatalf("expected completed case, got %s", resp.Status)
	}
	if resp.Risk == nil || resp.Risk.Score != 0 {
		t.Fatalf("expected zero risk score, got %+v", resp.Risk)
	}

	audit := env.do(t, http.MethodGet, "/cases/"+resp.CaseID+"/audit", nil, nil)
	if audit.Code != http.StatusOK {
		t.Fatalf("expected 200 reading audit, got %d", audit.Code)
	}
	var trail AuditTrailResponse
	if err := json.NewDecoder(audit.Body).Decode(&trail); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if len(trail.Entries) != 3 {
		t.Fatalf("expected 3 audit entries, got %d", len(trail.Entries))
	}
}

func TestStartCaseValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		body any
		want int
	}{
		{name: "missing subject", body: map[string]any{"subject_name": " "}, want: http.StatusBadRequest},
		{name: "unknown check", body: map[string]any{"subject_name": "Jane", "checks": []string{"credit_score"}}, want: http.StatusBadRequest},
		{name: "case data not an object", body: map[string]any{"subject_name": "Jane", "case_data": []int{1}}, want: http.StatusBadRequest},
		{name: "malformed case id", body: map[string]any{"subject_name": "Jane", "case_id": "nope"}, want: http.StatusBadRequest},
		{name: "unknown field", body: map[string]any{"subject_name": "Jane", "priority": "high"}, want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/cases", tc.body, nil)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestReviewFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/cases", map[string]any{
		"subject_name": "Jane Doe",
		"case_data":    map[string]any{},
		"checks":       []string{"identity"},
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	started := decodeCase(t, rec)
	if started.Status != "suspended_for_review" || started.PendingReview == nil {
		t.Fatalf("expected case suspended for review, got %+v", started)
	}
	reviewPath := "/cases/" + started.CaseID + "/review"
	decision := map[string]any{"for_check": "identity", "approved": true, "comment": "verified in branch"}

	t.Run("review without token is unauthorized", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, reviewPath, decision, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	token, err := env.tokens.GenerateReviewerToken("reviewer-7", time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	auth := map[string]string{"Authorization": "Bearer " + token}

	t.Run("decision for another check conflicts", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, reviewPath, map[string]any{"for_check": "payslip", "approved": true}, auth)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("missing approved flag is rejected", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, reviewPath, map[string]any{"for_check": "identity"}, auth)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("approval resumes the case", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, reviewPath, decision, auth)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		resp := decodeCase(t, rec)
		if resp.Status != "completed" {
			t.Fatalf("expected completed, got %s", resp.Status)
		}
		approval, ok := resp.HumanApprovals["identity"]
		if !ok || approval.Reviewer != "reviewer-7" || !approval.Approved {
			t.Fatalf("expected approval recorded for reviewer-7, got %+v", resp.HumanApprovals)
		}
	})

	t.Run("second decision conflicts", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, reviewPath, decision, auth)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
	})
}

func TestCancelAndReads(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/cases", map[string]any{"subject_name": "Jane Doe"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	started := decodeCase(t, rec)

	list := env.do(t, http.MethodGet, "/cases?status=suspended_for_review", nil, nil)
	if list.Code != http.StatusOK {
		t.Fatalf("expected 200 listing cases, got %d", list.Code)
	}
	var listed ListCasesResponse
	if err := json.NewDecoder(list.Body).Decode(&listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed.Cases) != 1 || listed.Cases[0].PendingFor != "identity" {
		t.Fatalf("expected one case pending identity review, got %+v", listed.Cases)
	}

	auth := env.reviewerAuth(t, "reviewer-7")
	cancel := env.do(t, http.MethodPost, "/cases/"+started.CaseID+"/cancel", nil, auth)
	if cancel.Code != http.StatusOK {
		t.Fatalf("expected 200 cancelling, got %d", cancel.Code)
	}
	if resp := decodeCase(t, cancel); resp.Status != "failed" || resp.FailureReason != "cancelled" {
		t.Fatalf("expected cancelled case, got %+v", resp)
	}

	again := env.do(t, http.MethodPost, "/cases/"+started.CaseID+"/cancel", nil, auth)
	if again.Code != http.StatusConflict {
		t.Fatalf("expected 409 cancelling twice, got %d", again.Code)
	}

	run := env.do(t, http.MethodPost, "/cases/"+started.CaseID+"/run", nil, nil)
	if run.Code != http.StatusOK {
		t.Fatalf("expected 200 re-running terminal case, got %d", run.Code)
	}

	missing := env.do(t, http.MethodGet, "/cases/"+id.NewCaseID().String(), nil, nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.Code)
	}

	bad := env.do(t, http.MethodGet, "/cases/not-a-uuid", nil, nil)
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", bad.Code)
	}

	badLimit := env.do(t, http.MethodGet, "/cases?limit=-3", nil, nil)
	if badLimit.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", badLimit.Code)
	}
}

func TestCancelRequiresReviewer(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/cases", map[string]any{"subject_name": "Jane Doe"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	started := decodeCase(t, rec)
	cancelPath := "/cases/" + started.CaseID + "/cancel"

	t.Run("missing token is unauthorized", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, cancelPath, map[string]any{"requested_by": "mallory"}, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
		get := env.do(t, http.MethodGet, "/cases/"+started.CaseID, nil, nil)
		if resp := decodeCase(t, get); resp.Status != started.Status {
			t.Fatalf("expected case to stay %s, got %s", started.Status, resp.Status)
		}
	})

	t.Run("requester comes from the token", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, cancelPath, map[string]any{"requested_by": "mallory"}, env.reviewerAuth(t, "reviewer-7"))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		audit := env.do(t, http.MethodGet, "/cases/"+started.CaseID+"/audit", nil, nil)
		var trail AuditTrailResponse
		if err := json.NewDecoder(audit.Body).Decode(&trail); err != nil {
			t.Fatalf("decode audit: %v", err)
		}
		last := trail.Entries[len(trail.Entries)-1]
		var detail struct {
			RequestedBy string `json:"requested_by"`
		}
		if err := json.Unmarshal(last.Detail, &detail); err != nil {
			t.Fatalf("decode cancel detail: %v", err)
		}
		if detail.RequestedBy != "reviewer-7" {
			t.Fatalf("expected requester reviewer-7, got %q", detail.RequestedBy)
		}
	})
}

func TestTranslateError(t *testing.T) {
	caseID := id.NewCaseID()
	cases := []struct {
		name string
		err  error
		code dErrors.Code
	}{
		{
			name: "concurrent save is a conflict",
			err:  &models.PersistenceError{Op: "save", CaseID: caseID, Err: sentinel.ErrConflict},
			code: dErrors.CodeConflict,
		},
		{
			name: "store outage is unavailable",
			err:  &models.PersistenceError{Op: "save", CaseID: caseID, Err: sentinel.ErrUnavailable},
			code: dErrors.CodeUnavailable,
		},
		{
			name: "invalid resume is a conflict",
			err:  &models.InvalidResumeError{CaseID: caseID, Reason: "case is not suspended"},
			code: dErrors.CodeConflict,
		},
		{
			name: "uncoded error is internal",
			err:  errors.New("boom"),
			code: dErrors.CodeInternal,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := dErrors.CodeOf(translateError(tc.err)); got != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, got)
			}
		})
	}
}
