package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"wealthcheck/internal/casework/models"
	"wealthcheck/internal/casework/service"
	id "wealthcheck/pkg/domain"
	dErrors "wealthcheck/pkg/domain-errors"
	"wealthcheck/pkg/platform/httputil"
	"wealthcheck/pkg/requestcontext"
)

// Service defines the case operations exposed over HTTP.
type Service interface {
	Start(ctx context.Context, req service.StartRequest) (*models.CaseState, error)
	Run(ctx context.Context, caseID id.CaseID) (*models.CaseState, error)
	Resume(ctx context.Context, caseID id.CaseID, approval models.ApprovalRecord) (*models.CaseState, error)
	Cancel(ctx context.Context, caseID id.CaseID, requestedBy string) (*models.CaseState, error)
	Get(ctx context.Context, caseID id.CaseID) (*models.CaseState, error)
	AuditTrail(ctx context.Context, caseID id.CaseID) ([]models.AuditEntry, error)
	List(ctx context.Context, status models.Status, limit int) ([]*models.CaseState, error)
}

// Handler wires case endpoints to the orchestrator.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a case handler.
func New(service Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{service: service, logger: logger}
}

// Register mounts case endpoints. requireReviewer guards the review and
// cancel routes.
func (h *Handler) Register(r chi.Router, requireReviewer func(http.Handler) http.Handler) {
	r.Route("/cases", func(r chi.Router) {
		r.Post("/", h.HandleStart)
		r.Get("/", h.HandleList)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Get("/audit", h.HandleAudit)
			r.Post("/run", h.HandleRun)
			r.With(requireReviewer).Post("/cancel", h.HandleCancel)
			r.With(requireReviewer).Post("/review", h.HandleReview)
		})
	})
}

// HandleStart handles POST /cases.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[StartCaseRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	state, err := h.service.Start(ctx, service.StartRequest{
		CaseID:      req.parsedCaseID,
		SubjectName: req.SubjectName,
		CaseData:    req.CaseData,
		Checks:      req.parsedChecks,
	})
	if err != nil {
		h.writeServiceError(ctx, w, requestID, "case start failed", err)
		return
	}

	h.logger.InfoContext(ctx, "case started",
		"request_id", requestID,
		"case_id", state.ID,
		"status", state.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, FromCase(state))
}

// HandleList handles GET /cases?status=&limit=.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxListLimit)
	}

	cases, err := h.service.List(ctx, models.Status(r.URL.Query().Get("status")), limit)
	if err != nil {
		h.writeServiceError(ctx, w, requestID, "case list failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromCaseList(cases))
}

// HandleGet handles GET /cases/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	caseID, ok := h.caseID(w, r)
	if !ok {
		return
	}
	state, err := h.service.Get(ctx, caseID)
	if err != nil {
		h.writeServiceError(ctx, w, requestID, "case lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromCase(state))
}

// HandleAudit handles GET /cases/{id}/audit.
func (h *Handler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	caseID, ok := h.caseID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.AuditTrail(ctx, caseID)
	if err != nil {
		h.writeServiceError(ctx, w, requestID, "audit read failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromAudit(caseID.String(), entries))
}

// HandleRun handles POST /cases/{id}/run.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	caseID, ok := h.caseID(w, r)
	if !ok {
		return
	}
	state, err := h.service.Run(ctx, caseID)
	if err != nil {
		h.writeServiceError(ctx, w, requestID, "case run failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromCase(state))
}

// HandleReview handles POST /cases/{id}/review. The reviewer comes from the
// bearer token, never from the body.
func (h *Handler) HandleReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	reviewer := requestcontext.Reviewer(ctx)
	if reviewer == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "reviewer authentication required"))
		return
	}
	caseID, ok := h.caseID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ReviewDecisionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	state, err := h.service.Resume(ctx, caseID, models.ApprovalRecord{
		ForCheck:   req.parsedKind,
		Approved:   *req.Approved,
		ReviewedAt: requestcontext.Now(ctx),
		Comment:    req.Comment,
		Reviewer:   reviewer,
		ReviewSeq:  req.ReviewSeq,
	})
	if err != nil {
		h.writeServiceError(ctx, w, requestID, "review decision rejected", err)
		return
	}

	h.logger.InfoContext(ctx, "review decision applied",
		"request_id", requestID,
		"case_id", caseID,
		"reviewer", reviewer,
		"kind", req.parsedKind,
		"approved", *req.Approved,
		"status", state.Status,
	)
	httputil.WriteJSON(w, http.StatusOK, FromCase(state))
}

// HandleCancel handles POST /cases/{id}/cancel. The audit trail records the
// authenticated reviewer as the requester.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	reviewer := requestcontext.Reviewer(ctx)
	if reviewer == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "reviewer authentication required"))
		return
	}
	caseID, ok := h.caseID(w, r)
	if !ok {
		return
	}
	state, err := h.service.Cancel(ctx, caseID, reviewer)
	if err != nil {
		h.writeServiceError(ctx, w, requestID, "case cancel failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromCase(state))
}

func (h *Handler) caseID(w http.ResponseWriter, r *http.Request) (id.CaseID, bool) {
	caseID, err := id.ParseCaseID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.CaseID{}, false
	}
	return caseID, true
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, requestID, msg string, err error) {
	translated := translateError(err)
	level := slog.LevelWarn
	if dErrors.CodeOf(translated).HTTPStatus() >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestID,
		"error", err,
	)
	httputil.WriteError(w, translated)
}
