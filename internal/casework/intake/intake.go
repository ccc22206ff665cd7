// Package intake turns Kafka messages into orchestrator calls: new case
// requests and reviewer decisions arriving from upstream systems.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"wealthcheck/internal/casework/models"
	"wealthcheck/internal/casework/service"
	"wealthcheck/internal/platform/kafka"
	id "wealthcheck/pkg/domain"
	dErrors "wealthcheck/pkg/domain-errors"
)

// CaseService is the subset of the orchestrator intake drives.
type CaseService interface {
	Start(ctx context.Context, req service.StartRequest) (*models.CaseState, error)
	Run(ctx context.Context, caseID id.CaseID) (*models.CaseState, error)
	Resume(ctx context.Context, caseID id.CaseID, approval models.ApprovalRecord) (*models.CaseState, error)
}

// CaseRequestMessage is the payload on the case requests topic. When CaseID
// is empty the record key is used, so producers can make redelivery
// idempotent either way.
type CaseRequestMessage struct {
	CaseID      string          `json:"case_id,omitempty"`
	SubjectName string          `json:"subject_name"`
	CaseData    json.RawMessage `json:"case_data,omitempty"`
	Checks      []string        `json:"checks,omitempty"`
}

// ReviewDecisionMessage is the payload on the review decisions topic.
type ReviewDecisionMessage struct {
	CaseID    string    `json:"case_id"`
	ForCheck  string    `json:"for_check"`
	Approved  *bool     `json:"approved"`
	Reviewer  string    `json:"reviewer"`
	Comment   string    `json:"comment,omitempty"`
	ReviewSeq uint64    `json:"review_seq,omitempty"`
	DecidedAt time.Time `json:"decided_at,omitempty"`
}

// Router dispatches messages to a handler by topic.
type Router struct {
	routes map[string]kafka.Handler
	logger *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Router{routes: make(map[string]kafka.Handler), logger: logger}
}

// Route registers h for topic.
func (r *Router) Route(topic string, h kafka.Handler) {
	r.routes[topic] = h
}

// Topics returns every routed topic.
func (r *Router) Topics() []string {
	topics := make([]string, 0, len(r.routes))
	for t := range r.routes {
		topics = append(topics, t)
	}
	return topics
}

func (r *Router) Handle(ctx context.Context, msg *kafka.Message) error {
	h, ok := r.routes[msg.Topic]
	if !ok {
		r.logger.WarnContext(ctx, "message on unrouted topic dropped",
			"topic", msg.Topic,
			"offset", msg.Offset,
		)
		return nil
	}
	return h.Handle(ctx, msg)
}

// Handlers holds the per-topic message handlers.
type Handlers struct {
	service CaseService
	logger  *slog.Logger
}

func NewHandlers(svc CaseService, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handlers{service: svc, logger: logger}
}

// Register routes both intake topics to h.
func (h *Handlers) Register(r *Router, caseRequestsTopic, decisionsTopic string) {
	r.Route(caseRequestsTopic, kafka.HandlerFunc(h.HandleCaseRequest))
	r.Route(decisionsTopic, kafka.HandlerFunc(h.HandleReviewDecision))
}

// HandleCaseRequest starts a case. Malformed or invalid requests are
// rejected permanently. A redelivered request for a case that already exists
// re-drives that case instead, so a delivery that failed half way still
// finishes. Any other failure is returned for retry.
func (h *Handlers) HandleCaseRequest(ctx context.Context, msg *kafka.Message) error {
	var m CaseRequestMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		return kafka.Permanent(fmt.Errorf("decode case request: %w", err))
	}

	req := service.StartRequest{
		SubjectName: m.SubjectName,
		CaseData:    m.CaseData,
	}
	rawID := strings.TrimSpace(m.CaseID)
	if rawID == "" {
		rawID = strings.TrimSpace(string(msg.Key))
	}
	if rawID != "" {
		caseID, err := id.ParseCaseID(rawID)
		if err != nil {
			return kafka.Permanent(fmt.Errorf("decode case request: %w", err))
		}
		req.CaseID = caseID
	}
	for _, c := range m.Checks {
		kind, err := models.ParseCheckKind(c)
		if err != nil {
			return kafka.Permanent(fmt.Errorf("decode case request: %w", err))
		}
		req.Checks = append(req.Checks, kind)
	}

	state, err := h.service.Start(ctx, req)
	if errors.Is(err, models.ErrCaseExists) {
		h.logger.InfoContext(ctx, "duplicate case request, re-driving existing case",
			"case_id", req.CaseID,
			"offset", msg.Offset,
		)
		state, err = h.service.Run(ctx, req.CaseID)
	}
	if err != nil {
		return classify(fmt.Errorf("start case %s: %w", req.CaseID, err))
	}
	h.logger.InfoContext(ctx, "case started from intake",
		"case_id", state.ID,
		"status", state.Status,
	)
	return nil
}

// HandleReviewDecision resumes a suspended case. Decisions that no longer
// match the open review (redelivery, or a case that moved on) are skipped;
// malformed decisions and unknown cases are rejected permanently. A busy case
// or an unavailable store is returned for retry.
func (h *Handlers) HandleReviewDecision(ctx context.Context, msg *kafka.Message) error {
	var m ReviewDecisionMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		return kafka.Permanent(fmt.Errorf("decode review decision: %w", err))
	}
	caseID, err := id.ParseCaseID(m.CaseID)
	if err != nil {
		return kafka.Permanent(fmt.Errorf("decode review decision: %w", err))
	}
	kind, err := models.ParseCheckKind(m.ForCheck)
	if err != nil {
		return kafka.Permanent(fmt.Errorf("decode review decision: %w", err))
	}
	if m.Approved == nil {
		return kafka.Permanent(errors.New("decode review decision: approved is required"))
	}
	reviewer := strings.TrimSpace(m.Reviewer)
	if reviewer == "" {
		return kafka.Permanent(errors.New("decode review decision: reviewer is required"))
	}

	state, err := h.service.Resume(ctx, caseID, models.ApprovalRecord{
		ForCheck:   kind,
		Approved:   *m.Approved,
		ReviewedAt: m.DecidedAt,
		Comment:    strings.TrimSpace(m.Comment),
		Reviewer:   reviewer,
		ReviewSeq:  m.ReviewSeq,
	})
	if err != nil {
		var invalid *models.InvalidResumeError
		if errors.As(err, &invalid) {
			h.logger.InfoContext(ctx, "stale review decision skipped",
				"case_id", caseID,
				"kind", kind,
				"reason", invalid.Reason,
			)
			return nil
		}
		return classify(fmt.Errorf("resume case %s: %w", caseID, err))
	}
	h.logger.InfoContext(ctx, "review decision applied from intake",
		"case_id", caseID,
		"kind", kind,
		"approved", *m.Approved,
		"status", state.Status,
	)
	return nil
}

// classify marks service errors that a redelivery cannot fix as permanent.
// Lock contention, persistence and timeout failures stay transient.
func classify(err error) error {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeValidation, dErrors.CodeInvalidInput, dErrors.CodeBadRequest, dErrors.CodeNotFound:
		return kafka.Permanent(err)
	}
	return err
}
