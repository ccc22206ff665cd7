// Package service runs source-of-wealth cases: it executes the router's
// directives, suspends for reviews, and persists every transition before
// acting on it.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"wealthcheck/internal/casework/lock"
	"wealthcheck/internal/casework/metrics"
	"wealthcheck/internal/casework/models"
	"wealthcheck/internal/casework/ports"
	"wealthcheck/internal/casework/risk"
	"wealthcheck/internal/casework/router"
	"wealthcheck/pkg/requestcontext"
)

const (
	defaultRecoveryConcurrency = 4
	tracerName                 = "wealthcheck/casework"
)

// Service orchestrates case lifecycles. All mutation of a case happens while
// holding that case's lock.
type Service struct {
	store     ports.Store
	checks    map[models.CheckKind]ports.Check
	locker    ports.Locker
	notifier  ports.Notifier
	auditSink ports.AuditSink
	replanner ports.Replanner
	router    *router.Router
	policy    risk.Policy
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	now       func() time.Time

	retryLimit          *int
	retryBackoff        time.Duration
	checkTimeout        time.Duration
	recoveryConcurrency int
}

type Option func(s *Service)

// WithLocker replaces the in-process locker. Use a shared locker when more
// than one process drives the same store.
func WithLocker(l ports.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

func WithNotifier(n ports.Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithAuditSink(sink ports.AuditSink) Option {
	return func(s *Service) {
		s.auditSink = sink
	}
}

func WithReplanner(r ports.Replanner) Option {
	return func(s *Service) {
		s.replanner = r
	}
}

// WithRouter overrides the routing policy. It takes precedence over WithRetryLimit.
func WithRouter(r *router.Router) Option {
	return func(s *Service) {
		s.router = r
	}
}

// WithRetryLimit sets how many re-runs a failing check gets.
func WithRetryLimit(n int) Option {
	return func(s *Service) {
		s.retryLimit = &n
	}
}

// WithRetryBackoff sets the delay before the first re-run. It doubles for each
// further attempt.
func WithRetryBackoff(d time.Duration) Option {
	return func(s *Service) {
		s.retryBackoff = d
	}
}

// WithCheckTimeout bounds a single check execution.
func WithCheckTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.checkTimeout = d
	}
}

func WithRiskPolicy(p risk.Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock fixes the time source. Without it the request time from the
// context is used.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithRecoveryConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.recoveryConcurrency = n
		}
	}
}

// New constructs a Service. An identity check is mandatory because every
// case is gated on it.
func New(store ports.Store, checks []ports.Check, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("case store is required")
	}
	s := &Service{
		store:               store,
		checks:              make(map[models.CheckKind]ports.Check, len(checks)),
		policy:              risk.DefaultPolicy(),
		logger:              slog.New(slog.DiscardHandler),
		recoveryConcurrency: defaultRecoveryConcurrency,
	}
	for _, c := range checks {
		if c == nil {
			return nil, errors.New("check must not be nil")
		}
		kind := c.Kind()
		if !kind.IsValid() {
			return nil, fmt.Errorf("check has unknown kind %q", kind)
		}
		if _, dup := s.checks[kind]; dup {
			return nil, fmt.Errorf("duplicate check for kind %s", kind)
		}
		s.checks[kind] = c
	}
	if _, ok := s.checks[models.CheckIdentity]; !ok {
		return nil, errors.New("identity check is required")
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = lock.NewInMemoryLocker()
	}
	if s.router == nil {
		var ropts []router.Option
		if s.retryLimit != nil {
			ropts = append(ropts, router.WithRetryLimit(*s.retryLimit))
		}
		s.router = router.New(ropts...)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	return s, nil
}

func (s *Service) clock(ctx context.Context) time.Time {
	if s.now != nil {
		return s.now()
	}
	return requestcontext.Now(ctx)
}
