package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"wealthcheck/internal/casework/checks"
	caseHandler "wealthcheck/internal/casework/handler"
	caseMetrics "wealthcheck/internal/casework/metrics"
	"wealthcheck/internal/casework/risk"
	"wealthcheck/internal/casework/service"
	jwttoken "wealthcheck/internal/jwt_token"
	"wealthcheck/internal/platform/config"
	"wealthcheck/internal/platform/httpserver"
	"wealthcheck/internal/platform/logger"
	"wealthcheck/internal/platform/metrics"
	"wealthcheck/internal/platform/middleware"
	"wealthcheck/internal/platform/otel"
)

// main wires high-level dependencies and keeps the process lifecycle small.
// Business logic lives in internal/casework.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	shutdownTracing, err := otel.Setup(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	infra, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	policy := risk.DefaultPolicy()
	if cfg.Orchestrator.RiskPolicyPath != "" {
		if policy, err = risk.LoadPolicy(cfg.Orchestrator.RiskPolicyPath); err != nil {
			return err
		}
	}

	opts := []service.Option{
		service.WithLocker(infra.locker),
		service.WithNotifier(infra.notifier),
		service.WithRetryLimit(cfg.Orchestrator.RetryLimit),
		service.WithRetryBackoff(cfg.Orchestrator.RetryBackoff),
		service.WithCheckTimeout(cfg.Orchestrator.CheckTimeout),
		service.WithRecoveryConcurrency(cfg.Orchestrator.RecoveryConcurrency),
		service.WithRiskPolicy(policy),
		service.WithLogger(log),
		service.WithMetrics(caseMetrics.New()),
	}
	if infra.auditSink != nil {
		opts = append(opts, service.WithAuditSink(infra.auditSink))
	}
	if cfg.Orchestrator.Replanning {
		opts = append(opts, service.WithReplanner(checks.WebEvidenceReplanner{}))
	}
	svc, err := service.New(infra.store, checks.Default(), opts...)
	if err != nil {
		return err
	}

	if n, err := svc.RecoverRunning(ctx); err != nil {
		log.WarnContext(ctx, "case recovery incomplete", "recovered", n, "error", err)
	}

	tokens := jwttoken.NewJWTService(cfg.Reviewer.SigningKey, cfg.Reviewer.Issuer, cfg.Reviewer.Audience)
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RequestTime)
	router.Use(chimw.Recoverer)
	router.Use(middleware.Instrument(metrics.New(), log))
	router.Get("/healthz", infra.healthHandler())
	router.Handle("/metrics", metrics.Handler())
	caseHandler.New(svc, log).Register(router, middleware.RequireReviewer(tokens, log))

	srv := httpserver.New(cfg.Server, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Serve(gctx, srv, cfg.Server.ShutdownTimeout, log)
	})
	if consumer, err := infra.startIntake(cfg, svc, log); err != nil {
		return err
	} else if consumer != nil {
		g.Go(func() error { return consumer.Run(gctx) })
		defer consumer.Close()
	}
	return g.Wait()
}
