package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"wealthcheck/internal/casework/intake"
	"wealthcheck/internal/casework/lock"
	"wealthcheck/internal/casework/notify"
	"wealthcheck/internal/casework/ports"
	"wealthcheck/internal/casework/service"
	"wealthcheck/internal/casework/store"
	"wealthcheck/internal/platform/config"
	"wealthcheck/internal/platform/kafka"
	"wealthcheck/internal/platform/postgres"
	"wealthcheck/internal/platform/redis"
	"wealthcheck/pkg/platform/audit"
	"wealthcheck/pkg/platform/audit/publisher"
	"wealthcheck/pkg/platform/httputil"
)

// infra holds the backing services selected by configuration.
type infra struct {
	store     ports.Store
	locker    ports.Locker
	notifier  ports.Notifier
	auditSink ports.AuditSink
	producer  *kafka.Producer

	health  map[string]func(context.Context) error
	closers []func()
}

func openInfra(ctx context.Context, cfg config.Config, log *slog.Logger) (_ *infra, err error) {
	in := &infra{health: make(map[string]func(context.Context) error)}
	defer func() {
		if err != nil {
			in.Close()
		}
	}()

	var rc *redis.Client
	if cfg.Storage.Driver == config.DriverRedis || cfg.Storage.LockDriver == config.DriverRedis {
		if rc, err = redis.Connect(ctx, cfg.Redis); err != nil {
			return nil, err
		}
		in.closers = append(in.closers, func() { _ = rc.Close() })
		in.health["redis"] = rc.Health
	}

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		db, err := postgres.OpenDB(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, err
		}
		in.closers = append(in.closers, func() { _ = db.Close() })
		if err := postgres.ApplySchema(ctx, db); err != nil {
			return nil, err
		}
		in.store = store.NewPostgres(db)
		in.health["postgres"] = db.PingContext
	case config.DriverRedis:
		in.store = store.NewRedis(rc.Client)
	case config.DriverSQLite:
		sqlite, err := store.OpenSQLite(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		in.closers = append(in.closers, func() { _ = sqlite.Close() })
		in.store = sqlite
	default:
		in.store = store.NewInMemoryStore()
	}

	switch cfg.Storage.LockDriver {
	case config.DriverPostgres:
		pool, err := postgres.OpenPool(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, err
		}
		in.closers = append(in.closers, pool.Close)
		in.locker = lock.NewPostgresLocker(pool, cfg.Storage.LockWait, log)
	case config.DriverRedis:
		in.locker = lock.NewRedisLocker(rc.Client,
			lock.WithTTL(cfg.Storage.LockTTL),
			lock.WithWait(cfg.Storage.LockWait),
			lock.WithLogger(log),
		)
	default:
		in.locker = lock.NewInMemoryLocker()
	}

	if !cfg.KafkaEnabled() {
		in.notifier = notify.NewLogNotifier(log)
		return in, nil
	}
	if err := in.openKafka(ctx, cfg, log); err != nil {
		return nil, err
	}
	return in, nil
}

func (in *infra) openKafka(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	producer, err := kafka.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		return err
	}
	in.producer = producer
	in.closers = append(in.closers, producer.Close)
	in.health["kafka"] = producer.Health

	topics := []string{cfg.Kafka.CaseRequestsTopic, cfg.Kafka.DecisionsTopic, cfg.Kafka.ReviewsTopic, cfg.Kafka.AuditTopic, cfg.Kafka.DeadLetterTopic}
	if err := kafka.EnsureTopics(ctx, producer.Client(), cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor, topics...); err != nil {
		return err
	}

	notifier, err := notify.NewKafkaNotifier(producer, cfg.Kafka.ReviewsTopic)
	if err != nil {
		return err
	}
	in.notifier = notifier

	pub := publisher.NewPublisher(audit.NewTopicSink(producer, cfg.Kafka.AuditTopic),
		publisher.WithAsyncBuffer(1024),
		publisher.WithLogger(log),
		publisher.WithMetrics(publisher.NewMetrics()),
	)
	// Closers run in reverse, so the buffer drains before the producer closes.
	in.closers = append(in.closers, func() { _ = pub.Close() })
	in.auditSink = pub
	return nil
}

// startIntake joins the intake consumer group. It returns nil when Kafka is off.
func (in *infra) startIntake(cfg config.Config, svc *service.Service, log *slog.Logger) (*kafka.Consumer, error) {
	if in.producer == nil {
		return nil, nil
	}
	router := intake.NewRouter(log)
	intake.NewHandlers(svc, log).Register(router, cfg.Kafka.CaseRequestsTopic, cfg.Kafka.DecisionsTopic)
	consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, router.Topics(), router,
		kafka.WithLogger(log),
		kafka.WithWorkers(cfg.Kafka.IntakeWorkers),
		kafka.WithRetry(cfg.Kafka.IntakeRetries, cfg.Kafka.IntakeRetryBackoff, cfg.Kafka.IntakeMaxBackoff),
		kafka.WithDeadLetter(in.producer, cfg.Kafka.DeadLetterTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("start intake: %w", err)
	}
	return consumer, nil
}

func (in *infra) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := map[string]string{}
		code := http.StatusOK
		for name, check := range in.health {
			if err := check(ctx); err != nil {
				status[name] = "unhealthy"
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
		httputil.WriteJSON(w, code, map[string]any{"status": http.StatusText(code), "dependencies": status})
	}
}

func (in *infra) Close() {
	for i := len(in.closers) - 1; i >= 0; i-- {
		in.closers[i]()
	}
}
