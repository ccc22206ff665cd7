package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	id "wealthcheck/pkg/domain"
	"wealthcheck/pkg/platform/sentinel"
)

// PostgresLocker takes a session advisory lock on a pooled connection and
// keeps that connection until unlock. The lock dies with the session, so a
// crashed holder releases it.
type PostgresLocker struct {
	pool   *pgxpool.Pool
	wait   time.Duration
	logger *slog.Logger
}

func NewPostgresLocker(pool *pgxpool.Pool, wait time.Duration, logger *slog.Logger) *PostgresLocker {
	if wait <= 0 {
		wait = defaultLockWait
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresLocker{pool: pool, wait: wait, logger: logger}
}

func (l *PostgresLocker) Lock(ctx context.Context, caseID id.CaseID) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("lock case %s: acquire connection: %w", caseID, errors.Join(sentinel.ErrUnavailable, err))
	}

	lockCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()
	if _, err := conn.Exec(lockCtx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, caseID.String()); err != nil {
		conn.Release()
		if lockCtx.Err() != nil {
			return nil, fmt.Errorf("lock case %s: %w", caseID, errors.Join(sentinel.ErrLockHeld, lockCtx.Err()))
		}
		return nil, fmt.Errorf("lock case %s: %w", caseID, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.unlock(conn, caseID) })
	}, nil
}

func (l *PostgresLocker) unlock(conn *pgxpool.Conn, caseID id.CaseID) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, caseID.String()); err != nil {
		l.logger.WarnContext(ctx, "failed to release advisory lock; closing session",
			"case_id", caseID.String(),
			"error", err,
		)
		// Closing the session drops every advisory lock it holds.
		_ = conn.Conn().Close(ctx)
	}
	conn.Release()
}
