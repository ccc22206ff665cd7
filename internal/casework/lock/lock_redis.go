package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	id "wealthcheck/pkg/domain"
	"wealthcheck/pkg/platform/sentinel"
)

const (
	redisLockPrefix      = "wealthcheck:lock:case:"
	defaultLockTTL       = 30 * time.Second
	defaultLockWait      = 10 * time.Second
	defaultRetryInterval = 50 * time.Millisecond
)

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the lease expiry out only if this holder still owns it.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker is a lease lock shared by every replica. The lease expires
// after the TTL so a crashed holder cannot wedge a case. While the holder is
// alive the lease is renewed every third of the TTL until unlock. If a renewal
// finds the lease lost, the store's version check still rejects the stale
// holder's next save.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
	logger *slog.Logger
}

// RedisOption configures a RedisLocker.
type RedisOption func(*RedisLocker)

func WithTTL(d time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.ttl = d
		}
	}
}

func WithWait(d time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.wait = d
		}
	}
}

func WithRetryInterval(d time.Duration) RedisOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.retry = d
		}
	}
}

func WithLogger(logger *slog.Logger) RedisOption {
	return func(l *RedisLocker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func NewRedisLocker(client redis.UniversalClient, opts ...RedisOption) *RedisLocker {
	l := &RedisLocker{
		client: client,
		ttl:    defaultLockTTL,
		wait:   defaultLockWait,
		retry:  defaultRetryInterval,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLocker) Lock(ctx context.Context, caseID id.CaseID) (func(), error) {
	key := redisLockPrefix + caseID.String()
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("lock case %s: %w", caseID, errors.Join(sentinel.ErrLockHeld, ctx.Err()))
			}
			return nil, fmt.Errorf("lock case %s: %w", caseID, errors.Join(sentinel.ErrUnavailable, err))
		}
		if ok {
			return l.hold(key, token), nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("lock case %s: %w", caseID, sentinel.ErrLockHeld)
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("lock case %s: %w", caseID, errors.Join(sentinel.ErrLockHeld, ctx.Err()))
		case <-timer.C:
		}
	}
}

// hold renews the lease in the background. The returned unlock stops the
// renewal before releasing the key.
func (l *RedisLocker) hold(key, token string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			l.release(key, token)
		})
	}
}

func (l *RedisLocker) renew(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
		n, err := extendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			l.logger.Warn("failed to renew case lock", "key", key, "error", err)
		case n == 0:
			l.logger.Warn("case lock lost before renewal", "key", key)
			return
		}
	}
}

func (l *RedisLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		l.logger.WarnContext(ctx, "failed to release case lock; it will expire",
			"key", key,
			"error", err,
		)
	}
}
