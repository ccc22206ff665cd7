//go:build integration

package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "wealthcheck/pkg/domain"
	"wealthcheck/pkg/platform/sentinel"
	"wealthcheck/pkg/testutil/containers"
)

type RedisLockerSuite struct {
	suite.Suite
	redis  *containers.RedisContainer
	locker *RedisLocker
}

func TestRedisLockerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisLockerSuite))
}

func (s *RedisLockerSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisLockerSuite) SetupTest() {
	s.redis.Reset(s.T())
	s.locker = NewRedisLocker(s.redis.Client, WithTTL(time.Second), WithWait(100*time.Millisecond), WithRetryInterval(10*time.Millisecond))
}

func (s *RedisLockerSuite) TestExclusive() {
	ctx := context.Background()
	caseID := id.NewCaseID()
	unlock, err := s.locker.Lock(ctx, caseID)
	s.Require().NoError(err)

	_, err = s.locker.Lock(ctx, caseID)
	s.ErrorIs(err, sentinel.ErrLockHeld)

	unlock()
	again, err := s.locker.Lock(ctx, caseID)
	s.Require().NoError(err)
	again()
}

func (s *RedisLockerSuite) TestLeaseIsRenewedWhileHeld() {
	ctx := context.Background()
	caseID := id.NewCaseID()
	unlock, err := s.locker.Lock(ctx, caseID)
	s.Require().NoError(err)

	// Hold well past the one second TTL.
	time.Sleep(2500 * time.Millisecond)
	_, err = s.locker.Lock(ctx, caseID)
	s.ErrorIs(err, sentinel.ErrLockHeld)

	unlock()
	again, err := s.locker.Lock(ctx, caseID)
	s.Require().NoError(err)
	again()
}

func (s *RedisLockerSuite) TestCrashedHolderLeaseExpires() {
	ctx := context.Background()
	caseID := id.NewCaseID()
	key := redisLockPrefix + caseID.String()
	s.Require().NoError(s.redis.Client.Set(ctx, key, "crashed-holder", time.Second).Err())

	_, err := s.locker.Lock(ctx, caseID)
	s.ErrorIs(err, sentinel.ErrLockHeld)

	time.Sleep(1200 * time.Millisecond)
	unlock, err := s.locker.Lock(ctx, caseID)
	s.Require().NoError(err)
	unlock()
}

func (s *RedisLockerSuite) TestLostLeaseDoesNotReleaseNewHolder() {
	ctx := context.Background()
	caseID := id.NewCaseID()
	key := redisLockPrefix + caseID.String()
	stale, err := s.locker.Lock(ctx, caseID)
	s.Require().NoError(err)

	s.Require().NoError(s.redis.Client.Del(ctx, key).Err())
	unlock, err := s.locker.Lock(ctx, caseID)
	s.Require().NoError(err)

	stale()
	_, err = s.locker.Lock(ctx, caseID)
	s.ErrorIs(err, sentinel.ErrLockHeld)
	unlock()
}

type PostgresLockerSuite struct {
	suite.Suite
	locker *PostgresLocker
}

func TestPostgresLockerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresLockerSuite))
}

func (s *PostgresLockerSuite) SetupSuite() {
	pg := containers.GetManager().GetPostgres(s.T())
	s.locker = NewPostgresLocker(pg.Pool, 100*time.Millisecond, nil)
}

func (s *PostgresLockerSuite) TestExclusive() {
	ctx := context.Background()
	caseID := id.NewCaseID()
	unlock, err := s.locker.Lock(ctx, caseID)
	s.Require().NoError(err)

	_, err = s.locker.Lock(ctx, caseID)
	s.ErrorIs(err, sentinel.ErrLockHeld)

	unlock()
	again, err := s.locker.Lock(ctx, caseID)
	s.Require().NoError(err)
	again()
}

func (s *PostgresLockerSuite) TestIndependentCases() {
	ctx := context.Background()
	a, err := s.locker.Lock(ctx, id.NewCaseID())
	s.Require().NoError(err)
	defer a()
	b, err := s.locker.Lock(ctx, id.NewCaseID())
	s.Require().NoError(err)
	b()
}
