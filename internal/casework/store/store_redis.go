package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"wealthcheck/internal/casework/models"
	id "wealthcheck/pkg/domain"
	"wealthcheck/pkg/platform/sentinel"
)

const (
	redisCasePrefix   = "wealthcheck:case:"
	redisStatusPrefix = "wealthcheck:cases:status:"
)

// RedisStore keeps the whole case, audit log included, as one JSON value.
// Saves run under WATCH so a concurrent writer aborts the transaction.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedis(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func caseKey(caseID id.CaseID) string {
	return redisCasePrefix + caseID.String()
}

func statusKey(status models.Status) string {
	return redisStatusPrefix + string(status)
}

// storedHeader is the part of a stored case needed to validate a save.
type storedHeader struct {
	Status  models.Status `json:"status"`
	Version int64         `json:"version"`
}

func (s *RedisStore) Save(ctx context.Context, state *models.CaseState) error {
	if state == nil {
		return fmt.Errorf("save case: state is required")
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal case: %w", err)
	}
	key := caseKey(state.ID)
	member := state.ID.String()

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		var (
			header storedHeader
			exists bool
		)
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("read stored case: %w", err)
		default:
			exists = true
			if err := json.Unmarshal(raw, &header); err != nil {
				return fmt.Errorf("decode stored case: %w", err)
			}
		}
		if err := checkVersion(exists, header.Version, state.Version); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			if exists && header.Status != state.Status {
				pipe.ZRem(ctx, statusKey(header.Status), member)
			}
			pipe.ZAdd(ctx, statusKey(state.Status), redis.Z{
				Score:  float64(state.UpdatedAt.UnixMilli()),
				Member: member,
			})
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("case %s modified concurrently: %w", state.ID, sentinel.ErrConflict)
	}
	return err
}

func (s *RedisStore) Load(ctx context.Context, caseID id.CaseID) (*models.CaseState, error) {
	raw, err := s.client.Get(ctx, caseKey(caseID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("load case: %w", err)
	}
	return unmarshalSnapshot(raw)
}

func (s *RedisStore) ReadAudit(ctx context.Context, caseID id.CaseID) ([]models.AuditEntry, error) {
	state, err := s.Load(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return state.Audit, nil
}

func (s *RedisStore) ListByStatus(ctx context.Context, status models.Status, limit int) ([]*models.CaseState, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	var keys []string
	for _, st := range statusesFor(status) {
		members, err := s.client.ZRange(ctx, statusKey(st), 0, stop).Result()
		if err != nil {
			return nil, fmt.Errorf("list %s cases: %w", st, err)
		}
		for _, m := range members {
			keys = append(keys, redisCasePrefix+m)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch cases: %w", err)
	}
	out := make([]*models.CaseState, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		state, err := unmarshalSnapshot([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	sortByUpdated(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
