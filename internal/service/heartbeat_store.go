package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"video-lifecycle-service/internal/entity"
)

// HeartbeatStore records worker liveness. The most recent report per
// worker is the effective state; a capped history is kept alongside.
type HeartbeatStore interface {
	Record(ctx context.Context, hb entity.WorkerHeartbeat) error
	List(ctx context.Context) ([]entity.WorkerHeartbeat, error)
}

const (
	workerSetKey       = "workers:known"
	workerKeyPrefix    = "workers:state:"
	workerHistPrefix   = "workers:history:"
	workerStateTTL     = 24 * time.Hour
	workerHistoryDepth = 100
)

type RedisHeartbeatStore struct {
	rdb *redis.Client
}

func NewRedisHeartbeatStore(rdb *redis.Client) *RedisHeartbeatStore {
	return &RedisHeartbeatStore{rdb: rdb}
}

func (s *RedisHeartbeatStore) Record(ctx context.Context, hb entity.WorkerHeartbeat) error {
	stateKey := workerKeyPrefix + hb.WorkerID

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, stateKey, map[string]interface{}{
		"status":  hb.Status,
		"job_id":  hb.CurrentJobID,
		"seen_at": hb.SeenAt.UTC().Format(time.RFC3339),
	})
	pipe.Expire(ctx, stateKey, workerStateTTL)
	pipe.SAdd(ctx, workerSetKey, hb.WorkerID)

	histKey := workerHistPrefix + hb.WorkerID
	pipe.LPush(ctx, histKey, fmt.Sprintf("%s|%s|%d", hb.SeenAt.UTC().Format(time.RFC3339), hb.Status, hb.CurrentJobID))
	pipe.LTrim(ctx, histKey, 0, workerHistoryDepth-1)
	pipe.Expire(ctx, histKey, workerStateTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record heartbeat: %w", err)
	}
	return nil
}

func (s *RedisHeartbeatStore) List(ctx context.Context) ([]entity.WorkerHeartbeat, error) {
	ids, err := s.rdb.SMembers(ctx, workerSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}

	var out []entity.WorkerHeartbeat
	for _, id := range ids {
		fields, err := s.rdb.HGetAll(ctx, workerKeyPrefix+id).Result()
		if err != nil {
			return nil, fmt.Errorf("list workers: %w", err)
		}
		if len(fields) == 0 {
			// state expired; drop the stale set member
			s.rdb.SRem(ctx, workerSetKey, id)
			continue
		}

		hb := entity.WorkerHeartbeat{WorkerID: id, Status: fields["status"]}
		if v, err := strconv.ParseInt(fields["job_id"], 10, 64); err == nil {
			hb.CurrentJobID = v
		}
		if t, err := time.Parse(time.RFC3339, fields["seen_at"]); err == nil {
			hb.SeenAt = t
		}
		out = append(out, hb)
	}
	return out, nil
}
