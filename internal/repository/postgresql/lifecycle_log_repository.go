package postgresql

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"video-lifecycle-service/internal/entity"
)

// LifecycleLogRepository is the append-only sink for saga audit rows.
type LifecycleLogRepository struct {
	pool *pgxpool.Pool
}

func NewLifecycleLogRepository(pool *pgxpool.Pool) *LifecycleLogRepository {
	return &LifecycleLogRepository{pool: pool}
}

func (r *LifecycleLogRepository) Append(ctx context.Context, e entity.LifecycleLogEntry) error {
	const q = `
INSERT INTO storage_lifecycle_log
  (job_id, op, source_bucket, source_key, dest_bucket, dest_key, ok, error, at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`
	_, err := r.pool.Exec(ctx, q,
		e.JobID, e.Op, e.SourceBucket, e.SourceKey, e.DestBucket, e.DestKey, e.OK, e.Error, e.At,
	)
	if err != nil {
		return fmt.Errorf("append lifecycle log: %w", err)
	}
	return nil
}
