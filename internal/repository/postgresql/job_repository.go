package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"video-lifecycle-service/internal/entity"
)

// jobColumns is the full scan list; keep in sync with scanJob.
const jobColumns = `
id, status, worker_id,
created_at, started_at, completed_at, deleted_at, interrupted_at, checkpoint_updated_at,
raw_key, upload_confirmed, public_url, thumbnail_key, source_url,
retry_count, error_message, interrupted_stage, processing_checkpoint, prior_status,
uploaded_by, folder_id, tags, quality, processing_profile,
size_bytes, duration_seconds, codec, width, height`

// workerOwnedStatuses guards every worker mutation: only rows currently
// leased may be touched, and only with a matching worker_id.
const workerOwnedStatuses = `('PROCESSING','DOWNLOADING','CONVERTING','UPLOADING')`

// requeueStatus picks the queued state a job returns to; URL imports go
// back to their own queue.
const requeueStatus = `CASE WHEN source_url <> '' THEN 'URL_IMPORT_QUEUED' ELSE 'PENDING' END`

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.ConversionJob, error) {
	var (
		j           entity.ConversionJob
		statusText  string
		priorStatus string
	)

	if err := row.Scan(
		&j.ID,
		&statusText,
		&j.WorkerID,
		&j.CreatedAt,
		&j.StartedAt,
		&j.CompletedAt,
		&j.DeletedAt,
		&j.InterruptedAt,
		&j.CheckpointUpdatedAt,
		&j.RawKey,
		&j.UploadConfirmed,
		&j.PublicURL,
		&j.ThumbnailKey,
		&j.SourceURL,
		&j.RetryCount,
		&j.ErrorMessage,
		&j.InterruptedStage,
		&j.ProcessingCheckpoint,
		&priorStatus,
		&j.UploadedBy,
		&j.FolderID,
		&j.Tags,
		&j.Quality,
		&j.ProcessingProfile,
		&j.Output.SizeBytes,
		&j.Output.DurationSeconds,
		&j.Output.Codec,
		&j.Output.Width,
		&j.Output.Height,
	); err != nil {
		return nil, err
	}

	j.Status = entity.JobStatus(statusText)
	j.PriorStatus = entity.JobStatus(priorStatus)
	return &j, nil
}

func (r *JobRepository) Create(ctx context.Context, n entity.NewJob) (int64, error) {
	const q = `
INSERT INTO conversion_jobs
  (status, raw_key, upload_confirmed, source_url, uploaded_by, folder_id, tags, quality, processing_profile)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id;
`
	tags := n.Tags
	if tags == nil {
		tags = []string{}
	}

	var id int64
	err := r.pool.QueryRow(ctx, q,
		string(n.Status), n.RawKey, n.UploadConfirmed, n.SourceURL,
		n.UploadedBy, n.FolderID, tags, n.Quality, n.ProcessingProfile,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create job: %w", err)
	}
	return id, nil
}

// GetByID returns (nil, nil) when no such job exists.
func (r *JobRepository) GetByID(ctx context.Context, id int64) (*entity.ConversionJob, error) {
	q := `SELECT ` + jobColumns + ` FROM conversion_jobs WHERE id = $1;`

	j, err := scanJob(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	return j, nil
}

func (r *JobRepository) ListByIDs(ctx context.Context, ids []int64) ([]*entity.ConversionJob, error) {
	q := `SELECT ` + jobColumns + ` FROM conversion_jobs WHERE id = ANY($1) ORDER BY id;`

	rows, err := r.pool.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*entity.ConversionJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ClaimNext atomically leases the oldest eligible queued job to
// workerID. The sub-select with FOR UPDATE SKIP LOCKED keeps concurrent
// claimers off the same row; the whole claim is one statement, never a
// read followed by a write. Returns (nil, nil) when no work is queued.
func (r *JobRepository) ClaimNext(ctx context.Context, workerID string) (*entity.ConversionJob, error) {
	q := `
UPDATE conversion_jobs
SET status = 'PROCESSING',
    worker_id = $1,
    started_at = now(),
    error_message = '',
    interrupted_stage = ''
WHERE id = (
    SELECT id FROM conversion_jobs
    WHERE status IN ('PENDING','URL_IMPORT_QUEUED') AND upload_confirmed
    ORDER BY created_at
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING ` + jobColumns + `;`

	j, err := scanJob(r.pool.QueryRow(ctx, q, workerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return j, nil
}

// UpdateStage advances the leased job among its sub-phases. A worker_id
// mismatch affects zero rows and reports (false, nil): the lease was
// reassigned and the stale worker should stop.
func (r *JobRepository) UpdateStage(ctx context.Context, id int64, workerID string, stage entity.JobStatus) (bool, error) {
	q := `
UPDATE conversion_jobs SET status = $3
WHERE id = $1 AND worker_id = $2 AND status IN ` + workerOwnedStatuses + `;`

	tag, err := r.pool.Exec(ctx, q, id, workerID, string(stage))
	if err != nil {
		return false, fmt.Errorf("update stage: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *JobRepository) UpdateCheckpoint(ctx context.Context, id int64, workerID, checkpoint string) (bool, error) {
	q := `
UPDATE conversion_jobs
SET processing_checkpoint = $3, checkpoint_updated_at = now()
WHERE id = $1 AND worker_id = $2 AND status IN ` + workerOwnedStatuses + `;`

	tag, err := r.pool.Exec(ctx, q, id, workerID, checkpoint)
	if err != nil {
		return false, fmt.Errorf("update checkpoint: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Complete finalizes a leased job. The caller must have deleted the raw
// intake object first; this transition assumes cleanup already
// succeeded and clears the raw pointer.
func (r *JobRepository) Complete(ctx context.Context, id int64, workerID string, out entity.CompletionUpdate) (bool, error) {
	q := `
UPDATE conversion_jobs
SET status = 'COMPLETED',
    completed_at = now(),
    worker_id = NULL,
    public_url = $3,
    thumbnail_key = $4,
    size_bytes = $5,
    duration_seconds = $6,
    codec = $7,
    width = $8,
    height = $9,
    raw_key = '',
    processing_checkpoint = '',
    error_message = ''
WHERE id = $1 AND worker_id = $2 AND status IN ` + workerOwnedStatuses + `;`

	tag, err := r.pool.Exec(ctx, q, id, workerID,
		out.PublicURL, out.ThumbnailKey,
		out.Output.SizeBytes, out.Output.DurationSeconds, out.Output.Codec,
		out.Output.Width, out.Output.Height,
	)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Fail records a worker failure. Below maxRetries the job goes back to
// its queue; at the limit it terminates FAILED. One statement so the
// retry decision cannot race with another mutation.
func (r *JobRepository) Fail(ctx context.Context, id int64, workerID, reason string, maxRetries int) (entity.JobStatus, bool, error) {
	q := `
UPDATE conversion_jobs
SET retry_count = retry_count + 1,
    error_message = $3,
    worker_id = NULL,
    status = CASE WHEN retry_count + 1 < $4 THEN ` + requeueStatus + ` ELSE 'FAILED' END,
    started_at = CASE WHEN retry_count + 1 < $4 THEN NULL ELSE started_at END,
    completed_at = CASE WHEN retry_count + 1 < $4 THEN completed_at ELSE now() END
WHERE id = $1 AND worker_id = $2 AND status IN ` + workerOwnedStatuses + `
RETURNING status;`

	var statusText string
	err := r.pool.QueryRow(ctx, q, id, workerID, reason, maxRetries).Scan(&statusText)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("fail job: %w", err)
	}
	return entity.JobStatus(statusText), true, nil
}

// Interrupt releases the lease for a graceful worker shutdown,
// recording the stage it stopped at. The checkpoint survives so the
// next worker can resume instead of restarting.
func (r *JobRepository) Interrupt(ctx context.Context, id int64, workerID, checkpoint string) (bool, error) {
	q := `
UPDATE conversion_jobs
SET interrupted_stage = status,
    status = 'INTERRUPTED',
    interrupted_at = now(),
    worker_id = NULL,
    started_at = NULL,
    processing_checkpoint = CASE WHEN $3 <> '' THEN $3 ELSE processing_checkpoint END,
    checkpoint_updated_at = CASE WHEN $3 <> '' THEN now() ELSE checkpoint_updated_at END
WHERE id = $1 AND worker_id = $2 AND status IN ` + workerOwnedStatuses + `;`

	tag, err := r.pool.Exec(ctx, q, id, workerID, checkpoint)
	if err != nil {
		return false, fmt.Errorf("interrupt job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RetryInterrupted requeues interrupted jobs, all of them when ids is
// empty. Checkpoints are preserved across the transition.
func (r *JobRepository) RetryInterrupted(ctx context.Context, ids []int64) (int64, error) {
	q := `
UPDATE conversion_jobs
SET status = ` + requeueStatus + `,
    interrupted_at = NULL,
    interrupted_stage = '',
    worker_id = NULL,
    started_at = NULL
WHERE status = 'INTERRUPTED'`

	var (
		tagErr error
		n      int64
	)
	if len(ids) > 0 {
		tag, err := r.pool.Exec(ctx, q+` AND id = ANY($1);`, ids)
		if err == nil {
			n = tag.RowsAffected()
		}
		tagErr = err
	} else {
		tag, err := r.pool.Exec(ctx, q+`;`)
		if err == nil {
			n = tag.RowsAffected()
		}
		tagErr = err
	}
	if tagErr != nil {
		return 0, fmt.Errorf("retry interrupted: %w", tagErr)
	}
	return n, nil
}

// RequeueStalled unsticks leases older than olderThan without worker
// cooperation. Retries still count toward the bound, so a permanently
// stalling job ends up FAILED rather than cycling forever.
func (r *JobRepository) RequeueStalled(ctx context.Context, olderThan time.Time, maxRetries int) (int64, error) {
	q := `
UPDATE conversion_jobs
SET retry_count = retry_count + 1,
    error_message = 'requeued by stall sweep',
    worker_id = NULL,
    status = CASE WHEN retry_count + 1 < $2 THEN ` + requeueStatus + ` ELSE 'FAILED' END,
    started_at = CASE WHEN retry_count + 1 < $2 THEN NULL ELSE started_at END,
    completed_at = CASE WHEN retry_count + 1 < $2 THEN completed_at ELSE now() END
WHERE status IN ` + workerOwnedStatuses + ` AND started_at < $1;`

	tag, err := r.pool.Exec(ctx, q, olderThan, maxRetries)
	if err != nil {
		return 0, fmt.Errorf("requeue stalled: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FailZombies marks leases dead past the long threshold as FAILED
// outright; the owning worker is assumed unreachable.
func (r *JobRepository) FailZombies(ctx context.Context, olderThan time.Time) (int64, error) {
	q := `
UPDATE conversion_jobs
SET status = 'FAILED',
    worker_id = NULL,
    completed_at = now(),
    error_message = 'worker timed out'
WHERE status IN ` + workerOwnedStatuses + ` AND started_at < $1;`

	tag, err := r.pool.Exec(ctx, q, olderThan)
	if err != nil {
		return 0, fmt.Errorf("fail zombies: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *JobRepository) ConfirmUpload(ctx context.Context, id int64) (bool, error) {
	const q = `
UPDATE conversion_jobs SET upload_confirmed = TRUE
WHERE id = $1 AND status = 'PENDING' AND NOT upload_confirmed;`

	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, fmt.Errorf("confirm upload: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CancelPending removes a queued job whose upload never completed. No
// saga needed: no objects exist yet.
func (r *JobRepository) CancelPending(ctx context.Context, id int64) (bool, error) {
	const q = `
DELETE FROM conversion_jobs
WHERE id = $1 AND status = 'PENDING' AND NOT upload_confirmed;`

	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return false, fmt.Errorf("cancel pending: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *JobRepository) DeleteExpiredPending(ctx context.Context, olderThan time.Time) (int64, error) {
	const q = `
DELETE FROM conversion_jobs
WHERE status = 'PENDING' AND NOT upload_confirmed AND created_at < $1;`

	tag, err := r.pool.Exec(ctx, q, olderThan)
	if err != nil {
		return 0, fmt.Errorf("delete expired pending: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkDeleting opens the delete saga. prior_status is captured in the
// same statement (assignments read the pre-update row), so the rollback
// target is durable before any object moves. Returns (nil, nil) when
// the job is not in a deletable state.
func (r *JobRepository) MarkDeleting(ctx context.Context, id int64) (*entity.ConversionJob, error) {
	q := `
UPDATE conversion_jobs
SET prior_status = status, status = 'DELETING'
WHERE id = $1
  AND status NOT IN ('DELETING','DELETED')
  AND status NOT IN ` + workerOwnedStatuses + `
RETURNING ` + jobColumns + `;`

	j, err := scanJob(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("mark deleting: %w", err)
	}
	return j, nil
}

// RollbackDelete undoes MarkDeleting after a failed object move.
func (r *JobRepository) RollbackDelete(ctx context.Context, id int64) error {
	const q = `
UPDATE conversion_jobs
SET status = prior_status, prior_status = ''
WHERE id = $1 AND status = 'DELETING';`

	if _, err := r.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("rollback delete: %w", err)
	}
	return nil
}

// FinishDelete is the saga commit point. deletedAt comes from the
// caller so the trash keys derived from it stay reconstructible.
func (r *JobRepository) FinishDelete(ctx context.Context, id int64, deletedAt time.Time) error {
	const q = `
UPDATE conversion_jobs
SET status = 'DELETED', deleted_at = $2
WHERE id = $1 AND status = 'DELETING';`

	tag, err := r.pool.Exec(ctx, q, id, deletedAt)
	if err != nil {
		return fmt.Errorf("finish delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish delete: job %d no longer deleting", id)
	}
	return nil
}

func (r *JobRepository) FinishRestore(ctx context.Context, id int64) error {
	const q = `
UPDATE conversion_jobs
SET status = 'COMPLETED', deleted_at = NULL, prior_status = ''
WHERE id = $1 AND status = 'DELETED';`

	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("finish restore: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish restore: job %d not deleted", id)
	}
	return nil
}

// Purge hard-deletes the job row and its dependents children-before-
// parent in one transaction.
func (r *JobRepository) Purge(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("purge job %d: %w", id, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM storage_lifecycle_log WHERE job_id = $1;`, id); err != nil {
		return fmt.Errorf("purge job %d logs: %w", id, err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM conversion_jobs WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("purge job %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("purge job %d: no such job", id)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("purge job %d: %w", id, err)
	}
	return nil
}
