package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"video-lifecycle-service/internal/entity"
	"video-lifecycle-service/internal/storage"
)

// LifecycleStore is the slice of the job store the saga drives.
// Implementation: postgresql.JobRepository.
type LifecycleStore interface {
	GetByID(ctx context.Context, id int64) (*entity.ConversionJob, error)
	ListByIDs(ctx context.Context, ids []int64) ([]*entity.ConversionJob, error)
	MarkDeleting(ctx context.Context, id int64) (*entity.ConversionJob, error)
	RollbackDelete(ctx context.Context, id int64) error
	FinishDelete(ctx context.Context, id int64, deletedAt time.Time) error
	FinishRestore(ctx context.Context, id int64) error
	Purge(ctx context.Context, id int64) error
	CancelPending(ctx context.Context, id int64) (bool, error)
}

// LifecycleLog is the append-only audit sink. Logging failures never
// fail the saga.
type LifecycleLog interface {
	Append(ctx context.Context, e entity.LifecycleLogEntry) error
}

type LifecycleService struct {
	jobs    LifecycleStore
	audit   LifecycleLog
	store   storage.ObjectStore
	buckets storage.Buckets

	bulkWindow int
}

func NewLifecycleService(jobs LifecycleStore, audit LifecycleLog, store storage.ObjectStore, buckets storage.Buckets, bulkWindow int) *LifecycleService {
	if bulkWindow <= 0 {
		bulkWindow = 20
	}
	return &LifecycleService{
		jobs:       jobs,
		audit:      audit,
		store:      store,
		buckets:    buckets,
		bulkWindow: bulkWindow,
	}
}

// objectMove is one bucket-level move in a job's saga.
type objectMove struct {
	bucket   string
	key      string
	trashKey string
}

// trashKey is the deterministic trash location of an object, derived
// from the deletion time and the job id so a restore can find it again
// from the row alone.
func trashKey(jobID int64, deletedAt time.Time, key string) string {
	return fmt.Sprintf("deleted/%04d/%02d/%d_%s",
		deletedAt.Year(), int(deletedAt.Month()), jobID,
		strings.ReplaceAll(key, "/", "_"))
}

// ownedObjects lists every object the job owns across buckets. A raw
// key is only owned once the upload was confirmed.
func (s *LifecycleService) ownedObjects(job *entity.ConversionJob, deletedAt time.Time) []objectMove {
	var moves []objectMove
	if job.RawKey != "" && job.UploadConfirmed {
		moves = append(moves, objectMove{s.buckets.Raw, job.RawKey, trashKey(job.ID, deletedAt, job.RawKey)})
	}
	if key := job.PublicKey(); key != "" {
		moves = append(moves, objectMove{s.buckets.Public, key, trashKey(job.ID, deletedAt, key)})
	}
	if job.ThumbnailKey != "" {
		moves = append(moves, objectMove{s.buckets.Public, job.ThumbnailKey, trashKey(job.ID, deletedAt, job.ThumbnailKey)})
	}
	return moves
}

func (s *LifecycleService) logOp(ctx context.Context, jobID int64, op, srcBucket, srcKey, dstBucket, dstKey string, opErr error) {
	e := entity.LifecycleLogEntry{
		JobID:        jobID,
		Op:           op,
		SourceBucket: srcBucket,
		SourceKey:    srcKey,
		DestBucket:   dstBucket,
		DestKey:      dstKey,
		OK:           opErr == nil,
		At:           time.Now().UTC(),
	}
	if opErr != nil {
		e.Error = opErr.Error()
	}
	if err := s.audit.Append(ctx, e); err != nil {
		log.Printf("[saga] job_id=%d audit append failed: %v", jobID, err)
	}
}

// moveObject copies src to dst and deletes src only after the write
// succeeded. The object is never in fewer than one location.
func (s *LifecycleService) moveObject(ctx context.Context, jobID int64, op, srcBucket, srcKey, dstBucket, dstKey string) error {
	err := s.copyObject(ctx, srcBucket, srcKey, dstBucket, dstKey)
	if err == nil {
		err = s.store.Delete(ctx, srcBucket, srcKey)
	}
	s.logOp(ctx, jobID, op, srcBucket, srcKey, dstBucket, dstKey, err)
	return err
}

func (s *LifecycleService) copyObject(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	body, meta, err := s.store.Get(ctx, srcBucket, srcKey)
	if err != nil {
		return err
	}
	defer body.Close()

	if meta == nil {
		meta = storage.Metadata{}
	}
	meta["original-bucket"] = srcBucket
	meta["original-key"] = srcKey

	return s.store.Put(ctx, dstBucket, dstKey, body, meta)
}

// SoftDelete runs the all-or-nothing delete saga: mark DELETING with a
// durable prior status, move every owned object to trash, then commit
// DELETED. Any move failure compensates the moves already done and
// rolls the status back, so the job is never DELETED while an object
// still lives only at its original location.
func (s *LifecycleService) SoftDelete(ctx context.Context, ident Identity, id int64) error {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: job %d", ErrNotFound, id)
	}
	if !ident.canAccess(job.UploadedBy) {
		return fmt.Errorf("%w: job %d belongs to another user", ErrForbidden, id)
	}
	if job.Status.WorkerOwned() {
		return fmt.Errorf("%w: job %d is being processed", ErrConflict, id)
	}
	if job.Status == entity.StatusDeleting || job.Status == entity.StatusDeleted {
		return fmt.Errorf("%w: job %d is already deleted", ErrConflict, id)
	}

	snap, err := s.jobs.MarkDeleting(ctx, id)
	if err != nil {
		return err
	}
	if snap == nil {
		// lost the race with another deleter or a claim
		return fmt.Errorf("%w: job %d changed state", ErrConflict, id)
	}

	deletedAt := time.Now().UTC()
	moves := s.ownedObjects(snap, deletedAt)

	var done []objectMove
	for _, m := range moves {
		if err := s.moveObject(ctx, id, entity.LifecycleOpMoveToTrash, m.bucket, m.key, s.buckets.Trash, m.trashKey); err != nil {
			s.compensate(ctx, id, done)
			if rbErr := s.jobs.RollbackDelete(ctx, id); rbErr != nil {
				log.Printf("[saga] job_id=%d rollback failed: %v", id, rbErr)
			}
			return fmt.Errorf("%w: job %d key %s: %v", ErrStorageMove, id, m.key, err)
		}
		done = append(done, m)
	}

	if err := s.jobs.FinishDelete(ctx, id, deletedAt); err != nil {
		s.compensate(ctx, id, done)
		if rbErr := s.jobs.RollbackDelete(ctx, id); rbErr != nil {
			log.Printf("[saga] job_id=%d rollback failed: %v", id, rbErr)
		}
		return err
	}

	log.Printf("[saga] job_id=%d soft-deleted objects=%d", id, len(done))
	return nil
}

// compensate moves already-trashed objects back after an aborted soft
// delete, newest first.
func (s *LifecycleService) compensate(ctx context.Context, jobID int64, done []objectMove) {
	for i := len(done) - 1; i >= 0; i-- {
		m := done[i]
		if err := s.moveObject(ctx, jobID, entity.LifecycleOpCompensateMove, s.buckets.Trash, m.trashKey, m.bucket, m.key); err != nil {
			log.Printf("[saga] job_id=%d compensation of %s failed: %v", jobID, m.key, err)
		}
	}
}

// Restore brings a soft-deleted job back. Object moves are best-effort
// by design: the data is already parked safely in trash, so a partial
// restore is lower-risk than a partial delete, and the audit log is the
// record of what actually moved. The status flips back regardless.
func (s *LifecycleService) Restore(ctx context.Context, ident Identity, id int64) error {
	if !ident.Privileged {
		return fmt.Errorf("%w: restore requires privilege", ErrForbidden)
	}

	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: job %d", ErrNotFound, id)
	}
	if job.Status != entity.StatusDeleted || job.DeletedAt == nil {
		return fmt.Errorf("%w: job %d is not deleted", ErrConflict, id)
	}

	restored := 0
	for _, m := range s.ownedObjects(job, *job.DeletedAt) {
		if err := s.moveObject(ctx, id, entity.LifecycleOpRestore, s.buckets.Trash, m.trashKey, m.bucket, m.key); err != nil {
			log.Printf("[saga] job_id=%d restore of %s failed: %v", id, m.key, err)
			continue
		}
		restored++
	}

	if err := s.jobs.FinishRestore(ctx, id); err != nil {
		return err
	}

	log.Printf("[saga] job_id=%d restored objects=%d", id, restored)
	return nil
}

// Purge permanently removes a job. Object deletion is best-effort,
// attempted before the row goes: a residual orphaned object is accepted
// over a residual row a user could still see.
func (s *LifecycleService) Purge(ctx context.Context, ident Identity, id int64) error {
	if !ident.Privileged {
		return fmt.Errorf("%w: purge requires privilege", ErrForbidden)
	}

	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: job %d", ErrNotFound, id)
	}
	if job.Status.WorkerOwned() {
		return fmt.Errorf("%w: job %d is being processed", ErrConflict, id)
	}

	if job.Status == entity.StatusDeleted && job.DeletedAt != nil {
		for _, m := range s.ownedObjects(job, *job.DeletedAt) {
			err := s.store.Delete(ctx, s.buckets.Trash, m.trashKey)
			s.logOp(ctx, id, entity.LifecycleOpPurgeDelete, s.buckets.Trash, m.trashKey, "", "", err)
			if err != nil {
				log.Printf("[saga] job_id=%d purge of %s failed: %v", id, m.trashKey, err)
			}
		}
	} else {
		for _, m := range s.ownedObjects(job, time.Now().UTC()) {
			err := s.store.Delete(ctx, m.bucket, m.key)
			s.logOp(ctx, id, entity.LifecycleOpPurgeDelete, m.bucket, m.key, "", "", err)
			if err != nil {
				log.Printf("[saga] job_id=%d purge of %s failed: %v", id, m.key, err)
			}
		}
	}

	if err := s.jobs.Purge(ctx, id); err != nil {
		return err
	}

	log.Printf("[saga] job_id=%d purged", id)
	return nil
}

// Cancel removes a queued job whose upload never completed. No objects
// exist yet, so no saga is involved.
func (s *LifecycleService) Cancel(ctx context.Context, ident Identity, id int64) error {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: job %d", ErrNotFound, id)
	}
	if !ident.canAccess(job.UploadedBy) {
		return fmt.Errorf("%w: job %d belongs to another user", ErrForbidden, id)
	}

	ok, err := s.jobs.CancelPending(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: job %d is no longer a pending upload", ErrConflict, id)
	}
	return nil
}

// BulkSkip reports one job excluded from a bulk operation and why.
type BulkSkip struct {
	ID     int64  `json:"id"`
	Reason string `json:"reason"`
}

// BulkResult separates successes from skips; each job's saga is
// independent and one failure never aborts its siblings.
type BulkResult struct {
	Succeeded []int64    `json:"succeeded"`
	Skipped   []BulkSkip `json:"skipped"`
}

func (s *LifecycleService) bulk(ctx context.Context, ids []int64, op func(context.Context, int64) error) (*BulkResult, error) {
	var (
		mu  sync.Mutex
		res BulkResult
	)
	res.Succeeded = []int64{}
	res.Skipped = []BulkSkip{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.bulkWindow)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			err := op(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Skipped = append(res.Skipped, BulkSkip{ID: id, Reason: err.Error()})
			} else {
				res.Succeeded = append(res.Succeeded, id)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *LifecycleService) BulkSoftDelete(ctx context.Context, ident Identity, ids []int64) (*BulkResult, error) {
	return s.bulk(ctx, ids, func(ctx context.Context, id int64) error {
		return s.SoftDelete(ctx, ident, id)
	})
}

func (s *LifecycleService) BulkRestore(ctx context.Context, ident Identity, ids []int64) (*BulkResult, error) {
	return s.bulk(ctx, ids, func(ctx context.Context, id int64) error {
		return s.Restore(ctx, ident, id)
	})
}

func (s *LifecycleService) BulkPurge(ctx context.Context, ident Identity, ids []int64) (*BulkResult, error) {
	return s.bulk(ctx, ids, func(ctx context.Context, id int64) error {
		return s.Purge(ctx, ident, id)
	})
}

// GetJob is the read path, ownership-checked like every other caller
// operation.
func (s *LifecycleService) GetJob(ctx context.Context, ident Identity, id int64) (*entity.ConversionJob, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: job %d", ErrNotFound, id)
	}
	if !ident.canAccess(job.UploadedBy) {
		return nil, fmt.Errorf("%w: job %d belongs to another user", ErrForbidden, id)
	}
	return job, nil
}

// ListJobs fetches many jobs in one read. Jobs the caller cannot see
// are filtered out rather than failing the whole read.
func (s *LifecycleService) ListJobs(ctx context.Context, ident Identity, ids []int64) ([]*entity.ConversionJob, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: ids are required", ErrValidation)
	}

	jobs, err := s.jobs.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := []*entity.ConversionJob{}
	for _, j := range jobs {
		if ident.canAccess(j.UploadedBy) {
			out = append(out, j)
		}
	}
	return out, nil
}
