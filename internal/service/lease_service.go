package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"video-lifecycle-service/internal/entity"
	"video-lifecycle-service/internal/storage"
)

// LeaseStore is the slice of the job store the lease manager mutates.
// Implementation: postgresql.JobRepository.
type LeaseStore interface {
	GetByID(ctx context.Context, id int64) (*entity.ConversionJob, error)
	ClaimNext(ctx context.Context, workerID string) (*entity.ConversionJob, error)
	UpdateStage(ctx context.Context, id int64, workerID string, stage entity.JobStatus) (bool, error)
	UpdateCheckpoint(ctx context.Context, id int64, workerID, checkpoint string) (bool, error)
	Complete(ctx context.Context, id int64, workerID string, out entity.CompletionUpdate) (bool, error)
	Fail(ctx context.Context, id int64, workerID, reason string, maxRetries int) (entity.JobStatus, bool, error)
	Interrupt(ctx context.Context, id int64, workerID, checkpoint string) (bool, error)
	RetryInterrupted(ctx context.Context, ids []int64) (int64, error)
	RequeueStalled(ctx context.Context, olderThan time.Time, maxRetries int) (int64, error)
	FailZombies(ctx context.Context, olderThan time.Time) (int64, error)
}

type LeaseService struct {
	jobs    LeaseStore
	store   storage.ObjectStore
	buckets storage.Buckets
	beats   HeartbeatStore

	maxRetries  int
	stallAfter  time.Duration
	zombieAfter time.Duration
}

func NewLeaseService(jobs LeaseStore, store storage.ObjectStore, buckets storage.Buckets, beats HeartbeatStore, maxRetries int, stallAfter, zombieAfter time.Duration) *LeaseService {
	return &LeaseService{
		jobs:        jobs,
		store:       store,
		buckets:     buckets,
		beats:       beats,
		maxRetries:  maxRetries,
		stallAfter:  stallAfter,
		zombieAfter: zombieAfter,
	}
}

// Claim leases the oldest eligible queued job to workerID. A nil job
// with a nil error is the normal "no work" answer, not a failure.
func (s *LeaseService) Claim(ctx context.Context, workerID string) (*entity.ConversionJob, error) {
	if workerID == "" {
		return nil, fmt.Errorf("%w: worker id is required", ErrValidation)
	}

	job, err := s.jobs.ClaimNext(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if job != nil {
		log.Printf("[lease] job_id=%d worker_id=%s claimed checkpoint=%q", job.ID, workerID, job.ProcessingCheckpoint)
	}
	return job, nil
}

// ReportStage advances a leased job among DOWNLOADING/CONVERTING/
// UPLOADING. False with a nil error means the lease no longer belongs
// to this worker; the caller should stop retrying.
func (s *LeaseService) ReportStage(ctx context.Context, workerID string, jobID int64, stage entity.JobStatus) (bool, error) {
	if !stage.SubPhase() {
		return false, fmt.Errorf("%w: %q is not a worker stage", ErrValidation, stage)
	}

	ok, err := s.jobs.UpdateStage(ctx, jobID, workerID, stage)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Printf("[lease] job_id=%d worker_id=%s stage=%s stale lease, no-op", jobID, workerID, stage)
	}
	return ok, nil
}

func (s *LeaseService) SaveCheckpoint(ctx context.Context, workerID string, jobID int64, checkpoint string) (bool, error) {
	if checkpoint == "" {
		return false, fmt.Errorf("%w: checkpoint is required", ErrValidation)
	}
	return s.jobs.UpdateCheckpoint(ctx, jobID, workerID, checkpoint)
}

// Complete finishes a leased job. Deleting the raw intake object is a
// precondition, not a side effect: if the delete fails the job stays
// leased and the worker retries, so a COMPLETED job never leaves an
// orphaned raw file behind.
func (s *LeaseService) Complete(ctx context.Context, workerID string, jobID int64, out entity.CompletionUpdate) (bool, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job == nil || !job.Status.WorkerOwned() || job.WorkerID == nil || *job.WorkerID != workerID {
		return false, nil
	}

	if job.RawKey != "" {
		if err := s.store.Delete(ctx, s.buckets.Raw, job.RawKey); err != nil {
			if !errors.Is(err, storage.ErrObjectNotFound) {
				return false, fmt.Errorf("raw cleanup before complete: %w", err)
			}
		}
	}

	ok, err := s.jobs.Complete(ctx, jobID, workerID, out)
	if err != nil {
		return false, err
	}
	if ok {
		log.Printf("[lease] job_id=%d worker_id=%s completed size=%d duration=%.1fs codec=%s",
			jobID, workerID, out.Output.SizeBytes, out.Output.DurationSeconds, out.Output.Codec)
	}
	return ok, nil
}

// Fail records a worker failure; below the retry bound the job is
// requeued, at the bound it terminates FAILED.
func (s *LeaseService) Fail(ctx context.Context, workerID string, jobID int64, reason string) (entity.JobStatus, bool, error) {
	if reason == "" {
		reason = "worker reported failure"
	}

	status, ok, err := s.jobs.Fail(ctx, jobID, workerID, reason, s.maxRetries)
	if err != nil {
		return "", false, err
	}
	if ok {
		log.Printf("[lease] job_id=%d worker_id=%s failed status=%s reason=%q", jobID, workerID, status, reason)
	}
	return status, ok, nil
}

// Interrupt is a graceful lease release; the checkpoint survives so the
// next claimer can resume.
func (s *LeaseService) Interrupt(ctx context.Context, workerID string, jobID int64, checkpoint string) (bool, error) {
	ok, err := s.jobs.Interrupt(ctx, jobID, workerID, checkpoint)
	if err != nil {
		return false, err
	}
	if ok {
		log.Printf("[lease] job_id=%d worker_id=%s interrupted checkpoint=%q", jobID, workerID, checkpoint)
	}
	return ok, nil
}

// RetryInterrupted requeues interrupted jobs; all of them when ids is
// empty.
func (s *LeaseService) RetryInterrupted(ctx context.Context, ident Identity, ids []int64) (int64, error) {
	if !ident.Privileged {
		return 0, fmt.Errorf("%w: retrying interrupted jobs requires privilege", ErrForbidden)
	}
	return s.jobs.RetryInterrupted(ctx, ids)
}

func (s *LeaseService) Heartbeat(ctx context.Context, hb entity.WorkerHeartbeat) error {
	if hb.WorkerID == "" {
		return fmt.Errorf("%w: worker id is required", ErrValidation)
	}
	if hb.SeenAt.IsZero() {
		hb.SeenAt = time.Now().UTC()
	}
	return s.beats.Record(ctx, hb)
}

func (s *LeaseService) Workers(ctx context.Context) ([]entity.WorkerHeartbeat, error) {
	return s.beats.List(ctx)
}

// SweepStalled reclaims leases without worker cooperation. Leases past
// the zombie threshold fail outright; leases past the shorter stall
// threshold are requeued. Running it again with no new timeouts changes
// nothing.
func (s *LeaseService) SweepStalled(ctx context.Context) (requeued, failed int64, err error) {
	now := time.Now().UTC()

	failed, err = s.jobs.FailZombies(ctx, now.Add(-s.zombieAfter))
	if err != nil {
		return 0, 0, err
	}
	requeued, err = s.jobs.RequeueStalled(ctx, now.Add(-s.stallAfter), s.maxRetries)
	if err != nil {
		return 0, failed, err
	}

	if requeued > 0 || failed > 0 {
		log.Printf("[sweep] requeued=%d zombies_failed=%d", requeued, failed)
	}
	return requeued, failed, nil
}
