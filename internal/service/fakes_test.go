package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"video-lifecycle-service/internal/entity"
	"video-lifecycle-service/internal/storage"
)

// memJobs implements the repository contract in memory: conditional
// transitions guarded exactly the way the SQL guards them.
type memJobs struct {
	mu   sync.Mutex
	seq  int64
	jobs map[int64]*entity.ConversionJob
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: map[int64]*entity.ConversionJob{}}
}

func (m *memJobs) add(j entity.ConversionJob) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	j.ID = m.seq
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	m.jobs[j.ID] = &j
	return j.ID
}

func (m *memJobs) owned(id int64, workerID string) (*entity.ConversionJob, bool) {
	j, ok := m.jobs[id]
	if !ok || !j.Status.WorkerOwned() || j.WorkerID == nil || *j.WorkerID != workerID {
		return nil, false
	}
	return j, true
}

func (m *memJobs) requeueStatus(j *entity.ConversionJob) entity.JobStatus {
	if j.SourceURL != "" {
		return entity.StatusURLImportQueued
	}
	return entity.StatusPending
}

func (m *memJobs) Create(ctx context.Context, n entity.NewJob) (int64, error) {
	return m.add(entity.ConversionJob{
		Status:            n.Status,
		RawKey:            n.RawKey,
		UploadConfirmed:   n.UploadConfirmed,
		SourceURL:         n.SourceURL,
		UploadedBy:        n.UploadedBy,
		FolderID:          n.FolderID,
		Tags:              n.Tags,
		Quality:           n.Quality,
		ProcessingProfile: n.ProcessingProfile,
	}), nil
}

func (m *memJobs) GetByID(ctx context.Context, id int64) (*entity.ConversionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (m *memJobs) ListByIDs(ctx context.Context, ids []int64) ([]*entity.ConversionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.ConversionJob
	for _, id := range ids {
		if j, ok := m.jobs[id]; ok {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memJobs) ClaimNext(ctx context.Context, workerID string) (*entity.ConversionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []int64
	for id, j := range m.jobs {
		if j.Status.Queued() && j.UploadConfirmed {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Slice(ids, func(a, b int) bool {
		return m.jobs[ids[a]].CreatedAt.Before(m.jobs[ids[b]].CreatedAt)
	})

	j := m.jobs[ids[0]]
	now := time.Now().UTC()
	j.Status = entity.StatusProcessing
	j.WorkerID = &workerID
	j.StartedAt = &now
	j.ErrorMessage = ""
	j.InterruptedStage = ""
	cp := *j
	return &cp, nil
}

func (m *memJobs) UpdateStage(ctx context.Context, id int64, workerID string, stage entity.JobStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.owned(id, workerID)
	if !ok {
		return false, nil
	}
	j.Status = stage
	return true, nil
}

func (m *memJobs) UpdateCheckpoint(ctx context.Context, id int64, workerID, checkpoint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.owned(id, workerID)
	if !ok {
		return false, nil
	}
	now := time.Now().UTC()
	j.ProcessingCheckpoint = checkpoint
	j.CheckpointUpdatedAt = &now
	return true, nil
}

func (m *memJobs) Complete(ctx context.Context, id int64, workerID string, out entity.CompletionUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.owned(id, workerID)
	if !ok {
		return false, nil
	}
	now := time.Now().UTC()
	j.Status = entity.StatusCompleted
	j.CompletedAt = &now
	j.WorkerID = nil
	j.PublicURL = out.PublicURL
	j.ThumbnailKey = out.ThumbnailKey
	j.Output = out.Output
	j.RawKey = ""
	j.ProcessingCheckpoint = ""
	j.ErrorMessage = ""
	return true, nil
}

func (m *memJobs) failLocked(j *entity.ConversionJob, reason string, maxRetries int) entity.JobStatus {
	j.RetryCount++
	j.ErrorMessage = reason
	j.WorkerID = nil
	if j.RetryCount < maxRetries {
		j.Status = m.requeueStatus(j)
		j.StartedAt = nil
	} else {
		j.Status = entity.StatusFailed
		now := time.Now().UTC()
		j.CompletedAt = &now
	}
	return j.Status
}

func (m *memJobs) Fail(ctx context.Context, id int64, workerID, reason string, maxRetries int) (entity.JobStatus, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.owned(id, workerID)
	if !ok {
		return "", false, nil
	}
	return m.failLocked(j, reason, maxRetries), true, nil
}

func (m *memJobs) Interrupt(ctx context.Context, id int64, workerID, checkpoint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.owned(id, workerID)
	if !ok {
		return false, nil
	}
	now := time.Now().UTC()
	j.InterruptedStage = string(j.Status)
	j.Status = entity.StatusInterrupted
	j.InterruptedAt = &now
	j.WorkerID = nil
	j.StartedAt = nil
	if checkpoint != "" {
		j.ProcessingCheckpoint = checkpoint
		j.CheckpointUpdatedAt = &now
	}
	return true, nil
}

func (m *memJobs) RetryInterrupted(ctx context.Context, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var n int64
	for id, j := range m.jobs {
		if j.Status != entity.StatusInterrupted {
			continue
		}
		if len(ids) > 0 && !want[id] {
			continue
		}
		j.Status = m.requeueStatus(j)
		j.InterruptedAt = nil
		j.InterruptedStage = ""
		j.WorkerID = nil
		j.StartedAt = nil
		n++
	}
	return n, nil
}

func (m *memJobs) RequeueStalled(ctx context.Context, olderThan time.Time, maxRetries int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, j := range m.jobs {
		if j.Status.WorkerOwned() && j.StartedAt != nil && j.StartedAt.Before(olderThan) {
			m.failLocked(j, "requeued by stall sweep", maxRetries)
			n++
		}
	}
	return n, nil
}

func (m *memJobs) FailZombies(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, j := range m.jobs {
		if j.Status.WorkerOwned() && j.StartedAt != nil && j.StartedAt.Before(olderThan) {
			now := time.Now().UTC()
			j.Status = entity.StatusFailed
			j.WorkerID = nil
			j.CompletedAt = &now
			j.ErrorMessage = "worker timed out"
			n++
		}
	}
	return n, nil
}

func (m *memJobs) ConfirmUpload(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != entity.StatusPending || j.UploadConfirmed {
		return false, nil
	}
	j.UploadConfirmed = true
	return true, nil
}

func (m *memJobs) CancelPending(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != entity.StatusPending || j.UploadConfirmed {
		return false, nil
	}
	delete(m.jobs, id)
	return true, nil
}

func (m *memJobs) DeleteExpiredPending(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, j := range m.jobs {
		if j.Status == entity.StatusPending && !j.UploadConfirmed && j.CreatedAt.Before(olderThan) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

func (m *memJobs) MarkDeleting(ctx context.Context, id int64) (*entity.ConversionJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status == entity.StatusDeleting || j.Status == entity.StatusDeleted || j.Status.WorkerOwned() {
		return nil, nil
	}
	j.PriorStatus = j.Status
	j.Status = entity.StatusDeleting
	cp := *j
	return &cp, nil
}

func (m *memJobs) RollbackDelete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if ok && j.Status == entity.StatusDeleting {
		j.Status = j.PriorStatus
		j.PriorStatus = ""
	}
	return nil
}

func (m *memJobs) FinishDelete(ctx context.Context, id int64, deletedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != entity.StatusDeleting {
		return fmt.Errorf("finish delete: job %d no longer deleting", id)
	}
	j.Status = entity.StatusDeleted
	j.DeletedAt = &deletedAt
	return nil
}

func (m *memJobs) FinishRestore(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != entity.StatusDeleted {
		return fmt.Errorf("finish restore: job %d not deleted", id)
	}
	j.Status = entity.StatusCompleted
	j.DeletedAt = nil
	j.PriorStatus = ""
	return nil
}

func (m *memJobs) Purge(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return fmt.Errorf("purge job %d: no such job", id)
	}
	delete(m.jobs, id)
	return nil
}

// memObjects is an in-memory object store with per-key fault injection.
type memObjects struct {
	mu      sync.Mutex
	data    map[string][]byte
	meta    map[string]storage.Metadata
	failPut map[string]error
	failDel map[string]error
}

func newMemObjects() *memObjects {
	return &memObjects{
		data:    map[string][]byte{},
		meta:    map[string]storage.Metadata{},
		failPut: map[string]error{},
		failDel: map[string]error{},
	}
}

func objKey(bucket, key string) string { return bucket + "/" + key }

func (m *memObjects) put(bucket, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[objKey(bucket, key)] = data
}

func (m *memObjects) has(bucket, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[objKey(bucket, key)]
	return ok
}

func (m *memObjects) countWithPrefix(bucket, prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.data {
		if strings.HasPrefix(k, bucket+"/"+prefix) {
			n++
		}
	}
	return n
}

func (m *memObjects) Get(ctx context.Context, bucket, key string) (io.ReadCloser, storage.Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[objKey(bucket, key)]
	if !ok {
		return nil, nil, storage.ErrObjectNotFound
	}
	meta := storage.Metadata{}
	for k, v := range m.meta[objKey(bucket, key)] {
		meta[k] = v
	}
	return io.NopCloser(bytes.NewReader(data)), meta, nil
}

func (m *memObjects) Put(ctx context.Context, bucket, key string, body io.Reader, meta storage.Metadata) error {
	if err := m.failPut[objKey(bucket, key)]; err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[objKey(bucket, key)] = data
	m.meta[objKey(bucket, key)] = meta
	return nil
}

func (m *memObjects) Delete(ctx context.Context, bucket, key string) error {
	if err := m.failDel[objKey(bucket, key)]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, objKey(bucket, key))
	delete(m.meta, objKey(bucket, key))
	return nil
}

func (m *memObjects) Head(ctx context.Context, bucket, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[objKey(bucket, key)]
	if !ok {
		return 0, storage.ErrObjectNotFound
	}
	return int64(len(data)), nil
}

func (m *memObjects) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, bucket+"/"+prefix) {
			keys = append(keys, strings.TrimPrefix(k, bucket+"/"))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []entity.LifecycleLogEntry
}

func (m *memAudit) Append(ctx context.Context, e entity.LifecycleLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

type memTokens struct {
	mu   sync.Mutex
	toks map[string]entity.UploadToken
}

func newMemTokens() *memTokens {
	return &memTokens{toks: map[string]entity.UploadToken{}}
}

func (m *memTokens) Save(ctx context.Context, tok entity.UploadToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toks[tok.Token] = tok
	return nil
}

func (m *memTokens) Redeem(ctx context.Context, token string) (*entity.UploadToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.toks[token]
	if !ok || time.Now().After(tok.ExpiresAt) {
		delete(m.toks, token)
		return nil, nil
	}
	delete(m.toks, token)
	return &tok, nil
}

type memBeats struct {
	mu    sync.Mutex
	beats map[string]entity.WorkerHeartbeat
}

func newMemBeats() *memBeats {
	return &memBeats{beats: map[string]entity.WorkerHeartbeat{}}
}

func (m *memBeats) Record(ctx context.Context, hb entity.WorkerHeartbeat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beats[hb.WorkerID] = hb
	return nil
}

func (m *memBeats) List(ctx context.Context) ([]entity.WorkerHeartbeat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.WorkerHeartbeat
	for _, hb := range m.beats {
		out = append(out, hb)
	}
	return out, nil
}

var testBuckets = storage.Buckets{Raw: "raw-bkt", Public: "public-bkt", Trash: "trash-bkt"}
