package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"video-lifecycle-service/internal/entity"
	"video-lifecycle-service/internal/storage"
)

// sizeTolerance is the accepted band between declared and observed
// upload size, to catch truncated or substituted uploads.
const sizeTolerance = 0.05

// AdmissionStore is the slice of the job store upload admission needs.
// Implementation: postgresql.JobRepository.
type AdmissionStore interface {
	Create(ctx context.Context, n entity.NewJob) (int64, error)
	ConfirmUpload(ctx context.Context, id int64) (bool, error)
	DeleteExpiredPending(ctx context.Context, olderThan time.Time) (int64, error)
}

type AdmissionService struct {
	jobs    AdmissionStore
	tokens  TokenStore
	store   storage.ObjectStore
	buckets storage.Buckets

	tokenTTL time.Duration
}

func NewAdmissionService(jobs AdmissionStore, tokens TokenStore, store storage.ObjectStore, buckets storage.Buckets, tokenTTL time.Duration) *AdmissionService {
	return &AdmissionService{
		jobs:     jobs,
		tokens:   tokens,
		store:    store,
		buckets:  buckets,
		tokenTTL: tokenTTL,
	}
}

type UploadRequest struct {
	Filename          string
	DeclaredSize      int64
	FolderID          *int64
	Tags              []string
	Quality           string
	ProcessingProfile string
}

// UploadSlot is the admission grant: the job, the single-use token and
// the exact key the client must write to.
type UploadSlot struct {
	JobID     int64     `json:"job_id"`
	Token     string    `json:"token"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateUpload creates a queued job and issues the token binding the
// declared upload to it. The job stays invisible to claimers until the
// upload is confirmed.
func (s *AdmissionService) CreateUpload(ctx context.Context, ident Identity, req UploadRequest) (*UploadSlot, error) {
	if req.DeclaredSize <= 0 {
		return nil, fmt.Errorf("%w: declared file size is required", ErrValidation)
	}
	ext := strings.ToLower(path.Ext(req.Filename))
	if ext == "" {
		return nil, fmt.Errorf("%w: filename must carry an extension", ErrValidation)
	}

	key := fmt.Sprintf("raw/%s%s", uuid.NewString(), ext)

	id, err := s.jobs.Create(ctx, entity.NewJob{
		Status:            entity.StatusPending,
		RawKey:            key,
		UploadedBy:        ident.UserID,
		FolderID:          req.FolderID,
		Tags:              req.Tags,
		Quality:           req.Quality,
		ProcessingProfile: req.ProcessingProfile,
	})
	if err != nil {
		return nil, err
	}

	tok := entity.UploadToken{
		Token:        uuid.NewString(),
		JobID:        id,
		ExpectedKey:  key,
		DeclaredSize: req.DeclaredSize,
		Owner:        ident.UserID,
		ExpiresAt:    time.Now().UTC().Add(s.tokenTTL),
	}
	if err := s.tokens.Save(ctx, tok); err != nil {
		return nil, err
	}

	log.Printf("[admission] job_id=%d user=%s slot issued key=%s size=%d", id, ident.UserID, key, req.DeclaredSize)
	return &UploadSlot{JobID: id, Token: tok.Token, Key: key, ExpiresAt: tok.ExpiresAt}, nil
}

// CompleteUpload redeems the token (single use), verifies the object
// exists at the expected key with a size inside the tolerance band,
// and marks the job eligible for claiming.
func (s *AdmissionService) CompleteUpload(ctx context.Context, ident Identity, token string) (int64, error) {
	if token == "" {
		return 0, fmt.Errorf("%w: upload token is required", ErrValidation)
	}

	tok, err := s.tokens.Redeem(ctx, token)
	if err != nil {
		return 0, err
	}
	if tok == nil {
		return 0, fmt.Errorf("%w: unknown or expired upload token", ErrValidation)
	}
	if !ident.canAccess(tok.Owner) {
		return 0, fmt.Errorf("%w: upload token belongs to another user", ErrForbidden)
	}

	observed, err := s.store.Head(ctx, s.buckets.Raw, tok.ExpectedKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return 0, fmt.Errorf("%w: no object at expected key %s", ErrValidation, tok.ExpectedKey)
		}
		return 0, err
	}

	if !withinTolerance(tok.DeclaredSize, observed) {
		return 0, fmt.Errorf("%w: uploaded size %d outside tolerance of declared %d", ErrValidation, observed, tok.DeclaredSize)
	}

	ok, err := s.jobs.ConfirmUpload(ctx, tok.JobID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: job %d is not awaiting an upload", ErrConflict, tok.JobID)
	}

	log.Printf("[admission] job_id=%d upload confirmed key=%s declared=%d observed=%d", tok.JobID, tok.ExpectedKey, tok.DeclaredSize, observed)
	return tok.JobID, nil
}

func withinTolerance(declared, observed int64) bool {
	diff := observed - declared
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) <= float64(declared)*sizeTolerance
}

type ImportRequest struct {
	SourceURL         string
	FolderID          *int64
	Tags              []string
	Quality           string
	ProcessingProfile string
}

// CreateURLImport queues a job fed from a remote URL. Nothing to
// upload, so the job is claim-eligible immediately.
func (s *AdmissionService) CreateURLImport(ctx context.Context, ident Identity, req ImportRequest) (int64, error) {
	u, err := url.Parse(req.SourceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return 0, fmt.Errorf("%w: source url must be absolute http(s)", ErrValidation)
	}

	id, err := s.jobs.Create(ctx, entity.NewJob{
		Status:            entity.StatusURLImportQueued,
		UploadConfirmed:   true,
		SourceURL:         req.SourceURL,
		UploadedBy:        ident.UserID,
		FolderID:          req.FolderID,
		Tags:              req.Tags,
		Quality:           req.Quality,
		ProcessingProfile: req.ProcessingProfile,
	})
	if err != nil {
		return 0, err
	}

	log.Printf("[admission] job_id=%d user=%s url import queued", id, ident.UserID)
	return id, nil
}

// SweepExpired drops never-confirmed upload jobs whose token is long
// gone. Tokens themselves expire out of redis on their own; this clears
// the matching job rows.
func (s *AdmissionService) SweepExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-2 * s.tokenTTL)
	n, err := s.jobs.DeleteExpiredPending(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[admission] swept %d expired pending uploads", n)
	}
	return n, nil
}
