package entity

import (
	"net/url"
	"strings"
	"time"
)

type JobStatus string

const (
	StatusPending         JobStatus = "PENDING"
	StatusURLImportQueued JobStatus = "URL_IMPORT_QUEUED"
	StatusProcessing      JobStatus = "PROCESSING"
	StatusDownloading     JobStatus = "DOWNLOADING"
	StatusConverting      JobStatus = "CONVERTING"
	StatusUploading       JobStatus = "UPLOADING"
	StatusCompleted       JobStatus = "COMPLETED"
	StatusFailed          JobStatus = "FAILED"
	StatusInterrupted     JobStatus = "INTERRUPTED"
	StatusDeleting        JobStatus = "DELETING"
	StatusDeleted         JobStatus = "DELETED"
)

// WorkerOwned reports whether a worker currently holds a lease on jobs
// in this status. worker_id is non-null exactly for these states.
func (s JobStatus) WorkerOwned() bool {
	switch s {
	case StatusProcessing, StatusDownloading, StatusConverting, StatusUploading:
		return true
	default:
		return false
	}
}

// Queued reports whether the job is waiting to be claimed.
func (s JobStatus) Queued() bool {
	return s == StatusPending || s == StatusURLImportQueued
}

// SubPhase reports whether s is a phase a worker may report while it
// holds the lease.
func (s JobStatus) SubPhase() bool {
	switch s {
	case StatusDownloading, StatusConverting, StatusUploading, StatusProcessing:
		return true
	default:
		return false
	}
}

func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusURLImportQueued, StatusProcessing, StatusDownloading,
		StatusConverting, StatusUploading, StatusCompleted, StatusFailed,
		StatusInterrupted, StatusDeleting, StatusDeleted:
		return true
	default:
		return false
	}
}

type ConversionJob struct {
	ID     int64     `json:"id"`
	Status JobStatus `json:"status"`

	WorkerID *string `json:"worker_id,omitempty"`

	CreatedAt           time.Time  `json:"created_at"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	DeletedAt           *time.Time `json:"deleted_at,omitempty"`
	InterruptedAt       *time.Time `json:"interrupted_at,omitempty"`
	CheckpointUpdatedAt *time.Time `json:"checkpoint_updated_at,omitempty"`

	// RawKey is empty until an upload slot is issued; UploadConfirmed
	// flips once the object is verified at that key.
	RawKey          string `json:"raw_key,omitempty"`
	UploadConfirmed bool   `json:"upload_confirmed"`
	PublicURL       string `json:"public_url,omitempty"`
	ThumbnailKey    string `json:"thumbnail_key,omitempty"`
	SourceURL       string `json:"source_url,omitempty"`

	RetryCount           int    `json:"retry_count"`
	ErrorMessage         string `json:"error_message,omitempty"`
	InterruptedStage     string `json:"interrupted_stage,omitempty"`
	ProcessingCheckpoint string `json:"processing_checkpoint,omitempty"`

	// PriorStatus is the durable saga intent: the status the job held
	// before it was marked DELETING, kept for rollback.
	PriorStatus JobStatus `json:"-"`

	UploadedBy        string   `json:"uploaded_by"`
	FolderID          *int64   `json:"folder_id,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	Quality           string   `json:"quality,omitempty"`
	ProcessingProfile string   `json:"processing_profile,omitempty"`

	Output JobOutput `json:"output"`
}

// JobOutput is the metadata the worker reports on completion.
type JobOutput struct {
	SizeBytes       int64   `json:"size_bytes,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Codec           string  `json:"codec,omitempty"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
}

// NewJob carries the fields set at creation time.
type NewJob struct {
	Status            JobStatus
	RawKey            string
	UploadConfirmed   bool
	SourceURL         string
	UploadedBy        string
	FolderID          *int64
	Tags              []string
	Quality           string
	ProcessingProfile string
}

// CompletionUpdate is what a worker hands over when it finishes a job.
type CompletionUpdate struct {
	PublicURL    string
	ThumbnailKey string
	Output       JobOutput
}

// PublicKey derives the public-bucket object key from the public URL.
// Empty when the job has no published output.
func (j *ConversionJob) PublicKey() string {
	if j.PublicURL == "" {
		return ""
	}
	u, err := url.Parse(j.PublicURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}

// OwnedBy reports whether userID may act on this job without privilege.
func (j *ConversionJob) OwnedBy(userID string) bool {
	return j.UploadedBy == userID
}
