package entity

import "time"

// UploadToken binds a declared upload to a job and the exact storage
// key the client must write to. Single use.
type UploadToken struct {
	Token        string    `json:"token"`
	JobID        int64     `json:"job_id"`
	ExpectedKey  string    `json:"expected_key"`
	DeclaredSize int64     `json:"declared_size"`
	Owner        string    `json:"owner"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// WorkerHeartbeat is the most recent liveness report of one external
// worker process.
type WorkerHeartbeat struct {
	WorkerID     string    `json:"worker_id"`
	Status       string    `json:"status"`
	CurrentJobID int64     `json:"current_job_id,omitempty"`
	SeenAt       time.Time `json:"seen_at"`
}
