package entity

import "time"

// Lifecycle operations recorded in the audit log.
const (
	LifecycleOpMoveToTrash    = "move_to_trash"
	LifecycleOpMoveBack       = "move_back"
	LifecycleOpRestore        = "restore"
	LifecycleOpPurgeDelete    = "purge_delete"
	LifecycleOpCompensateMove = "compensate_move"
)

// LifecycleLogEntry is one attempted bucket-level move/delete/restore
// for a job. Append-only; never read by business logic.
type LifecycleLogEntry struct {
	JobID        int64
	Op           string
	SourceBucket string
	SourceKey    string
	DestBucket   string
	DestKey      string
	OK           bool
	Error        string
	At           time.Time
}
