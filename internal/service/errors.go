package service

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	// ErrStorageMove aborts a soft delete: at least one object move
	// failed and the job was rolled back to its prior status.
	ErrStorageMove = errors.New("storage move failed, deletion aborted")
)

// Identity is what the upstream auth middleware established about the
// caller. The core only enforces ownership and privilege from it.
type Identity struct {
	UserID     string
	Privileged bool
}

func (id Identity) canAccess(owner string) bool {
	return id.Privileged || id.UserID == owner
}
