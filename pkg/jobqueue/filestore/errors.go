package filestore

import "errors"

var (
	// ErrLockNotAcquired is returned when the lock file could not be locked before the context ended
	ErrLockNotAcquired = errors.New("failed to acquire queue file lock")
)
