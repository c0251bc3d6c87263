package jobqueue

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrInvalidJob is matched by every *ValidationError
	ErrInvalidJob = errors.New("invalid job")

	// ErrStoreCorrupt is returned when the persisted state cannot be decoded after all read attempts
	ErrStoreCorrupt = errors.New("queue store is corrupt")

	// ErrMalformedState is returned when a state document is missing the running or queued arrays
	ErrMalformedState = errors.New("state document must contain running and queued arrays")

	// ErrExecutionFailed wraps any error or panic raised by a job payload
	ErrExecutionFailed = errors.New("job execution failed")

	// ErrDuplicateID is returned when enqueueing a job whose explicit id is already taken
	ErrDuplicateID = errors.New("job id already exists")

	// ErrStoreNil is returned when a nil store is provided
	ErrStoreNil = errors.New("store cannot be nil")

	// ErrExecutorNil is returned when a nil executor is provided
	ErrExecutorNil = errors.New("executor cannot be nil")

	// ErrJobNil is returned when a nil job is passed to the manager
	ErrJobNil = errors.New("job cannot be nil")

	// ErrHandlerNotFound is returned when no handler is registered for an action target
	ErrHandlerNotFound = errors.New("no handler registered for action")

	// ErrAlreadyRegistered is returned when a handler name is registered twice
	ErrAlreadyRegistered = errors.New("handler already registered")

	// ErrScriptOutsideBaseDir is returned when a script path escapes the configured base directory
	ErrScriptOutsideBaseDir = errors.New("script path is outside the allowed directory")
)

// ValidationError describes a single invalid job field.
type ValidationError struct {
	Field   string
	Message string
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid job: %s: %s", e.Field, e.Message)
}

// Is reports ErrInvalidJob so callers can use errors.Is without errors.As.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidJob
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
