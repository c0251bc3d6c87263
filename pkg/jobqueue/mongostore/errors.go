package mongostore

import "errors"

var (
	ErrFailedToConnectToMongo = errors.New("failed to connect to mongo")
	ErrHealthcheckFailed      = errors.New("mongo healthcheck failed")

	// ErrConflict is returned when an update kept losing the version race
	ErrConflict = errors.New("queue state changed concurrently too many times")
)
