package redisstore

import "errors"

var (
	ErrFailedToParseRedisConnString = errors.New("failed to parse redis connection string")
	ErrRedisNotReady                = errors.New("redis did not become ready within the given time period")
	ErrHealthcheckFailed            = errors.New("redis healthcheck failed")

	// ErrConflict is returned when an update kept losing the optimistic race
	ErrConflict = errors.New("queue state changed concurrently too many times")
)
