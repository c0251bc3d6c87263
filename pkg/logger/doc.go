// Package logger builds the *slog.Logger instances used across jobqueue and
// provides attribute constructors so that every component logs job data
// under the same keys.
//
// New applies a set of Option functions on top of production defaults (JSON,
// INFO, stdout):
//
//	log := logger.New(
//	    logger.WithEnvironment("development", "jobqueue"),
//	    logger.WithLevel(slog.LevelDebug),
//	)
//	log.Info("job enqueued", logger.JobID(7), logger.QueueName("mail"))
//
// Library components default to Discard so that embedding them is silent
// unless a logger is supplied.
//
// Error returns an empty attribute for a nil error, which slog drops, so
//
//	log.Info("pass finished", logger.Error(err))
//
// needs no nil check.
package logger
