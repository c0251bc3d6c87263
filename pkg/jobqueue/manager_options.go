package jobqueue

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// ManagerOption is a functional option for configuring a manager
type ManagerOption func(*managerOptions)

type managerOptions struct {
	logger   *slog.Logger
	clock    func() time.Time
	tracer   trace.Tracer
	runnerID uuid.UUID
}

// WithLogger sets the logger for the manager
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(o *managerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces the time source used for StartedAt
func WithClock(now func() time.Time) ManagerOption {
	return func(o *managerOptions) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithTracer sets the tracer that wraps every job execution in a span
func WithTracer(tracer trace.Tracer) ManagerOption {
	return func(o *managerOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithRunnerID sets the identifier attached to this manager's logs and spans
func WithRunnerID(id uuid.UUID) ManagerOption {
	return func(o *managerOptions) {
		if id != uuid.Nil {
			o.runnerID = id
		}
	}
}
