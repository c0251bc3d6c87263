package logger

import (
	"fmt"
	"log/slog"
	"time"
)

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// JobID records the job identifier under the key "job_id".
func JobID(id int64) slog.Attr {
	return slog.Int64("job_id", id)
}

// JobIDs records a list of job identifiers under the given key.
// Empty lists produce an empty Attr.
func JobIDs(key string, ids []int64) slog.Attr {
	if len(ids) == 0 {
		return slog.Attr{}
	}
	return slog.Any(key, ids)
}

// QueueName records the queue name under the key "queue".
func QueueName(name string) slog.Attr {
	return slog.String("queue", name)
}

// Action records the action kind and target under the group "action".
func Action(kind fmt.Stringer, target string) slog.Attr {
	return slog.Group("action",
		slog.String("type", kind.String()),
		slog.String("target", target),
	)
}

// Attempts records the attempt counter under the key "attempts".
func Attempts(n int) slog.Attr {
	return slog.Int("attempts", n)
}

// Duration records a duration under the key "duration".
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// RunnerID records the runner instance identifier under the key "runner_id".
// If id is nil, it returns an empty Attr.
func RunnerID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("runner_id", id)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}
