package jobqueue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ActionKind selects how a job's target is executed.
type ActionKind int

const (
	// ActionProcedure invokes a registered zero-argument procedure by name.
	ActionProcedure ActionKind = 1
	// ActionInstance constructs a fresh instance of a registered type and runs it.
	ActionInstance ActionKind = 2
	// ActionScript runs the external script located at the target path.
	ActionScript ActionKind = 3
)

// Valid checks if the kind is one of the defined variants
func (k ActionKind) Valid() bool {
	return k == ActionProcedure || k == ActionInstance || k == ActionScript
}

func (k ActionKind) String() string {
	switch k {
	case ActionProcedure:
		return "procedure"
	case ActionInstance:
		return "instance"
	case ActionScript:
		return "script"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// ParseActionKind accepts either the numeric wire value or the lower-case name.
func ParseActionKind(s string) (ActionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "procedure":
		return ActionProcedure, nil
	case "2", "instance":
		return ActionInstance, nil
	case "3", "script":
		return ActionScript, nil
	}
	return 0, newValidationError("action_type", fmt.Sprintf("unknown action type %q", s))
}

// Action is the identity of the work a job performs.
// Two jobs with the same Action are considered duplicates.
type Action struct {
	Kind   ActionKind
	Target string
}

// Job is one unit of enqueued work.
type Job struct {
	ID        int64
	QueueName string
	Kind      ActionKind
	Target    string
	AddedAt   time.Time
	StartedAt *time.Time
	Attempts  int
}

// NewJob creates a validated job. The id stays zero until the job is enqueued.
func NewJob(kind ActionKind, target, queueName string) (*Job, error) {
	j := &Job{
		QueueName: queueName,
		Kind:      kind,
		Target:    target,
		AddedAt:   normalizeTime(time.Now()),
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return j, nil
}

// WithID sets an explicit id. Enqueue rejects it if another job already holds it.
func (j *Job) WithID(id int64) *Job {
	j.ID = id
	return j
}

// Validate checks the job invariants.
func (j *Job) Validate() error {
	if strings.TrimSpace(j.Target) == "" {
		return newValidationError("action", "cannot be empty")
	}
	if !j.Kind.Valid() {
		return newValidationError("action_type", fmt.Sprintf("unknown action type %d", int(j.Kind)))
	}
	if strings.TrimSpace(j.QueueName) == "" {
		return newValidationError("queue_name", "cannot be empty")
	}
	if j.ID < 0 {
		return newValidationError("qid", "cannot be negative")
	}
	if j.Attempts < 0 {
		return newValidationError("attempts", "cannot be negative")
	}
	if j.AddedAt.IsZero() {
		return newValidationError("added_at", "cannot be empty")
	}
	return nil
}

// Action returns the job's action identity.
func (j *Job) Action() Action {
	return Action{Kind: j.Kind, Target: j.Target}
}

// SameAction reports whether both jobs perform the same action.
func (j *Job) SameAction(other *Job) bool {
	if other == nil {
		return false
	}
	return j.Action() == other.Action()
}

// MarkStarted records an execution attempt.
// StartedAt keeps the time of the first attempt; Attempts grows on every call.
func (j *Job) MarkStarted(now time.Time) {
	if j.StartedAt == nil {
		t := normalizeTime(now)
		j.StartedAt = &t
	}
	j.Attempts++
}

// Execute runs the job and reports success. It never panics.
func (j *Job) Execute(ctx context.Context, executor Executor) bool {
	return j.ExecuteErr(ctx, executor) == nil
}

// ExecuteErr runs the job through executor. Payload errors and panics are
// returned wrapped in ErrExecutionFailed.
func (j *Job) ExecuteErr(ctx context.Context, executor Executor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic in %s %q: %v", ErrExecutionFailed, j.Kind, j.Target, r)
		}
	}()

	if executor == nil {
		return fmt.Errorf("%w: %w", ErrExecutionFailed, ErrExecutorNil)
	}
	if err := executor.Execute(ctx, j.Kind, j.Target); err != nil {
		return fmt.Errorf("%w: %s %q: %w", ErrExecutionFailed, j.Kind, j.Target, err)
	}
	return nil
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	return &c
}

// normalizeTime drops everything the wire format cannot represent.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
