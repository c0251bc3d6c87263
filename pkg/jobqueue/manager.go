package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmitrymomot/jobqueue/pkg/logger"
)

// tracerName is the instrumentation scope name for job execution spans.
const tracerName = "github.com/dmitrymomot/jobqueue"

// errJobGone aborts an update without writing when a job left running.
var errJobGone = errors.New("job is no longer running")

// RunReport lists the job ids touched by one execution pass.
type RunReport struct {
	Promoted  []int64 `json:"promoted"`
	Succeeded []int64 `json:"succeeded"`
	Failed    []int64 `json:"failed"`
	Skipped   []int64 `json:"skipped"`
}

// Manager enqueues jobs and runs them under the one-running-job-per-queue rule.
// Every operation re-reads the store, so several managers may share one store.
// Passes of one Manager never overlap: a pass started while another is in
// progress waits for it to finish.
type Manager struct {
	passes   chan struct{}
	store    Store
	executor Executor
	logger   *slog.Logger
	now      func() time.Time
	tracer   trace.Tracer
	runnerID uuid.UUID
}

// NewManager creates a manager over store that executes jobs with executor.
func NewManager(store Store, executor Executor, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if executor == nil {
		return nil, ErrExecutorNil
	}

	options := &managerOptions{
		logger:   logger.Discard(),
		clock:    time.Now,
		tracer:   otel.Tracer(tracerName),
		runnerID: uuid.New(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Manager{
		passes:   make(chan struct{}, 1),
		store:    store,
		executor: executor,
		logger:   options.logger.With(logger.RunnerID(options.runnerID.String())),
		now:      options.clock,
		tracer:   options.tracer,
		runnerID: options.runnerID,
	}, nil
}

// RunnerID returns the identifier of this manager instance.
func (m *Manager) RunnerID() uuid.UUID {
	return m.runnerID
}

// Enqueue validates job and appends it to the queued jobs.
// A zero id is replaced with the next free id; an explicit id that is already
// taken fails with ErrDuplicateID. The assigned id is written back to job.
func (m *Manager) Enqueue(ctx context.Context, job *Job) (*Job, error) {
	stored, _, err := m.enqueue(ctx, job, false)
	return stored, err
}

// EnqueueUnique enqueues job unless a job with the same action is already
// queued or running. It reports whether the job was added.
func (m *Manager) EnqueueUnique(ctx context.Context, job *Job) (*Job, bool, error) {
	return m.enqueue(ctx, job, true)
}

func (m *Manager) enqueue(ctx context.Context, job *Job, unique bool) (*Job, bool, error) {
	if job == nil {
		return nil, false, ErrJobNil
	}
	if err := job.Validate(); err != nil {
		return nil, false, err
	}

	var (
		stored *Job
		added  bool
	)
	err := m.store.Update(ctx, func(st *State) error {
		stored, added = nil, false

		if unique && (st.IsQueued(job.Action()) || st.IsRunning(job.Action())) {
			return nil
		}

		j := job.Clone()
		switch {
		case j.ID == 0:
			j.ID = st.NextID()
		case st.HasID(j.ID):
			return fmt.Errorf("%w: %d", ErrDuplicateID, j.ID)
		}

		st.Queued = append(st.Queued, j)
		st.SortQueued()

		stored, added = j.Clone(), true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if !added {
		m.logger.DebugContext(ctx, "equivalent job already pending",
			logger.QueueName(job.QueueName),
			logger.Action(job.Kind, job.Target))
		return nil, false, nil
	}

	job.ID = stored.ID
	m.logger.InfoContext(ctx, "job enqueued",
		logger.JobID(stored.ID),
		logger.QueueName(stored.QueueName),
		logger.Action(stored.Kind, stored.Target))

	return stored, true, nil
}

// IsQueueFree reports whether no running job belongs to queueName.
func (m *Manager) IsQueueFree(ctx context.Context, queueName string) (bool, error) {
	st, err := m.store.Read(ctx)
	if err != nil {
		return false, err
	}
	return st.IsQueueFree(queueName), nil
}

// IsQueued reports whether a queued job performs the same action as job.
func (m *Manager) IsQueued(ctx context.Context, job *Job) (bool, error) {
	if job == nil {
		return false, ErrJobNil
	}
	st, err := m.store.Read(ctx)
	if err != nil {
		return false, err
	}
	return st.IsQueued(job.Action()), nil
}

// IsRunning reports whether a running job performs the same action as job.
func (m *Manager) IsRunning(ctx context.Context, job *Job) (bool, error) {
	if job == nil {
		return false, ErrJobNil
	}
	st, err := m.store.Read(ctx)
	if err != nil {
		return false, err
	}
	return st.IsRunning(job.Action()), nil
}

// Snapshot returns a copy of the current queue state.
func (m *Manager) Snapshot(ctx context.Context) (*State, error) {
	st, err := m.store.Read(ctx)
	if err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

// RunAll promotes eligible queued jobs of every queue and executes all
// running jobs in AddedAt order. It first waits for any pass of this Manager
// that is still in progress.
func (m *Manager) RunAll(ctx context.Context) (RunReport, error) {
	return m.run(ctx, "", nil)
}

// Run is RunAll restricted to jobs whose queue name is queueName.
func (m *Manager) Run(ctx context.Context, queueName string) (RunReport, error) {
	if strings.TrimSpace(queueName) == "" {
		return RunReport{}, newValidationError("queue_name", "cannot be empty")
	}
	return m.run(ctx, queueName, func(j *Job) bool { return j.QueueName == queueName })
}

func (m *Manager) run(ctx context.Context, queueName string, inScope func(*Job) bool) (RunReport, error) {
	select {
	case m.passes <- struct{}{}:
	case <-ctx.Done():
		return RunReport{}, ctx.Err()
	}
	defer func() { <-m.passes }()

	var (
		report RunReport
		ids    []int64
	)

	err := m.store.Update(ctx, func(st *State) error {
		report.Promoted, ids = nil, nil

		for _, j := range st.Promote(inScope) {
			report.Promoted = append(report.Promoted, j.ID)
		}
		st.SortRunning()
		for _, j := range st.Running {
			if inScope == nil || inScope(j) {
				ids = append(ids, j.ID)
			}
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("failed to promote queued jobs: %w", err)
	}

	m.logger.DebugContext(ctx, "execution pass started",
		slog.String("scope", scopeName(queueName)),
		logger.JobIDs("promoted", report.Promoted),
		logger.JobIDs("running", ids))

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		ok, err := m.runJob(ctx, id)
		switch {
		case errors.Is(err, errJobGone):
			report.Skipped = append(report.Skipped, id)
		case err != nil:
			return report, err
		case ok:
			report.Succeeded = append(report.Succeeded, id)
		default:
			report.Failed = append(report.Failed, id)
		}
	}

	m.logger.InfoContext(ctx, "execution pass finished",
		slog.String("scope", scopeName(queueName)),
		logger.JobIDs("promoted", report.Promoted),
		logger.JobIDs("succeeded", report.Succeeded),
		logger.JobIDs("failed", report.Failed),
		logger.JobIDs("skipped", report.Skipped))

	return report, nil
}

// runJob records the attempt, executes the job outside any store lock and
// persists the outcome. A non-nil error is a store failure or errJobGone.
func (m *Manager) runJob(ctx context.Context, id int64) (bool, error) {
	var job *Job
	err := m.store.Update(ctx, func(st *State) error {
		j := st.RunningJob(id)
		if j == nil {
			return errJobGone
		}
		j.MarkStarted(m.now())
		job = j.Clone()
		return nil
	})
	if err != nil {
		if !errors.Is(err, errJobGone) {
			err = fmt.Errorf("failed to mark job %d started: %w", id, err)
		}
		return false, err
	}

	start := time.Now()
	execErr := m.execute(ctx, job)
	elapsed := time.Since(start)

	// the outcome must be persisted even when ctx was cancelled mid-execution
	persistCtx := context.WithoutCancel(ctx)

	if execErr != nil {
		m.logger.ErrorContext(ctx, "job failed",
			logger.JobID(job.ID),
			logger.QueueName(job.QueueName),
			logger.Action(job.Kind, job.Target),
			logger.Attempts(job.Attempts),
			logger.Duration(elapsed),
			logger.Error(execErr))

		if err := m.store.Update(persistCtx, func(*State) error { return nil }); err != nil {
			return false, fmt.Errorf("failed to persist state after job %d: %w", id, err)
		}
		return false, nil
	}

	if err := m.store.Update(persistCtx, func(st *State) error {
		st.RemoveRunning(id)
		return nil
	}); err != nil {
		return false, fmt.Errorf("failed to remove job %d: %w", id, err)
	}

	m.logger.InfoContext(ctx, "job completed",
		logger.JobID(job.ID),
		logger.QueueName(job.QueueName),
		logger.Action(job.Kind, job.Target),
		logger.Attempts(job.Attempts),
		logger.Duration(elapsed))

	return true, nil
}

func (m *Manager) execute(ctx context.Context, job *Job) error {
	ctx, span := m.tracer.Start(ctx, "jobqueue.job.execute",
		trace.WithAttributes(
			attribute.Int64("jobqueue.job.id", job.ID),
			attribute.String("jobqueue.queue", job.QueueName),
			attribute.String("jobqueue.action_type", job.Kind.String()),
			attribute.String("jobqueue.action", job.Target),
			attribute.Int("jobqueue.attempts", job.Attempts),
			attribute.String("jobqueue.runner_id", m.runnerID.String()),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	err := job.ExecuteErr(ctx, m.executor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}

func scopeName(queueName string) string {
	if queueName == "" {
		return "all"
	}
	return queueName
}
