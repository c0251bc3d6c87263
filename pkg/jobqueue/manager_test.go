package jobqueue_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobqueue/pkg/jobqueue"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, store jobqueue.Store, exec jobqueue.Executor) *jobqueue.Manager {
	t.Helper()
	m, err := jobqueue.NewManager(store, exec, jobqueue.WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return m
}

func mustJob(t *testing.T, kind jobqueue.ActionKind, target, queue string) *jobqueue.Job {
	t.Helper()
	job, err := jobqueue.NewJob(kind, target, queue)
	require.NoError(t, err)
	return job
}

func enqueue(t *testing.T, m *jobqueue.Manager, target, queue string) *jobqueue.Job {
	t.Helper()
	stored, err := m.Enqueue(context.Background(), mustJob(t, jobqueue.ActionProcedure, target, queue))
	require.NoError(t, err)
	return stored
}

// assertOneRunningPerQueue checks the mutual exclusion rule on the persisted state.
func assertOneRunningPerQueue(t *testing.T, m *jobqueue.Manager) {
	t.Helper()
	st, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, j := range st.Running {
		assert.False(t, seen[j.QueueName], "queue %q has more than one running job", j.QueueName)
		seen[j.QueueName] = true
	}
}

func TestNewManager(t *testing.T) {
	t.Parallel()

	_, err := jobqueue.NewManager(nil, &MockExecutor{})
	assert.ErrorIs(t, err, jobqueue.ErrStoreNil)

	_, err = jobqueue.NewManager(jobqueue.NewMemoryStore(), nil)
	assert.ErrorIs(t, err, jobqueue.ErrExecutorNil)

	id := uuid.New()
	m, err := jobqueue.NewManager(jobqueue.NewMemoryStore(), &MockExecutor{}, jobqueue.WithRunnerID(id))
	require.NoError(t, err)
	assert.Equal(t, id, m.RunnerID())
}

func TestManager_Enqueue(t *testing.T) {
	t.Parallel()

	t.Run("assigns increasing ids", func(t *testing.T) {
		t.Parallel()
		m := newTestManager(t, jobqueue.NewMemoryStore(), &MockExecutor{})

		job := mustJob(t, jobqueue.ActionProcedure, "a", "mail")
		stored, err := m.Enqueue(context.Background(), job)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stored.ID)
		assert.Equal(t, int64(1), job.ID, "id is written back to the caller's job")

		assert.Equal(t, int64(2), enqueue(t, m, "b", "mail").ID)
		assert.Equal(t, int64(3), enqueue(t, m, "c", "sms").ID)

		st, err := m.Snapshot(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3}, ids(st.Queued))
		assert.Empty(t, st.Running)
	})

	t.Run("ids continue after the maximum", func(t *testing.T) {
		t.Parallel()
		m := newTestManager(t, jobqueue.NewMemoryStore(), &MockExecutor{})

		explicit := mustJob(t, jobqueue.ActionProcedure, "a", "mail").WithID(10)
		stored, err := m.Enqueue(context.Background(), explicit)
		require.NoError(t, err)
		assert.Equal(t, int64(10), stored.ID)

		assert.Equal(t, int64(11), enqueue(t, m, "b", "mail").ID)
	})

	t.Run("rejects taken explicit id", func(t *testing.T) {
		t.Parallel()
		store := jobqueue.NewMemoryStore()
		m := newTestManager(t, store, &MockExecutor{})
		enqueue(t, m, "a", "mail")
		before := store.Document()

		_, err := m.Enqueue(context.Background(), mustJob(t, jobqueue.ActionProcedure, "b", "sms").WithID(1))
		assert.ErrorIs(t, err, jobqueue.ErrDuplicateID)
		assert.Equal(t, before, store.Document())
	})

	t.Run("invalid job is not written", func(t *testing.T) {
		t.Parallel()
		store := jobqueue.NewMemoryStore()
		m := newTestManager(t, store, &MockExecutor{})

		_, err := m.Enqueue(context.Background(), &jobqueue.Job{
			QueueName: "mail",
			Kind:      jobqueue.ActionProcedure,
			AddedAt:   fixedNow,
		})
		assert.ErrorIs(t, err, jobqueue.ErrInvalidJob)
		assert.Nil(t, store.Document())

		_, err = m.Enqueue(context.Background(), nil)
		assert.ErrorIs(t, err, jobqueue.ErrJobNil)
	})

	t.Run("keeps queued sorted by added time", func(t *testing.T) {
		t.Parallel()
		m := newTestManager(t, jobqueue.NewMemoryStore(), &MockExecutor{})

		late := mustJob(t, jobqueue.ActionProcedure, "late", "mail")
		late.AddedAt = fixedNow.Add(time.Minute)
		early := mustJob(t, jobqueue.ActionProcedure, "early", "mail")
		early.AddedAt = fixedNow

		_, err := m.Enqueue(context.Background(), late)
		require.NoError(t, err)
		_, err = m.Enqueue(context.Background(), early)
		require.NoError(t, err)

		st, err := m.Snapshot(context.Background())
		require.NoError(t, err)
		require.Len(t, st.Queued, 2)
		assert.Equal(t, "early", st.Queued[0].Target)
		assert.Equal(t, "late", st.Queued[1].Target)
	})
}

func TestManager_EnqueueUnique(t *testing.T) {
	t.Parallel()

	exec := &MockExecutor{}
	exec.On("Execute", mock.Anything, jobqueue.ActionProcedure, "a").Return(errors.New("retry later"))
	m := newTestManager(t, jobqueue.NewMemoryStore(), exec)

	_, added, err := m.EnqueueUnique(context.Background(), mustJob(t, jobqueue.ActionProcedure, "a", "mail"))
	require.NoError(t, err)
	assert.True(t, added)

	stored, added, err := m.EnqueueUnique(context.Background(), mustJob(t, jobqueue.ActionProcedure, "a", "other"))
	require.NoError(t, err)
	assert.False(t, added)
	assert.Nil(t, stored)

	// the job fails and stays in running, which still counts as pending
	_, err = m.RunAll(context.Background())
	require.NoError(t, err)

	_, added, err = m.EnqueueUnique(context.Background(), mustJob(t, jobqueue.ActionProcedure, "a", "mail"))
	require.NoError(t, err)
	assert.False(t, added)

	_, added, err = m.EnqueueUnique(context.Background(), mustJob(t, jobqueue.ActionScript, "a", "mail"))
	require.NoError(t, err)
	assert.True(t, added)
}

func TestManager_Lookups(t *testing.T) {
	t.Parallel()

	exec := &MockExecutor{}
	exec.On("Execute", mock.Anything, jobqueue.ActionProcedure, "a").Return(errors.New("down"))
	m := newTestManager(t, jobqueue.NewMemoryStore(), exec)
	ctx := context.Background()

	a := enqueue(t, m, "a", "mail")

	free, err := m.IsQueueFree(ctx, "mail")
	require.NoError(t, err)
	assert.True(t, free)

	queued, err := m.IsQueued(ctx, a)
	require.NoError(t, err)
	assert.True(t, queued)

	running, err := m.IsRunning(ctx, a)
	require.NoError(t, err)
	assert.False(t, running)

	_, err = m.RunAll(ctx)
	require.NoError(t, err)

	free, err = m.IsQueueFree(ctx, "mail")
	require.NoError(t, err)
	assert.False(t, free)

	running, err = m.IsRunning(ctx, mustJob(t, jobqueue.ActionProcedure, "a", "elsewhere"))
	require.NoError(t, err)
	assert.True(t, running, "lookups match on action, not queue")

	queued, err = m.IsQueued(ctx, a)
	require.NoError(t, err)
	assert.False(t, queued)

	_, err = m.IsQueued(ctx, nil)
	assert.ErrorIs(t, err, jobqueue.ErrJobNil)
	_, err = m.IsRunning(ctx, nil)
	assert.ErrorIs(t, err, jobqueue.ErrJobNil)
}

func TestManager_RunAll(t *testing.T) {
	t.Parallel()

	t.Run("same queue runs one job per pass", func(t *testing.T) {
		t.Parallel()
		exec := &MockExecutor{}
		exec.On("Execute", mock.Anything, jobqueue.ActionProcedure, "a").Return(nil).Once()
		m := newTestManager(t, jobqueue.NewMemoryStore(), exec)

		a := enqueue(t, m, "a", "mail")
		b := enqueue(t, m, "b", "mail")

		report, err := m.RunAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []int64{a.ID}, report.Promoted)
		assert.Equal(t, []int64{a.ID}, report.Succeeded)
		assert.Empty(t, report.Failed)

		st, err := m.Snapshot(context.Background())
		require.NoError(t, err)
		assert.Empty(t, st.Running)
		assert.Equal(t, []int64{b.ID}, ids(st.Queued))

		exec.AssertExpectations(t)
		exec.AssertNotCalled(t, "Execute", mock.Anything, jobqueue.ActionProcedure, "b")
	})

	t.Run("different queues run in the same pass", func(t *testing.T) {
		t.Parallel()
		exec := &MockExecutor{}
		exec.On("Execute", mock.Anything, jobqueue.ActionProcedure, mock.Anything).Return(nil)
		m := newTestManager(t, jobqueue.NewMemoryStore(), exec)

		a := enqueue(t, m, "a", "mail")
		b := enqueue(t, m, "b", "sms")

		report, err := m.RunAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []int64{a.ID, b.ID}, report.Succeeded)

		st, err := m.Snapshot(context.Background())
		require.NoError(t, err)
		assert.Empty(t, st.Running)
		assert.Empty(t, st.Queued)
		exec.AssertNumberOfCalls(t, "Execute", 2)
	})

	t.Run("executes in added order", func(t *testing.T) {
		t.Parallel()
		var order []string
		exec := jobqueue.ExecutorFunc(func(_ context.Context, _ jobqueue.ActionKind, target string) error {
			order = append(order, target)
			return nil
		})
		m := newTestManager(t, jobqueue.NewMemoryStore(), exec)

		for i, q := range []string{"c", "a", "b"} {
			job := mustJob(t, jobqueue.ActionProcedure, q, q)
			job.AddedAt = fixedNow.Add(-time.Duration(i) * time.Minute)
			_, err := m.Enqueue(context.Background(), job)
			require.NoError(t, err)
		}

		_, err := m.RunAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a", "c"}, order)
	})

	t.Run("empty store", func(t *testing.T) {
		t.Parallel()
		m := newTestManager(t, jobqueue.NewMemoryStore(), &MockExecutor{})

		report, err := m.RunAll(context.Background())
		require.NoError(t, err)
		assert.Empty(t, report.Promoted)
		assert.Empty(t, report.Succeeded)
	})
}

func TestManager_Run(t *testing.T) {
	t.Parallel()

	t.Run("leaves other queues untouched", func(t *testing.T) {
		t.Parallel()
		exec := &MockExecutor{}
		m := newTestManager(t, jobqueue.NewMemoryStore(), exec)
		mail := enqueue(t, m, "a", "mail")

		report, err := m.Run(context.Background(), "other")
		require.NoError(t, err)
		assert.Empty(t, report.Promoted)

		st, err := m.Snapshot(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []int64{mail.ID}, ids(st.Queued))
		assert.Empty(t, st.Running)
		exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("runs only the named queue", func(t *testing.T) {
		t.Parallel()
		exec := &MockExecutor{}
		exec.On("Execute", mock.Anything, jobqueue.ActionProcedure, "b").Return(nil).Once()
		m := newTestManager(t, jobqueue.NewMemoryStore(), exec)
		a := enqueue(t, m, "a", "mail")
		b := enqueue(t, m, "b", "sms")

		report, err := m.Run(context.Background(), "sms")
		require.NoError(t, err)
		assert.Equal(t, []int64{b.ID}, report.Succeeded)

		st, err := m.Snapshot(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []int64{a.ID}, ids(st.Queued))
		exec.AssertExpectations(t)
	})

	t.Run("ignores running jobs of other queues", func(t *testing.T) {
		t.Parallel()
		exec := &MockExecutor{}
		exec.On("Execute", mock.Anything, jobqueue.ActionProcedure, "a").Return(errors.New("down")).Once()
		m := newTestManager(t, jobqueue.NewMemoryStore(), exec)
		enqueue(t, m, "a", "mail")

		_, err := m.Run(context.Background(), "mail")
		require.NoError(t, err)

		report, err := m.Run(context.Background(), "sms")
		require.NoError(t, err)
		assert.Empty(t, report.Failed)
		exec.AssertExpectations(t)
	})

	t.Run("requires a queue name", func(t *testing.T) {
		t.Parallel()
		m := newTestManager(t, jobqueue.NewMemoryStore(), &MockExecutor{})
		_, err := m.Run(context.Background(), " ")
		assert.ErrorIs(t, err, jobqueue.ErrInvalidJob)
	})
}

func TestManager_Failures(t *testing.T) {
	t.Parallel()

	t.Run("failed job stays running and is retried", func(t *testing.T) {
		t.Parallel()
		exec := &MockExecutor{}
		exec.On("Execute", mock.Anything, jobqueue.ActionProcedure, "a").Return(errors.New("smtp down")).Twice()
		exec.On("Execute", mock.Anything, jobqueue.ActionProcedure, "a").Return(nil).Once()
		exec.On("Execute", mock.Anything, jobqueue.ActionProcedure, "b").Return(nil).Once()
		m := newTestManager(t, jobqueue.NewMemoryStore(), exec)
		ctx := context.Background()

		a := enqueue(t, m, "a", "mail")
		b := enqueue(t, m, "b", "mail")

		report, err := m.RunAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{a.ID}, report.Failed)

		st, err := m.Snapshot(ctx)
		require.NoError(t, err)
		require.Len(t, st.Running, 1)
		assert.Equal(t, 1, st.Running[0].Attempts)
		require.NotNil(t, st.Running[0].StartedAt)
		assert.Equal(t, fixedNow, *st.Running[0].StartedAt)
		assert.Equal(t, []int64{b.ID}, ids(st.Queued), "queue stays blocked by the failed job")

		report, err = m.RunAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, report.Promoted)
		assert.Equal(t, []int64{a.ID}, report.Failed)

		st, err = m.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, st.Running[0].Attempts)

		report, err = m.RunAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{a.ID}, report.Succeeded)

		report, err = m.RunAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{b.ID}, report.Succeeded)

		exec.AssertExpectations(t)
	})

	t.Run("panicking job is isolated", func(t *testing.T) {
		t.Parallel()
		exec := jobqueue.ExecutorFunc(func(_ context.Context, _ jobqueue.ActionKind, target string) error {
			if target == "a" {
				panic("nil map")
			}
			return nil
		})
		m := newTestManager(t, jobqueue.NewMemoryStore(), exec)
		a := enqueue(t, m, "a", "mail")
		b := enqueue(t, m, "b", "sms")

		report, err := m.RunAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []int64{a.ID}, report.Failed)
		assert.Equal(t, []int64{b.ID}, report.Succeeded)
	})

	t.Run("store error aborts the pass", func(t *testing.T) {
		t.Parallel()
		store := &MockStore{}
		store.On("Update", mock.Anything, mock.Anything).Return(errors.New("disk full"))
		m := newTestManager(t, store, &MockExecutor{})

		_, err := m.RunAll(context.Background())
		assert.ErrorContains(t, err, "disk full")

		_, err = m.Enqueue(context.Background(), mustJob(t, jobqueue.ActionProcedure, "a", "mail"))
		assert.ErrorContains(t, err, "disk full")
	})

	t.Run("corrupt store", func(t *testing.T) {
		t.Parallel()
		m := newTestManager(t, jobqueue.NewMemoryStoreFromJSON([]byte(`{"queued": []}`)), &MockExecutor{})

		_, err := m.RunAll(context.Background())
		assert.ErrorIs(t, err, jobqueue.ErrStoreCorrupt)

		_, err = m.IsQueueFree(context.Background(), "mail")
		assert.ErrorIs(t, err, jobqueue.ErrStoreCorrupt)

		_, err = m.Snapshot(context.Background())
		assert.ErrorIs(t, err, jobqueue.ErrStoreCorrupt)
	})
}

func TestManager_Cancellation(t *testing.T) {
	t.Parallel()

	t.Run("cancelled before the pass", func(t *testing.T) {
		t.Parallel()
		m := newTestManager(t, jobqueue.NewMemoryStore(), &MockExecutor{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := m.RunAll(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("stops between jobs and persists the finished one", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		exec := &MockExecutor{}
		exec.On("Execute", mock.Anything, jobqueue.ActionProcedure, "a").Run(func(mock.Arguments) { cancel() }).Return(nil).Once()
		m := newTestManager(t, jobqueue.NewMemoryStore(), exec)
		a := enqueue(t, m, "a", "mail")
		b := enqueue(t, m, "b", "sms")

		report, err := m.RunAll(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, []int64{a.ID}, report.Succeeded)

		st, err := m.Snapshot(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []int64{b.ID}, ids(st.Running))
		assert.Zero(t, st.Running[0].Attempts)
		exec.AssertExpectations(t)
	})
}

// vanishingStore removes a running job right before the manager marks it started.
type vanishingStore struct {
	*jobqueue.MemoryStore
	updates atomic.Int32
	victim  int64
}

func (s *vanishingStore) Update(ctx context.Context, fn func(st *jobqueue.State) error) error {
	if s.updates.Add(1) == 2 {
		if err := s.MemoryStore.Update(ctx, func(st *jobqueue.State) error {
			st.RemoveRunning(s.victim)
			return nil
		}); err != nil {
			return err
		}
	}
	return s.MemoryStore.Update(ctx, fn)
}

func TestManager_SkipsVanishedJob(t *testing.T) {
	t.Parallel()

	store := &vanishingStore{MemoryStore: jobqueue.NewMemoryStore(), victim: 1}
	exec := &MockExecutor{}
	m := newTestManager(t, jobqueue.NewMemoryStore(), exec)
	// seed through a plain manager so the enqueue does not count as an update
	seed := enqueue(t, m, "a", "mail")
	st, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	require.NoError(t, store.Write(context.Background(), st))

	m = newTestManager(t, store, exec)
	report, err := m.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{seed.ID}, report.Promoted)
	assert.Equal(t, []int64{seed.ID}, report.Skipped)
	exec.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestManager_MutualExclusion(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	exec := jobqueue.ExecutorFunc(func(context.Context, jobqueue.ActionKind, string) error {
		if calls.Add(1)%3 == 0 {
			return errors.New("flaky")
		}
		return nil
	})
	m := newTestManager(t, jobqueue.NewMemoryStore(), exec)

	queues := []string{"mail", "sms", "push"}
	var last int64
	for i := range 12 {
		job := enqueue(t, m, fmt.Sprintf("job-%d", i), queues[i%len(queues)])
		assert.Greater(t, job.ID, last)
		last = job.ID
		assertOneRunningPerQueue(t, m)
	}

	for range 20 {
		_, err := m.RunAll(context.Background())
		require.NoError(t, err)
		assertOneRunningPerQueue(t, m)
	}

	st, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, st.Queued)
	assert.Empty(t, st.Running)
}

// blockingExecutor holds every execution until release is closed and records
// how many ran at the same time.
type blockingExecutor struct {
	started   chan struct{}
	release   chan struct{}
	calls     atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (e *blockingExecutor) Execute(context.Context, jobqueue.ActionKind, string) error {
	e.calls.Add(1)
	n := e.active.Add(1)
	defer e.active.Add(-1)
	for {
		cur := e.maxActive.Load()
		if n <= cur || e.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	e.started <- struct{}{}
	<-e.release
	return nil
}

func (e *blockingExecutor) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-e.started:
	case <-time.After(5 * time.Second):
		t.Fatal("job was not executed")
	}
}

func TestManager_PassesDoNotOverlap(t *testing.T) {
	t.Parallel()

	t.Run("concurrent passes execute a job once", func(t *testing.T) {
		t.Parallel()
		exec := newBlockingExecutor()
		m := newTestManager(t, jobqueue.NewMemoryStore(), exec)
		enqueue(t, m, "send", "mail")

		type result struct {
			report jobqueue.RunReport
			err    error
		}
		results := make(chan result, 2)
		pass := func() {
			report, err := m.RunAll(context.Background())
			results <- result{report, err}
		}

		go pass()
		exec.waitStarted(t)
		go pass()
		time.Sleep(50 * time.Millisecond)
		close(exec.release)

		var succeeded []int64
		for range 2 {
			select {
			case r := <-results:
				require.NoError(t, r.err)
				succeeded = append(succeeded, r.report.Succeeded...)
			case <-time.After(5 * time.Second):
				t.Fatal("pass did not finish")
			}
		}

		assert.Equal(t, int32(1), exec.calls.Load())
		assert.Equal(t, int32(1), exec.maxActive.Load())
		assert.Equal(t, []int64{1}, succeeded)

		st, err := m.Snapshot(context.Background())
		require.NoError(t, err)
		assert.Empty(t, st.Running)
		assert.Empty(t, st.Queued)
	})

	t.Run("waiting pass honours its context", func(t *testing.T) {
		t.Parallel()
		exec := newBlockingExecutor()
		m := newTestManager(t, jobqueue.NewMemoryStore(), exec)
		enqueue(t, m, "send", "mail")

		first := make(chan error, 1)
		go func() {
			_, err := m.RunAll(context.Background())
			first <- err
		}()
		exec.waitStarted(t)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		report, err := m.Run(ctx, "mail")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Empty(t, report.Succeeded)

		close(exec.release)
		require.NoError(t, <-first)
		assert.Equal(t, int32(1), exec.calls.Load())
	})
}
