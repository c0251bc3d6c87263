package jobqueue_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/jobqueue/pkg/jobqueue"
)

// MockExecutor is a mock implementation of jobqueue.Executor.
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, kind jobqueue.ActionKind, target string) error {
	args := m.Called(ctx, kind, target)
	return args.Error(0)
}

// MockStore is a mock implementation of jobqueue.Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Read(ctx context.Context) (*jobqueue.State, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jobqueue.State), args.Error(1)
}

func (m *MockStore) Write(ctx context.Context, st *jobqueue.State) error {
	args := m.Called(ctx, st)
	return args.Error(0)
}

func (m *MockStore) Update(ctx context.Context, fn func(st *jobqueue.State) error) error {
	args := m.Called(ctx, fn)
	return args.Error(0)
}

// MockScriptRunner is a mock implementation of jobqueue.ScriptRunner.
type MockScriptRunner struct {
	mock.Mock
}

func (m *MockScriptRunner) RunScript(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}
