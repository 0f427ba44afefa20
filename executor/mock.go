package executor

import (
	"context"
	"sync"
)

// Call records a single invocation made through MockExecutor.
type Call struct {
	Program string
	Args    []string
	Input   string
	Options Options
}

// MockExecutor implements Executor for tests. It records every call and
// delegates to ExecuteFunc when set.
type MockExecutor struct {
	ExecuteFunc func(ctx context.Context, call Call) (*Result, error)

	mu    sync.Mutex
	calls []Call
}

var _ Executor = (*MockExecutor)(nil)

// Execute implements Executor.
func (m *MockExecutor) Execute(ctx context.Context, program string, args []string, opts ...Option) (*Result, error) {
	return m.ExecuteWithInput(ctx, "", program, args, opts...)
}

// ExecuteWithInput implements Executor.
func (m *MockExecutor) ExecuteWithInput(
	ctx context.Context,
	input, program string,
	args []string,
	opts ...Option,
) (*Result, error) {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	call := Call{Program: program, Args: args, Input: input, Options: *options}

	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()

	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, call)
	}
	return &Result{}, nil
}

// Calls returns a copy of the recorded calls.
func (m *MockExecutor) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}
