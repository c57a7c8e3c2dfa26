package infra

import (
	"context"
	"sync"

	"github.com/simrun/simrun/internal/domain"
)

// scriptedRunner implements domain.CommandRunner for testing. Each call
// is answered by the script function; invocations are recorded.
type scriptedRunner struct {
	mu     sync.Mutex
	script func(spec domain.CommandSpec) domain.CommandResult
	calls  []domain.CommandSpec
}

func (r *scriptedRunner) Run(_ context.Context, spec domain.CommandSpec) domain.CommandResult {
	r.mu.Lock()
	r.calls = append(r.calls, spec)
	r.mu.Unlock()
	return r.script(spec)
}

func (r *scriptedRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func okResult(stdout string) domain.CommandResult {
	zero := 0
	return domain.CommandResult{OK: true, Stdout: stdout, ExitCode: &zero}
}

func failResult(stderr string) domain.CommandResult {
	one := 1
	return domain.CommandResult{Stderr: stderr, ExitCode: &one, Err: "exit status 1"}
}

// mockInventory implements domain.DeviceInventory with canned states.
type mockInventory struct {
	states []domain.DeviceState
	idx    int
	list   domain.DeviceListResult
}

func (m *mockInventory) ListDevices(context.Context) domain.DeviceListResult { return m.list }
func (m *mockInventory) ListBooted(context.Context) domain.DeviceListResult  { return m.list }

func (m *mockInventory) DeviceState(context.Context, string) (domain.DeviceState, error) {
	if m.idx >= len(m.states) {
		return domain.StateShutdown, nil
	}
	s := m.states[m.idx]
	m.idx++
	return s, nil
}
