// Package infra implements infrastructure concerns (process execution,
// device inventory, container/scheme discovery, caches).
package infra

import (
	"sync"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/simrun/simrun/internal/domain"
)

// activeCommand is one in-flight trackable external process.
type activeCommand struct {
	pid       int
	cancelled bool
}

// TaskTrackerImpl implements domain.TaskTracker. It is process-wide
// mutable state made explicit: one instance is created in main and
// injected into every component that spawns tracked commands.
// Commands are keyed by pid: the pipeline runs boot and build
// concurrently under one task id, and either finishing must not drop
// the other's kill handle.
type TaskTrackerImpl struct {
	mu              sync.Mutex
	taskID          string
	cancelRequested bool
	cmds            map[int]*activeCommand
	logger          *zap.Logger
}

// NewTaskTracker creates a new task tracker.
func NewTaskTracker(logger *zap.Logger) domain.TaskTracker {
	return &TaskTrackerImpl{logger: logger}
}

// StartTask resets the cancel flag and makes a fresh id the sole active task.
// Starting a new task implicitly ends tracking of the previous one.
func (t *TaskTrackerImpl) StartTask() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.taskID = uuid.NewString()
	t.cancelRequested = false
	t.cmds = make(map[int]*activeCommand)
	return t.taskID
}

// FinishTask clears the active task if taskID still owns it.
func (t *TaskTrackerImpl) FinishTask(taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if taskID == "" || taskID != t.taskID {
		return // stale completion, a newer task owns the slot
	}
	t.taskID = ""
	t.cancelRequested = false
	t.cmds = nil
}

// Cancel sets the cancel flag and kills every tracked command.
// Returns true if a command or a task id was active.
func (t *TaskTrackerImpl) Cancel() bool {
	t.mu.Lock()
	hadTask := t.taskID != ""
	t.cancelRequested = true
	pids := make([]int, 0, len(t.cmds))
	for pid, cmd := range t.cmds {
		cmd.cancelled = true
		pids = append(pids, pid)
	}
	t.mu.Unlock()

	for _, pid := range pids {
		t.logger.Info("cancelling tracked command", zap.Int("pid", pid))
		killTree(pid)
	}
	return hadTask || len(pids) > 0
}

// CancelRequested reports whether taskID is active and cancelled.
func (t *TaskTrackerImpl) CancelRequested(taskID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return taskID != "" && taskID == t.taskID && t.cancelRequested
}

// Track registers pid as a tracked command of taskID.
func (t *TaskTrackerImpl) Track(taskID string, pid int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if taskID == "" || taskID != t.taskID {
		return false
	}
	if t.cmds == nil {
		t.cmds = make(map[int]*activeCommand)
	}
	t.cmds[pid] = &activeCommand{pid: pid}
	return true
}

// Untrack deregisters the pid's registration if taskID owns it and
// reports whether it had been marked cancelled. Only the caller's own
// registration is dropped; a sibling command tracked under the same
// task keeps its kill handle. A command that concluded while a cancel
// was requested counts as cancelled even if it exited cleanly.
func (t *TaskTrackerImpl) Untrack(taskID string, pid int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if taskID == "" || taskID != t.taskID {
		return false
	}
	cancelled := t.cancelRequested
	if cmd, ok := t.cmds[pid]; ok {
		cancelled = cancelled || cmd.cancelled
		delete(t.cmds, pid)
	}
	return cancelled
}

// killTree terminates pid and its descendants. xcodebuild forks compiler
// children; killing only the parent leaves them burning CPU.
func killTree(pid int) {
	if pid <= 0 {
		return
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return // already gone
	}
	if children, err := p.Children(); err == nil {
		for _, c := range children {
			_ = c.Kill() // best effort, child may have exited
		}
	}
	_ = p.Kill()
}

// Ensure TaskTrackerImpl implements domain.TaskTracker.
var _ domain.TaskTracker = (*TaskTrackerImpl)(nil)
