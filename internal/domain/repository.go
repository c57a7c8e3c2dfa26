package domain

import (
	"context"
	"time"
)

// CommandRunner spawns external toolchain commands with bounded output
// capture, timeout enforcement and cooperative cancellation.
// Implementation: os/exec with a capped incremental buffer per stream.
type CommandRunner interface {
	// Run executes the command and blocks until it exits, times out,
	// or is cancelled. Never returns an error; failures are encoded in
	// the result.
	Run(ctx context.Context, spec CommandSpec) CommandResult
}

// TaskTracker holds the single trackable task and its in-flight commands.
// At most one orchestrated task is cancellable at a time, system-wide.
type TaskTracker interface {
	// StartTask resets the cancel flag and mints a new task id, which
	// becomes the sole active task.
	StartTask() string

	// FinishTask clears the active task. No-op unless taskID is still
	// the active one (guards against stale completions).
	FinishTask(taskID string)

	// Cancel sets the cancel flag and kills the tracked command if one
	// is in flight. Returns true if a command or task was active.
	Cancel() bool

	// CancelRequested reports whether taskID is the active task and a
	// cancel has been requested for it.
	CancelRequested(taskID string) bool

	// Track registers pid as a tracked command of taskID. Several
	// commands may be tracked at once under the one active task.
	// Returns false if taskID is not the active task.
	Track(taskID string, pid int) bool

	// Untrack drops the pid's registration if it belongs to taskID,
	// leaving any sibling registration intact. Returns whether the
	// command had been marked cancelled.
	Untrack(taskID string, pid int) bool
}

// DeviceInventory queries and parses the simulator device catalog.
type DeviceInventory interface {
	// ListDevices returns all relevant available devices sorted by
	// preference score, best first. Results (including failures) are
	// cached for a short TTL.
	ListDevices(ctx context.Context) DeviceListResult

	// ListBooted filters ListDevices to devices in the Booted state.
	ListBooted(ctx context.Context) DeviceListResult

	// DeviceState reads one device's live state, bypassing the cache.
	// Boot status must reflect reality.
	DeviceState(ctx context.Context, udid string) (DeviceState, error)
}

// ContainerFinder locates the buildable container for a project root.
type ContainerFinder interface {
	// Find returns the best container under rootPath, or nil if none.
	// Results (including nil) are cached per root with a long TTL.
	Find(rootPath string) *Container
}

// SchemeResolver enumerates build schemes and picks a default.
type SchemeResolver interface {
	// ListSchemes resolves the container for rootPath and returns its
	// schemes plus a default pick when the heuristic is unambiguous.
	ListSchemes(ctx context.Context, rootPath string) SchemeListResult
}

// BootController drives simulator boot state transitions.
type BootController interface {
	// Boot requests the device boot. Already-booted is not an error.
	Boot(ctx context.Context, udid, taskID string) BootResult

	// WaitUntilBooted polls live device state until it reaches Booted,
	// the timeout elapses, or a cancellation of taskID is observed
	// between polls.
	WaitUntilBooted(ctx context.Context, udid, taskID string, timeout, poll time.Duration) bool
}
