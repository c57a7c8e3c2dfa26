package infra

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/simrun/simrun/internal/domain"
)

// maxStreamBytes caps each captured stream. Once reached the buffer is
// frozen and further output for that stream is dropped.
const maxStreamBytes = 1 << 20

// cappedBuffer collects writes up to a fixed ceiling, then drops.
type cappedBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	if room := b.max - len(b.buf); room > 0 {
		if len(p) > room {
			p = p[:room]
		}
		b.buf = append(b.buf, p...)
	}
	// report full consumption so the pipe never stalls
	return n, nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// RunnerImpl implements domain.CommandRunner on os/exec.
type RunnerImpl struct {
	tracker domain.TaskTracker
	logger  *zap.Logger
}

// NewRunner creates a command runner bound to the shared task tracker.
func NewRunner(tracker domain.TaskTracker, logger *zap.Logger) domain.CommandRunner {
	return &RunnerImpl{tracker: tracker, logger: logger}
}

// Run executes spec and blocks until exit, timeout, or cancellation.
func (r *RunnerImpl) Run(ctx context.Context, spec domain.CommandSpec) domain.CommandResult {
	tracked := spec.TaskID != ""

	// Cancel requested before spawn: resolve immediately, no process.
	if tracked && r.tracker.CancelRequested(spec.TaskID) {
		return domain.CommandResult{Cancelled: true, Err: "Cancelled"}
	}

	stdout := newCappedBuffer(maxStreamBytes)
	stderr := newCappedBuffer(maxStreamBytes)

	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		// binary missing, permission denied, bad dir
		return domain.CommandResult{Err: err.Error()}
	}

	if tracked {
		r.tracker.Track(spec.TaskID, cmd.Process.Pid)
	}

	var timedOut atomic.Bool
	var timer *time.Timer
	if spec.Timeout > 0 {
		timer = time.AfterFunc(spec.Timeout, func() {
			timedOut.Store(true)
			killTree(cmd.Process.Pid)
		})
	}

	waitErr := cmd.Wait()
	if timer != nil {
		timer.Stop()
	}

	cancelled := false
	if tracked {
		cancelled = r.tracker.Untrack(spec.TaskID, cmd.Process.Pid)
	}

	code := cmd.ProcessState.ExitCode()
	var exitCode *int
	if code >= 0 {
		exitCode = &code
	}

	result := domain.CommandResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  exitCode,
		Cancelled: cancelled || timedOut.Load(),
	}
	switch {
	case timedOut.Load():
		result.Err = "Command timeout"
	case cancelled:
		result.Err = "Cancelled"
	case waitErr != nil:
		result.Err = waitErr.Error()
	}
	result.OK = !timedOut.Load() && !cancelled && code == 0

	r.logger.Debug("command finished",
		zap.String("command", spec.Name),
		zap.Strings("args", spec.Args),
		zap.Bool("ok", result.OK),
		zap.Bool("cancelled", result.Cancelled),
		zap.Duration("elapsed", time.Since(start)))

	return result
}

// errCancelled distinguishes user cancellation from tool failure.
var errCancelled = errors.New("cancelled")

// firstNonEmpty returns the first non-empty string, for diagnostics that
// may live in either an error field or a captured stream.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Ensure RunnerImpl implements domain.CommandRunner.
var _ domain.CommandRunner = (*RunnerImpl)(nil)
