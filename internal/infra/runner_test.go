package infra

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/simrun/simrun/internal/domain"
)

func newTestRunner(t *testing.T) (domain.CommandRunner, domain.TaskTracker) {
	t.Helper()
	tracker := NewTaskTracker(zap.NewNop())
	return NewRunner(tracker, zap.NewNop()), tracker
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	runner, _ := newTestRunner(t)

	res := runner.Run(context.Background(), domain.CommandSpec{
		Name: "sh", Args: []string{"-c", "echo out; echo err 1>&2"},
	})

	assert.True(t, res.OK)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 0, *res.ExitCode)
}

func TestRunNonZeroExitIsFailure(t *testing.T) {
	runner, _ := newTestRunner(t)

	res := runner.Run(context.Background(), domain.CommandSpec{
		Name: "sh", Args: []string{"-c", "exit 3"},
	})

	assert.False(t, res.OK)
	assert.False(t, res.Cancelled)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 3, *res.ExitCode)
	assert.NotEmpty(t, res.Err)
}

func TestRunSpawnErrorHasNilExitCode(t *testing.T) {
	runner, _ := newTestRunner(t)

	res := runner.Run(context.Background(), domain.CommandSpec{
		Name: "/nonexistent/definitely-not-a-binary",
	})

	assert.False(t, res.OK)
	assert.Nil(t, res.ExitCode)
	assert.NotEmpty(t, res.Err)
}

func TestRunTimeoutKillsAndMarksCancelled(t *testing.T) {
	runner, _ := newTestRunner(t)

	start := time.Now()
	res := runner.Run(context.Background(), domain.CommandSpec{
		Name:    "sh",
		Args:    []string{"-c", "sleep 10"},
		Timeout: 100 * time.Millisecond,
	})

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, res.OK)
	assert.True(t, res.Cancelled)
	assert.Equal(t, "Command timeout", res.Err)
}

func TestRunCancelledBeforeSpawnDoesNotInvokeProcess(t *testing.T) {
	runner, tracker := newTestRunner(t)
	id := tracker.StartTask()
	tracker.Cancel()

	marker := filepath.Join(t.TempDir(), "spawned")
	res := runner.Run(context.Background(), domain.CommandSpec{
		Name:   "sh",
		Args:   []string{"-c", "touch " + marker},
		TaskID: id,
	})

	assert.False(t, res.OK)
	assert.True(t, res.Cancelled)
	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err), "the external process must not have run")
}

func TestRunUntrackedTaskIDIgnoresCancelState(t *testing.T) {
	runner, tracker := newTestRunner(t)
	tracker.StartTask()
	tracker.Cancel()

	// a different task id is not subject to the active task's cancel
	res := runner.Run(context.Background(), domain.CommandSpec{
		Name: "sh", Args: []string{"-c", "true"}, TaskID: "some-other-task",
	})
	assert.False(t, res.Cancelled)
}

func TestRunRetroactivelyCancelled(t *testing.T) {
	tracker := NewTaskTracker(zap.NewNop())
	runner := NewRunner(tracker, zap.NewNop())
	id := tracker.StartTask()

	done := make(chan domain.CommandResult, 1)
	go func() {
		done <- runner.Run(context.Background(), domain.CommandSpec{
			Name:   "sh",
			Args:   []string{"-c", "sleep 0.3"},
			TaskID: id,
		})
	}()

	time.Sleep(100 * time.Millisecond)
	tracker.Cancel()

	res := <-done
	assert.True(t, res.Cancelled, "run concluded while cancel was set")
	assert.False(t, res.OK)
}

func TestCancelKillsLongCommandAfterSiblingFinishes(t *testing.T) {
	tracker := NewTaskTracker(zap.NewNop())
	runner := NewRunner(tracker, zap.NewNop())
	id := tracker.StartTask()

	done := make(chan domain.CommandResult, 1)
	go func() {
		done <- runner.Run(context.Background(), domain.CommandSpec{
			Name:   "sh",
			Args:   []string{"-c", "sleep 5"},
			TaskID: id,
		})
	}()

	// let the long command spawn and register
	time.Sleep(100 * time.Millisecond)

	// a quick command under the same task id comes and goes, the way a
	// boot call concludes while the build is still compiling
	quick := runner.Run(context.Background(), domain.CommandSpec{
		Name: "sh", Args: []string{"-c", "true"}, TaskID: id,
	})
	require.True(t, quick.OK)

	start := time.Now()
	assert.True(t, tracker.Cancel())

	res := <-done
	assert.True(t, res.Cancelled)
	assert.Less(t, time.Since(start), 3*time.Second,
		"cancel kills the long command instead of waiting it out")
}

func TestCappedBufferFreezesAtCeiling(t *testing.T) {
	buf := newCappedBuffer(8)

	n, err := buf.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 10, n, "writer reports full consumption to keep the pipe drained")
	assert.Equal(t, "01234567", buf.String())

	_, err = buf.Write([]byte("more"))
	require.NoError(t, err)
	assert.Equal(t, "01234567", buf.String(), "buffer is frozen, not rotated")
}

func TestRunLargeOutputIsCapped(t *testing.T) {
	runner, _ := newTestRunner(t)

	// ~2 MiB of output against the 1 MiB ceiling
	res := runner.Run(context.Background(), domain.CommandSpec{
		Name: "sh",
		Args: []string{"-c", "yes x | head -c 2097152"},
	})

	assert.True(t, res.OK)
	assert.Len(t, res.Stdout, maxStreamBytes)
	assert.True(t, strings.HasPrefix(res.Stdout, "x\n"))
}
