package infra

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/simrun/simrun/internal/domain"
)

// Already-booted detection. simctl reports a non-zero exit when the
// device is already up; the only signal is these two substrings in its
// output. Toolchain-version fragile, kept as-is and pinned by tests.
const (
	alreadyBootedMarker = "unable to boot device in current state"
	bootedMarker        = "booted"
)

// BootControllerImpl implements domain.BootController over xcrun simctl.
type BootControllerImpl struct {
	runner    domain.CommandRunner
	inventory domain.DeviceInventory
	tracker   domain.TaskTracker
	xcrunPath string
	logger    *zap.Logger
}

// NewBootController creates a boot controller.
func NewBootController(
	runner domain.CommandRunner,
	inventory domain.DeviceInventory,
	tracker domain.TaskTracker,
	xcrunPath string,
	logger *zap.Logger,
) *BootControllerImpl {
	return &BootControllerImpl{
		runner:    runner,
		inventory: inventory,
		tracker:   tracker,
		xcrunPath: xcrunPath,
		logger:    logger,
	}
}

// Boot requests the device boot. Already-booted is not an error.
func (b *BootControllerImpl) Boot(ctx context.Context, udid, taskID string) domain.BootResult {
	res := b.runner.Run(ctx, domain.CommandSpec{
		Name:   b.xcrunPath,
		Args:   []string{"simctl", "boot", udid},
		TaskID: taskID,
	})
	if res.OK {
		return domain.BootResult{OK: true}
	}
	if res.Cancelled {
		return domain.BootResult{Cancelled: true, Error: res.Err}
	}

	out := strings.ToLower(res.Output())
	if strings.Contains(out, alreadyBootedMarker) && strings.Contains(out, bootedMarker) {
		b.logger.Debug("device already booted", zap.String("udid", udid))
		return domain.BootResult{OK: true}
	}
	return domain.BootResult{Error: firstNonEmpty(res.Err, res.Stderr, res.Stdout)}
}

// WaitUntilBooted polls live device state until Booted, timeout, or an
// observed cancellation. Boot status is never cached.
func (b *BootControllerImpl) WaitUntilBooted(ctx context.Context, udid, taskID string, timeout, poll time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		state, err := b.inventory.DeviceState(ctx, udid)
		if err == nil && state == domain.StateBooted {
			return true
		}
		if time.Now().After(deadline) {
			b.logger.Warn("device did not reach Booted state",
				zap.String("udid", udid),
				zap.Duration("timeout", timeout))
			return false
		}
		if b.tracker.CancelRequested(taskID) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(poll):
		}
	}
}

// Ensure BootControllerImpl implements domain.BootController.
var _ domain.BootController = (*BootControllerImpl)(nil)
