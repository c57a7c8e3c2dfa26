// Package usecase contains application business logic.
package usecase

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Quarantine retains artifacts from failed runs for post-mortem
// inspection, as a fixed-size ring under <tempRoot>/failures.
type Quarantine struct {
	failuresDir string
	retention   int
	logger      *zap.Logger
}

// NewQuarantine creates a quarantine rooted at tempRoot, keeping the
// retention most recent failed runs.
func NewQuarantine(tempRoot string, retention int, logger *zap.Logger) *Quarantine {
	return &Quarantine{
		failuresDir: filepath.Join(tempRoot, "failures"),
		retention:   retention,
		logger:      logger,
	}
}

// Keep moves runDir into the failures ring and prunes old entries.
// Returns the quarantined path, or the original path if the move failed.
func (q *Quarantine) Keep(runDir string) string {
	dest := filepath.Join(q.failuresDir, filepath.Base(runDir))
	if err := os.MkdirAll(q.failuresDir, 0o755); err != nil {
		q.logger.Warn("cannot create failures dir", zap.Error(err))
		return runDir
	}
	if err := os.Rename(runDir, dest); err != nil {
		// keep the original path rather than losing the artifacts
		q.logger.Warn("cannot quarantine run dir",
			zap.String("run", runDir), zap.Error(err))
		return runDir
	}
	q.logger.Info("run quarantined", zap.String("path", dest))

	if err := q.Prune(); err != nil {
		// pruning is housekeeping, never fail the caller over it
		q.logger.Warn("failure pruning incomplete", zap.Error(err))
	}
	return dest
}

// Prune deletes all but the retention most recently modified entries.
func (q *Quarantine) Prune() error {
	entries, err := os.ReadDir(q.failuresDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("list failures: %w", err)
	}

	type aged struct {
		path string
		mod  time.Time
	}
	runs := make([]aged, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue // entry vanished mid-listing
		}
		runs = append(runs, aged{
			path: filepath.Join(q.failuresDir, e.Name()),
			mod:  info.ModTime(),
		})
	}

	sort.Slice(runs, func(a, b int) bool { return runs[a].mod.After(runs[b].mod) })

	var firstErr error
	for _, r := range runs[min(q.retention, len(runs)):] {
		if err := os.RemoveAll(r.path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
