package usecase

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func makeRun(t *testing.T, root, name string, age time.Duration) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	mod := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(dir, mod, mod))
	return dir
}

func TestKeepMovesRunIntoFailures(t *testing.T) {
	root := t.TempDir()
	q := NewQuarantine(root, 3, zap.NewNop())

	runDir := makeRun(t, root, "runs/123-abc", 0)
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "build.log"), []byte("log"), 0o644))

	kept := q.Keep(runDir)
	assert.Equal(t, filepath.Join(root, "failures", "123-abc"), kept)
	assert.FileExists(t, filepath.Join(kept, "build.log"))
	assert.NoDirExists(t, runDir)
}

func TestKeepReportsOriginalPathOnMoveFailure(t *testing.T) {
	root := t.TempDir()
	q := NewQuarantine(root, 3, zap.NewNop())

	missing := filepath.Join(root, "runs", "never-created")
	assert.Equal(t, missing, q.Keep(missing))
}

func TestPruneKeepsNewestN(t *testing.T) {
	root := t.TempDir()
	q := NewQuarantine(root, 3, zap.NewNop())

	for i := 0; i < 5; i++ {
		makeRun(t, root, fmt.Sprintf("failures/run-%d", i), time.Duration(5-i)*time.Hour)
	}

	require.NoError(t, q.Prune())

	entries, err := os.ReadDir(filepath.Join(root, "failures"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	// run-4 is the most recent, run-0 the oldest
	assert.ElementsMatch(t, []string{"run-2", "run-3", "run-4"}, names)
}

func TestPruneFewerThanRetention(t *testing.T) {
	root := t.TempDir()
	q := NewQuarantine(root, 3, zap.NewNop())

	makeRun(t, root, "failures/only", time.Hour)
	require.NoError(t, q.Prune())

	entries, err := os.ReadDir(filepath.Join(root, "failures"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPruneMissingFailuresDir(t *testing.T) {
	q := NewQuarantine(t.TempDir(), 3, zap.NewNop())
	assert.NoError(t, q.Prune())
}
