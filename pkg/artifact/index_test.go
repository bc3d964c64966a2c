package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := OpenIndex(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestIndexRecordAndCount(t *testing.T) {
	ix := openTestIndex(t)

	now := time.Now()
	require.NoError(t, ix.Record("id-1", "seg", "seg_1.npz", now))
	require.NoError(t, ix.Record("id-2", "prob", "prob_2.npz", now))

	n, err := ix.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Names are unique.
	assert.Error(t, ix.Record("id-3", "seg", "seg_1.npz", now))
}

func TestSweepRemovesExpiredOnly(t *testing.T) {
	ix := openTestIndex(t)
	dir := t.TempDir()

	now := time.Now()
	old := now.Add(-48 * time.Hour)

	for _, name := range []string{"seg_old.npz", "seg_new.npz"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, ix.Record("a", "seg", "seg_old.npz", old))
	require.NoError(t, ix.Record("b", "seg", "seg_new.npz", now))

	removed, err := ix.Sweep(dir, 24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(filepath.Join(dir, "seg_old.npz"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "seg_new.npz"))
	assert.NoError(t, err)

	n, err := ix.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSweepToleratesMissingFiles(t *testing.T) {
	ix := openTestIndex(t)
	dir := t.TempDir()

	require.NoError(t, ix.Record("gone", "seg", "seg_gone.npz", time.Now().Add(-2*time.Hour)))

	removed, err := ix.Sweep(dir, time.Hour, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	n, err := ix.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweepRequiresPositiveTTL(t *testing.T) {
	ix := openTestIndex(t)
	_, err := ix.Sweep(t.TempDir(), 0, time.Now())
	assert.Error(t, err)
}
