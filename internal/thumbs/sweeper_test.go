package thumbs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadCleaner_SweepRemovesOnlyStaleFiles(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, "stale.png")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	fresh := filepath.Join(dir, "fresh.png")
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))

	c := NewUploadCleaner(dir, time.Hour, testLogger())

	removed, err := c.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestUploadCleaner_MissingDirIsNotAnError(t *testing.T) {
	c := NewUploadCleaner(filepath.Join(t.TempDir(), "nope"), time.Hour, testLogger())

	removed, err := c.Sweep()
	require.NoError(t, err)
	assert.Zero(t, removed)
}
