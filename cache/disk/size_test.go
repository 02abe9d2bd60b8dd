package disk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageIsNonRecursive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	now := time.Now()
	sparseFile(t, dir, "a", 10, now)
	sparseFile(t, dir, "b", 20, now)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o700))
	sparseFile(t, filepath.Join(dir, "nested"), "c", 1000, now)

	entries, total, err := c.Usage()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, int64(30), total)

	size, err := c.SizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(30), size)
}

func TestEvictNoopUnderCeiling(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	sparseFile(t, dir, "a", 100, time.Now())

	res, err := c.Evict(100)
	require.NoError(t, err)
	assert.False(t, res.Evicted())
	assert.Equal(t, int64(100), res.After)
	_, err = os.Stat(filepath.Join(dir, "a"))
	require.NoError(t, err)
}

func TestEvictOldestFirst(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour)
	oldest := sparseFile(t, dir, "oldest", 600*mib, base)
	middle := sparseFile(t, dir, "middle", 600*mib, base.Add(time.Minute))
	newest := sparseFile(t, dir, "newest", 600*mib, base.Add(2*time.Minute))

	res, err := c.Evict(1024 * mib)
	require.NoError(t, err)

	assert.Equal(t, []string{oldest, middle}, res.Deleted)
	assert.Equal(t, 1800*mib, res.Before)
	assert.Equal(t, 600*mib, res.After)
	assert.Equal(t, 1200*mib, res.Freed)

	_, err = os.Stat(newest)
	require.NoError(t, err)
	_, err = os.Stat(oldest)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestEvictTieBreaksByPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	at := time.Now().Add(-time.Hour)
	b := sparseFile(t, dir, "b", 10, at)
	a := sparseFile(t, dir, "a", 10, at)

	res, err := c.Evict(10)
	require.NoError(t, err)
	assert.Equal(t, []string{a}, res.Deleted)
	_, err = os.Stat(b)
	require.NoError(t, err)
}

func TestEvictToZero(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	sparseFile(t, dir, "a", 10, time.Now())
	sparseFile(t, dir, "b", 10, time.Now())

	res, err := c.Evict(-5)
	require.NoError(t, err)
	assert.Len(t, res.Deleted, 2)
	assert.Equal(t, int64(0), res.After)
}
