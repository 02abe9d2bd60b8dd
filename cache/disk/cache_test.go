package disk

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // test fixture hashing
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/assetcache/index"
)

const mib = int64(1) << 20

func sha1Hex(b []byte) string {
	sum := sha1.Sum(b) //nolint:gosec // test fixture hashing
	return hex.EncodeToString(sum[:])
}

// sparseFile creates a file of the given apparent size with the given
// access time.
func sparseFile(t *testing.T, dir, name string, size int64, atime time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())
	require.NoError(t, os.Chtimes(path, atime, atime))
	return path
}

func TestCachePutGet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	content := []byte("hello")
	hash := sha1Hex(content)

	n, err := c.Put(context.Background(), hash, bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), n)
	assert.True(t, c.Has(hash))

	f, ok := c.Get(hash)
	require.True(t, ok)
	defer f.Close()
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = os.Stat(filepath.Join(dir, hash))
	require.NoError(t, err, "cache files live directly under the root")
}

func TestCachePutRejectsMismatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)

	hash := sha1Hex([]byte("expected"))
	_, err = c.Put(context.Background(), hash, strings.NewReader("actual"))
	require.ErrorIs(t, err, ErrHashMismatch)
	assert.False(t, c.Has(hash))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file must be cleaned up")
}

func TestCachePutExistingIsNoop(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)

	content := []byte("same")
	hash := sha1Hex(content)
	_, err = c.Put(context.Background(), hash, bytes.NewReader(content))
	require.NoError(t, err)

	n, err := c.Put(context.Background(), hash, strings.NewReader("ignored"))
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), n)
}

func TestCachePathValidatesHash(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = c.Path("../../etc/passwd")
	require.ErrorIs(t, err, index.ErrInvalidHash)

	_, ok := c.Get("nothex")
	assert.False(t, ok)
}

func TestCacheDelete(t *testing.T) {
	t.Parallel()

	c, err := New(t.TempDir())
	require.NoError(t, err)

	content := []byte("gone soon")
	hash := sha1Hex(content)
	_, err = c.Put(context.Background(), hash, bytes.NewReader(content))
	require.NoError(t, err)

	require.NoError(t, c.Delete(hash))
	assert.False(t, c.Has(hash))
	require.NoError(t, c.Delete(hash), "deleting a missing file is not an error")
}

func TestNewRejectsEmptyDir(t *testing.T) {
	t.Parallel()

	_, err := New("")
	require.Error(t, err)

	_, err = New(t.TempDir(), WithMaxBytes(-1))
	require.Error(t, err)
}
