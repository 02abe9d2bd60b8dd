package index

import (
	"context"
	"crypto/sha1" //nolint:gosec // test fixture hashing
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sha1Hex(content string) string {
	sum := sha1.Sum([]byte(content)) //nolint:gosec // test fixture hashing
	return hex.EncodeToString(sum[:])
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func newTestManager(t *testing.T) (*Manager, *MemoryStore, string, string) {
	t.Helper()
	root := t.TempDir()
	cacheDir := filepath.Join(root, "cache")
	srcDir := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(cacheDir, 0o750))
	require.NoError(t, os.MkdirAll(srcDir, 0o750))
	store := NewMemoryStore()
	return NewManager(store, cacheDir), store, cacheDir, srcDir
}

func TestValidHash(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidHash(sha1Hex("x")))
	assert.False(t, ValidHash("ABCDEF0123456789ABCDEF0123456789ABCDEF01"))
	assert.False(t, ValidHash("abc"))
}

func TestManagerHash(t *testing.T) {
	t.Parallel()

	m, _, _, src := newTestManager(t)
	path := filepath.Join(src, "chara", "body.mdl")
	writeFile(t, path, "model bytes")

	hash, info, err := m.Hash(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, sha1Hex("model bytes"), hash)
	assert.Equal(t, int64(len("model bytes")), info.Size())
}

func TestManagerIngest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m, store, cacheDir, src := newTestManager(t)
	first := filepath.Join(src, "a.tex")
	second := filepath.Join(src, "b.tex")
	writeFile(t, first, "same")
	writeFile(t, second, "same")

	e, secondary, err := m.Ingest(ctx, first)
	require.NoError(t, err)
	assert.False(t, secondary)
	assert.Equal(t, sha1Hex("same"), e.Hash)

	_, secondary, err = m.Ingest(ctx, second)
	require.NoError(t, err)
	assert.True(t, secondary)
	assert.Equal(t, 2, store.Len())

	t.Run("cache file name mismatch", func(t *testing.T) {
		bad := filepath.Join(cacheDir, sha1Hex("expected"))
		writeFile(t, bad, "corrupted")
		_, _, err := m.Ingest(ctx, bad)
		require.ErrorIs(t, err, ErrHashMismatch)
	})
}

func TestManagerValidate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m, store, _, src := newTestManager(t)
	path := filepath.Join(src, "a.mtrl")
	writeFile(t, path, "material")
	e, _, err := m.Ingest(ctx, path)
	require.NoError(t, err)

	t.Run("unchanged", func(t *testing.T) {
		got, err := m.Validate(ctx, e)
		require.NoError(t, err)
		assert.Equal(t, e, got)
	})

	t.Run("touched but same content", func(t *testing.T) {
		later := e.LastModified.Add(time.Hour)
		require.NoError(t, os.Chtimes(path, later, later))

		got, err := m.Validate(ctx, e)
		require.NoError(t, err)
		assert.True(t, later.Equal(got.LastModified))

		rows, err := store.ByHash(ctx, e.Hash)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.True(t, later.Equal(rows[0].LastModified))
	})

	t.Run("content changed", func(t *testing.T) {
		other := filepath.Join(src, "c.mtrl")
		writeFile(t, other, "v1")
		ce, _, err := m.Ingest(ctx, other)
		require.NoError(t, err)
		writeFile(t, other, "version two")

		_, err = m.Validate(ctx, ce)
		require.ErrorIs(t, err, ErrStale)
	})

	t.Run("missing", func(t *testing.T) {
		gone := Entry{Hash: e.Hash, Path: filepath.Join(src, "gone.mtrl")}
		_, err := m.Validate(ctx, gone)
		require.ErrorIs(t, err, ErrStale)
	})
}

func TestManagerResolve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m, _, cacheDir, src := newTestManager(t)
	hash := sha1Hex("shared")
	srcPath := filepath.Join(src, "a.pap")
	cachePath := filepath.Join(cacheDir, hash)
	writeFile(t, srcPath, "shared")
	writeFile(t, cachePath, "shared")

	_, _, err := m.Ingest(ctx, srcPath)
	require.NoError(t, err)
	_, _, err = m.Ingest(ctx, cachePath)
	require.NoError(t, err)

	got, err := m.Resolve(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, cachePath, got.Path, "cache files are preferred")

	require.NoError(t, os.Remove(cachePath))
	got, err = m.Resolve(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, srcPath, got.Path)

	require.NoError(t, os.Remove(srcPath))
	_, err = m.Resolve(ctx, hash)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = m.Resolve(ctx, "zz")
	require.ErrorIs(t, err, ErrInvalidHash)
}
