package bolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/assetcache/index"
	"github.com/meigma/assetcache/index/indextest"
)

func TestStore(t *testing.T) {
	t.Parallel()

	indextest.RunStoreTests(t, func(t *testing.T) index.Store {
		s, err := Open(filepath.Join(t.TempDir(), "index.db"))
		require.NoError(t, err)
		return s
	})
}

func TestStorePersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "nested", "index.db")
	s, err := Open(path)
	require.NoError(t, err)

	want := index.Entry{Hash: indextest.Hash(7), Path: "/cache/x", Size: 42, LastModified: time.Unix(10, 5)}
	require.NoError(t, s.Put(ctx, want))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	rows := indextest.Collect(t, s)
	require.Len(t, rows, 1)
	assert.Equal(t, want.Path, rows[0].Path)
	assert.Equal(t, want.Size, rows[0].Size)
	assert.True(t, want.LastModified.Equal(rows[0].LastModified))
}

func TestDecodeRejectsCorruptKey(t *testing.T) {
	t.Parallel()

	_, err := decode([]byte("short\x00/p"), make([]byte, valueLen))
	require.ErrorIs(t, err, ErrCorrupt)
}
