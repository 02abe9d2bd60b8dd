// Package indextest provides a conformance suite for index.Store
// implementations.
package indextest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/assetcache/index"
)

// Hash returns a deterministic valid hash for tests.
func Hash(n int) string {
	return fmt.Sprintf("%040x", n)
}

// Collect drains a store into a slice.
func Collect(t testing.TB, s index.Store) []index.Entry {
	t.Helper()
	var out []index.Entry
	for e, err := range s.All(context.Background()) {
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

// RunStoreTests exercises the Store contract. newStore must return an
// empty store; the suite closes it.
func RunStoreTests(t *testing.T, newStore func(t *testing.T) index.Store) {
	t.Helper()
	ctx := context.Background()
	mtime := time.Unix(1_700_000_000, 123456789)

	t.Run("put and by hash", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		require.NoError(t, s.Put(ctx, index.Entry{Hash: Hash(1), Path: "/b", Size: 10, LastModified: mtime}))
		require.NoError(t, s.Put(ctx, index.Entry{Hash: Hash(1), Path: "/a", Size: 10, LastModified: mtime}))
		require.NoError(t, s.Put(ctx, index.Entry{Hash: Hash(2), Path: "/c", Size: 3, LastModified: mtime}))

		rows, err := s.ByHash(ctx, Hash(1))
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "/a", rows[0].Path)
		assert.Equal(t, "/b", rows[1].Path)
		assert.Equal(t, int64(10), rows[0].Size)
		assert.True(t, mtime.Equal(rows[0].LastModified), "mtime %v != %v", rows[0].LastModified, mtime)

		missing, err := s.ByHash(ctx, Hash(9))
		require.NoError(t, err)
		assert.Empty(t, missing)
	})

	t.Run("put replaces by key", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		require.NoError(t, s.Put(ctx, index.Entry{Hash: Hash(1), Path: "/a", Size: 1, LastModified: mtime}))
		require.NoError(t, s.Put(ctx, index.Entry{Hash: Hash(1), Path: "/a", Size: 2, LastModified: mtime.Add(time.Second)}))

		rows := Collect(t, s)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(2), rows[0].Size)
	})

	t.Run("put rejects invalid hash", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		err := s.Put(ctx, index.Entry{Hash: "nothex", Path: "/a"})
		require.ErrorIs(t, err, index.ErrInvalidHash)
	})

	t.Run("delete batch", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		for i := range 5 {
			require.NoError(t, s.Put(ctx, index.Entry{Hash: Hash(i), Path: fmt.Sprintf("/f%d", i), LastModified: mtime}))
		}
		require.NoError(t, s.Delete(ctx, []index.Key{
			{Hash: Hash(1), Path: "/f1"},
			{Hash: Hash(3), Path: "/f3"},
			{Hash: Hash(3), Path: "/not-there"},
		}))

		var paths []string
		for _, e := range Collect(t, s) {
			paths = append(paths, e.Path)
		}
		assert.Equal(t, "/f0,/f2,/f4", strings.Join(paths, ","))
	})

	t.Run("write while iterating", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		for i := range 20 {
			require.NoError(t, s.Put(ctx, index.Entry{Hash: Hash(i), Path: fmt.Sprintf("/f%02d", i), LastModified: mtime}))
		}

		var wg sync.WaitGroup
		seen := 0
		for e, err := range s.All(ctx) {
			require.NoError(t, err)
			seen++
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, s.Delete(ctx, []index.Key{e.Key()}))
			}()
		}
		wg.Wait()

		assert.Equal(t, 20, seen)
		assert.Empty(t, Collect(t, s))
	})
}
