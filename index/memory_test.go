package index_test

import (
	"testing"

	"github.com/meigma/assetcache/index"
	"github.com/meigma/assetcache/index/indextest"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	indextest.RunStoreTests(t, func(*testing.T) index.Store {
		return index.NewMemoryStore()
	})
}
