package index

import (
	"context"
	"iter"
	"slices"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store. It is not persistent.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[Key]Entry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[Key]Entry)}
}

// All yields a snapshot of the rows ordered by hash then path.
func (m *MemoryStore) All(ctx context.Context) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for _, e := range m.sorted() {
			if err := ctx.Err(); err != nil {
				yield(Entry{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// ByHash returns the rows for hash ordered by path.
func (m *MemoryStore) ByHash(_ context.Context, hash string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for k, e := range m.rows {
		if k.Hash == hash {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Path, b.Path) })
	return out, nil
}

// Put inserts or replaces e.
func (m *MemoryStore) Put(_ context.Context, e Entry) error {
	if !ValidHash(e.Hash) {
		return ErrInvalidHash
	}
	m.mu.Lock()
	m.rows[e.Key()] = e
	m.mu.Unlock()
	return nil
}

// Delete removes keys.
func (m *MemoryStore) Delete(_ context.Context, keys []Key) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.rows, k)
	}
	m.mu.Unlock()
	return nil
}

// Len returns the number of rows.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) sorted() []Entry {
	m.mu.RLock()
	out := make([]Entry, 0, len(m.rows))
	for _, e := range m.rows {
		out = append(out, e)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b Entry) int {
		if c := strings.Compare(a.Hash, b.Hash); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
	return out
}
