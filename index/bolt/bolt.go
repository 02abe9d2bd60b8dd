// Package bolt implements index.Store on an embedded bbolt database.
//
// Rows live in a single bucket keyed by hash, a zero byte, then path, so
// all paths for a hash are adjacent and ByHash is a prefix seek.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/meigma/assetcache/index"
)

const (
	defaultFileMode = 0o600
	defaultTimeout  = 5 * time.Second
	valueLen        = 16
)

var bucketEntries = []byte("entries")

// ErrCorrupt is returned for rows that cannot be decoded.
var ErrCorrupt = errors.New("bolt: corrupt index row")

// Store is a bbolt-backed index.Store.
type Store struct {
	db *bolt.DB
}

var _ index.Store = (*Store)(nil)

// Option configures Open.
type Option func(*options)

type options struct {
	mode    os.FileMode
	timeout time.Duration
}

// WithFileMode sets the database file permissions.
func WithFileMode(mode os.FileMode) Option {
	return func(o *options) { o.mode = mode }
}

// WithTimeout bounds how long Open waits for the file lock.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// Open opens or creates the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	o := options{mode: defaultFileMode, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	db, err := bolt.Open(path, o.mode, &bolt.Options{Timeout: o.timeout})
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init index %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// All snapshots the rows inside one read transaction and yields them
// after it closes, so consumers may write to the store while iterating.
func (s *Store) All(ctx context.Context) iter.Seq2[index.Entry, error] {
	return func(yield func(index.Entry, error) bool) {
		var rows []index.Entry
		err := s.db.View(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
				e, err := decode(k, v)
				if err != nil {
					return err
				}
				rows = append(rows, e)
				return nil
			})
		})
		if err != nil {
			yield(index.Entry{}, err)
			return
		}
		for _, e := range rows {
			if err := ctx.Err(); err != nil {
				yield(index.Entry{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// ByHash returns the rows for hash ordered by path.
func (s *Store) ByHash(_ context.Context, hash string) ([]index.Entry, error) {
	prefix := append([]byte(hash), 0)
	var out []index.Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			e, err := decode(k, v)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// Put inserts or replaces e.
func (s *Store) Put(_ context.Context, e index.Entry) error {
	if !index.ValidHash(e.Hash) {
		return index.ErrInvalidHash
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Put(key(e.Hash, e.Path), encodeValue(e))
	})
}

// Delete removes keys in one transaction.
func (s *Store) Delete(_ context.Context, keys []index.Key) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		for _, k := range keys {
			if err := b.Delete(key(k.Hash, k.Path)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(hash, path string) []byte {
	k := make([]byte, 0, len(hash)+1+len(path))
	k = append(k, hash...)
	k = append(k, 0)
	return append(k, path...)
}

func encodeValue(e index.Entry) []byte {
	v := make([]byte, valueLen)
	binary.BigEndian.PutUint64(v[0:8], uint64(e.Size))                     //nolint:gosec // sizes are non-negative
	binary.BigEndian.PutUint64(v[8:16], uint64(e.LastModified.UnixNano())) //nolint:gosec // round-trips through int64
	return v
}

func decode(k, v []byte) (index.Entry, error) {
	sep := bytes.IndexByte(k, 0)
	if sep != index.HashLen || len(v) != valueLen {
		return index.Entry{}, fmt.Errorf("%w: key %q", ErrCorrupt, k)
	}
	return index.Entry{
		Hash:         string(k[:sep]),
		Path:         string(k[sep+1:]),
		Size:         int64(binary.BigEndian.Uint64(v[0:8])),                //nolint:gosec // written from int64
		LastModified: time.Unix(0, int64(binary.BigEndian.Uint64(v[8:16]))), //nolint:gosec // written from int64
	}, nil
}
