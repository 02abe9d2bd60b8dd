// Package index maintains the content index: a persistent mapping from
// content hash to the files on disk that hold that content.
//
// The index is the leaf dependency of the scanner and the archive manager.
// Storage engines implement [Store]; [Manager] layers hashing, validation
// and ingestion on top of any Store.
package index

import (
	"context"
	"encoding/hex"
	"errors"
	"iter"
	"time"
)

// HashLen is the length of a hex content hash (SHA-1).
const HashLen = 40

// Sentinel errors.
var (
	// ErrNotFound is returned when no live file exists for a hash.
	ErrNotFound = errors.New("index: not found")

	// ErrStale is returned by validation when an entry no longer describes
	// a live, unchanged file.
	ErrStale = errors.New("index: stale entry")

	// ErrHashMismatch is returned when a cache file's content does not match
	// the hash it is named after.
	ErrHashMismatch = errors.New("index: hash mismatch")

	// ErrInvalidHash is returned for hashes that are not 40 hex characters.
	ErrInvalidHash = errors.New("index: invalid hash")
)

// Entry is one index row.
type Entry struct {
	// Hash is the lowercase hex SHA-1 of the file content.
	Hash string
	// Path is the absolute path of the file.
	Path string
	// Size is the file size at ingestion or last validation.
	Size int64
	// LastModified is the file modification time at ingestion or last validation.
	LastModified time.Time
}

// Key returns the row identity.
func (e Entry) Key() Key {
	return Key{Hash: e.Hash, Path: e.Path}
}

// Key identifies a row. At most one Entry exists per Key.
type Key struct {
	Hash string
	Path string
}

// Store is the access pattern the core requires from a storage engine.
// Implementations must be safe for concurrent use.
type Store interface {
	// All streams every row. Implementations must tolerate Put and Delete
	// calls from other goroutines while the sequence is being consumed.
	All(ctx context.Context) iter.Seq2[Entry, error]

	// ByHash returns all rows for hash ordered by path.
	ByHash(ctx context.Context, hash string) ([]Entry, error)

	// Put inserts the entry or replaces the row with the same Key.
	Put(ctx context.Context, e Entry) error

	// Delete removes the rows for keys. Missing keys are ignored.
	Delete(ctx context.Context, keys []Key) error

	// Close releases the engine.
	Close() error
}

// ValidHash reports whether s is a 40 character lowercase hex string.
func ValidHash(s string) bool {
	if len(s) != HashLen {
		return false
	}
	for i := range len(s) {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// HexSum encodes a raw digest as lowercase hex.
func HexSum(sum []byte) string {
	return hex.EncodeToString(sum)
}
