// Package postgres implements index.Store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"time"

	"github.com/lib/pq"

	"github.com/meigma/assetcache/index"
)

const schema = `
CREATE TABLE IF NOT EXISTS file_cache (
	hash             CHAR(40) NOT NULL,
	path             TEXT     NOT NULL,
	size             BIGINT   NOT NULL,
	last_modified_ns BIGINT   NOT NULL,
	PRIMARY KEY (hash, path)
)`

// Store is a PostgreSQL-backed index.Store.
type Store struct {
	db *sql.DB
}

var _ index.Store = (*Store)(nil)

// Open connects to databaseURL and creates the schema if needed.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the file_cache table.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// All streams rows from a server-side result set ordered by hash and path.
func (s *Store) All(ctx context.Context) iter.Seq2[index.Entry, error] {
	return func(yield func(index.Entry, error) bool) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT hash, path, size, last_modified_ns FROM file_cache ORDER BY hash, path`)
		if err != nil {
			yield(index.Entry{}, fmt.Errorf("query file_cache: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				yield(index.Entry{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(index.Entry{}, fmt.Errorf("rows error: %w", err))
		}
	}
}

// ByHash returns the rows for hash ordered by path.
func (s *Store) ByHash(ctx context.Context, hash string) ([]index.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hash, path, size, last_modified_ns FROM file_cache WHERE hash = $1 ORDER BY path`, hash)
	if err != nil {
		return nil, fmt.Errorf("query hash %s: %w", hash, err)
	}
	defer rows.Close()

	var out []index.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// Put upserts e.
func (s *Store) Put(ctx context.Context, e index.Entry) error {
	if !index.ValidHash(e.Hash) {
		return index.ErrInvalidHash
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_cache (hash, path, size, last_modified_ns)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (hash, path) DO UPDATE
		 SET size = EXCLUDED.size, last_modified_ns = EXCLUDED.last_modified_ns`,
		e.Hash, e.Path, e.Size, e.LastModified.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert %s: %w", e.Path, err)
	}
	return nil
}

// Delete removes keys in one statement.
func (s *Store) Delete(ctx context.Context, keys []index.Key) error {
	if len(keys) == 0 {
		return nil
	}
	hashes := make([]string, len(keys))
	paths := make([]string, len(keys))
	for i, k := range keys {
		hashes[i] = k.Hash
		paths[i] = k.Path
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM file_cache f
		 USING unnest($1::text[], $2::text[]) AS d(hash, path)
		 WHERE f.hash = d.hash AND f.path = d.path`,
		pq.Array(hashes), pq.Array(paths))
	if err != nil {
		return fmt.Errorf("delete %d rows: %w", len(keys), err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (index.Entry, error) {
	var (
		e  index.Entry
		ns int64
	)
	if err := row.Scan(&e.Hash, &e.Path, &e.Size, &ns); err != nil {
		return index.Entry{}, fmt.Errorf("scan row: %w", err)
	}
	e.LastModified = time.Unix(0, ns)
	return e, nil
}
