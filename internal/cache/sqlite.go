package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLiteSchema creates the table used by SQLite.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
  key         TEXT PRIMARY KEY,
  fingerprint TEXT NOT NULL,
  value_json  TEXT NOT NULL,
  stored_at   INTEGER NOT NULL,
  accessed_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_accessed
ON cache_entries(accessed_at DESC);
`

// SQLite persists entries in the cache_entries table so warm bundles survive
// process restarts. Values are stored as JSON.
type SQLite[V any] struct {
	db  *sql.DB
	max int
	ttl time.Duration
	now func() time.Time
}

// NewSQLite creates a SQLite-backed cache over an initialized database.
// maxEntries <= 0 means unbounded and ttl <= 0 means entries never expire.
func NewSQLite[V any](db *sql.DB, maxEntries int, ttl time.Duration) *SQLite[V] {
	return &SQLite[V]{db: db, max: maxEntries, ttl: ttl, now: time.Now}
}

func (s *SQLite[V]) Get(ctx context.Context, key string) (Entry[V], bool, error) {
	var fpJSON, valueJSON string
	var storedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, value_json, stored_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&fpJSON, &valueJSON, &storedAt)
	if err == sql.ErrNoRows {
		return Entry[V]{}, false, nil
	}
	if err != nil {
		return Entry[V]{}, false, fmt.Errorf("cache get %s: %w", key, err)
	}

	entry := Entry[V]{StoredAt: time.Unix(0, storedAt)}
	if s.expired(entry.StoredAt) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
		return Entry[V]{}, false, nil
	}
	if err := json.Unmarshal([]byte(fpJSON), &entry.Fingerprint); err != nil {
		return Entry[V]{}, false, fmt.Errorf("cache decode fingerprint %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(valueJSON), &entry.Value); err != nil {
		return Entry[V]{}, false, fmt.Errorf("cache decode value %s: %w", key, err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE cache_entries SET accessed_at = ? WHERE key = ?`, s.now().UnixNano(), key,
	); err != nil {
		return Entry[V]{}, false, fmt.Errorf("cache touch %s: %w", key, err)
	}
	return entry, true, nil
}

func (s *SQLite[V]) Put(ctx context.Context, key string, fp Fingerprint, value V) error {
	fpJSON, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("cache encode fingerprint: %w", err)
	}
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode value: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingJSON string
	var existingAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT fingerprint, stored_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&existingJSON, &existingAt)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("cache put %s: %w", key, err)
	default:
		var existing Fingerprint
		if json.Unmarshal([]byte(existingJSON), &existing) == nil &&
			fp.Older(existing) && !s.expired(time.Unix(0, existingAt)) {
			return nil
		}
	}

	now := s.now().UnixNano()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cache_entries (key, fingerprint, value_json, stored_at, accessed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			value_json = excluded.value_json,
			stored_at = excluded.stored_at,
			accessed_at = excluded.accessed_at
	`, key, string(fpJSON), string(valueJSON), now, now); err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}

	if s.max > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM cache_entries WHERE key IN (
				SELECT key FROM cache_entries
				ORDER BY accessed_at DESC, key
				LIMIT -1 OFFSET ?
			)
		`, s.max); err != nil {
			return fmt.Errorf("cache evict: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLite[V]) Invalidate(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache invalidate %s: %w", key, err)
	}
	return nil
}

func (s *SQLite[V]) Purge(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	return int(n), nil
}

func (s *SQLite[V]) expired(storedAt time.Time) bool {
	return s.ttl > 0 && s.now().Sub(storedAt) > s.ttl
}
