package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"athanor/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the file-backed store. Insert-if-absent rides on the
// primary key; leases live in their own table with an expiry column so a
// crashed holder's lease can be reclaimed.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createCacheTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (model.CacheRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.CacheRecord{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM cache_records WHERE key = ?`, key).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.CacheRecord{}, false, nil
		}
		return model.CacheRecord{}, false, err
	}

	record, err := decodeRecord(payload)
	if err != nil {
		return model.CacheRecord{}, false, fmt.Errorf("decode cache record %s: %w", key, err)
	}
	return record, true, nil
}

func (s *SQLiteStore) PutIfAbsent(ctx context.Context, key string, record model.CacheRecord) (bool, error) {
	db, err := s.getDB()
	if err != nil {
		return false, err
	}

	payload, err := encodeRecord(record)
	if err != nil {
		return false, err
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO cache_records (key, fingerprint, evaluator_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, key, record.Fingerprint, record.EvaluatorVersion, payload)
	if err != nil {
		return false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return inserted == 1, nil
}

func (s *SQLiteStore) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	db, err := s.getDB()
	if err != nil {
		return false, err
	}

	now := time.Now().UnixMilli()
	expires := now + ttl.Milliseconds()
	res, err := db.ExecContext(ctx, `
		INSERT INTO cache_leases (key, owner, expires_at_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			owner = excluded.owner,
			expires_at_ms = excluded.expires_at_ms
		WHERE cache_leases.owner = excluded.owner
		   OR cache_leases.expires_at_ms < ?
	`, key, owner, expires, now)
	if err != nil {
		return false, err
	}
	granted, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return granted == 1, nil
}

func (s *SQLiteStore) ReleaseLease(ctx context.Context, key, owner string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM cache_leases WHERE key = ? AND owner = ?`, key, owner)
	return err
}

func (s *SQLiteStore) Export(ctx context.Context) ([]model.CacheRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT key, payload FROM cache_records ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CacheRecord
	for rows.Next() {
		var key string
		var payload []byte
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, err
		}
		record, err := decodeRecord(payload)
		if err != nil {
			return nil, fmt.Errorf("decode cache record %s: %w", key, err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

func createCacheTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cache_records (
			key TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			evaluator_version TEXT NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS cache_leases (
			key TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			expires_at_ms INTEGER NOT NULL
		);
	`)
	return err
}
