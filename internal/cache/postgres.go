package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"athanor/internal/model"
)

// PostgresStore backs multi-machine runs with a shared database.
// Insert-if-absent is ON CONFLICT DO NOTHING on the primary key; leases are
// rows with an expiry timestamp, taken over once stale.
type PostgresStore struct {
	dsn string

	mu   sync.RWMutex
	pool *pgxpool.Pool
}

func NewPostgresStore(dsn string) *PostgresStore {
	return &PostgresStore{dsn: dsn}
}

func (s *PostgresStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dsn == "" {
		return errors.New("postgres dsn is required")
	}
	if s.pool != nil {
		return nil
	}

	pool, err := pgxpool.New(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS athanor_cache_records (
			key TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			evaluator_version TEXT NOT NULL,
			payload BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS athanor_cache_leases (
			key TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		pool.Close()
		return fmt.Errorf("create cache tables: %w", err)
	}

	s.pool = pool
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (model.CacheRecord, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return model.CacheRecord{}, false, err
	}

	var payload []byte
	err = pool.QueryRow(ctx, `SELECT payload FROM athanor_cache_records WHERE key = $1`, key).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.CacheRecord{}, false, nil
	}
	if err != nil {
		return model.CacheRecord{}, false, err
	}

	record, err := decodeRecord(payload)
	if err != nil {
		return model.CacheRecord{}, false, fmt.Errorf("decode cache record %s: %w", key, err)
	}
	return record, true, nil
}

func (s *PostgresStore) PutIfAbsent(ctx context.Context, key string, record model.CacheRecord) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	payload, err := encodeRecord(record)
	if err != nil {
		return false, err
	}

	tag, err := pool.Exec(ctx, `
		INSERT INTO athanor_cache_records (key, fingerprint, evaluator_version, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO NOTHING
	`, key, record.Fingerprint, record.EvaluatorVersion, payload)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	tag, err := pool.Exec(ctx, `
		INSERT INTO athanor_cache_leases (key, owner, expires_at)
		VALUES ($1, $2, now() + $3::interval)
		ON CONFLICT (key) DO UPDATE SET
			owner = excluded.owner,
			expires_at = excluded.expires_at
		WHERE athanor_cache_leases.owner = excluded.owner
		   OR athanor_cache_leases.expires_at < now()
	`, key, owner, fmt.Sprintf("%d milliseconds", ttl.Milliseconds()))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ReleaseLease(ctx context.Context, key, owner string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `DELETE FROM athanor_cache_leases WHERE key = $1 AND owner = $2`, key, owner)
	return err
}

func (s *PostgresStore) Export(ctx context.Context) ([]model.CacheRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, `SELECT key, payload FROM athanor_cache_records ORDER BY key`)
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

func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool == nil {
		return nil
	}
	s.pool.Close()
	s.pool = nil
	return nil
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.pool == nil {
		return nil, ErrNotInitialized
	}
	return s.pool, nil
}
