package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type sqlStatements struct {
	get       string
	upsert    string
	purge     string
	insertNew string
}

var dialects = map[string]sqlStatements{
	"sqlite3": {
		get:       `SELECT v, expires_at FROM kv WHERE k = ?`,
		upsert:    `INSERT INTO kv (k, v, expires_at) VALUES (?, ?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v, expires_at = excluded.expires_at`,
		purge:     `DELETE FROM kv WHERE k = ? AND expires_at > 0 AND expires_at <= ?`,
		insertNew: `INSERT INTO kv (k, v, expires_at) VALUES (?, ?, ?) ON CONFLICT(k) DO NOTHING`,
	},
	"mysql": {
		get:       `SELECT v, expires_at FROM kv WHERE k = ?`,
		upsert:    `INSERT INTO kv (k, v, expires_at) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE v = VALUES(v), expires_at = VALUES(expires_at)`,
		purge:     `DELETE FROM kv WHERE k = ? AND expires_at > 0 AND expires_at <= ?`,
		insertNew: `INSERT IGNORE INTO kv (k, v, expires_at) VALUES (?, ?, ?)`,
	},
	"postgres": {
		get:       `SELECT v, expires_at FROM kv WHERE k = $1`,
		upsert:    `INSERT INTO kv (k, v, expires_at) VALUES ($1, $2, $3) ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v, expires_at = EXCLUDED.expires_at`,
		purge:     `DELETE FROM kv WHERE k = $1 AND expires_at > 0 AND expires_at <= $2`,
		insertNew: `INSERT INTO kv (k, v, expires_at) VALUES ($1, $2, $3) ON CONFLICT (k) DO NOTHING`,
	},
}

// SQLStore keeps keys in the kv table. expires_at holds unix milliseconds, 0 for none.
type SQLStore struct {
	db    *sql.DB
	stmts sqlStatements
	now   func() time.Time
}

// NewSQLStore wraps an opened and migrated database.
func NewSQLStore(db *sql.DB, dbType string) (*SQLStore, error) {
	driver, err := driverName(dbType)
	if err != nil {
		return nil, err
	}
	return &SQLStore{db: db, stmts: dialects[driver], now: time.Now}, nil
}

func (s *SQLStore) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.now().Add(ttl).UnixMilli()
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, error) {
	var (
		value     string
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, s.stmts.get, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	if expiresAt > 0 && expiresAt <= s.now().UnixMilli() {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if _, err := s.db.ExecContext(ctx, s.stmts.upsert, key, value, s.expiry(ttl)); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if _, err := s.db.ExecContext(ctx, s.stmts.purge, key, s.now().UnixMilli()); err != nil {
		return false, fmt.Errorf("purge %s: %w", key, err)
	}
	res, err := s.db.ExecContext(ctx, s.stmts.insertNew, key, value, s.expiry(ttl))
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
