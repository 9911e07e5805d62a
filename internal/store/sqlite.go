package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists keys and capped lists in a local sqlite file.
type SQLiteStore struct {
	conn *sql.DB
	now  func() time.Time
}

// NewSQLiteStore opens the database file and initializes the schema.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{conn: conn, now: time.Now}

	if err := s.initSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// initSchema creates the necessary tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			expires_at INTEGER,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS list_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			list_key TEXT NOT NULL,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_list_items_key ON list_items(list_key, id)`,
	}

	for _, query := range queries {
		if _, err := s.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	var expiresAt sql.NullInt64

	err := s.conn.QueryRowContext(ctx,
		`SELECT value, expires_at FROM kv WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key: %w", err)
	}

	if expiresAt.Valid && s.now().Unix() >= expiresAt.Int64 {
		if _, err := s.conn.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
			return "", fmt.Errorf("failed to evict expired key: %w", err)
		}
		return "", ErrNotFound
	}

	return value, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: s.now().Add(ttl).Unix(), Valid: true}
	}

	query := `INSERT INTO kv (key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`

	_, err := s.conn.ExecContext(ctx, query,
		key,
		value,
		expiresAt,
		s.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM list_items WHERE list_key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete list: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PushCapped(ctx context.Context, key string, value string, max int) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO list_items (list_key, value) VALUES (?, ?)`, key, value,
	); err != nil {
		return fmt.Errorf("failed to push list item: %w", err)
	}

	if max > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM list_items WHERE list_key = ? AND id NOT IN (
				SELECT id FROM list_items WHERE list_key = ? ORDER BY id DESC LIMIT ?
			)`, key, key, max,
		); err != nil {
			return fmt.Errorf("failed to trim list: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, key string, limit int) ([]string, error) {
	query := `SELECT value FROM list_items WHERE list_key = ? ORDER BY id DESC`
	args := []interface{}{key}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query list: %w", err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan list item: %w", err)
		}
		values = append(values, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating list: %w", err)
	}
	return values, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}
