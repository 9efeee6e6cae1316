package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"trading-engine/internal/models"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore keeps one JSON document per state slice in a key/value table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns
// a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers; SQLite allows only one anyway.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context) (*models.State, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM state`)
	if err != nil {
		return nil, fmt.Errorf("failed to query state: %w", err)
	}
	defer rows.Close()

	raw := make(map[string][]byte)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan state row: %w", err)
		}
		raw[key] = []byte(value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return decodeState(raw)
}

func (s *SQLiteStore) SaveStocks(ctx context.Context, stocks []models.Stock) error {
	return s.put(ctx, KeyStocks, stocks)
}

func (s *SQLiteStore) SaveUser(ctx context.Context, user models.User) error {
	return s.put(ctx, KeyUser, user)
}

func (s *SQLiteStore) SaveNotifications(ctx context.Context, notifications []models.Notification) error {
	return s.put(ctx, KeyNotifications, notifications)
}

func (s *SQLiteStore) SaveSettings(ctx context.Context, settings models.Settings) error {
	return s.put(ctx, KeySettings, settings)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close(_ context.Context) error {
	return s.db.Close()
}

func (s *SQLiteStore) put(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO state (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
