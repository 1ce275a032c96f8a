package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	// dirPermissions is the permission mode for the database directory.
	dirPermissions = 0750

	// defaultBusyTimeout is how long SQLite waits for a lock.
	defaultBusyTimeout = 5 * time.Second

	// opTimeout bounds each storage operation.
	opTimeout = 5 * time.Second
)

const schema = `CREATE TABLE IF NOT EXISTS bridge_kv (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
)`

// SQLiteConfig holds configuration for SQLiteStorage.
type SQLiteConfig struct {
	// Path is the database file. The directory is created if missing.
	Path string

	// BusyTimeout is the maximum time to wait for a database lock.
	// Default: 5s.
	BusyTimeout time.Duration
}

// SQLiteStorage stores values in a single SQLite table.
//
// All methods are safe for concurrent use.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database and its table.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteStorage, error) {
	if cfg.Path == "" {
		return nil, errors.New("storage: sqlite path required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = defaultBusyTimeout
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("storage: creating database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("storage: opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: verifying database connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: creating schema: %w", err)
	}

	return &SQLiteStorage{db: db, path: cfg.Path}, nil
}

// Store inserts or replaces the value.
func (s *SQLiteStorage) Store(node *Node, data []byte) error {
	key, err := node.Key()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if data == nil {
		data = []byte{}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO bridge_kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, data)
	if err != nil {
		return fmt.Errorf("storage: store %s: %w", key, err)
	}
	return nil
}

// Load copies the stored value into buf.
func (s *SQLiteStorage) Load(node *Node, buf []byte) (int, error) {
	key, err := node.Key()
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var value []byte
	err = s.db.QueryRowContext(ctx, `SELECT value FROM bridge_kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("storage: load %s: %w", key, err)
	}
	if len(value) > len(buf) {
		return 0, ErrBufferTooSmall
	}
	return copy(buf, value), nil
}

// HasEntry reports whether the key is present. Query errors report false.
func (s *SQLiteStorage) HasEntry(node *Node) bool {
	key, err := node.Key()
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM bridge_kv WHERE key = ?`, key).Scan(&one)
	return err == nil
}

// Remove deletes the key.
func (s *SQLiteStorage) Remove(node *Node) error {
	key, err := node.Key()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM bridge_kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("storage: remove %s: %w", key, err)
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.path
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("storage: closing database: %w", err)
	}
	return nil
}

var _ Storage = (*SQLiteStorage)(nil)
