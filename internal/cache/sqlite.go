package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite persists embeddings in a local database file so restarts keep the cache warm.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates the database at dbPath. Parent directories are created
// if they do not exist.
func NewSQLite(dbPath string) (*SQLite, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite cache requires a path")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS embeddings (
		key TEXT PRIMARY KEY,
		vector BLOB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Get returns the cached embedding for key.
func (c *SQLite) Get(ctx context.Context, key string) ([]float32, bool, error) {
	var buf []byte
	err := c.db.QueryRowContext(ctx, `SELECT vector FROM embeddings WHERE key = ?`, key).Scan(&buf)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	v, err := decodeVector(buf)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set inserts or replaces the embedding for key.
func (c *SQLite) Set(ctx context.Context, key string, value []float32) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO embeddings (key, vector) VALUES (?, ?)`,
		key, encodeVector(value),
	)
	return err
}

// Count returns the number of stored embeddings.
func (c *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&n)
	return n, err
}

// Close closes the database.
func (c *SQLite) Close() error {
	return c.db.Close()
}
