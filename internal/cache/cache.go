package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	defaultDBDir  = ".axys-mcp"
	defaultDBFile = "cache.db"
	responseTTL   = time.Hour
)

// Cache is a SQLite-backed store for upstream search responses, keyed by a
// request hash. Entries expire after one hour; live search results go
// stale quickly.
type Cache struct {
	db *sql.DB
}

// New opens (or creates) a SQLite cache database at dbPath.
// If dbPath is empty, it defaults to ~/.axys-mcp/cache.db.
func New(dbPath string) (*Cache, error) {
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cache: user home dir: %w", err)
		}
		dir := filepath.Join(home, defaultDBDir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cache: create dir %s: %w", dir, err)
		}
		dbPath = filepath.Join(dir, defaultDBFile)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("cache: open db: %w", err)
	}

	// Create the responses table if it does not exist.
	const createSQL = `
		CREATE TABLE IF NOT EXISTS responses (
			request_hash TEXT PRIMARY KEY,
			body         TEXT NOT NULL,
			updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		);`
	if _, err := db.Exec(createSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: create table: %w", err)
	}

	return &Cache{db: db}, nil
}

// Get retrieves the cached response body for the given request hash.
// It returns the body, whether the cache was hit (i.e. the entry exists and
// is not older than the TTL), and any error.
func (c *Cache) Get(requestHash string) (string, bool, error) {
	var body string
	var updatedAt time.Time

	err := c.db.QueryRow(
		"SELECT body, updated_at FROM responses WHERE request_hash = ?",
		requestHash,
	).Scan(&body, &updatedAt)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: get %q: %w", requestHash, err)
	}

	// Stale if older than TTL.
	if time.Since(updatedAt) > responseTTL {
		return "", false, nil
	}

	return body, true, nil
}

// Set upserts a response body for the given request hash.
func (c *Cache) Set(requestHash, body string) error {
	const upsertSQL = `
		INSERT INTO responses (request_hash, body, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(request_hash) DO UPDATE SET
			body       = excluded.body,
			updated_at = excluded.updated_at;`

	if _, err := c.db.Exec(upsertSQL, requestHash, body); err != nil {
		return fmt.Errorf("cache: set %q: %w", requestHash, err)
	}
	return nil
}

// Clear removes cached entries.
// If requestHash is empty, all entries are flushed.
// Otherwise, only the entry matching the hash is deleted.
func (c *Cache) Clear(requestHash string) error {
	var err error
	if requestHash == "" {
		_, err = c.db.Exec("DELETE FROM responses")
	} else {
		_, err = c.db.Exec("DELETE FROM responses WHERE request_hash = ?", requestHash)
	}
	if err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
