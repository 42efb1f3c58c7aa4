// Package sourcecache persists transformed script sources so repeated
// TypeScript/JSX compilation of the same input is served from disk.
// Entries are keyed by a content hash and stored brotli-compressed in a
// SQLite database (pure-Go driver, no cgo).
package sourcecache

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/andybalholm/brotli"

	// Pure-Go SQLite driver for database/sql.
	_ "github.com/glebarez/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sources (
	key        TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	created_at INTEGER NOT NULL
);`

// Cache is a persistent store of compiled sources.
type Cache struct {
	db *sql.DB
}

// Open creates or opens a cache database inside dir. An empty dir opens
// an in-memory cache, which is useful in tests and still exercises the
// same code paths.
func Open(dir string) (*Cache, error) {
	dsn := ":memory:"
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
		dsn = filepath.Join(dir, "sources.sqlite3")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening source cache %q: %w", dsn, err)
	}
	// Enable WAL mode for better concurrent access.
	_, _ = db.Exec("PRAGMA journal_mode=WAL")
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating source cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

// Key derives the cache key for a source and its transform parameters.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached output for key, or ok=false on a miss.
func (c *Cache) Get(key string) (data []byte, ok bool, err error) {
	var blob []byte
	row := c.db.QueryRow("SELECT data FROM sources WHERE key = ?", key)
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading source cache: %w", err)
	}
	out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(blob)))
	if err != nil {
		return nil, false, fmt.Errorf("decompressing cache entry: %w", err)
	}
	return out, true, nil
}

// Put stores output under key, replacing any previous entry.
func (c *Cache) Put(key string, data []byte) error {
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("compressing cache entry: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("compressing cache entry: %w", err)
	}
	_, err := c.db.Exec(
		"INSERT OR REPLACE INTO sources (key, data, created_at) VALUES (?, ?, ?)",
		key, buf.Bytes(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("writing source cache: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
