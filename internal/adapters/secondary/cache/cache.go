// Package cache persists the notification feed between sessions. The feed is
// stored as one serialized JSON blob under a fixed key, independent of the
// auth token pair, so a reload renders the last-known-good feed before any
// network is ready.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
)

// storageKey is the fixed key the feed snapshot lives under.
const storageKey = "notification_feed"

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	key      TEXT PRIMARY KEY,
	payload  BLOB NOT NULL,
	saved_at TEXT NOT NULL
);
`

// SQLiteCache is a SnapshotCache backed by a local sqlite file.
type SQLiteCache struct {
	db *sql.DB
}

var _ ports.SnapshotCache = (*SQLiteCache)(nil)

// New opens (and if necessary creates) the cache at path.
func New(path string) (*SQLiteCache, error) {
	if path == "" {
		return nil, fmt.Errorf("cache path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply cache schema: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

// NewInMemory opens a throwaway cache, mainly for tests.
func NewInMemory() (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply cache schema: %w", err)
	}
	return &SQLiteCache{db: db}, nil
}

// Load returns the stored snapshot, or (nil, nil) when nothing was saved yet.
func (c *SQLiteCache) Load() (*domain.FeedSnapshot, error) {
	var payload []byte
	err := c.db.QueryRow(`SELECT payload FROM snapshots WHERE key = ?`, storageKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snapshot domain.FeedSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snapshot, nil
}

// Save replaces the stored snapshot. Writes are whole-snapshot upserts, so
// overlapping writers degrade to last-write-wins without partial state.
func (c *SQLiteCache) Save(snapshot *domain.FeedSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = c.db.Exec(
		`INSERT INTO snapshots (key, payload, saved_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		storageKey, payload, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
