// Package settings provides the SQLite-backed, library-namespaced key-value
// store that persists index configuration and the index run history.
package settings

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/semdex/internal/indexconf"
)

// ConfigKey is the key the normalized index configuration is stored under.
const ConfigKey = "index.config"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS settings (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (namespace, key)
);

CREATE TABLE IF NOT EXISTS index_runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	namespace   TEXT NOT NULL,
	op          TEXT NOT NULL,
	path        TEXT NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	files       INTEGER NOT NULL DEFAULT 0,
	chunks      INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_index_runs_ns ON index_runs(namespace, id);
`

// Store is a namespaced key-value store.
type Store interface {
	Get(namespace, key string) ([]byte, bool, error)
	Put(namespace, key string, value []byte) error
	Delete(namespace, key string) error
}

// DB is the SQLite implementation of Store.
type DB struct {
	conn *sql.DB
}

var _ Store = (*DB)(nil)

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("settings: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("settings: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("settings: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Get returns the value for (namespace, key) and whether it exists.
func (db *DB) Get(namespace, key string) ([]byte, bool, error) {
	var v []byte
	err := db.conn.QueryRow(`SELECT value FROM settings WHERE namespace = ? AND key = ?`, namespace, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("settings: get %s/%s: %w", namespace, key, err)
	}
	return v, true, nil
}

// Put inserts or replaces the value for (namespace, key).
func (db *DB) Put(namespace, key string, value []byte) error {
	_, err := db.conn.Exec(`
		INSERT INTO settings (namespace, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		namespace, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("settings: put %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Delete removes (namespace, key). Missing keys are not an error.
func (db *DB) Delete(namespace, key string) error {
	if _, err := db.conn.Exec(`DELETE FROM settings WHERE namespace = ? AND key = ?`, namespace, key); err != nil {
		return fmt.Errorf("settings: delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// LoadIndexConfig returns the persisted configuration for seed's library,
// falling back to seed when nothing was stored yet. The result is always
// normalized, even when the stored JSON is damaged.
func LoadIndexConfig(s Store, seed indexconf.Config) (indexconf.Config, error) {
	seed = indexconf.Normalize(seed)
	raw, ok, err := s.Get(seed.LibraryKey, ConfigKey)
	if err != nil {
		return seed, err
	}
	if !ok {
		return seed, nil
	}
	c := indexconf.FromJSON(raw)
	// The namespace is authoritative for which library this is.
	c.LibraryKey = seed.LibraryKey
	return indexconf.Normalize(c), nil
}

// SaveIndexConfig persists c under its own library key.
func SaveIndexConfig(s Store, c indexconf.Config) error {
	c = indexconf.Normalize(c)
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("settings: encode config: %w", err)
	}
	return s.Put(c.LibraryKey, ConfigKey, b)
}
