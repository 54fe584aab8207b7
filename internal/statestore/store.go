// Package statestore is the daemon's single embedded SQL-capable store:
// daemon lifecycle, per-platform state, sync watermarks, and the
// normalizer's messages/accounts/threads/content-blobs tables, all in one
// SQLite database opened once for the daemon's lifetime. Pure-Go
// ncruces/go-sqlite3 driver, WAL journal mode, busy_timeout pragma, and
// transactional writes throughout.
package statestore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/messaged/internal/errs"
)

// Store wraps the daemon's single *sql.DB. Writes are serialized per table
// via SQL transactions; reads may run concurrently (WAL mode).
type Store struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open creates (if needed) and opens the SQLite database at path, applying
// the schema/migration sequence. path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("statestore: creating db dir: %w", err)
		}
	}

	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_journal=WAL&_busy_timeout=5000&_foreign_keys=1", path)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", errs.ErrStorage, path, err)
	}

	// SQLite has no real concurrent-writer story; one connection avoids
	// SQLITE_BUSY storms under the WAL journal's single-writer rule.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: pinging %s: %v", errs.ErrStorage, path, err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: migrating %s: %v", errs.ErrStorage, path, err)
	}

	return s, nil
}

// DB returns the underlying *sql.DB for callers that need raw access
// (tests, doctor diagnostics).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path ("" / ":memory:" for in-memory stores).
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// wrapDBError tags a database/sql error as a StorageError with an
// operation label.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", errs.ErrStorage, op, err)
}
