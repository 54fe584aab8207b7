package statestore

import (
	"database/sql"
	"fmt"
)

// currentSchemaVersion is compared against the persisted schema_version row
// so a daemon restart with an already-current schema skips DDL entirely.
const currentSchemaVersion = 2

// migration is one forward-only, idempotent step in the schema's history.
type migration struct {
	version int
	name    string
	apply   func(*sql.Tx) error
}

var migrations = []migration{
	{1, "001_initial_schema", migrateInitialSchema},
	{2, "002_content_blob_filename_index", migrateContentBlobFilenameIndex},
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		id INTEGER PRIMARY KEY CHECK (id = 0),
		version INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT version FROM schema_version WHERE id = 0`).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("reading schema_version: %w", err)
	}
	if version >= currentSchemaVersion {
		return nil
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %s: %w", m.name, err)
		}
		if err := m.apply(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("applying migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (id, version) VALUES (0, ?)
			ON CONFLICT (id) DO UPDATE SET version = excluded.version`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording schema_version after %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", m.name, err)
		}
	}

	return nil
}

func migrateInitialSchema(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS daemon_lifecycle (
			id INTEGER PRIMARY KEY CHECK (id = 0),
			started_at INTEGER,
			stopped_at INTEGER,
			clean_shutdown INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS platform_state (
			platform TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			last_connected INTEGER,
			last_message INTEGER,
			last_error TEXT,
			error_count INTEGER NOT NULL DEFAULT 0,
			message_count INTEGER NOT NULL DEFAULT 0,
			reconnect_attempts INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_state (
			id TEXT PRIMARY KEY,
			watermark_json TEXT NOT NULL,
			metadata TEXT,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			did TEXT,
			name TEXT,
			identities_json TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			title TEXT,
			participants_json TEXT NOT NULL DEFAULT '[]',
			type TEXT NOT NULL,
			source_platform TEXT NOT NULL,
			source_platform_id TEXT,
			source_room_id TEXT,
			created_at INTEGER NOT NULL,
			last_message_at INTEGER,
			message_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			author_name TEXT,
			author_handle TEXT,
			author_did TEXT,
			created_at INTEGER NOT NULL,
			imported_at INTEGER NOT NULL,
			kind INTEGER NOT NULL,
			content TEXT NOT NULL,
			title TEXT,
			thread_id TEXT,
			reply_to TEXT,
			room_id TEXT,
			mentions_json TEXT,
			source_platform TEXT NOT NULL,
			source_platform_id TEXT,
			source_url TEXT,
			tags_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_thread_created
			ON messages(thread_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_platform_platform_id
			ON messages(source_platform, source_platform_id)`,
		`CREATE TABLE IF NOT EXISTS content_blobs (
			hash TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			content_type TEXT,
			size INTEGER NOT NULL,
			data BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS email_thread_links (
			message_id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS email_subject_thread_links (
			subject_key TEXT NOT NULL,
			participants_key TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			PRIMARY KEY (subject_key, participants_key)
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
			id UNINDEXED,
			content,
			title,
			tags,
			tokenize = 'porter'
		)`,
		`CREATE TRIGGER IF NOT EXISTS messages_fts_insert AFTER INSERT ON messages BEGIN
			INSERT INTO messages_fts(id, content, title, tags)
			VALUES (new.id, new.content, new.title, new.tags_json);
		END`,
		`CREATE TRIGGER IF NOT EXISTS messages_fts_update AFTER UPDATE ON messages BEGIN
			DELETE FROM messages_fts WHERE id = old.id;
			INSERT INTO messages_fts(id, content, title, tags)
			VALUES (new.id, new.content, new.title, new.tags_json);
		END`,
		`CREATE TRIGGER IF NOT EXISTS messages_fts_delete AFTER DELETE ON messages BEGIN
			DELETE FROM messages_fts WHERE id = old.id;
		END`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

// migrateContentBlobFilenameIndex adds a lookup index over content_blobs so
// the doctor subcommand can cheaply check for filename collisions across
// hashes (two different blobs that round-trip to the same derived name).
func migrateContentBlobFilenameIndex(tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_content_blobs_filename ON content_blobs(filename)`)
	return err
}
