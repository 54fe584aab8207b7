package statestore

import (
	"database/sql"
	"errors"
	"time"
)

// RecordStart upserts the daemon_lifecycle singleton row marking a fresh
// start.
func (s *Store) RecordStart() error {
	_, err := s.db.Exec(`
		INSERT INTO daemon_lifecycle (id, started_at, stopped_at, clean_shutdown)
		VALUES (0, ?, NULL, NULL)
		ON CONFLICT (id) DO UPDATE SET started_at = excluded.started_at, stopped_at = NULL, clean_shutdown = NULL
	`, time.Now().UnixMilli())
	return wrapDBError("record start", err)
}

// RecordShutdown marks the daemon_lifecycle row with the stop time and
// whether the shutdown was clean (graceful) or not (crash/signal handler
// never ran to completion).
func (s *Store) RecordShutdown(clean bool) error {
	cleanInt := 0
	if clean {
		cleanInt = 1
	}
	_, err := s.db.Exec(`
		UPDATE daemon_lifecycle SET stopped_at = ?, clean_shutdown = ? WHERE id = 0
	`, time.Now().UnixMilli(), cleanInt)
	return wrapDBError("record shutdown", err)
}

// LifecycleRecord is the daemon_lifecycle singleton row.
type LifecycleRecord struct {
	StartedAt     int64
	StoppedAt     *int64
	CleanShutdown *bool
}

// LoadLifecycle returns the current lifecycle record, or nil if the daemon
// has never recorded a start.
func (s *Store) LoadLifecycle() (*LifecycleRecord, error) {
	var rec LifecycleRecord
	var stoppedAt *int64
	var cleanInt *int

	row := s.db.QueryRow(`SELECT started_at, stopped_at, clean_shutdown FROM daemon_lifecycle WHERE id = 0`)
	if err := row.Scan(&rec.StartedAt, &stoppedAt, &cleanInt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapDBError("load lifecycle", err)
	}
	rec.StoppedAt = stoppedAt
	if cleanInt != nil {
		clean := *cleanInt != 0
		rec.CleanShutdown = &clean
	}
	return &rec, nil
}
