package statestore

import (
	"database/sql"
	"errors"
	"time"

	"github.com/steveyegge/messaged/internal/model"
)

// PlatformStatePatch describes the fields SavePlatformState should update.
// Zero-value fields (nil pointers, empty strings) leave the corresponding
// column untouched except where noted.
type PlatformStatePatch struct {
	Status            *model.PlatformStatus
	LastConnected     *time.Time
	LastMessage       *time.Time
	LastError         *string
	// IncrementErrorCount and IncrementMessageCount are additive: history of
	// error_count increments is never deleted, only ever added to.
	IncrementErrorCount   int
	IncrementMessageCount int
	ReconnectAttempts     *int
}

// SavePlatformState upserts platform_state for platform, applying patch.
// error_count and message_count only ever move forward via the Increment*
// fields; nothing in this contract can decrement them except an explicit
// ReconnectAttempts reset (which only touches reconnect_attempts).
func (s *Store) SavePlatformState(platform string, patch PlatformStatePatch) error {
	tx, err := s.db.Begin()
	if err != nil {
		return wrapDBError("save platform state begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()

	var dummy int
	lookupErr := tx.QueryRow(`SELECT 1 FROM platform_state WHERE platform = ?`, platform).Scan(&dummy)
	if lookupErr != nil && !errors.Is(lookupErr, sql.ErrNoRows) {
		return wrapDBError("save platform state lookup", lookupErr)
	}
	exists := lookupErr == nil

	if !exists {
		status := model.PlatformStopped
		if patch.Status != nil {
			status = *patch.Status
		}
		if _, err := tx.Exec(`
			INSERT INTO platform_state (platform, status, error_count, message_count, reconnect_attempts, updated_at)
			VALUES (?, ?, 0, 0, 0, ?)
		`, platform, status, now.UnixMilli()); err != nil {
			return wrapDBError("save platform state insert", err)
		}
	}

	if patch.Status != nil {
		if _, err := tx.Exec(`UPDATE platform_state SET status = ? WHERE platform = ?`, *patch.Status, platform); err != nil {
			return wrapDBError("save platform state status", err)
		}
	}
	if patch.LastConnected != nil {
		if _, err := tx.Exec(`UPDATE platform_state SET last_connected = ? WHERE platform = ?`, patch.LastConnected.UnixMilli(), platform); err != nil {
			return wrapDBError("save platform state last_connected", err)
		}
	}
	if patch.LastMessage != nil {
		if _, err := tx.Exec(`UPDATE platform_state SET last_message = ? WHERE platform = ?`, patch.LastMessage.UnixMilli(), platform); err != nil {
			return wrapDBError("save platform state last_message", err)
		}
	}
	if patch.LastError != nil {
		if _, err := tx.Exec(`UPDATE platform_state SET last_error = ? WHERE platform = ?`, *patch.LastError, platform); err != nil {
			return wrapDBError("save platform state last_error", err)
		}
	}
	if patch.IncrementErrorCount != 0 {
		if _, err := tx.Exec(`UPDATE platform_state SET error_count = error_count + ? WHERE platform = ?`, patch.IncrementErrorCount, platform); err != nil {
			return wrapDBError("save platform state error_count", err)
		}
	}
	if patch.IncrementMessageCount != 0 {
		if _, err := tx.Exec(`UPDATE platform_state SET message_count = message_count + ? WHERE platform = ?`, patch.IncrementMessageCount, platform); err != nil {
			return wrapDBError("save platform state message_count", err)
		}
	}
	if patch.ReconnectAttempts != nil {
		if _, err := tx.Exec(`UPDATE platform_state SET reconnect_attempts = ? WHERE platform = ?`, *patch.ReconnectAttempts, platform); err != nil {
			return wrapDBError("save platform state reconnect_attempts", err)
		}
	}
	if _, err := tx.Exec(`UPDATE platform_state SET updated_at = ? WHERE platform = ?`, now.UnixMilli(), platform); err != nil {
		return wrapDBError("save platform state updated_at", err)
	}

	return wrapDBError("save platform state commit", tx.Commit())
}

// LoadPlatformState returns the state row for platform, or nil if none
// exists yet.
func (s *Store) LoadPlatformState(platform string) (*model.PlatformState, error) {
	row := s.db.QueryRow(`
		SELECT platform, status, last_connected, last_message, last_error,
		       error_count, message_count, reconnect_attempts, updated_at
		FROM platform_state WHERE platform = ?
	`, platform)
	st, err := scanPlatformState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return st, wrapDBError("load platform state", err)
}

// LoadAllPlatformStates returns every platform_state row, keyed by platform.
func (s *Store) LoadAllPlatformStates() (map[string]model.PlatformState, error) {
	rows, err := s.db.Query(`
		SELECT platform, status, last_connected, last_message, last_error,
		       error_count, message_count, reconnect_attempts, updated_at
		FROM platform_state
	`)
	if err != nil {
		return nil, wrapDBError("load all platform states", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string]model.PlatformState{}
	for rows.Next() {
		st, err := scanPlatformState(rows)
		if err != nil {
			return nil, wrapDBError("scan platform state row", err)
		}
		out[st.Platform] = *st
	}
	return out, wrapDBError("iterate platform states", rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlatformState(row rowScanner) (*model.PlatformState, error) {
	var st model.PlatformState
	var lastConnected, lastMessage sql.NullInt64
	var lastError sql.NullString
	var updatedAt int64

	if err := row.Scan(&st.Platform, &st.Status, &lastConnected, &lastMessage, &lastError,
		&st.ErrorCount, &st.MessageCount, &st.ReconnectAttempts, &updatedAt); err != nil {
		return nil, err
	}

	if lastConnected.Valid {
		t := time.UnixMilli(lastConnected.Int64)
		st.LastConnected = &t
	}
	if lastMessage.Valid {
		t := time.UnixMilli(lastMessage.Int64)
		st.LastMessage = &t
	}
	if lastError.Valid {
		st.LastError = lastError.String
	}
	st.UpdatedAt = time.UnixMilli(updatedAt)
	return &st, nil
}
