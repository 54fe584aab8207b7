package statestore

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/steveyegge/messaged/internal/model"
)

// GetOrCreateThread returns the thread with id, creating it from seed if it
// does not yet exist. The returned bool reports whether a new row was
// created.
func (s *Store) GetOrCreateThread(id string, seed model.Thread) (*model.Thread, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, false, wrapDBError("get or create thread begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := txGetThread(tx, id)
	if err != nil {
		return nil, false, wrapDBError("get or create thread lookup", err)
	}
	if existing != nil {
		return existing, false, wrapDBError("get or create thread commit", tx.Commit())
	}

	participantsJSON, err := json.Marshal(seed.Participants)
	if err != nil {
		return nil, false, wrapDBError("marshal participants", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO threads (
			id, title, participants_json, type,
			source_platform, source_platform_id, source_room_id,
			created_at, last_message_at, message_count
		) VALUES (?, ?, ?, ?, ?, ?, NULL, ?, NULL, 0)
	`, id, nullIfEmpty(seed.Title), string(participantsJSON), string(seed.Type),
		seed.Source.Platform, nullIfEmpty(seed.Source.PlatformID),
		seed.CreatedAt); err != nil {
		return nil, false, wrapDBError("insert thread", err)
	}

	created, err := txGetThread(tx, id)
	if err != nil {
		return nil, false, wrapDBError("get or create thread reread", err)
	}
	return created, true, wrapDBError("get or create thread commit", tx.Commit())
}

// GetThread returns the thread with id, or nil if unknown.
func (s *Store) GetThread(id string) (*model.Thread, error) {
	t, err := txGetThread(s.db, id)
	return t, wrapDBError("get thread", err)
}

func txGetThread(q querier, id string) (*model.Thread, error) {
	row := q.QueryRow(`
		SELECT id, title, participants_json, type, source_platform,
		       source_platform_id, source_room_id, created_at, last_message_at, message_count
		FROM threads WHERE id = ?
	`, id)
	t, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func scanThread(row rowScanner) (*model.Thread, error) {
	var t model.Thread
	var title, sourcePlatformID, sourceRoomID sql.NullString
	var lastMessageAt sql.NullInt64
	var participantsJSON string
	var threadType string

	if err := row.Scan(&t.ID, &title, &participantsJSON, &threadType, &t.Source.Platform,
		&sourcePlatformID, &sourceRoomID, &t.CreatedAt, &lastMessageAt, &t.MessageCount); err != nil {
		return nil, err
	}

	t.Title = title.String
	t.Type = model.ThreadType(threadType)
	t.Source.PlatformID = sourcePlatformID.String
	if lastMessageAt.Valid {
		t.LastMessageAt = lastMessageAt.Int64
	}
	if participantsJSON != "" {
		if err := json.Unmarshal([]byte(participantsJSON), &t.Participants); err != nil {
			return nil, err
		}
	}
	_ = sourceRoomID // room id is carried on messages.room_id, not duplicated onto Thread
	return &t, nil
}
