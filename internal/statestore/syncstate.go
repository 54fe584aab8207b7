package statestore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/steveyegge/messaged/internal/model"
)

// SaveSyncState upserts the sync_state row for id.
func (s *Store) SaveSyncState(id string, wm model.Watermark, metadata string) error {
	data, err := json.Marshal(wm)
	if err != nil {
		return wrapDBError("marshal watermark", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO sync_state (id, watermark_json, metadata, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET watermark_json = excluded.watermark_json,
			metadata = excluded.metadata, updated_at = excluded.updated_at
	`, id, string(data), metadata, time.Now().UnixMilli())
	return wrapDBError("save sync state", err)
}

// LoadSyncState returns the SyncState for id, or nil if none is persisted.
func (s *Store) LoadSyncState(id string) (*model.SyncState, error) {
	row := s.db.QueryRow(`SELECT id, watermark_json, metadata, updated_at FROM sync_state WHERE id = ?`, id)
	st, err := scanSyncState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return st, wrapDBError("load sync state", err)
}

// DeleteSyncState removes the row for id, if present.
func (s *Store) DeleteSyncState(id string) error {
	_, err := s.db.Exec(`DELETE FROM sync_state WHERE id = ?`, id)
	return wrapDBError("delete sync state", err)
}

// LoadSyncStates returns every sync_state row for platform, optionally
// filtered further by source (empty matches all sources for platform).
func (s *Store) LoadSyncStates(platform, source string) ([]model.SyncState, error) {
	pattern := platform + ":"
	if source != "" {
		pattern += source + ":"
	}

	rows, err := s.db.Query(`SELECT id, watermark_json, metadata, updated_at FROM sync_state WHERE id LIKE ? || '%' ORDER BY id`, pattern)
	if err != nil {
		return nil, wrapDBError("load sync states", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.SyncState
	for rows.Next() {
		st, err := scanSyncState(rows)
		if err != nil {
			return nil, wrapDBError("scan sync state row", err)
		}
		out = append(out, *st)
	}
	return out, wrapDBError("iterate sync states", rows.Err())
}

func scanSyncState(row rowScanner) (*model.SyncState, error) {
	var st model.SyncState
	var wmJSON string
	var metadata sql.NullString
	var updatedAt int64

	if err := row.Scan(&st.ID, &wmJSON, &metadata, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(wmJSON), &st.Watermark); err != nil {
		return nil, err
	}
	if metadata.Valid {
		st.Metadata = metadata.String
	}
	st.UpdatedAt = updatedAt
	return &st, nil
}
