package statestore

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/steveyegge/messaged/internal/model"
)

// InsertMessage stores msg if its content-address id is not already present.
// It reports whether a new row was written (false means the message was
// already known and the call only merged tags and updated imported_at).
func (s *Store) InsertMessage(msg model.Message) (inserted bool, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, wrapDBError("insert message begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := txGetMessage(tx, msg.ID)
	if err != nil {
		return false, wrapDBError("insert message lookup", err)
	}
	if existing != nil {
		merged := mergeTags(existing.Tags, msg.Tags)
		tagsJSON, err := json.Marshal(merged)
		if err != nil {
			return false, wrapDBError("marshal merged tags", err)
		}
		if _, err := tx.Exec(`UPDATE messages SET tags_json = ?, imported_at = ? WHERE id = ?`,
			string(tagsJSON), msg.ImportedAt, msg.ID); err != nil {
			return false, wrapDBError("update message tags", err)
		}
		return false, wrapDBError("insert message commit", tx.Commit())
	}

	mentionsJSON, err := json.Marshal(msg.Refs.Mentions)
	if err != nil {
		return false, wrapDBError("marshal mentions", err)
	}
	tagsJSON, err := json.Marshal(msg.Tags)
	if err != nil {
		return false, wrapDBError("marshal tags", err)
	}

	_, err = tx.Exec(`
		INSERT INTO messages (
			id, account_id, author_name, author_handle, author_did,
			created_at, imported_at, kind, content, title,
			thread_id, reply_to, room_id, mentions_json,
			source_platform, source_platform_id, source_url, tags_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.AccountID, nullIfEmpty(msg.Author.Name), nullIfEmpty(msg.Author.Handle), nullIfEmpty(msg.Author.DID),
		msg.CreatedAt, msg.ImportedAt, int(msg.Kind), msg.Content, nullIfEmpty(msg.Title),
		nullIfEmpty(msg.Refs.ThreadID), nullIfEmpty(msg.Refs.ReplyTo), nullIfEmpty(msg.Refs.RoomID), string(mentionsJSON),
		msg.Source.Platform, nullIfEmpty(msg.Source.PlatformID), nullIfEmpty(msg.Source.URL), string(tagsJSON))
	if err != nil {
		return false, wrapDBError("insert message", err)
	}

	if msg.Refs.ThreadID != "" {
		if _, err := tx.Exec(`
			UPDATE threads SET message_count = message_count + 1,
				last_message_at = CASE WHEN last_message_at IS NULL OR last_message_at < ? THEN ? ELSE last_message_at END
			WHERE id = ?
		`, msg.CreatedAt, msg.CreatedAt, msg.Refs.ThreadID); err != nil {
			return false, wrapDBError("update thread counters", err)
		}
	}

	return true, wrapDBError("insert message commit", tx.Commit())
}

// mergeTags appends any tag from incoming not already present in existing,
// by value equality; existing tags are never dropped or reordered.
func mergeTags(existing, incoming []model.Tag) []model.Tag {
	seen := make(map[string]bool, len(existing))
	key := func(t model.Tag) string {
		data, _ := json.Marshal(t)
		return string(data)
	}
	for _, t := range existing {
		seen[key(t)] = true
	}
	merged := append([]model.Tag{}, existing...)
	for _, t := range incoming {
		k := key(t)
		if !seen[k] {
			seen[k] = true
			merged = append(merged, t)
		}
	}
	return merged
}

// GetMessage returns the message with the given content-address id, or nil
// if not stored.
func (s *Store) GetMessage(id string) (*model.Message, error) {
	msg, err := txGetMessage(s.db, id)
	return msg, wrapDBError("get message", err)
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func txGetMessage(q querier, id string) (*model.Message, error) {
	row := q.QueryRow(`
		SELECT id, account_id, author_name, author_handle, author_did,
		       created_at, imported_at, kind, content, title,
		       thread_id, reply_to, room_id, mentions_json,
		       source_platform, source_platform_id, source_url, tags_json
		FROM messages WHERE id = ?
	`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

func scanMessage(row rowScanner) (*model.Message, error) {
	var msg model.Message
	var authorName, authorHandle, authorDID sql.NullString
	var title, threadID, replyTo, roomID sql.NullString
	var mentionsJSON sql.NullString
	var sourcePlatformID, sourceURL sql.NullString
	var tagsJSON sql.NullString
	var kind int

	if err := row.Scan(&msg.ID, &msg.AccountID, &authorName, &authorHandle, &authorDID,
		&msg.CreatedAt, &msg.ImportedAt, &kind, &msg.Content, &title,
		&threadID, &replyTo, &roomID, &mentionsJSON,
		&msg.Source.Platform, &sourcePlatformID, &sourceURL, &tagsJSON); err != nil {
		return nil, err
	}

	msg.Kind = model.Kind(kind)
	msg.Author = model.Author{Name: authorName.String, Handle: authorHandle.String, DID: authorDID.String}
	msg.Title = title.String
	msg.Refs = model.Refs{ThreadID: threadID.String, ReplyTo: replyTo.String, RoomID: roomID.String}
	msg.Source.PlatformID = sourcePlatformID.String
	msg.Source.URL = sourceURL.String

	if mentionsJSON.Valid && mentionsJSON.String != "" {
		if err := json.Unmarshal([]byte(mentionsJSON.String), &msg.Refs.Mentions); err != nil {
			return nil, err
		}
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &msg.Tags); err != nil {
			return nil, err
		}
	}

	return &msg, nil
}

// SearchResult is one FTS5 match, ranked by bm25 relevance (lower is better,
// matching SQLite's convention).
type SearchResult struct {
	Message model.Message
	Rank    float64
}

// SearchMessages runs a full-text query against content, title, and tags,
// returning up to limit results ordered by relevance.
func (s *Store) SearchMessages(query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT m.id, m.account_id, m.author_name, m.author_handle, m.author_did,
		       m.created_at, m.imported_at, m.kind, m.content, m.title,
		       m.thread_id, m.reply_to, m.room_id, m.mentions_json,
		       m.source_platform, m.source_platform_id, m.source_url, m.tags_json,
		       bm25(messages_fts) AS rank
		FROM messages_fts
		JOIN messages m ON m.id = messages_fts.id
		WHERE messages_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, wrapDBError("search messages", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SearchResult
	for rows.Next() {
		var rank float64
		msg, err := scanMessageWithRank(rows, &rank)
		if err != nil {
			return nil, wrapDBError("scan search result", err)
		}
		out = append(out, SearchResult{Message: *msg, Rank: rank})
	}
	return out, wrapDBError("iterate search results", rows.Err())
}

func scanMessageWithRank(rows *sql.Rows, rank *float64) (*model.Message, error) {
	var msg model.Message
	var authorName, authorHandle, authorDID sql.NullString
	var title, threadID, replyTo, roomID sql.NullString
	var mentionsJSON sql.NullString
	var sourcePlatformID, sourceURL sql.NullString
	var tagsJSON sql.NullString
	var kind int

	if err := rows.Scan(&msg.ID, &msg.AccountID, &authorName, &authorHandle, &authorDID,
		&msg.CreatedAt, &msg.ImportedAt, &kind, &msg.Content, &title,
		&threadID, &replyTo, &roomID, &mentionsJSON,
		&msg.Source.Platform, &sourcePlatformID, &sourceURL, &tagsJSON, rank); err != nil {
		return nil, err
	}

	msg.Kind = model.Kind(kind)
	msg.Author = model.Author{Name: authorName.String, Handle: authorHandle.String, DID: authorDID.String}
	msg.Title = title.String
	msg.Refs = model.Refs{ThreadID: threadID.String, ReplyTo: replyTo.String, RoomID: roomID.String}
	msg.Source.PlatformID = sourcePlatformID.String
	msg.Source.URL = sourceURL.String

	if mentionsJSON.Valid && mentionsJSON.String != "" {
		if err := json.Unmarshal([]byte(mentionsJSON.String), &msg.Refs.Mentions); err != nil {
			return nil, err
		}
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &msg.Tags); err != nil {
			return nil, err
		}
	}

	return &msg, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
