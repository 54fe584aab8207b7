package statestore

import (
	"database/sql"
	"errors"
)

// LinkEmailMessageThread records that messageID belongs to threadID,
// surviving restarts of the threading engine's message_id→thread map.
func (s *Store) LinkEmailMessageThread(messageID, threadID string) error {
	_, err := s.db.Exec(`
		INSERT INTO email_thread_links (message_id, thread_id) VALUES (?, ?)
		ON CONFLICT (message_id) DO UPDATE SET thread_id = excluded.thread_id
	`, messageID, threadID)
	return wrapDBError("link email message thread", err)
}

// ThreadForEmailMessage returns the thread id linked to messageID, or ""
// if none.
func (s *Store) ThreadForEmailMessage(messageID string) (string, error) {
	var threadID string
	err := s.db.QueryRow(`SELECT thread_id FROM email_thread_links WHERE message_id = ?`, messageID).Scan(&threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return threadID, wrapDBError("thread for email message", err)
}

// LinkEmailSubjectThread records the (subject, participants) fallback
// mapping used when References/In-Reply-To fail to locate a thread.
func (s *Store) LinkEmailSubjectThread(subjectKey, participantsKey, threadID string) error {
	_, err := s.db.Exec(`
		INSERT INTO email_subject_thread_links (subject_key, participants_key, thread_id) VALUES (?, ?, ?)
		ON CONFLICT (subject_key, participants_key) DO UPDATE SET thread_id = excluded.thread_id
	`, subjectKey, participantsKey, threadID)
	return wrapDBError("link email subject thread", err)
}

// ThreadForEmailSubject returns the thread id linked to (subjectKey,
// participantsKey), or "" if none.
func (s *Store) ThreadForEmailSubject(subjectKey, participantsKey string) (string, error) {
	var threadID string
	err := s.db.QueryRow(`
		SELECT thread_id FROM email_subject_thread_links WHERE subject_key = ? AND participants_key = ?
	`, subjectKey, participantsKey).Scan(&threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return threadID, wrapDBError("thread for email subject", err)
}
