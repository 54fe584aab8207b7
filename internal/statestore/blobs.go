package statestore

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"path/filepath"
)

// ContentBlob is an attachment or media payload stored by content hash.
// Two uploads with identical bytes collapse to one row regardless of the
// filename either upload arrived with.
type ContentBlob struct {
	Hash        string
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}

// PutBlob hashes data and stores it if not already present, returning the
// hash to reference from a Message's tags. filename is only used to derive
// a human-readable name the first time a given hash is seen.
func (s *Store) PutBlob(data []byte, filename, contentType string) (hash string, inserted bool, err error) {
	sum := sha256.Sum256(data)
	hash = hex.EncodeToString(sum[:])

	var dummy int
	lookupErr := s.db.QueryRow(`SELECT 1 FROM content_blobs WHERE hash = ?`, hash).Scan(&dummy)
	if lookupErr == nil {
		return hash, false, nil
	}
	if !errors.Is(lookupErr, sql.ErrNoRows) {
		return "", false, wrapDBError("put blob lookup", lookupErr)
	}

	name := deriveBlobFilename(hash, filename)
	_, err = s.db.Exec(`
		INSERT INTO content_blobs (hash, filename, content_type, size, data)
		VALUES (?, ?, ?, ?, ?)
	`, hash, name, nullIfEmpty(contentType), int64(len(data)), data)
	if err != nil {
		return "", false, wrapDBError("put blob insert", err)
	}
	return hash, true, nil
}

// deriveBlobFilename keeps the caller's extension (if any) but prefixes the
// name with the hash so two different uploads named "image.png" never
// collide in the filename index.
func deriveBlobFilename(hash, filename string) string {
	ext := filepath.Ext(filename)
	if ext == "" {
		return hash
	}
	return hash + ext
}

// GetBlob returns the stored blob for hash, or nil if unknown.
func (s *Store) GetBlob(hash string) (*ContentBlob, error) {
	row := s.db.QueryRow(`
		SELECT hash, filename, content_type, size, data FROM content_blobs WHERE hash = ?
	`, hash)

	var b ContentBlob
	var contentType sql.NullString
	if err := row.Scan(&b.Hash, &b.Filename, &contentType, &b.Size, &b.Data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapDBError("get blob", err)
	}
	b.ContentType = contentType.String
	return &b, nil
}

// BlobFilenameCollisions returns filenames shared by more than one distinct
// hash, which would indicate deriveBlobFilename produced an ambiguous name.
// Used by the doctor subcommand as a consistency check.
func (s *Store) BlobFilenameCollisions() (map[string][]string, error) {
	rows, err := s.db.Query(`
		SELECT filename, hash FROM content_blobs
		WHERE filename IN (SELECT filename FROM content_blobs GROUP BY filename HAVING COUNT(*) > 1)
		ORDER BY filename
	`)
	if err != nil {
		return nil, wrapDBError("blob filename collisions", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string][]string{}
	for rows.Next() {
		var filename, hash string
		if err := rows.Scan(&filename, &hash); err != nil {
			return nil, wrapDBError("scan blob collision row", err)
		}
		out[filename] = append(out[filename], hash)
	}
	return out, wrapDBError("iterate blob collisions", rows.Err())
}
