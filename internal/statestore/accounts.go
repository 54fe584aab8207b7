package statestore

import (
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/steveyegge/messaged/internal/model"
)

// UpsertAccount inserts acct if its id is new, or merges its identities into
// the existing row otherwise. Name and DID are overwritten when the incoming
// value is non-empty; identities are merged by (platform, handle), never
// dropped.
func (s *Store) UpsertAccount(acct model.Account) error {
	tx, err := s.db.Begin()
	if err != nil {
		return wrapDBError("upsert account begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := txGetAccount(tx, acct.ID)
	if err != nil {
		return wrapDBError("upsert account lookup", err)
	}

	if existing == nil {
		identitiesJSON, err := json.Marshal(acct.Identities)
		if err != nil {
			return wrapDBError("marshal identities", err)
		}
		if _, err := tx.Exec(`
			INSERT INTO accounts (id, did, name, identities_json) VALUES (?, ?, ?, ?)
		`, acct.ID, nullIfEmpty(acct.DID), nullIfEmpty(acct.Name), string(identitiesJSON)); err != nil {
			return wrapDBError("insert account", err)
		}
		return wrapDBError("upsert account commit", tx.Commit())
	}

	merged := mergeIdentities(existing.Identities, acct.Identities)
	identitiesJSON, err := json.Marshal(merged)
	if err != nil {
		return wrapDBError("marshal merged identities", err)
	}

	did := existing.DID
	if acct.DID != "" {
		did = acct.DID
	}
	name := existing.Name
	if acct.Name != "" {
		name = acct.Name
	}

	if _, err := tx.Exec(`
		UPDATE accounts SET did = ?, name = ?, identities_json = ? WHERE id = ?
	`, nullIfEmpty(did), nullIfEmpty(name), string(identitiesJSON), acct.ID); err != nil {
		return wrapDBError("update account", err)
	}
	return wrapDBError("upsert account commit", tx.Commit())
}

func mergeIdentities(existing, incoming []model.Identity) []model.Identity {
	key := func(id model.Identity) string { return id.Platform + "\x1f" + id.Handle }
	byKey := make(map[string]model.Identity, len(existing))
	order := make([]string, 0, len(existing))
	for _, id := range existing {
		k := key(id)
		byKey[k] = id
		order = append(order, k)
	}
	for _, id := range incoming {
		k := key(id)
		if _, ok := byKey[k]; !ok {
			order = append(order, k)
		} else if id.Verified {
			// Verification status can only be gained, never lost silently.
			existingID := byKey[k]
			existingID.Verified = true
			byKey[k] = existingID
			continue
		}
		byKey[k] = id
	}
	merged := make([]model.Identity, 0, len(order))
	for _, k := range order {
		merged = append(merged, byKey[k])
	}
	return merged
}

// GetAccount returns the account with the given id, or nil if unknown.
func (s *Store) GetAccount(id string) (*model.Account, error) {
	acct, err := txGetAccount(s.db, id)
	return acct, wrapDBError("get account", err)
}

func txGetAccount(q querier, id string) (*model.Account, error) {
	row := q.QueryRow(`SELECT id, did, name, identities_json FROM accounts WHERE id = ?`, id)
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return acct, err
}

func scanAccount(row rowScanner) (*model.Account, error) {
	var acct model.Account
	var did, name sql.NullString
	var identitiesJSON string

	if err := row.Scan(&acct.ID, &did, &name, &identitiesJSON); err != nil {
		return nil, err
	}
	acct.DID = did.String
	acct.Name = name.String
	if identitiesJSON != "" {
		if err := json.Unmarshal([]byte(identitiesJSON), &acct.Identities); err != nil {
			return nil, err
		}
	}
	return &acct, nil
}
