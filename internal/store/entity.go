package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/apruden/wapplibre-server/internal/errs"
	"github.com/apruden/wapplibre-server/internal/ir"
)

// maxIDsPerQuery bounds the number of bound parameters in one IN clause.
const maxIDsPerQuery = 500

// PutEntity inserts an entity keyed by (typ, id).
//
// A second insert for the same key fails with a Conflict error; existing
// records are never overwritten. Data must be a valid JSON document.
func (s *Store) PutEntity(ctx context.Context, typ string, id uuid.UUID, data json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity (type, id, data)
		VALUES (?, ?, ?)
	`, typ, id[:], string(data))
	if err != nil {
		switch {
		case isDuplicateKey(err):
			return errs.Conflict("entity %s/%s already exists", typ, id)
		case isCheckViolation(err):
			return errs.Validation("entity %s/%s: data is not a JSON document", typ, id)
		}
		return errs.Transient("put entity", err)
	}
	return nil
}

// GetEntity returns the data stored under (typ, id).
// Returns a NotFound error when no such entity exists.
func (s *Store) GetEntity(ctx context.Context, typ string, id uuid.UUID) (json.RawMessage, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM entity WHERE type = ? AND id = ?
	`, typ, id[:]).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("entity %s/%s not found", typ, id)
	}
	if err != nil {
		return nil, errs.Transient("get entity", err)
	}
	return json.RawMessage(data), nil
}

// GetEntitiesByIDs returns the entities of type typ whose id is in ids.
//
// Results follow the order of ids. Ids with no matching record are omitted
// without error, and a repeated id yields its entity once.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) GetEntitiesByIDs(ctx context.Context, typ string, ids []uuid.UUID) ([]ir.Entity, error) {
	found := make(map[uuid.UUID]json.RawMessage, len(ids))
	for start := 0; start < len(ids); start += maxIDsPerQuery {
		end := min(start+maxIDsPerQuery, len(ids))
		if err := s.loadEntities(ctx, typ, ids[start:end], found); err != nil {
			return nil, err
		}
	}

	entities := make([]ir.Entity, 0, len(found))
	for _, id := range ids {
		data, ok := found[id]
		if !ok {
			continue
		}
		entities = append(entities, ir.Entity{ID: id, Type: typ, Data: data})
		delete(found, id)
	}
	return entities, nil
}

// loadEntities fills found with the entities of one IN-clause chunk.
func (s *Store) loadEntities(ctx context.Context, typ string, ids []uuid.UUID, found map[uuid.UUID]json.RawMessage) error {
	args := append([]any{typ}, blobIDs(ids)...)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, data FROM entity
		WHERE type = ? AND id IN (`+placeholders(len(ids))+`)
	`, args...)
	if err != nil {
		return errs.Transient("get entities", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rawID []byte
			data  string
		)
		if err := rows.Scan(&rawID, &data); err != nil {
			return errs.Transient("scan entity", err)
		}
		id, err := parseBlobID(rawID)
		if err != nil {
			return errs.Transient("scan entity", err)
		}
		found[id] = json.RawMessage(data)
	}
	if err := rows.Err(); err != nil {
		return errs.Transient("iterate entities", err)
	}
	return nil
}

// ScanEntities returns up to limit entities whose rowid is greater than
// after, ordered by rowid, together with the rowid of the last one.
//
// Pass 0 to start from the beginning and the returned cursor to continue.
// An empty page means the scan is complete.
func (s *Store) ScanEntities(ctx context.Context, after int64, limit int) ([]ir.Entity, int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rowid, type, id, data FROM entity
		WHERE rowid > ?
		ORDER BY rowid ASC
		LIMIT ?
	`, after, limit)
	if err != nil {
		return nil, after, errs.Transient("scan entities", err)
	}
	defer rows.Close()

	entities := []ir.Entity{}
	cursor := after
	for rows.Next() {
		var (
			e     ir.Entity
			rawID []byte
			data  string
		)
		if err := rows.Scan(&cursor, &e.Type, &rawID, &data); err != nil {
			return nil, after, errs.Transient("scan entities", err)
		}
		if e.ID, err = parseBlobID(rawID); err != nil {
			return nil, after, errs.Transient("scan entities", err)
		}
		e.Data = json.RawMessage(data)
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, after, errs.Transient("scan entities", err)
	}
	return entities, cursor, nil
}

// CountEntities returns the number of stored entities.
func (s *Store) CountEntities(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entity`).Scan(&n); err != nil {
		return 0, errs.Transient("count entities", err)
	}
	return n, nil
}
