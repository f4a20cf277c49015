package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/apruden/wapplibre-server/internal/errs"
	"github.com/apruden/wapplibre-server/internal/ir"
)

// PutRelation records a named relation between two entities.
// A second relation with the same (from, to, name) is a Conflict.
func (s *Store) PutRelation(ctx context.Context, rel ir.EntityRelation) error {
	var data sql.NullString
	if len(rel.Data) > 0 {
		data = sql.NullString{String: string(rel.Data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_rel (from_entity, to_entity, name, data)
		VALUES (?, ?, ?, ?)
	`, rel.FromEntity[:], rel.ToEntity[:], rel.Name, data)
	if err != nil {
		switch {
		case isDuplicateKey(err):
			return errs.Conflict("relation %s -%s-> %s already exists", rel.FromEntity, rel.Name, rel.ToEntity)
		case isCheckViolation(err):
			return errs.Validation("relation %s: data is not a JSON document", rel.Name)
		}
		return errs.Transient("put relation", err)
	}
	return nil
}

// ListRelations returns every relation leaving from, ordered by name then
// target id.
func (s *Store) ListRelations(ctx context.Context, from uuid.UUID) ([]ir.EntityRelation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT to_entity, name, data FROM entity_rel
		WHERE from_entity = ?
		ORDER BY name COLLATE BINARY ASC, to_entity ASC
	`, from[:])
	if err != nil {
		return nil, errs.Transient("list relations", err)
	}
	defer rows.Close()

	rels := []ir.EntityRelation{}
	for rows.Next() {
		var (
			rel   = ir.EntityRelation{FromEntity: from}
			rawTo []byte
			data  sql.NullString
		)
		if err := rows.Scan(&rawTo, &rel.Name, &data); err != nil {
			return nil, errs.Transient("list relations", err)
		}
		if rel.ToEntity, err = parseBlobID(rawTo); err != nil {
			return nil, errs.Transient("list relations", err)
		}
		if data.Valid {
			rel.Data = json.RawMessage(data.String)
		}
		rels = append(rels, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Transient("list relations", err)
	}
	return rels, nil
}
