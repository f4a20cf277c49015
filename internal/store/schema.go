package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/apruden/wapplibre-server/internal/errs"
)

// PutSchema stores a schema document under name, replacing any previous
// document with the same name. model is the canonical JSON of the model.
// The schema generation is bumped in the same transaction.
func (s *Store) PutSchema(ctx context.Context, name string, model []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Transient("put schema: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entity_schema (name, data)
		VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data
	`, name, string(model))
	if err != nil {
		if isCheckViolation(err) {
			return errs.Validation("schema %s: model is not a JSON document", name)
		}
		return errs.Transient("put schema", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE schema_generation SET generation = generation + 1 WHERE id = 1
	`); err != nil {
		return errs.Transient("put schema: bump generation", err)
	}

	if err := tx.Commit(); err != nil {
		return errs.Transient("put schema: commit", err)
	}
	return nil
}

// SchemaGeneration returns a counter that changes whenever any schema is
// written, by this process or another one sharing the database file.
func (s *Store) SchemaGeneration(ctx context.Context) (int64, error) {
	var gen int64
	err := s.db.QueryRowContext(ctx, `
		SELECT generation FROM schema_generation WHERE id = 1
	`).Scan(&gen)
	if err != nil {
		return 0, errs.Transient("schema generation", err)
	}
	return gen, nil
}

// GetSchema returns the stored model of the named schema.
// Returns a NotFound error when no such schema exists.
func (s *Store) GetSchema(ctx context.Context, name string) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM entity_schema WHERE name = ?
	`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("schema %q not found", name)
	}
	if err != nil {
		return nil, errs.Transient("get schema", err)
	}
	return []byte(data), nil
}

// ListSchemas returns the names of all stored schemas in byte order.
func (s *Store) ListSchemas(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM entity_schema ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, errs.Transient("list schemas", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.Transient("list schemas", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Transient("list schemas", err)
	}
	return names, nil
}
