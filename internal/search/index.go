// Package search maintains the full-text projection of stored entities.
//
// The projection lives in its own SQLite file, separate from the primary
// store. It holds only an id per document plus the indexed text; callers
// reload the documents themselves from the store. The projection is
// eventually consistent with the store and can be rebuilt at any time by
// re-indexing every entity.
package search

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/apruden/wapplibre-server/internal/errs"
	"github.com/apruden/wapplibre-server/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Index is a full-text index over JSON documents keyed by string id.
// Safe for concurrent use.
type Index struct {
	db *sql.DB
}

// Open creates or opens the index database at path.
func Open(path string) (*Index, error) {
	db, err := store.OpenDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the index database.
func (ix *Index) Close() error {
	if ix.db == nil {
		return nil
	}
	return ix.db.Close()
}

// Index adds or replaces the document stored under id.
//
// The write is committed before Index returns. data must be a JSON
// document; its keys and scalar values become the searchable text.
func (ix *Index) Index(ctx context.Context, id string, data []byte) error {
	body, err := extractText(data)
	if err != nil {
		return errs.Validation("index %s: %v", id, err)
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Transient("index: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id) VALUES (?)
		ON CONFLICT(id) DO NOTHING
	`, id); err != nil {
		return errs.Transient("index: upsert document", err)
	}

	var docID int64
	if err := tx.QueryRowContext(ctx, `
		SELECT rowid FROM documents WHERE id = ?
	`, id).Scan(&docID); err != nil {
		return errs.Transient("index: lookup document", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM documents_fts WHERE docid = ?
	`, docID); err != nil {
		return errs.Transient("index: replace body", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents_fts (docid, body) VALUES (?, ?)
	`, docID, body); err != nil {
		return errs.Transient("index: write body", err)
	}

	if err := tx.Commit(); err != nil {
		return errs.Transient("index: commit", err)
	}
	return nil
}

// Count returns the number of indexed documents.
func (ix *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, errs.Transient("count documents", err)
	}
	return n, nil
}

type hit struct {
	id    string
	score float64
}

// Search returns the ids of the documents matching query, best match first.
//
// query uses SQLite full-text syntax: bare words, "quoted phrases",
// prefix* terms and the AND, OR, NOT and NEAR operators. A blank query
// matches nothing. A query that cannot be parsed is a Validation error.
// Returns an empty slice (not nil) when nothing matches.
func (ix *Index) Search(ctx context.Context, query string) ([]string, error) {
	if strings.TrimSpace(query) == "" {
		return []string{}, nil
	}

	rows, err := ix.db.QueryContext(ctx, `
		SELECT d.id, matchinfo(documents_fts, 'pcx')
		FROM documents_fts
		JOIN documents d ON d.rowid = documents_fts.docid
		WHERE documents_fts MATCH ?
	`, foldQuery(query))
	if err != nil {
		return nil, classify(query, err)
	}
	defer rows.Close()

	var hits []hit
	for rows.Next() {
		var (
			h    hit
			info []byte
		)
		if err := rows.Scan(&h.id, &info); err != nil {
			return nil, errs.Transient("search: scan", err)
		}
		h.score = score(info)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(query, err)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].id < hits[j].id
	})

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids, nil
}

// score ranks a row from its matchinfo 'pcx' blob: for each phrase, the
// share of that phrase's hits across the index that fall in this row.
func score(info []byte) float64 {
	n := len(info) / 4
	if n < 2 {
		return 0
	}
	at := func(i int) uint32 {
		return binary.NativeEndian.Uint32(info[i*4:])
	}

	phrases, cols := int(at(0)), int(at(1))
	var total float64
	for p := 0; p < phrases; p++ {
		for c := 0; c < cols; c++ {
			base := 2 + 3*(c+p*cols)
			if base+1 >= n {
				return total
			}
			inRow, inAll := at(base), at(base+1)
			if inAll > 0 {
				total += float64(inRow) / float64(inAll)
			}
		}
	}
	return total
}

// classify maps a failed search to the error taxonomy: malformed queries
// are the caller's fault, anything else is a store failure.
func classify(query string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrError &&
		strings.Contains(sqliteErr.Error(), "MATCH") {
		return errs.Validation("invalid search query %q", query)
	}
	return errs.Transient("search", err)
}
