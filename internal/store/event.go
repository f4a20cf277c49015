package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/apruden/wapplibre-server/internal/errs"
	"github.com/apruden/wapplibre-server/internal/ir"
)

// AppendEvent adds an event to the tail of the propagation queue and
// returns its queue sequence number.
func (s *Store) AppendEvent(ctx context.Context, id uuid.UUID, data json.RawMessage) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO event (id, data) VALUES (?, ?)
	`, id[:], string(data))
	if err != nil {
		switch {
		case isDuplicateKey(err):
			return 0, errs.Conflict("event %s already queued", id)
		case isCheckViolation(err):
			return 0, errs.Validation("event %s: data is not a JSON document", id)
		}
		return 0, errs.Transient("append event", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return 0, errs.Transient("append event", err)
	}
	return seq, nil
}

// PendingEvents returns up to limit queued events in insertion order.
// Returns an empty slice (not nil) when the queue is empty.
func (s *Store) PendingEvents(ctx context.Context, limit int) ([]ir.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, data FROM event
		ORDER BY seq ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, errs.Transient("pending events", err)
	}
	defer rows.Close()

	events := []ir.Event{}
	for rows.Next() {
		var (
			ev    ir.Event
			rawID []byte
			data  string
		)
		if err := rows.Scan(&ev.Seq, &rawID, &data); err != nil {
			return nil, errs.Transient("pending events", err)
		}
		if ev.ID, err = parseBlobID(rawID); err != nil {
			return nil, errs.Transient("pending events", err)
		}
		ev.Data = json.RawMessage(data)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Transient("pending events", err)
	}
	return events, nil
}

// RemoveEvents deletes the given events from the queue in one statement.
// Ids that are not queued are ignored.
func (s *Store) RemoveEvents(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Transient("remove events: begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	for start := 0; start < len(ids); start += maxIDsPerQuery {
		end := min(start+maxIDsPerQuery, len(ids))
		chunk := ids[start:end]
		_, err := tx.ExecContext(ctx, `
			DELETE FROM event WHERE id IN (`+placeholders(len(chunk))+`)
		`, blobIDs(chunk)...)
		if err != nil {
			return errs.Transient("remove events", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Transient("remove events: commit", err)
	}
	return nil
}

// CountEvents returns the number of events waiting in the queue.
func (s *Store) CountEvents(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event`).Scan(&n); err != nil {
		return 0, errs.Transient("count events", err)
	}
	return n, nil
}
