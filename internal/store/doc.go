// Package store provides SQLite-backed durable storage for wapplibre.
//
// One database file holds:
//   - entity: schema-typed records keyed by (type, id)
//   - entity_rel: named relations between entities
//   - entity_schema: schema documents keyed by name
//   - event: the propagation queue drained by the engine worker
//
// The search projection is deliberately NOT stored here: it lives in its
// own file (see package search) and is kept eventually consistent by the
// write pipeline.
//
// # Critical Patterns
//
// Insert, never upsert, for entities:
//   - A second PutEntity for the same (type, id) is a Conflict, never a
//     silent no-op or overwrite
//
// Fixed-width identifiers:
//   - Entity, relation and event ids are stored as 16-byte BLOBs
//
// Queue ordering:
//   - PendingEvents returns events ORDER BY seq ASC
//   - RemoveEvents deletes a whole delivered batch in one statement
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Every database failure is returned as an errs.Error; I/O problems carry
// errs.CodeTransient.
package store
