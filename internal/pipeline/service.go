// Package pipeline implements the entity write pipeline and the read
// operations exposed to clients.
//
// A write is committed to the entity store first; that write decides the
// outcome of the call. The search projection and the propagation event
// that follow are best effort: their failures are logged and never undo or
// fail the write. Reconcile re-projects the store into the index to repair
// any divergence.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/apruden/wapplibre-server/internal/errs"
	"github.com/apruden/wapplibre-server/internal/ir"
)

// EventKindEntitySaved is the kind of the event published after a write
// when write propagation is enabled.
const EventKindEntitySaved = "entity.saved"

// EntityStore is the authoritative entity storage.
type EntityStore interface {
	PutEntity(ctx context.Context, typ string, id uuid.UUID, data json.RawMessage) error
	GetEntity(ctx context.Context, typ string, id uuid.UUID) (json.RawMessage, error)
	GetEntitiesByIDs(ctx context.Context, typ string, ids []uuid.UUID) ([]ir.Entity, error)
	ScanEntities(ctx context.Context, after int64, limit int) ([]ir.Entity, int64, error)
}

// SchemaRegistry stores and resolves schemas.
type SchemaRegistry interface {
	SaveSchema(ctx context.Context, name string, model ir.Value) error
	ResolveSchema(ctx context.Context, name string) (*ir.ResolvedSchema, error)
}

// SearchIndex is the full-text projection of the entity store.
type SearchIndex interface {
	Index(ctx context.Context, id string, data []byte) error
	Search(ctx context.Context, query string) ([]string, error)
}

// EventPublisher appends events to the propagation queue.
type EventPublisher interface {
	Publish(ctx context.Context, data json.RawMessage) (uuid.UUID, error)
}

// Option configures a Service.
type Option func(*Service)

// WithWritePropagation publishes an entity.saved event after every
// successful SaveEntity.
func WithWritePropagation(enabled bool) Option {
	return func(s *Service) {
		s.propagateWrites = enabled
	}
}

// Service is the entry point for every client operation.
// Safe for concurrent use.
type Service struct {
	entities  EntityStore
	schemas   SchemaRegistry
	index     SearchIndex
	publisher EventPublisher

	propagateWrites bool
}

// New creates a Service over its backing components.
func New(entities EntityStore, schemas SchemaRegistry, index SearchIndex, publisher EventPublisher, opts ...Option) *Service {
	s := &Service{
		entities:  entities,
		schemas:   schemas,
		index:     index,
		publisher: publisher,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveEntitySchema stores model under name, replacing any previous schema.
func (s *Service) SaveEntitySchema(ctx context.Context, name string, model ir.Value) error {
	return s.schemas.SaveSchema(ctx, name, model)
}

// GetEntitySchema returns the self-contained resolution of the named schema.
func (s *Service) GetEntitySchema(ctx context.Context, name string) (*ir.ResolvedSchema, error) {
	if name == "" {
		return nil, errs.Validation("schema name must not be empty")
	}
	return s.schemas.ResolveSchema(ctx, name)
}

// SaveEntity validates and stores a new entity, then projects it into the
// search index and, when enabled, publishes an entity.saved event.
//
// The store write alone decides the result: validation, conflict and store
// errors are returned and nothing else happens. Failures of the later
// steps are logged and do not affect the result.
func (s *Service) SaveEntity(ctx context.Context, typ, rawID string, data json.RawMessage) error {
	id, err := validateKey(typ, rawID)
	if err != nil {
		return err
	}
	if len(data) == 0 || !json.Valid(data) {
		return errs.Validation("entity %s/%s: data is not a JSON document", typ, id)
	}

	if err := s.entities.PutEntity(ctx, typ, id, data); err != nil {
		return err
	}

	// The entity is committed; the remaining steps must not be cut short
	// by the caller going away.
	ctx = context.WithoutCancel(ctx)

	if err := s.index.Index(ctx, documentID(typ, id), data); err != nil {
		slog.Warn("search projection failed",
			"type", typ,
			"id", id,
			"error", err,
		)
	}

	if s.propagateWrites {
		s.publishSaved(ctx, typ, id)
	}

	slog.Debug("entity saved", "type", typ, "id", id)
	return nil
}

func (s *Service) publishSaved(ctx context.Context, typ string, id uuid.UUID) {
	payload, err := json.Marshal(struct {
		Kind string `json:"kind"`
		Type string `json:"type"`
		ID   string `json:"id"`
	}{EventKindEntitySaved, typ, id.String()})
	if err != nil {
		slog.Warn("entity event encoding failed", "type", typ, "id", id, "error", err)
		return
	}
	if _, err := s.publisher.Publish(ctx, payload); err != nil {
		slog.Warn("entity event publish failed",
			"type", typ,
			"id", id,
			"error", err,
		)
	}
}

// GetEntity returns the data of the entity (typ, rawID).
func (s *Service) GetEntity(ctx context.Context, typ, rawID string) (json.RawMessage, error) {
	id, err := validateKey(typ, rawID)
	if err != nil {
		return nil, err
	}
	return s.entities.GetEntity(ctx, typ, id)
}

// GetEntities returns the data of the entities of type typ that match
// query, best match first.
//
// Matches are reloaded from the entity store, so documents whose entity is
// gone (or not yet visible) are skipped. Returns an empty slice (not nil)
// when nothing matches.
func (s *Service) GetEntities(ctx context.Context, typ, query string) ([]json.RawMessage, error) {
	if typ == "" {
		return nil, errs.Validation("entity type must not be empty")
	}

	docIDs, err := s.index.Search(ctx, query)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(docIDs))
	for _, docID := range docIDs {
		docType, id, ok := parseDocumentID(docID)
		if !ok || docType != typ {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return []json.RawMessage{}, nil
	}

	entities, err := s.entities.GetEntitiesByIDs(ctx, typ, ids)
	if err != nil {
		return nil, err
	}

	results := make([]json.RawMessage, len(entities))
	for i, e := range entities {
		results[i] = e.Data
	}
	return results, nil
}

// PublishEvent queues data for propagation and returns the event id.
func (s *Service) PublishEvent(ctx context.Context, data json.RawMessage) (uuid.UUID, error) {
	return s.publisher.Publish(ctx, data)
}

// validateKey checks an entity key and parses its id.
func validateKey(typ, rawID string) (uuid.UUID, error) {
	if typ == "" {
		return uuid.Nil, errs.Validation("entity type must not be empty")
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return uuid.Nil, errs.Validation("entity id %q is not a UUID", rawID)
	}
	return id, nil
}

// documentID is the search document id of an entity. Entities of different
// types may share an id, so the type is part of the key.
func documentID(typ string, id uuid.UUID) string {
	return typ + "/" + id.String()
}

func parseDocumentID(docID string) (string, uuid.UUID, bool) {
	i := strings.LastIndexByte(docID, '/')
	if i < 0 {
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(docID[i+1:])
	if err != nil {
		return "", uuid.Nil, false
	}
	return docID[:i], id, true
}
