// Package registry stores schema documents and resolves the references
// between them.
//
// A schema's model may point at other stored schemas with objects of the
// form {"$ref": "address.json#"}. ResolveSchema returns a self-contained
// view in which every such reference is replaced by a local pointer and
// the referenced bodies are collected under "definitions". Cyclic
// references terminate: every schema is expanded at most once per
// resolution.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/goburrow/cache"

	"github.com/apruden/wapplibre-server/internal/errs"
	"github.com/apruden/wapplibre-server/internal/ir"
)

// Store persists schema documents as canonical JSON keyed by name.
//
// SchemaGeneration must change whenever any schema is written through
// any handle on the same storage, so that registries in other processes
// notice the write.
type Store interface {
	PutSchema(ctx context.Context, name string, model []byte) error
	GetSchema(ctx context.Context, name string) ([]byte, error)
	SchemaGeneration(ctx context.Context) (int64, error)
}

// Option configures a Registry.
type Option func(*Registry)

// WithCacheSize bounds the number of cached resolutions.
// A size of zero disables caching.
func WithCacheSize(n int) Option {
	return func(r *Registry) {
		r.cacheSize = n
	}
}

// WithCacheTTL expires cached resolutions that have not been read for d.
func WithCacheTTL(d time.Duration) Option {
	return func(r *Registry) {
		r.cacheTTL = d
	}
}

// Registry saves, loads and resolves schemas. Safe for concurrent use.
type Registry struct {
	store     Store
	cacheSize int
	cacheTTL  time.Duration
	cache     cache.Cache
}

// cachedResolution is a resolution tagged with the schema generation it
// was computed under. It is only served while that generation is current.
type cachedResolution struct {
	generation int64
	resolved   *ir.ResolvedSchema
}

// New creates a Registry backed by store.
func New(store Store, opts ...Option) *Registry {
	r := &Registry{
		store:     store,
		cacheSize: 256,
		cacheTTL:  10 * time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cacheSize > 0 {
		r.cache = cache.New(
			cache.WithMaximumSize(r.cacheSize),
			cache.WithExpireAfterAccess(r.cacheTTL),
		)
	}
	return r
}

// Close releases the resolution cache.
func (r *Registry) Close() error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Close()
}

// SaveSchema stores model under name, replacing any previous document.
// The model is not validated beyond being representable as JSON.
//
// A save changes the stored schema generation, which retires every cached
// resolution in every registry sharing the store: a change to one schema
// alters the resolution of every schema that reaches it.
func (r *Registry) SaveSchema(ctx context.Context, name string, model ir.Value) error {
	if name == "" {
		return errs.Validation("schema name must not be empty")
	}
	if model == nil {
		return errs.Validation("schema %q: model is required", name)
	}

	data, err := ir.MarshalCanonical(model)
	if err != nil {
		return errs.Validation("schema %q: %v", name, err)
	}

	if err := r.store.PutSchema(ctx, name, data); err != nil {
		return fmt.Errorf("save schema %q: %w", name, err)
	}

	if r.cache != nil {
		r.cache.InvalidateAll()
	}
	return nil
}

// GetSchema returns the stored document for name, references unresolved.
// Returns a NotFound error when no such schema exists.
func (r *Registry) GetSchema(ctx context.Context, name string) (ir.SchemaDocument, error) {
	model, err := r.load(ctx, name)
	if err != nil {
		return ir.SchemaDocument{}, err
	}
	return ir.SchemaDocument{Name: name, Model: model}, nil
}

// ResolveSchema returns the self-contained resolution of name.
//
// Returns a NotFound error when name or any schema it transitively
// references is missing. The returned value may be shared with other
// callers and must not be modified.
func (r *Registry) ResolveSchema(ctx context.Context, name string) (*ir.ResolvedSchema, error) {
	if r.cache == nil {
		return newResolver(ctx, r, name).resolve()
	}

	// Read before resolving: a save that lands during the walk moves the
	// generation past this one, so the entry below is never served.
	gen, err := r.store.SchemaGeneration(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", name, err)
	}
	if v, ok := r.cache.GetIfPresent(name); ok {
		if entry := v.(cachedResolution); entry.generation == gen {
			return entry.resolved, nil
		}
	}

	resolved, err := newResolver(ctx, r, name).resolve()
	if err != nil {
		return nil, err
	}
	r.cache.Put(name, cachedResolution{generation: gen, resolved: resolved})
	return resolved, nil
}

// load fetches and decodes the stored model of name.
func (r *Registry) load(ctx context.Context, name string) (ir.Value, error) {
	data, err := r.store.GetSchema(ctx, name)
	if err != nil {
		return nil, err
	}
	model, err := ir.Unmarshal(data)
	if err != nil {
		return nil, errs.Transient(fmt.Sprintf("decode schema %q", name), err)
	}
	return model, nil
}
