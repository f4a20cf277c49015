package testutil

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/apruden/wapplibre-server/internal/engine"
	"github.com/apruden/wapplibre-server/internal/pipeline"
	"github.com/apruden/wapplibre-server/internal/registry"
	"github.com/apruden/wapplibre-server/internal/search"
	"github.com/apruden/wapplibre-server/internal/store"
)

// Stack is a complete write pipeline over SQLite files in one directory.
type Stack struct {
	Store     *store.Store
	Index     *search.Index
	Registry  *registry.Registry
	Signal    *engine.Signal
	Publisher *engine.Publisher
	Service   *pipeline.Service
}

type stackConfig struct {
	propagate bool
	ids       engine.IDGenerator
}

// StackOption configures OpenStack.
type StackOption func(*stackConfig)

// WithWritePropagation publishes an event for every saved entity.
func WithWritePropagation(enabled bool) StackOption {
	return func(c *stackConfig) {
		c.propagate = enabled
	}
}

// WithIDGenerator sets the generator of event ids.
func WithIDGenerator(gen engine.IDGenerator) StackOption {
	return func(c *stackConfig) {
		c.ids = gen
	}
}

// OpenStack opens entity.db and index.db in dir and wires the pipeline.
func OpenStack(dir string, opts ...StackOption) (*Stack, error) {
	cfg := stackConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	st, err := store.Open(filepath.Join(dir, "entity.db"))
	if err != nil {
		return nil, fmt.Errorf("open entity store: %w", err)
	}
	ix, err := search.Open(filepath.Join(dir, "index.db"))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open search index: %w", err)
	}

	var pubOpts []engine.PublisherOption
	if cfg.ids != nil {
		pubOpts = append(pubOpts, engine.WithIDGenerator(cfg.ids))
	}

	reg := registry.New(st)
	signal := engine.NewSignal()
	publisher := engine.NewPublisher(st, signal, pubOpts...)

	return &Stack{
		Store:     st,
		Index:     ix,
		Registry:  reg,
		Signal:    signal,
		Publisher: publisher,
		Service: pipeline.New(st, reg, ix, publisher,
			pipeline.WithWritePropagation(cfg.propagate)),
	}, nil
}

// Close releases every component.
func (s *Stack) Close() error {
	return errors.Join(s.Registry.Close(), s.Index.Close(), s.Store.Close())
}
