package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/apruden/wapplibre-server/internal/engine"
	"github.com/apruden/wapplibre-server/internal/pipeline"
	"github.com/apruden/wapplibre-server/internal/registry"
	"github.com/apruden/wapplibre-server/internal/search"
	"github.com/apruden/wapplibre-server/internal/store"
)

// app is the set of components shared by the commands.
type app struct {
	store    *store.Store
	index    *search.Index
	registry *registry.Registry
	signal   *engine.Signal
	service  *pipeline.Service
}

// openApp opens the stores under cfg.DataDir and wires the pipeline.
func openApp(cfg Config) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	st, err := store.Open(cfg.EntityDBPath())
	if err != nil {
		return nil, fmt.Errorf("open entity store: %w", err)
	}
	ix, err := search.Open(cfg.IndexDBPath())
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open search index: %w", err)
	}

	reg := registry.New(st)
	signal := engine.NewSignal()
	publisher := engine.NewPublisher(st, signal)

	return &app{
		store:    st,
		index:    ix,
		registry: reg,
		signal:   signal,
		service: pipeline.New(st, reg, ix, publisher,
			pipeline.WithWritePropagation(cfg.PropagateWrites)),
	}, nil
}

// Close releases every component.
func (a *app) Close() error {
	return errors.Join(a.registry.Close(), a.index.Close(), a.store.Close())
}
