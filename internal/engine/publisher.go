package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/apruden/wapplibre-server/internal/errs"
)

// Appender is the producer side of the durable event queue.
type Appender interface {
	AppendEvent(ctx context.Context, id uuid.UUID, data json.RawMessage) (int64, error)
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithIDGenerator overrides the event id generator.
func WithIDGenerator(gen IDGenerator) PublisherOption {
	return func(p *Publisher) {
		p.ids = gen
	}
}

// Publisher appends events to the queue and wakes the worker.
// Safe for concurrent use.
type Publisher struct {
	queue  Appender
	signal *Signal
	ids    IDGenerator
}

// NewPublisher creates a Publisher that notifies signal after each append.
func NewPublisher(queue Appender, signal *Signal, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		queue:  queue,
		signal: signal,
		ids:    UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish durably queues data as a new event and returns its id.
// The worker is notified only after the event is committed.
func (p *Publisher) Publish(ctx context.Context, data json.RawMessage) (uuid.UUID, error) {
	if !json.Valid(data) {
		return uuid.Nil, errs.Validation("event data is not a JSON document")
	}

	id := p.ids.Generate()
	seq, err := p.queue.AppendEvent(ctx, id, data)
	if err != nil {
		return uuid.Nil, fmt.Errorf("publish event %s: %w", id, err)
	}
	p.signal.Notify()

	slog.Debug("event published", "id", id, "seq", seq)
	return id, nil
}
