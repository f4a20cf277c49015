package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/apruden/wapplibre-server/internal/ir"
)

// Worker defaults.
const (
	DefaultBatchSize   = 50
	DefaultIdleTimeout = 30 * time.Second
	DefaultErrorPause  = 500 * time.Millisecond
)

// Queue is the consumer side of the durable event queue.
type Queue interface {
	// PendingEvents returns up to limit events in queue order.
	PendingEvents(ctx context.Context, limit int) ([]ir.Event, error)

	// RemoveEvents deletes delivered events.
	RemoveEvents(ctx context.Context, ids []uuid.UUID) error
}

// WorkerOption allows configuration of worker parameters.
type WorkerOption func(*Worker)

// WithBatchSize sets the maximum number of events fetched per batch.
//
// Default: 50 (DefaultBatchSize)
func WithBatchSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithIdleTimeout sets how long an idle worker waits for a notification
// before re-checking the queue. Zero or less waits for a notification only.
//
// Default: 30s (DefaultIdleTimeout)
func WithIdleTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.idleTimeout = d
	}
}

// WithErrorPause sets the pause after a failed batch before retrying.
//
// Default: 500ms (DefaultErrorPause)
func WithErrorPause(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.errorPause = d
	}
}

// Worker is the single consumer of the event queue.
//
// Thread-safety model:
//   - Run(): at most one active call per Worker (ErrWorkerRunning otherwise)
//   - ProcessBatch(): must not be called while Run is active
type Worker struct {
	queue  Queue
	sink   Sink
	signal *Signal

	batchSize   int
	idleTimeout time.Duration
	errorPause  time.Duration

	running atomic.Bool
}

// NewWorker creates a Worker draining queue into sink, woken by signal.
func NewWorker(queue Queue, sink Sink, signal *Signal, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:       queue,
		sink:        sink,
		signal:      signal,
		batchSize:   DefaultBatchSize,
		idleTimeout: DefaultIdleTimeout,
		errorPause:  DefaultErrorPause,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run drains the queue until ctx is cancelled.
//
// Errors from the queue or the sink are logged and the batch is retried
// after the error pause; they never stop the loop. Run returns nil once
// ctx is cancelled, or ErrWorkerRunning if another Run is active.
func (w *Worker) Run(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrWorkerRunning
	}
	defer w.running.Store(false)

	slog.Info("propagation worker starting",
		"batch_size", w.batchSize,
		"idle_timeout", w.idleTimeout,
	)

	for {
		if ctx.Err() != nil {
			slog.Info("propagation worker stopping: context cancelled")
			return nil
		}

		n, err := w.ProcessBatch(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				slog.Info("propagation worker stopping: batch abandoned", "error", err)
				return nil
			}
			slog.Error("propagation batch failed",
				"error", err,
				"retry_in", w.errorPause,
			)
			if !pause(ctx, w.errorPause) {
				slog.Info("propagation worker stopping: context cancelled")
				return nil
			}

		case n == 0:
			if _, err := w.signal.Wait(ctx, w.idleTimeout); err != nil {
				slog.Info("propagation worker stopping: context cancelled")
				return nil
			}
		}
	}
}

// ProcessBatch delivers one batch of pending events and removes them from
// the queue. Returns the number of events delivered.
//
// Cancellation is checked before each event. Deliveries and the final
// removal run on a context detached from ctx's cancellation, so an event
// handed to the sink is never interrupted. On any error nothing is
// removed and the whole batch stays pending.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	events, err := w.queue.PendingEvents(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	detached := context.WithoutCancel(ctx)
	ids := make([]uuid.UUID, 0, len(events))
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := w.sink.Deliver(detached, ev); err != nil {
			return 0, fmt.Errorf("deliver event %s (seq %d): %w", ev.ID, ev.Seq, err)
		}
		ids = append(ids, ev.ID)
	}

	if err := w.queue.RemoveEvents(detached, ids); err != nil {
		return 0, fmt.Errorf("remove delivered events: %w", err)
	}

	slog.Debug("propagation batch delivered", "count", len(ids))
	return len(ids), nil
}

// pause sleeps for d. Returns false if ctx was cancelled first.
func pause(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
