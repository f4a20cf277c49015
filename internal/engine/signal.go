package engine

import (
	"context"
	"time"
)

// Signal is a single-slot wake-up latch between event producers and the
// worker.
//
// Thread-safety model:
//   - Notify(): safe from any goroutine, never blocks
//   - Wait(): called by the single consumer
type Signal struct {
	ch chan struct{} // buffered, size 1
}

// NewSignal creates an unset Signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Notify sets the latch. Repeated notifications before the next Wait
// coalesce into one.
func (s *Signal) Notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until the latch is set, timeout elapses, or ctx is done,
// and clears the latch when it was set.
//
// Returns true when woken by a notification, false on timeout, and the
// context error on cancellation. A non-positive timeout waits without
// limit.
func (s *Signal) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-s.ch:
		return true, nil
	case <-expired:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
