// Package engine implements the wapplibre propagation engine.
//
// Producers append events to a durable queue and notify the engine; a
// single Worker drains the queue in batches and hands each event to a
// Sink.
//
// ARCHITECTURE:
//
// Single Consumer:
// Exactly one Worker.Run loop consumes the queue per process. A second
// concurrent Run on the same Worker fails with ErrWorkerRunning.
//
// Event Processing Flow:
// 1. Publisher.Publish appends the event to the queue, then calls Signal.Notify
// 2. Worker.Run fetches up to BatchSize pending events in queue order
// 3. Each event is delivered to the Sink, in order
// 4. Only after the whole batch was delivered are its events removed
// 5. An empty queue parks the worker in Signal.Wait until notified or idle timeout
//
// Delivery is at-least-once: a failure anywhere in a batch leaves the whole
// batch pending, and it is delivered again after ErrorPause.
//
// CRITICAL PATTERNS:
//
// Latch, not queue:
// Signal holds at most one pending notification. Notify never blocks and
// is never lost; any number of notifications while the worker is busy
// collapse into one wake-up, after which the worker re-reads the queue.
//
// Cooperative shutdown:
// Cancellation is observed between events and between batches. An event
// already handed to the Sink runs to completion on a context detached
// from cancellation. An abandoned batch stays pending for the next run.
package engine
