package engine

import "errors"

// ErrWorkerRunning is returned by Worker.Run when another Run on the same
// Worker is still active.
var ErrWorkerRunning = errors.New("engine: worker already running")
