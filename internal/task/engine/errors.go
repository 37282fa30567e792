package engine

import "errors"

// Enqueue errors. ErrQueueFull and ErrOverlapSkip are back-pressure; the
// others mean the task or the engine is unusable.
var (
	ErrInvalidTask = errors.New("engine: invalid task")
	ErrQueueFull   = errors.New("engine: queue full")
	ErrOverlapSkip = errors.New("engine: previous run still in progress")
	ErrStopping    = errors.New("engine: stopping")
	ErrStopped     = errors.New("engine: not running")
)

