package engine

import (
	"context"
	"sync/atomic"
	"time"
)

// Config sizes the worker pool. The scheduler only decides when; every
// callback runs here.
type Config struct {
	Workers   int
	QueueSize int

	// DefaultTimeout applies to tasks with no Timeout of their own.
	DefaultTimeout time.Duration
	// MaxQueueDelay drops a task that waited longer than this before a
	// worker picked it up. Zero keeps every task.
	MaxQueueDelay time.Duration

	HistorySize int
}

type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	OverlapSkipIfRunning
)

// RunState marks a task busy from enqueue until it returns, so a trigger
// that fires faster than the task runs is skipped instead of queued twice.
type RunState struct{ busy atomic.Bool }

func (s *RunState) tryAcquire() bool { return s == nil || s.busy.CompareAndSwap(false, true) }

func (s *RunState) release() {
	if s != nil {
		s.busy.Store(false)
	}
}

// Running reports whether a task holding s is queued or executing.
func (s *RunState) Running() bool { return s != nil && s.busy.Load() }

// Task is one callback invocation. Failed tasks are not retried; the
// caller decides whether the work comes back on a later trigger.
//
// Tasks that share a Group run at most GroupLimit at a time. The rest wait
// in the group backlog without holding a worker.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error

	Overlap OverlapPolicy
	State   *RunState // nil shares one state per Name

	Group      string
	GroupLimit int
}

// Record describes one task outcome. It is kept in the history ring and
// is the Data of every task event on the bus.
type Record struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Group      string        `json:"group,omitempty"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

func recordOf(t Task, at time.Time) Record {
	return Record{ID: t.ID, Name: t.Name, Group: t.Group, Started: at}
}

type Snapshot struct {
	Running  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int
	Backlog  int

	Dropped          uint64
	DroppedQueueFull uint64
	DroppedStale     uint64

	DefaultTimeout time.Duration
	MaxQueueDelay  time.Duration

	History []Record
}
