package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"studybot/internal/eventbus"
	"studybot/internal/task/engine"
	logx "studybot/pkg/logx"
)

var (
	// ErrPastInstant rejects timers whose instant is not strictly in the future.
	ErrPastInstant = errors.New("scheduler: instant is not in the future")
	ErrStopped     = errors.New("scheduler: not running")
)

type Config struct {
	// Location evaluates cron specs. Nil means UTC.
	Location *time.Location
	// Now is the clock used to judge timer instants. Nil means time.Now.
	Now func() time.Time
}

// TimerOptions controls how a fired timer runs on the engine.
type TimerOptions struct {
	// Group serializes callbacks sharing the key (for example "user:42").
	Group      string
	GroupLimit int
}

type Job = func(ctx context.Context) error

type firedAtKey struct{}

func withFiredAt(ctx context.Context, at time.Time) context.Context {
	return context.WithValue(ctx, firedAtKey{}, at)
}

// FiredAt reports the instant the trigger behind the running job fired:
// the cron tick for schedules, the armed instant for timers. A job that
// sat in the engine queue still sees the original instant.
func FiredAt(ctx context.Context) (time.Time, bool) {
	at, ok := ctx.Value(firedAtKey{}).(time.Time)
	return at, ok
}

type scheduleDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	entryID cron.EntryID
	state   *engine.RunState
}

type timer struct {
	at      time.Time
	timeout time.Duration
	opt     TimerOptions
	job     Job
	ver     uint64
	t       *time.Timer
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	bus    eventbus.Bus
	loc    *time.Location
	now    func() time.Time
	engine *engine.Service

	c    *cron.Cron
	defs []scheduleDef

	// one-shot timers; armed is true between Start and Stop
	tmu    sync.Mutex
	armed  bool
	timers map[string]*timer
	verSeq uint64

	enqMu   sync.Mutex
	enqWarn map[string]*rate.Limiter
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

type TimerInfo struct {
	ID string
	At time.Time
}

type Snapshot struct {
	Running   bool
	Timezone  string
	Timers    []TimerInfo
	Schedules []ScheduleInfo
	Engine    engine.Snapshot
}
