package reminder

import (
	"context"
	"errors"
	"time"

	"studybot/internal/notifier"
	"studybot/internal/storage"
	"studybot/internal/task/scheduler"
)

// Trigger kinds. They prefix registry keys and label notifications.
const (
	KindEventOffset = "event_offset"
	KindEventDaily  = "event_daily"
	KindTaskOffset  = "task_offset"
	KindTaskDaily   = "task_daily"
	KindEventNow    = "event_now"
	KindTaskNow     = "task_now"
	KindDigest      = "daily_digest"
)

// Repository is the storage contract the planner and the sweep run on.
// storage.SQLite implements it.
type Repository interface {
	UserIDs(ctx context.Context) ([]int64, error)
	UserLocation(ctx context.Context, id int64) (*time.Location, error)
	ReminderSettings(ctx context.Context, id int64) (storage.Settings, error)

	FutureEvents(ctx context.Context, userID int64, now time.Time) ([]storage.Event, error)
	Tasks(ctx context.Context, userID int64) ([]storage.Task, error)

	DueEvents(ctx context.Context, userID int64, from, to time.Time) ([]storage.Event, error)
	DueTasks(ctx context.Context, userID int64, from, to time.Time) ([]storage.Task, error)
	MarkEventReminded(ctx context.Context, id int64) error
	MarkTaskReminded(ctx context.Context, id int64) error

	EventsBetween(ctx context.Context, userID int64, from, to time.Time) ([]storage.Event, error)
	TasksBetween(ctx context.Context, userID int64, from, to time.Time) ([]storage.Task, error)
	EventsForDay(ctx context.Context, userID int64, dayLocal time.Time) ([]storage.Event, error)
	TasksForDay(ctx context.Context, userID int64, dayLocal time.Time) ([]storage.Task, error)

	MarkDigestSent(ctx context.Context, userID int64, dayKey string) (bool, error)
}

// Registry holds one-shot timers. *scheduler.Service implements it.
type Registry interface {
	UpsertOpt(id string, at time.Time, timeout time.Duration, opt scheduler.TimerOptions, job scheduler.Job) error
	Cancel(id string) bool
}

// Notifier dispatches one rendered reminder. *notifier.Service implements it.
type Notifier interface {
	Notify(ctx context.Context, m notifier.Message) error
}

// Recorder receives planner and sweep outcomes.
type Recorder interface {
	ObservePlan(kind, result string)
	ObserveSweep(took time.Duration, failedUsers int)
}

type nopRecorder struct{}

func (nopRecorder) ObservePlan(string, string) {}
func (nopRecorder) ObserveSweep(time.Duration, int) {}

// ItemKind tells events from tasks.
type ItemKind int

const (
	ItemEvent ItemKind = iota + 1
	ItemTask
)

// Item is the part of an event or task the planner needs.
type Item struct {
	Kind     ItemKind
	ID       int64
	Title    string
	Category string
	At       time.Time // UTC
	HasTime  bool
}

func EventItem(e storage.Event) Item {
	return Item{Kind: ItemEvent, ID: e.ID, Title: e.Title, At: e.At, HasTime: true}
}

func TaskItem(t storage.Task) Item {
	return Item{Kind: ItemTask, ID: t.ID, Title: t.Title, Category: t.Category, At: t.Deadline, HasTime: t.HasTime}
}

func (it Item) offsetKind() string {
	if it.Kind == ItemTask {
		return KindTaskOffset
	}
	return KindEventOffset
}

func (it Item) dailyKind() string {
	if it.Kind == ItemTask {
		return KindTaskDaily
	}
	return KindEventDaily
}

// ErrInvalidInput marks preference values a user must correct.
var ErrInvalidInput = errors.New("invalid input")

// InputError carries the text shown to the user.
type InputError struct {
	Text string
	Err  error
}

func (e *InputError) Error() string { return e.Text }

func (e *InputError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidInput}
	}
	return []error{ErrInvalidInput, e.Err}
}
