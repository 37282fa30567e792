// Package bot holds the chat commands. They register users, create and
// delete events and tasks, edit reminder preferences and drive the planner.
package bot

import (
	"context"
	"errors"
	"time"

	"studybot/internal/reminder"
	"studybot/internal/storage"
	"studybot/internal/transport/telegram/router"
	logx "studybot/pkg/logx"
	"studybot/pkg/timeutil"
)

// Store is the storage surface the commands use. storage.SQLite implements it.
type Store interface {
	EnsureUser(ctx context.Context, id int64, username string) (bool, error)
	UserLocation(ctx context.Context, id int64) (*time.Location, error)
	ReminderSettings(ctx context.Context, id int64) (storage.Settings, error)

	AddEvent(ctx context.Context, userID int64, title string, at time.Time) (storage.Event, error)
	AddTask(ctx context.Context, userID int64, title, category string, deadline time.Time, hasTime bool) (storage.Task, error)
	DeleteEvent(ctx context.Context, userID, id int64) (storage.Event, error)
	DeleteTask(ctx context.Context, userID, id int64) (storage.Task, error)
	UpdateEvent(ctx context.Context, userID, id int64, title string, at time.Time) (storage.Event, storage.Event, error)
	UpdateTask(ctx context.Context, userID, id int64, title, category string, deadline time.Time, hasTime bool) (storage.Task, storage.Task, error)

	UpcomingEvents(ctx context.Context, userID int64, now time.Time, limit int) ([]storage.Event, error)
	PendingTasks(ctx context.Context, userID int64, limit int) ([]storage.Task, error)
	EventsForDay(ctx context.Context, userID int64, dayLocal time.Time) ([]storage.Event, error)
	TasksForDay(ctx context.Context, userID int64, dayLocal time.Time) ([]storage.Task, error)
}

// ItemPlanner is the part of reminder.Planner the commands call.
type ItemPlanner interface {
	PlanForItem(ctx context.Context, userID int64, it reminder.Item) error
	CancelItem(ctx context.Context, userID int64, it reminder.Item)
	Reschedule(ctx context.Context, userID int64, old, updated reminder.Item) error
}

// Mailer sends the /email test message. *mail.Sender implements it.
type Mailer interface {
	Enabled() bool
	Send(ctx context.Context, to, subject, html, plain string) error
}

type Deps struct {
	Store   Store
	Planner ItemPlanner
	Prefs   *reminder.Preferences
	// Mail backs /email test. Nil reports email as not configured.
	Mail Mailer

	// Status renders the owner-only /status report. Nil hides the command.
	Status func(ctx context.Context) string

	Now func() time.Time
}

type Bot struct {
	dep Deps
	log logx.Logger
}

func New(dep Deps, log logx.Logger) *Bot {
	if dep.Now == nil {
		dep.Now = time.Now
	}
	return &Bot{dep: dep, log: log}
}

// EnsureUser registers the sender before any command runs.
func (b *Bot) EnsureUser() router.Middleware {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx context.Context, req *router.Request) error {
			created, err := b.dep.Store.EnsureUser(ctx, req.FromID, req.Msg.From.Username)
			if err != nil {
				_ = req.Reply(ctx, msgInternal)
				return err
			}
			if created {
				req.Logger.Info("user registered", logx.User(req.FromID))
			}
			return next(ctx, req)
		}
	}
}

const (
	msgInternal   = "⚠️ Something went wrong. Please try again later."
	msgBadDate    = "❌ Invalid date or time. Use YYYY-MM-DD for the date and HH:MM for the time."
	msgPast       = "❌ That time is already in the past."
	msgDuplicate  = "⚠️ You already have this event at that time."
	msgNotFound   = "❓ Nothing with that id."
	msgOnOffUsage = "Please answer with on or off."
)

// fail replies with a user-facing message for err and returns err when it
// is not the user's fault, so the request log records it.
func fail(ctx context.Context, req *router.Request, err error) error {
	var ie *reminder.InputError
	switch {
	case errors.As(err, &ie):
		return req.Reply(ctx, ie.Text)
	case errors.Is(err, timeutil.ErrInvalidFormat):
		return req.Reply(ctx, msgBadDate)
	case errors.Is(err, storage.ErrDuplicate):
		return req.Reply(ctx, msgDuplicate)
	case errors.Is(err, storage.ErrNotFound):
		return req.Reply(ctx, msgNotFound)
	default:
		_ = req.Reply(ctx, msgInternal)
		return err
	}
}

func parseOnOff(s string) (on, ok bool) {
	switch s {
	case "on", "enable", "yes", "1":
		return true, true
	case "off", "disable", "no", "0":
		return false, true
	default:
		return false, false
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
