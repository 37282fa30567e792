package reminder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"studybot/internal/notifier"
	"studybot/internal/reminder/render"
	"studybot/internal/storage"
	"studybot/internal/task/scheduler"
	logx "studybot/pkg/logx"
	"studybot/pkg/timeutil"
)

type PlannerConfig struct {
	// Parallelism bounds PlanAll. 0 means 8.
	Parallelism int
	// CallbackTimeout bounds one timer callback. 0 means 30s.
	CallbackTimeout time.Duration

	Now func() time.Time
}

// Planner turns stored items and user settings into registry timers. It
// owns the pre-offset and daily-digest triggers; exact-time delivery belongs
// to the Sweep.
type Planner struct {
	cfg    PlannerConfig
	repo   Repository
	reg    Registry
	notify Notifier
	rec    Recorder
	log    logx.Logger
}

func NewPlanner(cfg PlannerConfig, repo Repository, reg Registry, n Notifier, rec Recorder, log logx.Logger) *Planner {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 8
	}
	if cfg.CallbackTimeout <= 0 {
		cfg.CallbackTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Planner{cfg: cfg, repo: repo, reg: reg, notify: n, rec: rec, log: log}
}

// userPlan is what planning one user's items needs.
type userPlan struct {
	userID   int64
	loc      *time.Location
	settings storage.Settings
	now      time.Time
}

func (p *Planner) load(ctx context.Context, userID int64) (userPlan, error) {
	loc, err := p.repo.UserLocation(ctx, userID)
	if err != nil {
		return userPlan{}, err
	}
	st, err := p.repo.ReminderSettings(ctx, userID)
	if err != nil {
		return userPlan{}, err
	}
	return userPlan{userID: userID, loc: loc, settings: st, now: p.cfg.Now()}, nil
}

// PlanForItem registers the pre-offset and daily-digest timers of one item.
// Triggers whose instant is not strictly in the future are skipped.
func (p *Planner) PlanForItem(ctx context.Context, userID int64, it Item) error {
	up, err := p.load(ctx, userID)
	if err != nil {
		return fmt.Errorf("plan item: %w", err)
	}
	return p.planItem(up, it)
}

// PlanUser re-plans every future event and every unreminded task of a user.
func (p *Planner) PlanUser(ctx context.Context, userID int64) error {
	up, err := p.load(ctx, userID)
	if err != nil {
		return fmt.Errorf("plan user: %w", err)
	}
	events, err := p.repo.FutureEvents(ctx, userID, up.now)
	if err != nil {
		return fmt.Errorf("plan user: %w", err)
	}
	tasks, err := p.repo.Tasks(ctx, userID)
	if err != nil {
		return fmt.Errorf("plan user: %w", err)
	}

	var errs []error
	for _, e := range events {
		errs = append(errs, p.planItem(up, EventItem(e)))
	}
	for _, t := range tasks {
		if t.Reminded {
			continue
		}
		errs = append(errs, p.planItem(up, TaskItem(t)))
	}
	return errors.Join(errs...)
}

// PlanAll re-plans every user with bounded parallelism. Only listing users
// can fail it; per-user failures are logged.
func (p *Planner) PlanAll(ctx context.Context) error {
	ids, err := p.repo.UserIDs(ctx)
	if err != nil {
		return fmt.Errorf("plan all: %w", err)
	}
	start := time.Now()
	failed := forEachUser(ctx, p.log, "plan", ids, p.cfg.Parallelism, p.PlanUser)
	p.log.Info("planned reminders",
		logx.Int("users", len(ids)),
		logx.Int("failed", failed),
		logx.Duration("took", time.Since(start)),
	)
	return ctx.Err()
}

// CancelItem removes both timers of an item.
func (p *Planner) CancelItem(_ context.Context, userID int64, it Item) {
	for _, kind := range []string{it.offsetKind(), it.dailyKind()} {
		if p.reg.Cancel(JobKey(kind, userID, it)) {
			p.rec.ObservePlan(kind, "canceled")
		}
	}
}

// Reschedule swaps the timers of an item whose instant or title changed.
// Keys derive from both, so the old registrations are canceled first.
func (p *Planner) Reschedule(ctx context.Context, userID int64, old, updated Item) error {
	p.CancelItem(ctx, userID, old)
	return p.PlanForItem(ctx, userID, updated)
}

// JobKey is the registry id of one trigger of one item.
func JobKey(kind string, userID int64, it Item) string {
	return timeutil.DeterministicKey(kind, userID, it.Title, it.At)
}

func (p *Planner) planItem(up userPlan, it Item) error {
	due := it.At.In(up.loc)
	if !it.HasTime {
		due = timeutil.StartOfDay(due)
	}
	st := up.settings

	offsetKind := it.offsetKind()
	offsetOn := st.PreEventOffsetMinutes > 0
	preRun := due.Add(-time.Duration(st.PreEventOffsetMinutes) * time.Minute)
	err := p.arm(up, it, offsetKind, offsetOn, preRun)

	dailyKind := it.dailyKind()
	var dailyRun time.Time
	dailyOn := st.DailyReminderEnabled
	if dailyOn {
		h, m, perr := timeutil.ParseClock(st.DailyReminderTime)
		if perr != nil {
			p.log.Warn("bad daily reminder time", logx.User(up.userID), logx.String("value", st.DailyReminderTime))
			dailyOn = false
		} else {
			dailyRun = timeutil.AtClock(due, h, m)
		}
	}
	return errors.Join(err, p.arm(up, it, dailyKind, dailyOn, dailyRun))
}

// arm upserts the trigger when it is enabled and strictly future, and
// cancels any earlier registration otherwise.
func (p *Planner) arm(up userPlan, it Item, kind string, on bool, at time.Time) error {
	key := JobKey(kind, up.userID, it)
	if !on || !at.After(up.now) {
		if p.reg.Cancel(key) {
			p.rec.ObservePlan(kind, "canceled")
		} else {
			p.rec.ObservePlan(kind, "skipped")
		}
		return nil
	}

	opt := scheduler.TimerOptions{Group: "user:" + strconv.FormatInt(up.userID, 10), GroupLimit: 1}
	err := p.reg.UpsertOpt(key, at, p.cfg.CallbackTimeout, opt, p.callback(up.userID, up.loc, it, kind, key))
	switch {
	case err == nil:
		p.rec.ObservePlan(kind, "registered")
		return nil
	case errors.Is(err, scheduler.ErrPastInstant):
		p.rec.ObservePlan(kind, "skipped")
		return nil
	default:
		p.rec.ObservePlan(kind, "error")
		return fmt.Errorf("%s %q: %w", kind, it.Title, err)
	}
}

func (p *Planner) callback(userID int64, loc *time.Location, it Item, kind, key string) scheduler.Job {
	return func(ctx context.Context) error {
		when := timeutil.Localize(it.At, loc)
		var msg render.Message
		if it.Kind == ItemTask {
			msg = render.TaskUpcoming(it.Title, when)
		} else {
			msg = render.EventUpcoming(it.Title, when)
		}
		return p.notify.Notify(ctx, toNotification(userID, key, kind, msg))
	}
}

func toNotification(userID int64, key, kind string, m render.Message) notifier.Message {
	return notifier.Message{
		UserID:       userID,
		Key:          key,
		Kind:         kind,
		Text:         m.Text,
		ParseMode:    m.ParseMode,
		EmailSubject: m.Subject,
		EmailHTML:    m.HTML,
		EmailPlain:   m.Plain,
	}
}
