package reminder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"studybot/internal/reminder/render"
	"studybot/internal/storage"
	logx "studybot/pkg/logx"
	"studybot/pkg/timeutil"
)

type SweepConfig struct {
	// Parallelism bounds the per-user fan-out of one tick. 0 means 8.
	Parallelism int
}

// sweepLookback is how far behind the current minute a tick reaches. It
// bounds the first tick after start and any tick following skipped minutes.
const sweepLookback = time.Hour

// Sweep is the once-a-minute backstop. It is the only path for exact-time
// reminders, catches pre-offset reminders a lost timer would miss, and sends
// the daily digest.
//
// Each tick covers every minute since the previous one, so a skipped or
// delayed run delivers late rather than never.
type Sweep struct {
	cfg    SweepConfig
	repo   Repository
	notify Notifier
	rec    Recorder
	log    logx.Logger

	mu   sync.Mutex
	last time.Time // last minute covered, UTC
}

func NewSweep(cfg SweepConfig, repo Repository, n Notifier, rec Recorder, log logx.Logger) *Sweep {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 8
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Sweep{cfg: cfg, repo: repo, notify: n, rec: rec, log: log}
}

// window returns the half-open range a tick at now covers and advances the
// covered mark. A tick for a minute already covered gets just that minute.
// skipped counts minutes no earlier tick covered.
func (s *Sweep) window(now time.Time) (from, to time.Time, skipped int) {
	minute := now.UTC().Truncate(time.Minute)
	to = minute.Add(time.Minute)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.last.IsZero():
		from = minute.Add(-sweepLookback)
	case s.last.Before(minute):
		from = laterTime(s.last.Add(time.Minute), minute.Add(-sweepLookback))
		skipped = int(minute.Sub(s.last)/time.Minute) - 1
	default:
		return minute, to, 0
	}
	s.last = minute
	return from, to, skipped
}

// Tick processes every minute from the previous tick up to the one
// containing now, for every user.
func (s *Sweep) Tick(ctx context.Context, now time.Time) error {
	start := time.Now()
	from, to, skipped := s.window(now)
	if skipped > 0 {
		s.log.Info("sweep covering skipped minutes", logx.Time("from", from), logx.Int("skipped", skipped))
	}

	ids, err := s.repo.UserIDs(ctx)
	if err != nil {
		s.rec.ObserveSweep(time.Since(start), 0)
		return fmt.Errorf("sweep: %w", err)
	}
	failed := forEachUser(ctx, s.log, "sweep", ids, s.cfg.Parallelism, func(ctx context.Context, userID int64) error {
		return s.tickUser(ctx, userID, from, to)
	})
	took := time.Since(start)
	s.rec.ObserveSweep(took, failed)
	s.log.Debug("sweep tick",
		logx.Time("from", from),
		logx.Time("to", to),
		logx.Int("users", len(ids)),
		logx.Int("failed", failed),
		logx.Duration("took", took),
	)
	return ctx.Err()
}

func (s *Sweep) tickUser(ctx context.Context, userID int64, from, to time.Time) error {
	loc, err := s.repo.UserLocation(ctx, userID)
	if err != nil {
		return err
	}
	st, err := s.repo.ReminderSettings(ctx, userID)
	if err != nil {
		return err
	}
	from, to = from.In(loc), to.In(loc)

	return errors.Join(
		s.catchUp(ctx, userID, from, to, st.PreEventOffsetMinutes),
		s.exact(ctx, userID, from, to),
		s.digest(ctx, userID, from, to, st),
	)
}

// catchUp sends the pre-offset reminder for items whose reminder instant
// falls in [from, to) and which have not started yet. It shares registry
// keys with the planner's timers, so the notifier drops whichever arrives
// second. Items are not marked.
func (s *Sweep) catchUp(ctx context.Context, userID int64, from, to time.Time, offset int) error {
	if offset <= 0 {
		return nil
	}
	off := time.Duration(offset) * time.Minute
	lo, hi := laterTime(from.Add(off), to), to.Add(off)
	loc := to.Location()

	events, err := s.repo.EventsBetween(ctx, userID, lo, hi)
	if err != nil {
		return err
	}
	for _, e := range events {
		it := EventItem(e)
		msg := render.EventSoon(e.Title, clock(e.At, loc))
		s.send(ctx, userID, JobKey(KindEventOffset, userID, it), KindEventOffset, msg)
	}

	tasks, err := s.repo.TasksBetween(ctx, userID, lo, hi)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.Reminded {
			continue
		}
		it := TaskItem(t)
		msg := render.TaskSoon(t.Title, t.Category, clock(t.Deadline, loc))
		s.send(ctx, userID, JobKey(KindTaskOffset, userID, it), KindTaskOffset, msg)
	}
	return nil
}

// exact dispatches unreminded items due in [from, to) and marks them. A
// failed dispatch still marks the item.
func (s *Sweep) exact(ctx context.Context, userID int64, from, to time.Time) error {
	var errs []error
	loc := to.Location()

	events, err := s.repo.DueEvents(ctx, userID, from, to)
	if err != nil {
		errs = append(errs, err)
	}
	for _, e := range events {
		msg := render.EventNow(e.Title, clock(e.At, loc))
		s.send(ctx, userID, JobKey(KindEventNow, userID, EventItem(e)), KindEventNow, msg)
		if err := s.repo.MarkEventReminded(ctx, e.ID); err != nil {
			errs = append(errs, err)
		}
	}

	tasks, err := s.repo.DueTasks(ctx, userID, from, to)
	if err != nil {
		errs = append(errs, err)
	}
	for _, t := range tasks {
		msg := render.TaskNow(t.Title, t.Category, clock(t.Deadline, loc))
		s.send(ctx, userID, JobKey(KindTaskNow, userID, TaskItem(t)), KindTaskNow, msg)
		if err := s.repo.MarkTaskReminded(ctx, t.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// digest sends the summary of each local day whose digest minute falls in
// [from, to). from and to are in the user's location. The stored (user, day)
// marker allows one per local day.
func (s *Sweep) digest(ctx context.Context, userID int64, from, to time.Time, st storage.Settings) error {
	if !st.DailyReminderEnabled {
		return nil
	}
	h, m, err := timeutil.ParseClock(st.DailyReminderTime)
	if err != nil {
		return nil
	}
	days := []time.Time{from}
	if last := to.Add(-time.Minute); timeutil.DayKey(last) != timeutil.DayKey(from) {
		days = append(days, last)
	}
	var errs []error
	for _, day := range days {
		at := time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, to.Location())
		if at.Before(from) || !at.Before(to) {
			continue
		}
		if err := s.digestFor(ctx, userID, at); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Sweep) digestFor(ctx context.Context, userID int64, local time.Time) error {
	events, err := s.repo.EventsForDay(ctx, userID, local)
	if err != nil {
		return err
	}
	tasks, err := s.repo.TasksForDay(ctx, userID, local)
	if err != nil {
		return err
	}
	de := make([]render.DigestEvent, 0, len(events))
	for _, e := range events {
		de = append(de, render.DigestEvent{Title: e.Title, Clock: clock(e.At, local.Location())})
	}
	dt := make([]render.DigestTask, 0, len(tasks))
	for _, t := range tasks {
		dt = append(dt, render.DigestTask{Title: t.Title, Category: t.Category, Clock: clock(t.Deadline, local.Location())})
	}
	msg, ok := render.Digest(de, dt)
	if !ok {
		return nil
	}

	day := timeutil.DayKey(local)
	first, err := s.repo.MarkDigestSent(ctx, userID, day)
	if err != nil {
		return err
	}
	if !first {
		s.log.Debug("digest already sent", logx.User(userID), logx.String("day", day))
		return nil
	}
	key := KindDigest + "_" + strconv.FormatInt(userID, 10) + "_" + day
	s.send(ctx, userID, key, KindDigest, msg)
	return nil
}

// send hands msg to the notifier. Channel failures stay inside the notifier;
// only a refused hand-off is logged here.
func (s *Sweep) send(ctx context.Context, userID int64, key, kind string, msg render.Message) {
	if err := s.notify.Notify(ctx, toNotification(userID, key, kind, msg)); err != nil {
		s.log.Warn("reminder not dispatched",
			logx.User(userID),
			logx.String("kind", kind),
			logx.String("key", key),
			logx.Err(err),
		)
	}
}

func clock(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(timeutil.ClockLayout)
}

// laterTime returns the later of a and b; builtin max does not accept time.Time.
func laterTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
