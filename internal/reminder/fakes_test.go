package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"studybot/internal/notifier"
	"studybot/internal/storage"
	"studybot/internal/task/scheduler"
	"studybot/pkg/timeutil"
)

type fakeUser struct {
	loc      *time.Location
	settings storage.Settings
	err      error
	panics   bool
}

type fakeRepo struct {
	mu     sync.Mutex
	users  map[int64]*fakeUser
	events []storage.Event
	tasks  []storage.Task
	digest map[string]bool
	nextID int64
}

func newRepo() *fakeRepo {
	return &fakeRepo{users: map[int64]*fakeUser{}, digest: map[string]bool{}}
}

func (r *fakeRepo) addUser(id int64, zone string, st storage.Settings) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		panic(err)
	}
	r.users[id] = &fakeUser{loc: loc, settings: st}
}

func (r *fakeRepo) addEvent(userID int64, title string, at time.Time) storage.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	e := storage.Event{ID: r.nextID, UserID: userID, Title: title, At: at.UTC()}
	r.events = append(r.events, e)
	return e
}

func (r *fakeRepo) addTask(userID int64, title, category string, deadline time.Time, hasTime bool) storage.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	t := storage.Task{ID: r.nextID, UserID: userID, Title: title, Category: category, Deadline: deadline.UTC(), HasTime: hasTime}
	r.tasks = append(r.tasks, t)
	return t
}

func (r *fakeRepo) event(id int64) storage.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			return e
		}
	}
	return storage.Event{}
}

func (r *fakeRepo) moveEvent(id int64, title string, at time.Time) (old, updated storage.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.events {
		if r.events[i].ID == id {
			old = r.events[i]
			r.events[i].Title, r.events[i].At, r.events[i].Reminded = title, at.UTC(), false
			return old, r.events[i]
		}
	}
	return storage.Event{}, storage.Event{}
}

func (r *fakeRepo) task(id int64) storage.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if t.ID == id {
			return t
		}
	}
	return storage.Task{}
}

func (r *fakeRepo) user(id int64) (*fakeUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if u.panics {
		panic("broken user row")
	}
	if u.err != nil {
		return nil, u.err
	}
	return u, nil
}

func (r *fakeRepo) UserIDs(context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *fakeRepo) UserLocation(_ context.Context, id int64) (*time.Location, error) {
	u, err := r.user(id)
	if err != nil {
		return nil, err
	}
	return u.loc, nil
}

func (r *fakeRepo) ReminderSettings(_ context.Context, id int64) (storage.Settings, error) {
	u, err := r.user(id)
	if err != nil {
		return storage.Settings{}, err
	}
	return u.settings, nil
}

func (r *fakeRepo) FutureEvents(_ context.Context, userID int64, now time.Time) ([]storage.Event, error) {
	return r.eventsWhere(func(e storage.Event) bool { return e.UserID == userID && e.At.After(now) }), nil
}

func (r *fakeRepo) Tasks(_ context.Context, userID int64) ([]storage.Task, error) {
	return r.tasksWhere(func(t storage.Task) bool { return t.UserID == userID }), nil
}

func (r *fakeRepo) DueEvents(_ context.Context, userID int64, from, to time.Time) ([]storage.Event, error) {
	return r.eventsWhere(func(e storage.Event) bool {
		return e.UserID == userID && !e.Reminded && !e.At.Before(from) && e.At.Before(to)
	}), nil
}

func (r *fakeRepo) DueTasks(_ context.Context, userID int64, from, to time.Time) ([]storage.Task, error) {
	return r.tasksWhere(func(t storage.Task) bool {
		return t.UserID == userID && !t.Reminded && !t.Deadline.Before(from) && t.Deadline.Before(to)
	}), nil
}

func (r *fakeRepo) MarkEventReminded(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.events {
		if r.events[i].ID == id {
			r.events[i].Reminded = true
			return nil
		}
	}
	return fmt.Errorf("event %d: %w", id, storage.ErrNotFound)
}

func (r *fakeRepo) MarkTaskReminded(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.tasks {
		if r.tasks[i].ID == id {
			r.tasks[i].Reminded = true
			return nil
		}
	}
	return fmt.Errorf("task %d: %w", id, storage.ErrNotFound)
}

func (r *fakeRepo) EventsBetween(_ context.Context, userID int64, from, to time.Time) ([]storage.Event, error) {
	return r.eventsWhere(func(e storage.Event) bool {
		return e.UserID == userID && !e.At.Before(from) && e.At.Before(to)
	}), nil
}

func (r *fakeRepo) TasksBetween(_ context.Context, userID int64, from, to time.Time) ([]storage.Task, error) {
	return r.tasksWhere(func(t storage.Task) bool {
		return t.UserID == userID && !t.Deadline.Before(from) && t.Deadline.Before(to)
	}), nil
}

func (r *fakeRepo) EventsForDay(ctx context.Context, userID int64, dayLocal time.Time) ([]storage.Event, error) {
	from, to := timeutil.DayBounds(dayLocal, dayLocal.Location())
	return r.EventsBetween(ctx, userID, from, to)
}

func (r *fakeRepo) TasksForDay(ctx context.Context, userID int64, dayLocal time.Time) ([]storage.Task, error) {
	from, to := timeutil.DayBounds(dayLocal, dayLocal.Location())
	return r.TasksBetween(ctx, userID, from, to)
}

func (r *fakeRepo) MarkDigestSent(_ context.Context, userID int64, dayKey string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := fmt.Sprintf("%d/%s", userID, dayKey)
	if r.digest[k] {
		return false, nil
	}
	r.digest[k] = true
	return true, nil
}

func (r *fakeRepo) eventsWhere(keep func(storage.Event) bool) []storage.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []storage.Event
	for _, e := range r.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func (r *fakeRepo) tasksWhere(keep func(storage.Task) bool) []storage.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []storage.Task
	for _, t := range r.tasks {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

type armedTimer struct {
	at  time.Time
	opt scheduler.TimerOptions
	job scheduler.Job
}

// fakeRegistry mirrors scheduler.Service's upsert rules without real timers.
type fakeRegistry struct {
	mu     sync.Mutex
	now    func() time.Time
	timers map[string]armedTimer
}

func newRegistry(now func() time.Time) *fakeRegistry {
	return &fakeRegistry{now: now, timers: map[string]armedTimer{}}
}

func (f *fakeRegistry) UpsertOpt(id string, at time.Time, _ time.Duration, opt scheduler.TimerOptions, job scheduler.Job) error {
	if !at.After(f.now()) {
		return scheduler.ErrPastInstant
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timers[id] = armedTimer{at: at, opt: opt, job: job}
	return nil
}

func (f *fakeRegistry) Cancel(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.timers[id]
	delete(f.timers, id)
	return ok
}

func (f *fakeRegistry) get(id string) (armedTimer, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.timers[id]
	return t, ok
}

func (f *fakeRegistry) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notifier.Message
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, m notifier.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeNotifier) take() []notifier.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

type fakeRecorder struct {
	mu     sync.Mutex
	plans  map[string]int
	failed []int
}

func (f *fakeRecorder) ObservePlan(kind, result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.plans == nil {
		f.plans = map[string]int{}
	}
	f.plans[kind+"/"+result]++
}

func (f *fakeRecorder) ObserveSweep(_ time.Duration, failed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, failed)
}

var errBroken = errors.New("disk I/O error")

func mustZone(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}
