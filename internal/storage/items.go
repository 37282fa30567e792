package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"studybot/pkg/timeutil"
)

const (
	eventCols = `id, user_id, title, at_utc, reminded`
	taskCols  = `id, user_id, title, category, deadline_utc, has_time, reminded`
)

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(r scanner) (Event, error) {
	var (
		e        Event
		at       int64
		reminded int
	)
	if err := r.Scan(&e.ID, &e.UserID, &e.Title, &at, &reminded); err != nil {
		return Event{}, err
	}
	e.At = fromUnix(at)
	e.Reminded = reminded != 0
	return e, nil
}

func scanTask(r scanner) (Task, error) {
	var (
		t        Task
		deadline int64
		hasTime  int
		reminded int
	)
	if err := r.Scan(&t.ID, &t.UserID, &t.Title, &t.Category, &deadline, &hasTime, &reminded); err != nil {
		return Task{}, err
	}
	t.Deadline = fromUnix(deadline)
	t.HasTime = hasTime != 0
	t.Reminded = reminded != 0
	return t, nil
}

func (s *SQLite) queryEvents(ctx context.Context, op, q string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, e)
	}
	return out, wrap(op, rows.Err())
}

func (s *SQLite) queryTasks(ctx context.Context, op, q string, args ...any) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, t)
	}
	return out, wrap(op, rows.Err())
}

// AddEvent inserts an event. The same (user, title, instant) twice is ErrDuplicate.
func (s *SQLite) AddEvent(ctx context.Context, userID int64, title string, at time.Time) (Event, error) {
	title = strings.TrimSpace(title)
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO events(user_id, title, at_utc) VALUES(?,?,?)
		 ON CONFLICT(user_id, title, at_utc) DO NOTHING
		 RETURNING `+eventCols,
		userID, title, unix(at),
	)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, ErrDuplicate
	}
	return e, wrap("add event", err)
}

// AddTask inserts a task. Without a time of day the deadline is stored as
// local midnight of its calendar day.
func (s *SQLite) AddTask(ctx context.Context, userID int64, title, category string, deadline time.Time, hasTime bool) (Task, error) {
	if !hasTime {
		deadline = timeutil.StartOfDay(deadline)
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO tasks(user_id, title, category, deadline_utc, has_time) VALUES(?,?,?,?,?)
		 RETURNING `+taskCols,
		userID, strings.TrimSpace(title), strings.TrimSpace(category), unix(deadline), boolInt(hasTime),
	)
	t, err := scanTask(row)
	return t, wrap("add task", err)
}

// DeleteEvent removes one of the user's events and returns it.
func (s *SQLite) DeleteEvent(ctx context.Context, userID, id int64) (Event, error) {
	row := s.db.QueryRowContext(ctx,
		`DELETE FROM events WHERE id = ? AND user_id = ? RETURNING `+eventCols, id, userID)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Event{}, notFound("event", id)
	}
	return e, wrap("delete event", err)
}

func (s *SQLite) DeleteTask(ctx context.Context, userID, id int64) (Task, error) {
	row := s.db.QueryRowContext(ctx,
		`DELETE FROM tasks WHERE id = ? AND user_id = ? RETURNING `+taskCols, id, userID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, notFound("task", id)
	}
	return t, wrap("delete task", err)
}

// UpdateEvent moves or renames one of the user's events and returns it
// before and after. An empty title keeps the old one. Moving the event
// clears its reminded flag. Clashing with another event of the user is
// ErrDuplicate.
func (s *SQLite) UpdateEvent(ctx context.Context, userID, id int64, title string, at time.Time) (Event, Event, error) {
	var old, updated Event
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		old, err = scanEvent(tx.QueryRowContext(ctx,
			`SELECT `+eventCols+` FROM events WHERE id = ? AND user_id = ?`, id, userID))
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("event", id)
		}
		if err != nil {
			return err
		}
		if title = strings.TrimSpace(title); title == "" {
			title = old.Title
		}
		updated, err = scanEvent(tx.QueryRowContext(ctx,
			`UPDATE OR IGNORE events
			 SET title = ?, at_utc = ?, reminded = CASE WHEN at_utc = ? THEN reminded ELSE 0 END
			 WHERE id = ?
			 RETURNING `+eventCols,
			title, unix(at), unix(at), id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrDuplicate
		}
		return err
	})
	if err != nil {
		return Event{}, Event{}, wrap("update event", err)
	}
	return old, updated, nil
}

// UpdateTask changes one of the user's tasks and returns it before and
// after. Empty title or category keep the old value. Without a time of day
// the deadline is local midnight, as in AddTask. Moving the deadline clears
// the reminded flag.
func (s *SQLite) UpdateTask(ctx context.Context, userID, id int64, title, category string, deadline time.Time, hasTime bool) (Task, Task, error) {
	if !hasTime {
		deadline = timeutil.StartOfDay(deadline)
	}
	var old, updated Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		old, err = scanTask(tx.QueryRowContext(ctx,
			`SELECT `+taskCols+` FROM tasks WHERE id = ? AND user_id = ?`, id, userID))
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("task", id)
		}
		if err != nil {
			return err
		}
		if title = strings.TrimSpace(title); title == "" {
			title = old.Title
		}
		if category = strings.TrimSpace(category); category == "" {
			category = old.Category
		}
		updated, err = scanTask(tx.QueryRowContext(ctx,
			`UPDATE tasks
			 SET title = ?, category = ?, deadline_utc = ?, has_time = ?,
			     reminded = CASE WHEN deadline_utc = ? THEN reminded ELSE 0 END
			 WHERE id = ?
			 RETURNING `+taskCols,
			title, category, unix(deadline), boolInt(hasTime), unix(deadline), id))
		return err
	})
	if err != nil {
		return Task{}, Task{}, wrap("update task", err)
	}
	return old, updated, nil
}

// FutureEvents returns events strictly after now, reminded or not.
func (s *SQLite) FutureEvents(ctx context.Context, userID int64, now time.Time) ([]Event, error) {
	return s.queryEvents(ctx, "future events",
		`SELECT `+eventCols+` FROM events WHERE user_id = ? AND at_utc > ? ORDER BY at_utc`,
		userID, unix(now))
}

// Tasks returns every task of the user.
func (s *SQLite) Tasks(ctx context.Context, userID int64) ([]Task, error) {
	return s.queryTasks(ctx, "tasks",
		`SELECT `+taskCols+` FROM tasks WHERE user_id = ? ORDER BY deadline_utc`, userID)
}

// DueEvents returns unreminded events in [from, to).
func (s *SQLite) DueEvents(ctx context.Context, userID int64, from, to time.Time) ([]Event, error) {
	return s.queryEvents(ctx, "due events",
		`SELECT `+eventCols+` FROM events
		 WHERE user_id = ? AND reminded = 0 AND at_utc >= ? AND at_utc < ?
		 ORDER BY at_utc, id`,
		userID, unix(from), unix(to))
}

func (s *SQLite) DueTasks(ctx context.Context, userID int64, from, to time.Time) ([]Task, error) {
	return s.queryTasks(ctx, "due tasks",
		`SELECT `+taskCols+` FROM tasks
		 WHERE user_id = ? AND reminded = 0 AND deadline_utc >= ? AND deadline_utc < ?
		 ORDER BY deadline_utc, id`,
		userID, unix(from), unix(to))
}

// EventsBetween returns events in [from, to) regardless of the reminded flag.
func (s *SQLite) EventsBetween(ctx context.Context, userID int64, from, to time.Time) ([]Event, error) {
	return s.queryEvents(ctx, "events between",
		`SELECT `+eventCols+` FROM events
		 WHERE user_id = ? AND at_utc >= ? AND at_utc < ? ORDER BY at_utc, id`,
		userID, unix(from), unix(to))
}

func (s *SQLite) TasksBetween(ctx context.Context, userID int64, from, to time.Time) ([]Task, error) {
	return s.queryTasks(ctx, "tasks between",
		`SELECT `+taskCols+` FROM tasks
		 WHERE user_id = ? AND deadline_utc >= ? AND deadline_utc < ? ORDER BY deadline_utc, id`,
		userID, unix(from), unix(to))
}

// EventsForDay returns the events of dayLocal's calendar day in its location.
func (s *SQLite) EventsForDay(ctx context.Context, userID int64, dayLocal time.Time) ([]Event, error) {
	from, to := timeutil.DayBounds(dayLocal, dayLocal.Location())
	return s.EventsBetween(ctx, userID, from, to)
}

func (s *SQLite) TasksForDay(ctx context.Context, userID int64, dayLocal time.Time) ([]Task, error) {
	from, to := timeutil.DayBounds(dayLocal, dayLocal.Location())
	return s.TasksBetween(ctx, userID, from, to)
}

func (s *SQLite) MarkEventReminded(ctx context.Context, id int64) error {
	return s.markReminded(ctx, "events", "event", id)
}

func (s *SQLite) MarkTaskReminded(ctx context.Context, id int64) error {
	return s.markReminded(ctx, "tasks", "task", id)
}

// markReminded takes a table name from the two constants above only.
func (s *SQLite) markReminded(ctx context.Context, table, what string, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE `+table+` SET reminded = 1 WHERE id = ?`, id)
	if err != nil {
		return wrap("mark "+what+" reminded", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("mark "+what+" reminded", err)
	}
	if n == 0 {
		return notFound(what, id)
	}
	return nil
}

// UpcomingEvents lists at most limit events after now.
func (s *SQLite) UpcomingEvents(ctx context.Context, userID int64, now time.Time, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryEvents(ctx, "upcoming events",
		`SELECT `+eventCols+` FROM events WHERE user_id = ? AND at_utc >= ? ORDER BY at_utc LIMIT ?`,
		userID, unix(now), limit)
}

// PendingTasks lists at most limit tasks not yet reminded.
func (s *SQLite) PendingTasks(ctx context.Context, userID int64, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryTasks(ctx, "pending tasks",
		`SELECT `+taskCols+` FROM tasks WHERE user_id = ? AND reminded = 0 ORDER BY deadline_utc LIMIT ?`,
		userID, limit)
}
