package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"studybot/pkg/timeutil"
)

// EnsureUser registers id on first contact with the configured defaults and
// refreshes the stored username. created reports a new row.
func (s *SQLite) EnsureUser(ctx context.Context, id int64, username string) (created bool, err error) {
	d := *s.defaults.Load()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO users(id, username, email_enabled, pre_event_offset_minutes,
			                   daily_reminder_enabled, daily_reminder_time, created_at)
			 VALUES(?,?,?,?,?,?,?)
			 ON CONFLICT(id) DO NOTHING`,
			id, nullStr(username), boolInt(d.EmailEnabled), d.PreEventOffsetMinutes,
			boolInt(d.DailyReminderEnabled), d.DailyReminderTime, unix(s.now()),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n == 1
		if created || strings.TrimSpace(username) == "" {
			return nil
		}
		_, err = tx.ExecContext(ctx, `UPDATE users SET username = ? WHERE id = ?`, username, id)
		return err
	})
	return created, wrap("ensure user", err)
}

func (s *SQLite) User(ctx context.Context, id int64) (User, error) {
	var (
		u        User
		username sql.NullString
		tz       sql.NullString
		created  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, timezone, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &username, &tz, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, notFound("user", id)
	}
	if err != nil {
		return User{}, wrap("get user", err)
	}
	u.Username = username.String
	u.Timezone = tz.String
	u.CreatedAt = fromUnix(created)
	return u, nil
}

// UserIDs lists every registered user.
func (s *SQLite) UserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, wrap("list users", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("list users", err)
		}
		out = append(out, id)
	}
	return out, wrap("list users", rows.Err())
}

// UserLocation returns the user's zone. A NULL or unknown stored name
// resolves to the configured default zone.
func (s *SQLite) UserLocation(ctx context.Context, id int64) (*time.Location, error) {
	var tz sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT timezone FROM users WHERE id = ?`, id).Scan(&tz)
	if errors.Is(err, sql.ErrNoRows) {
		return s.locs.Default(), notFound("user", id)
	}
	if err != nil {
		return s.locs.Default(), wrap("get timezone", err)
	}
	return s.locs.Resolve(tz.String), nil
}

func (s *SQLite) ReminderSettings(ctx context.Context, id int64) (Settings, error) {
	var (
		st           Settings
		email        sql.NullString
		emailOn      int
		dailyOn      int
		dailyAtLocal string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT pre_event_offset_minutes, daily_reminder_enabled, daily_reminder_time, email, email_enabled
		 FROM users WHERE id = ?`, id,
	).Scan(&st.PreEventOffsetMinutes, &dailyOn, &dailyAtLocal, &email, &emailOn)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{}, notFound("user", id)
	}
	if err != nil {
		return Settings{}, wrap("get settings", err)
	}
	st.DailyReminderEnabled = dailyOn != 0
	st.DailyReminderTime = dailyAtLocal
	st.Email = email.String
	st.EmailEnabled = emailOn != 0
	return st, nil
}

func (s *SQLite) SetPreEventOffset(ctx context.Context, id int64, minutes int) error {
	if minutes < 0 {
		return fmt.Errorf("%w: offset must be >= 0", timeutil.ErrInvalidFormat)
	}
	return s.setPreference(ctx, id, PrefPreEventOffset, minutes)
}

func (s *SQLite) SetDailyReminderEnabled(ctx context.Context, id int64, on bool) error {
	return s.setPreference(ctx, id, PrefDailyReminderEnabled, boolInt(on))
}

// SetDailyReminderTime stores a normalised "HH:MM".
func (s *SQLite) SetDailyReminderTime(ctx context.Context, id int64, clock string) error {
	h, m, err := timeutil.ParseClock(clock)
	if err != nil {
		return err
	}
	return s.setPreference(ctx, id, PrefDailyReminderTime, timeutil.FormatClock(h, m))
}

// SetEmail stores addr as given; an empty addr clears it.
func (s *SQLite) SetEmail(ctx context.Context, id int64, addr string) error {
	return s.setPreference(ctx, id, PrefEmail, nullStr(addr))
}

func (s *SQLite) SetEmailEnabled(ctx context.Context, id int64, on bool) error {
	return s.setPreference(ctx, id, PrefEmailEnabled, boolInt(on))
}

// SetTimezone stores a zone name after checking it loads. Tasks without a
// time of day keep their calendar day: their deadline moves to midnight of
// that day in the new zone. The moved tasks are returned.
func (s *SQLite) SetTimezone(ctx context.Context, id int64, name string) ([]TaskMove, error) {
	loc, err := s.locs.Load(name)
	if err != nil {
		return nil, err
	}
	var moves []TaskMove
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var tz sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT timezone FROM users WHERE id = ?`, id).Scan(&tz)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("user", id)
		}
		if err != nil {
			return err
		}
		prev := s.locs.Resolve(tz.String)
		if _, err := tx.ExecContext(ctx, `UPDATE users SET timezone = ? WHERE id = ?`, loc.String(), id); err != nil {
			return err
		}
		moves, err = reanchorDateOnly(ctx, tx, id, prev, loc)
		return err
	})
	if err != nil {
		return nil, wrap("set "+PrefTimezone.String(), err)
	}
	return moves, nil
}

// reanchorDateOnly moves has_time=0 deadlines from midnight in prev to
// midnight of the same calendar day in loc.
func reanchorDateOnly(ctx context.Context, tx *sql.Tx, userID int64, prev, loc *time.Location) ([]TaskMove, error) {
	if prev.String() == loc.String() {
		return nil, nil
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE user_id = ? AND has_time = 0`, userID)
	if err != nil {
		return nil, err
	}
	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		tasks = append(tasks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var moves []TaskMove
	for _, t := range tasks {
		y, m, d := t.Deadline.In(prev).Date()
		moved := t
		moved.Deadline = time.Date(y, m, d, 0, 0, 0, 0, loc).UTC()
		if moved.Deadline.Equal(t.Deadline) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET deadline_utc = ? WHERE id = ?`, unix(moved.Deadline), t.ID); err != nil {
			return nil, err
		}
		moves = append(moves, TaskMove{Old: t, New: moved})
	}
	return moves, nil
}

func (s *SQLite) setPreference(ctx context.Context, id int64, p Preference, value any) error {
	col, ok := p.column()
	if !ok {
		return fmt.Errorf("unknown preference %d", int(p))
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET `+col+` = ? WHERE id = ?`, value, id)
	if err != nil {
		return wrap("set "+p.String(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("set "+p.String(), err)
	}
	if n == 0 {
		return notFound("user", id)
	}
	return nil
}
