package storage

import (
	"errors"
	"time"

	"studybot/pkg/timeutil"
)

var (
	ErrRepository = errors.New("repository error")
	ErrNotFound   = errors.New("not found")
	ErrDuplicate  = errors.New("already exists")
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means 5s

	// Locations resolves stored zone names. Its default zone is the only
	// fallback for users without a valid timezone.
	Locations *timeutil.Locations

	// Defaults seed new users.
	Defaults UserDefaults

	// Now is overridable in tests.
	Now func() time.Time
}

type UserDefaults struct {
	PreEventOffsetMinutes int
	DailyReminderEnabled  bool
	DailyReminderTime     string
	EmailEnabled          bool
}

type User struct {
	ID        int64
	Username  string
	Timezone  string // empty means the configured default
	CreatedAt time.Time
}

// Settings are a user's notification preferences.
type Settings struct {
	PreEventOffsetMinutes int
	DailyReminderEnabled  bool
	DailyReminderTime     string // local "HH:MM"
	Email                 string
	EmailEnabled          bool
}

type Event struct {
	ID       int64
	UserID   int64
	Title    string
	At       time.Time // UTC
	Reminded bool
}

type Task struct {
	ID       int64
	UserID   int64
	Title    string
	Category string
	Deadline time.Time // UTC; local midnight when HasTime is false
	HasTime  bool
	Reminded bool
}

// TaskMove is a task whose deadline was rewritten, before and after.
type TaskMove struct {
	Old, New Task
}

// Preference is the closed set of user-settable fields.
type Preference int

const (
	PrefPreEventOffset Preference = iota + 1
	PrefDailyReminderEnabled
	PrefDailyReminderTime
	PrefEmail
	PrefEmailEnabled
	PrefTimezone
)

func (p Preference) String() string {
	switch p {
	case PrefPreEventOffset:
		return "pre_event_offset"
	case PrefDailyReminderEnabled:
		return "daily_reminder_enabled"
	case PrefDailyReminderTime:
		return "daily_reminder_time"
	case PrefEmail:
		return "email"
	case PrefEmailEnabled:
		return "email_enabled"
	case PrefTimezone:
		return "timezone"
	default:
		return "unknown"
	}
}

// column maps a preference to its users column. Column names never come
// from callers.
func (p Preference) column() (string, bool) {
	switch p {
	case PrefPreEventOffset:
		return "pre_event_offset_minutes", true
	case PrefDailyReminderEnabled:
		return "daily_reminder_enabled", true
	case PrefDailyReminderTime:
		return "daily_reminder_time", true
	case PrefEmail:
		return "email", true
	case PrefEmailEnabled:
		return "email_enabled", true
	case PrefTimezone:
		return "timezone", true
	default:
		return "", false
	}
}
