package config

// Config is the root of the studybot config file (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "10s", "1m") or whole days
// ("2d").
// Sections marked optional fall back to the defaults documented on their type.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	SMTP      SMTPConfig      `json:"smtp,omitempty"`
	Reminders RemindersConfig `json:"reminders"`

	// TaskEngine controls the worker pool that runs timer callbacks and sweep ticks.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	// Notifier controls the async dispatch pipeline. Omitted means enabled with defaults.
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	Metrics MetricsConfig `json:"metrics,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// GroupLog is the chat id that receives mirrored warnings/errors.
	GroupLog string `json:"group_log,omitempty"`
	// PollTimeout is the long-poll timeout. Default "10s".
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig points at the SQLite database.
//
// Changes require a restart.
type StorageConfig struct {
	Path        string `json:"path"`                   // default: "./studybot.db"
	BusyTimeout string `json:"busy_timeout,omitempty"` // default: "5s"
}

// SMTPConfig enables the email channel.
//
// TLS is one of "mandatory" (default), "opportunistic" or "none".
type SMTPConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"` // default: 587
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"` // never logged
	From     string `json:"from,omitempty"`     // default: username
	Timeout  string `json:"timeout,omitempty"`  // default: "15s"
	TLS      string `json:"tls,omitempty"`
}

// RemindersConfig drives planning and the due-item sweep.
//
// Defaults:
//   - default_timezone: "Asia/Tashkent"
//   - sweep_schedule: "* * * * *" (second 0 of every minute); also cron with
//     seconds, @descriptors, "@every 30s" or a bare duration
//   - plan_parallelism / sweep_parallelism: 8
//   - callback_timeout: "30s"
//   - min_offset_minutes / max_offset_minutes: 5 / 1440
type RemindersConfig struct {
	DefaultTimezone  string       `json:"default_timezone,omitempty"`
	SweepSchedule    string       `json:"sweep_schedule,omitempty"`
	PlanParallelism  int          `json:"plan_parallelism,omitempty"`
	SweepParallelism int          `json:"sweep_parallelism,omitempty"`
	CallbackTimeout  string       `json:"callback_timeout,omitempty"`
	MinOffsetMinutes int          `json:"min_offset_minutes,omitempty"`
	MaxOffsetMinutes int          `json:"max_offset_minutes,omitempty"`
	Defaults         UserDefaults `json:"defaults,omitempty"`
}

// UserDefaults seed the preferences of a newly registered user.
//
// Pointers distinguish an omitted value from an explicit false/zero.
type UserDefaults struct {
	PreEventOffsetMinutes *int   `json:"pre_event_offset_minutes,omitempty"` // default: 60
	DailyReminderEnabled  *bool  `json:"daily_reminder_enabled,omitempty"`   // default: true
	DailyReminderTime     string `json:"daily_reminder_time,omitempty"`      // default: "08:00"
	EmailEnabled          *bool  `json:"email_enabled,omitempty"`            // default: true
}

// TaskEngineConfig controls the task execution engine.
//
// Defaults:
//   - workers: 4
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// RetryMax defaults to 0: a failed reminder is logged, never re-sent.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max,omitempty"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
	DrainTimeout    string `json:"drain_timeout,omitempty"`
}

// MetricsConfig controls the Prometheus/pprof HTTP server.
//
// Prefer binding to localhost. A non-loopback addr requires a token.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:9090"
	Path    string `json:"path,omitempty"`  // default: "/metrics"
	Pprof   bool   `json:"pprof,omitempty"` // mounts /debug/pprof/
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)
}
