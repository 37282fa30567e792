package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Resolved views apply defaults and parse durations so callers never touch raw strings.

type Reminders struct {
	DefaultTimezone  string
	SweepSchedule    string
	PlanParallelism  int
	SweepParallelism int
	CallbackTimeout  time.Duration
	MinOffset        int
	MaxOffset        int
	Defaults         Defaults
}

type Defaults struct {
	PreEventOffsetMinutes int
	DailyReminderEnabled  bool
	DailyReminderTime     string
	EmailEnabled          bool
}

func ResolveReminders(rc RemindersConfig) (Reminders, error) {
	out := Reminders{
		DefaultTimezone:  strings.TrimSpace(rc.DefaultTimezone),
		SweepSchedule:    strings.TrimSpace(rc.SweepSchedule),
		PlanParallelism:  rc.PlanParallelism,
		SweepParallelism: rc.SweepParallelism,
		MinOffset:        rc.MinOffsetMinutes,
		MaxOffset:        rc.MaxOffsetMinutes,
		Defaults: Defaults{
			PreEventOffsetMinutes: 60,
			DailyReminderEnabled:  true,
			DailyReminderTime:     "08:00",
			EmailEnabled:          true,
		},
	}
	if out.DefaultTimezone == "" {
		out.DefaultTimezone = "Asia/Tashkent"
	}
	if out.SweepSchedule == "" {
		out.SweepSchedule = "* * * * *"
	}
	if out.PlanParallelism <= 0 {
		out.PlanParallelism = 8
	}
	if out.SweepParallelism <= 0 {
		out.SweepParallelism = 8
	}
	if out.MinOffset <= 0 {
		out.MinOffset = 5
	}
	if out.MaxOffset <= 0 {
		out.MaxOffset = 1440
	}
	if out.MinOffset > out.MaxOffset {
		return Reminders{}, fmt.Errorf("reminders: min_offset_minutes (%d) > max_offset_minutes (%d)", out.MinOffset, out.MaxOffset)
	}

	d, err := ParseDuration("reminders.callback_timeout", rc.CallbackTimeout, 30*time.Second)
	if err != nil {
		return Reminders{}, err
	}
	out.CallbackTimeout = d

	if _, err := time.LoadLocation(out.DefaultTimezone); err != nil {
		return Reminders{}, fmt.Errorf("reminders.default_timezone: unknown zone %q", out.DefaultTimezone)
	}

	def := rc.Defaults
	if def.PreEventOffsetMinutes != nil {
		if *def.PreEventOffsetMinutes < 0 {
			return Reminders{}, fmt.Errorf("reminders.defaults.pre_event_offset_minutes must be >= 0")
		}
		out.Defaults.PreEventOffsetMinutes = *def.PreEventOffsetMinutes
	}
	if def.DailyReminderEnabled != nil {
		out.Defaults.DailyReminderEnabled = *def.DailyReminderEnabled
	}
	if def.EmailEnabled != nil {
		out.Defaults.EmailEnabled = *def.EmailEnabled
	}
	if s := strings.TrimSpace(def.DailyReminderTime); s != "" {
		if _, err := time.Parse("15:04", s); err != nil {
			return Reminders{}, fmt.Errorf("reminders.defaults.daily_reminder_time: invalid HH:MM %q", s)
		}
		out.Defaults.DailyReminderTime = s
	}
	return out, nil
}

type TaskEngine struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
	MaxQueueDelay  time.Duration
	HistorySize    int
}

func ResolveTaskEngine(tc *TaskEngineConfig) (TaskEngine, error) {
	var raw TaskEngineConfig
	if tc != nil {
		raw = *tc
	}
	out := TaskEngine{Workers: raw.Workers, QueueSize: raw.QueueSize, HistorySize: raw.HistorySize}
	if out.Workers <= 0 {
		out.Workers = 4
	}
	if out.QueueSize <= 0 {
		out.QueueSize = 256
	}
	if out.HistorySize <= 0 {
		out.HistorySize = 200
	}
	var err error
	if out.DefaultTimeout, err = ParseDuration("task_engine.default_timeout", raw.DefaultTimeout, 0); err != nil {
		return TaskEngine{}, err
	}
	if out.MaxQueueDelay, err = ParseDuration("task_engine.max_queue_delay", raw.MaxQueueDelay, 0); err != nil {
		return TaskEngine{}, err
	}
	return out, nil
}

type Notifier struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
	DrainTimeout    time.Duration
}

// DefaultNotifier is what an omitted notifier section means.
func DefaultNotifier() NotifierConfig {
	return NotifierConfig{
		Enabled:         true,
		Workers:         2,
		QueueSize:       512,
		RatePerSec:      20,
		DedupWindow:     "10m",
		DedupMaxEntries: 5000,
		PersistDedup:    true,
		SendTimeout:     "20s",
		DrainTimeout:    "5s",
	}
}

func ResolveNotifier(nc *NotifierConfig) (Notifier, error) {
	raw := DefaultNotifier()
	if nc != nil {
		raw = *nc
	}
	out := Notifier{
		Enabled:         raw.Enabled,
		Workers:         raw.Workers,
		QueueSize:       raw.QueueSize,
		RatePerSec:      raw.RatePerSec,
		RetryMax:        raw.RetryMax,
		DedupMaxEntries: raw.DedupMaxEntries,
		PersistDedup:    raw.PersistDedup,
	}
	if out.Workers <= 0 {
		out.Workers = 2
	}
	if out.QueueSize <= 0 {
		out.QueueSize = 512
	}
	if out.RatePerSec <= 0 {
		out.RatePerSec = 20
	}
	if out.RetryMax < 0 {
		return Notifier{}, fmt.Errorf("notifier.retry_max must be >= 0")
	}
	if out.DedupMaxEntries <= 0 {
		out.DedupMaxEntries = 5000
	}
	var err error
	if out.SendTimeout, err = ParseDuration("notifier.send_timeout", raw.SendTimeout, 20*time.Second); err != nil {
		return Notifier{}, err
	}
	if out.DedupWindow, err = ParseDuration("notifier.dedup_window", raw.DedupWindow, 0); err != nil {
		return Notifier{}, err
	}
	if out.DrainTimeout, err = ParseDuration("notifier.drain_timeout", raw.DrainTimeout, 5*time.Second); err != nil {
		return Notifier{}, err
	}
	return out, nil
}

type SMTP struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
	TLS      string
}

func ResolveSMTP(sc SMTPConfig) (SMTP, error) {
	out := SMTP{
		Enabled:  sc.Enabled,
		Host:     strings.TrimSpace(sc.Host),
		Port:     sc.Port,
		Username: strings.TrimSpace(sc.Username),
		Password: sc.Password,
		From:     strings.TrimSpace(sc.From),
		TLS:      strings.ToLower(strings.TrimSpace(sc.TLS)),
	}
	if out.Port <= 0 {
		out.Port = 587
	}
	if out.From == "" {
		out.From = out.Username
	}
	switch out.TLS {
	case "":
		out.TLS = "mandatory"
	case "mandatory", "opportunistic", "none":
	default:
		return SMTP{}, fmt.Errorf("smtp.tls: want mandatory|opportunistic|none, got %q", sc.TLS)
	}
	d, err := ParseDuration("smtp.timeout", sc.Timeout, 15*time.Second)
	if err != nil {
		return SMTP{}, err
	}
	out.Timeout = d
	if out.Enabled {
		if out.Host == "" {
			return SMTP{}, fmt.Errorf("smtp.host required when smtp.enabled")
		}
		if out.From == "" {
			return SMTP{}, fmt.Errorf("smtp.from or smtp.username required when smtp.enabled")
		}
	}
	return out, nil
}

type Storage struct {
	Path        string
	BusyTimeout time.Duration
}

func ResolveStorage(sc StorageConfig) (Storage, error) {
	out := Storage{Path: strings.TrimSpace(sc.Path)}
	if out.Path == "" {
		out.Path = "./studybot.db"
	}
	d, err := ParseDuration("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return Storage{}, err
	}
	out.BusyTimeout = d
	return out, nil
}

type Metrics struct {
	Enabled bool
	Addr    string
	Path    string
	Pprof   bool
	Token   string
}

func ResolveMetrics(mc MetricsConfig) (Metrics, error) {
	out := Metrics{
		Enabled: mc.Enabled,
		Addr:    strings.TrimSpace(mc.Addr),
		Path:    strings.TrimSpace(mc.Path),
		Pprof:   mc.Pprof,
		Token:   strings.TrimSpace(mc.Token),
	}
	if out.Addr == "" {
		out.Addr = "127.0.0.1:9090"
	}
	if out.Path == "" {
		out.Path = "/metrics"
	}
	if !strings.HasPrefix(out.Path, "/") {
		out.Path = "/" + out.Path
	}
	if out.Enabled && out.Token == "" && !IsLoopbackAddr(out.Addr) {
		return Metrics{}, fmt.Errorf("metrics.addr %q is not loopback; set metrics.token", out.Addr)
	}
	return out, nil
}

// IsLoopbackAddr reports whether a host:port listen address binds to loopback only.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ParseChatID parses telegram.group_log. Empty means unset (0, nil).
func ParseChatID(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram.group_log: invalid chat id %q", raw)
	}
	return id, nil
}
