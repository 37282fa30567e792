package app

import (
	"context"
	"fmt"

	"studybot/internal/config"
	"studybot/internal/notifier"
	"studybot/internal/storage"
	"studybot/internal/task/engine"
	"studybot/internal/task/scheduler"
	logx "studybot/pkg/logx"
)

// resolved is every config section with defaults applied.
type resolved struct {
	groupLog  int64
	storage   config.Storage
	smtp      config.SMTP
	reminders config.Reminders
	engine    config.TaskEngine
	notifier  config.Notifier
	metrics   config.Metrics
}

func resolve(cfg *config.Config) (resolved, error) {
	if err := config.Validate(cfg); err != nil {
		return resolved{}, err
	}
	var (
		r   resolved
		err error
	)
	if r.groupLog, err = config.ParseChatID(cfg.Telegram.GroupLog); err != nil {
		return resolved{}, err
	}
	if r.storage, err = config.ResolveStorage(cfg.Storage); err != nil {
		return resolved{}, err
	}
	if r.smtp, err = config.ResolveSMTP(cfg.SMTP); err != nil {
		return resolved{}, err
	}
	if r.reminders, err = config.ResolveReminders(cfg.Reminders); err != nil {
		return resolved{}, err
	}
	if _, err = scheduler.ParseSchedule(r.reminders.SweepSchedule); err != nil {
		return resolved{}, fmt.Errorf("reminders.sweep_schedule: %w", err)
	}
	if r.engine, err = config.ResolveTaskEngine(cfg.TaskEngine); err != nil {
		return resolved{}, err
	}
	if r.notifier, err = config.ResolveNotifier(cfg.Notifier); err != nil {
		return resolved{}, err
	}
	if r.metrics, err = config.ResolveMetrics(cfg.Metrics); err != nil {
		return resolved{}, err
	}
	return r, nil
}

// ValidateFile loads and fully resolves the config at path without starting
// anything.
func ValidateFile(path string) error {
	cfg, err := config.NewManager(path).Parse()
	if err != nil {
		return err
	}
	_, err = resolve(cfg)
	return err
}

func validator(_ context.Context, cfg *config.Config) error {
	_, err := resolve(cfg)
	return err
}

func logConfig(cfg *config.Config, groupLog int64) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && groupLog != 0,
			ChatID:     groupLog,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func engineConfig(te config.TaskEngine) engine.Config {
	return engine.Config{
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: te.DefaultTimeout,
		MaxQueueDelay:  te.MaxQueueDelay,
		HistorySize:    te.HistorySize,
	}
}

func notifierConfig(n config.Notifier) notifier.Config {
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		SendTimeout:     n.SendTimeout,
		DedupWindow:     n.DedupWindow,
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
	}
}

func userDefaults(d config.Defaults) storage.UserDefaults {
	return storage.UserDefaults{
		PreEventOffsetMinutes: d.PreEventOffsetMinutes,
		DailyReminderEnabled:  d.DailyReminderEnabled,
		DailyReminderTime:     d.DailyReminderTime,
		EmailEnabled:          d.EmailEnabled,
	}
}
