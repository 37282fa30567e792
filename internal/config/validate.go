package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks every section of cfg. It returns all problems joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("telegram.token required"))
	}
	if _, err := ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 0); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseChatID(cfg.Telegram.GroupLog); err != nil {
		errs = append(errs, err)
	}
	if cfg.Logging.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.GroupLog) == "" {
		errs = append(errs, fmt.Errorf("logging.telegram.enabled requires telegram.group_log"))
	}
	if _, err := ResolveStorage(cfg.Storage); err != nil {
		errs = append(errs, err)
	}
	if _, err := ResolveSMTP(cfg.SMTP); err != nil {
		errs = append(errs, err)
	}
	if _, err := ResolveReminders(cfg.Reminders); err != nil {
		errs = append(errs, err)
	}
	if _, err := ResolveTaskEngine(cfg.TaskEngine); err != nil {
		errs = append(errs, err)
	}
	if _, err := ResolveNotifier(cfg.Notifier); err != nil {
		errs = append(errs, err)
	}
	if _, err := ResolveMetrics(cfg.Metrics); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
