package config

import (
	"hash/fnv"
	"reflect"
	"sort"
	"strings"

	logx "studybot/pkg/logx"
)

// SummarizeConfigChange returns the sorted list of changed sections and safe
// structured fields for logging. Secrets (bot token, SMTP password, metrics
// token) are reported only as "set" flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		ot.Token != nt.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	oldSMTP, ns := oldCfg.SMTP, newCfg.SMTP
	if !reflect.DeepEqual(oldSMTP, ns) {
		changed = append(changed, "smtp")
		attrs = append(attrs,
			logx.Bool("smtp.enabled", ns.Enabled),
			logx.String("smtp.host", strings.TrimSpace(ns.Host)),
			logx.Int("smtp.port", ns.Port),
			logx.String("smtp.tls", ns.TLS),
			logx.Bool("smtp.password_set", ns.Password != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Reminders, newCfg.Reminders) {
		changed = append(changed, "reminders")
		r := newCfg.Reminders
		attrs = append(attrs,
			logx.String("reminders.default_timezone", strings.TrimSpace(r.DefaultTimezone)),
			logx.String("reminders.sweep_schedule", strings.TrimSpace(r.SweepSchedule)),
			logx.Int("reminders.plan_parallelism", r.PlanParallelism),
			logx.Int("reminders.sweep_parallelism", r.SweepParallelism),
		)
	}

	if !reflect.DeepEqual(derefTaskEngine(oldCfg.TaskEngine), derefTaskEngine(newCfg.TaskEngine)) {
		changed = append(changed, "task_engine")
		te := derefTaskEngine(newCfg.TaskEngine)
		attrs = append(attrs,
			logx.Int("task_engine.workers", te.Workers),
			logx.Int("task_engine.queue_size", te.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(te.DefaultTimeout)),
			logx.String("task_engine.max_queue_delay", strings.TrimSpace(te.MaxQueueDelay)),
			logx.Int("task_engine.history_size", te.HistorySize),
		)
	}

	// nil notifier means runtime defaults, so compare effective sections.
	def := DefaultNotifier()
	oldN, newN := &def, &def
	if oldCfg.Notifier != nil {
		oldN = oldCfg.Notifier
	}
	if newCfg.Notifier != nil {
		newN = newCfg.Notifier
	}
	if !reflect.DeepEqual(*oldN, *newN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.queue_size", newN.QueueSize),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.String("notifier.dedup_window", newN.DedupWindow),
			logx.Bool("notifier.persist_dedup", newN.PersistDedup),
		)
	}

	om, nm := oldCfg.Metrics, newCfg.Metrics
	if om.Enabled != nm.Enabled ||
		strings.TrimSpace(om.Addr) != strings.TrimSpace(nm.Addr) ||
		strings.TrimSpace(om.Path) != strings.TrimSpace(nm.Path) ||
		om.Pprof != nm.Pprof ||
		(strings.TrimSpace(om.Token) != "") != (strings.TrimSpace(nm.Token) != "") {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", nm.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(nm.Addr)),
			logx.String("metrics.path", strings.TrimSpace(nm.Path)),
			logx.Bool("metrics.pprof", nm.Pprof),
			logx.Bool("metrics.token_set", strings.TrimSpace(nm.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
