package app

import (
	"context"
	"strings"
	"time"

	"studybot/internal/config"
	"studybot/internal/eventbus"
	logx "studybot/pkg/logx"
)

// reloadLoop applies published configs until ctx ends. Bursts collapse to
// the newest config.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			sections, attrs := config.SummarizeConfigChange(last, next)
			prev := last
			last = next
			if err := a.apply(ctx, prev, next, sections); err != nil {
				a.log.Warn("config reload not applied", logx.Err(err))
				continue
			}
			if len(sections) == 0 {
				a.log.Info("config reloaded (no changes)")
				continue
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
			a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now(), Data: sections})
		}
	}
}

// apply pushes the hot-reloadable parts of cfg into the running components.
func (a *App) apply(ctx context.Context, old, cfg *config.Config, sections []string) error {
	r, err := resolve(cfg)
	if err != nil {
		return err
	}

	a.mu.Lock()
	prev := a.cur
	a.cur = r
	a.mu.Unlock()

	a.logs.Apply(logConfig(cfg, r.groupLog))
	a.cmdm.SetOwners(cfg.Telegram.OwnerUserIDs)
	a.mailer.Apply(r.smtp)
	a.store.SetDefaults(userDefaults(r.reminders.Defaults))

	a.notif.Apply(notifierConfig(r.notifier))
	switch {
	case prev.notifier.Enabled && !r.notifier.Enabled:
		a.log.Info("notifier disabled via config; delivering inline")
		stopCtx, cancel := context.WithTimeout(ctx, r.notifier.DrainTimeout)
		a.notif.Stop(stopCtx)
		cancel()
	case !prev.notifier.Enabled && r.notifier.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(context.WithoutCancel(ctx))
	}

	if r.reminders.SweepSchedule != prev.reminders.SweepSchedule {
		if err := a.sched.AddSchedule(sweepScheduleName, r.reminders.SweepSchedule, r.reminders.CallbackTimeout, a.sweepTick); err != nil {
			a.log.Warn("sweep schedule not updated", logx.Err(err))
		} else {
			a.log.Info("sweep schedule updated", logx.String("spec", r.reminders.SweepSchedule))
		}
	}

	a.metricsSrv.Reconfigure(ctx, r.metrics)

	for _, s := range sections {
		switch s {
		case "storage", "task_engine":
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}
	if old != nil && (old.Telegram.Token != cfg.Telegram.Token || old.Telegram.PollTimeout != cfg.Telegram.PollTimeout) {
		a.log.Warn("telegram connection settings changed; restart required for them to take effect")
	}
	if prev.reminders.DefaultTimezone != r.reminders.DefaultTimezone ||
		prev.reminders.PlanParallelism != r.reminders.PlanParallelism ||
		prev.reminders.SweepParallelism != r.reminders.SweepParallelism ||
		prev.reminders.CallbackTimeout != r.reminders.CallbackTimeout ||
		prev.reminders.MinOffset != r.reminders.MinOffset ||
		prev.reminders.MaxOffset != r.reminders.MaxOffset {
		a.log.Warn("reminder engine settings changed; restart required for them to take effect")
	}
	return nil
}
