package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"studybot/internal/notifier"
	rtsup "studybot/internal/runtime/supervisor"
	"studybot/internal/task/scheduler"
)

// status renders the owner-only runtime report.
func (a *App) status(context.Context) string {
	var sups []rtsup.Stats
	if a.sup != nil {
		sups = a.sup.Snapshot()
	}
	return renderStatus(time.Since(a.started), a.sched.Snapshot(), a.notif.Snapshot(), sups)
}

func renderStatus(uptime time.Duration, ss scheduler.Snapshot, hist []notifier.HistoryItem, sups []rtsup.Stats) string {
	es := ss.Engine
	lines := []string{
		"📊 Status",
		fmt.Sprintf("Uptime: %s", uptime.Truncate(time.Second)),
		"",
		fmt.Sprintf("Scheduler: %s, %d timers pending", runningText(ss.Running), len(ss.Timers)),
	}
	for _, sc := range ss.Schedules {
		next := "-"
		if !sc.Next.IsZero() {
			next = sc.Next.Format(time.RFC3339)
		}
		lines = append(lines, fmt.Sprintf("• %s [%s] next %s", sc.Name, sc.Spec, next))
	}
	lines = append(lines,
		fmt.Sprintf("Engine: %s, %d workers, queue %d/%d, in flight %d, dropped %d",
			runningText(es.Running), es.Workers, es.QueueLen, es.QueueCap, es.InFlight, es.Dropped),
	)

	var failed int
	var lastErr string
	for _, h := range hist {
		if h.Error != "" {
			failed++
			lastErr = h.Error
		}
	}
	lines = append(lines, fmt.Sprintf("Notifier: %d recent deliveries, %d failed", len(hist), failed))
	if lastErr != "" {
		lines = append(lines, "Last failure: "+lastErr)
	}

	for _, s := range sups {
		if s.Panics == 0 && s.Restarts == 0 && s.LastErr == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("⚠️ %s: %d restarts, %d panics %s", s.Name, s.Restarts, s.Panics, s.LastErr))
	}
	return strings.Join(lines, "\n")
}

func runningText(b bool) string {
	if b {
		return "running"
	}
	return "stopped"
}
