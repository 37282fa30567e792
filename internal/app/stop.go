package app

import (
	"context"
	"fmt"
	"time"

	logx "studybot/pkg/logx"
)

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
)

type stopStep struct {
	name string
	max  time.Duration
	fn   func(context.Context) error
}

// Stop shuts components down in dependency order: scheduler, engine,
// notifier drain, metrics, adapter, storage. Each step gets a bounded slice
// of ctx. A step that overruns is logged and abandoned.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdStopping(a.log)
	a.sup.Cancel()

	a.mu.Lock()
	drain := a.cur.notifier.DrainTimeout
	a.mu.Unlock()

	steps := []stopStep{
		{"scheduler", 2 * time.Second, func(c context.Context) error { a.sched.Stop(c); return nil }},
		{"taskengine", 2 * time.Second, func(c context.Context) error { a.engine.Stop(c); return nil }},
		{"notifier", drain, func(c context.Context) error { a.notif.Stop(c); return nil }},
		{"metrics", time.Second, func(c context.Context) error { a.metricsSrv.Stop(c); return nil }},
		{"adapter", 2 * time.Second, a.adapter.Stop},
		{"storage", time.Second, func(context.Context) error { return a.store.Close() }},
		{"supervisor", 2 * time.Second, a.sup.Wait},
	}
	for _, s := range steps {
		a.step(ctx, s.name, s.max, s.fn)
	}

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs fn under a deadline of max, clipped to ctx. fn must honor its
// context; when it does not, step returns at the deadline and the late
// result is logged whenever it arrives.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	log := a.log.With(logx.String("step", name))
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	sctx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	start := time.Now()
	res := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				res <- fmt.Errorf("panic: %v", r)
			}
		}()
		res <- fn(sctx)
	}()

	select {
	case err := <-res:
		took := time.Since(start)
		switch {
		case err != nil:
			log.Warn("stop step failed", logx.Duration("took", took), logx.Err(err))
		case took >= 500*time.Millisecond:
			log.Info("stop step slow", logx.Duration("took", took))
		default:
			log.Debug("stop step done", logx.Duration("took", took))
		}
	case <-sctx.Done():
		log.Warn("stop step overran, moving on", logx.Duration("max", max))
		go func() {
			err := <-res
			log.Info("stop step finished late", logx.Duration("took", time.Since(start)), logx.Err(err))
		}()
	}
}
