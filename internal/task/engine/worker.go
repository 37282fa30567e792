package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"studybot/internal/eventbus"
	logx "studybot/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	for {
		// a closed stopCh wins over queued work
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			if !s.groups.acquire(qt) {
				// parked; a finishing task of the same group picks it up
				continue
			}
			for {
				s.execOne(ctx, qt)
				next, ok := s.groups.release(qt.task.Group)
				if !ok {
					break
				}
				if ctx.Err() != nil {
					next.releaseState()
					break
				}
				qt = next
			}
		}
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	defer qt.releaseState()

	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)
	if s.cfg.MaxQueueDelay > 0 && queueDelay > s.cfg.MaxQueueDelay {
		s.onStaleDropped(start, qt.task, queueDelay)
		return
	}

	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	rec := recordOf(qt.task, start)
	rec.QueueDelay = queueDelay
	s.log.Debug("task started", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay))
	s.publish(eventbus.TaskStarted, rec)

	err := s.runGuarded(ctx, qt)

	rec.Duration = time.Since(start)
	switch {
	case err != nil:
		rec.Error = err.Error()
		s.log.Warn("task failed", logx.String("task", qt.task.Name), logx.String("id", qt.task.ID), logx.Err(err), logx.Duration("dur", rec.Duration))
		s.publish(eventbus.TaskFailed, rec)
	case rec.Duration >= 750*time.Millisecond:
		s.log.Info("slow task completed", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", rec.Duration))
		s.publish(eventbus.TaskFinished, rec)
	default:
		s.log.Debug("task completed", logx.String("task", qt.task.Name), logx.Duration("dur", rec.Duration))
		s.publish(eventbus.TaskFinished, rec)
	}
	s.record(rec)
}

// runGuarded turns a task panic into an error so one bad callback cannot
// kill the worker.
func (s *Service) runGuarded(ctx context.Context, qt queuedTask) (err error) {
	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task panicked", logx.String("task", qt.task.Name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return qt.task.Run(runCtx)
}
