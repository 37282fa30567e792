package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"studybot/internal/eventbus"
	"studybot/internal/task/engine"
)

// TimerEvent is published on the bus for timer changes.
type TimerEvent struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

// Upsert registers a one-shot job under id, replacing any job with that id.
// at must be strictly after the scheduler clock.
func (s *Service) Upsert(id string, at time.Time, timeout time.Duration, job Job) error {
	return s.UpsertOpt(id, at, timeout, TimerOptions{}, job)
}

func (s *Service) UpsertOpt(id string, at time.Time, timeout time.Duration, opt TimerOptions, job Job) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("timer id required")
	}
	if job == nil {
		return errors.New("job required")
	}
	now := s.now()
	if !at.After(now) {
		return fmt.Errorf("%w: %s at %s", ErrPastInstant, id, at.UTC().Format(time.RFC3339))
	}

	s.tmu.Lock()
	if !s.armed {
		s.tmu.Unlock()
		return ErrStopped
	}
	if old := s.timers[id]; old != nil {
		old.t.Stop()
	}
	s.verSeq++
	tm := &timer{at: at, timeout: timeout, opt: opt, job: job, ver: s.verSeq}
	ver := tm.ver
	tm.t = time.AfterFunc(at.Sub(now), func() { s.fire(id, ver) })
	s.timers[id] = tm
	s.tmu.Unlock()

	s.bus.Publish(eventbus.Event{Type: eventbus.TimerUpserted, Data: TimerEvent{ID: id, At: at}})
	return nil
}

// Cancel removes the timer registered under id.
func (s *Service) Cancel(id string) bool {
	s.tmu.Lock()
	tm := s.timers[id]
	if tm != nil {
		tm.t.Stop()
		delete(s.timers, id)
	}
	s.tmu.Unlock()
	if tm == nil {
		return false
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TimerCanceled, Data: TimerEvent{ID: id, At: tm.at}})
	return true
}

// Pending returns the ids of registered timers, sorted.
func (s *Service) Pending() []string {
	s.tmu.Lock()
	out := make([]string, 0, len(s.timers))
	for id := range s.timers {
		out = append(out, id)
	}
	s.tmu.Unlock()
	sort.Strings(out)
	return out
}

// fire hands the job to the engine exactly once. A timer replaced or
// cancelled after its time.Timer already fired has a newer version or no
// entry, so the stale callback does nothing.
func (s *Service) fire(id string, ver uint64) {
	s.tmu.Lock()
	tm := s.timers[id]
	if tm == nil || tm.ver != ver {
		s.tmu.Unlock()
		return
	}
	delete(s.timers, id)
	s.tmu.Unlock()

	s.bus.Publish(eventbus.Event{Type: eventbus.TimerFired, Data: TimerEvent{ID: id, At: tm.at}})
	at, job := tm.at, tm.job
	err := s.engine.Enqueue(engine.Task{
		Name:       id,
		Timeout:    tm.timeout,
		Run:        func(ctx context.Context) error { return job(withFiredAt(ctx, at)) },
		Group:      tm.opt.Group,
		GroupLimit: tm.opt.GroupLimit,
	})
	s.reportEnqueue("timer", id, err)
}

func (s *Service) timerInfos() []TimerInfo {
	s.tmu.Lock()
	out := make([]TimerInfo, 0, len(s.timers))
	for id, tm := range s.timers {
		out = append(out, TimerInfo{ID: id, At: tm.at})
	}
	s.tmu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
