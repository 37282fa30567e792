package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"studybot/internal/task/engine"
	logx "studybot/pkg/logx"
)

// AddSchedule parses schedule (see ParseSchedule) and registers a periodic
// job under name, replacing any schedule with the same name. Runs of one
// schedule never overlap.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) error {
	sc, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	if sc.Every > 0 {
		return s.AddInterval(name, sc.Every, timeout, job)
	}
	return s.AddCron(name, sc.Cron, timeout, job)
}

func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron %q: %w", spec, err)
	}
	return s.addDef(name, spec, timeout, job)
}

func (s *Service) AddInterval(name string, every time.Duration, timeout time.Duration, job Job) error {
	if every <= 0 {
		return errors.New("interval must be > 0")
	}
	return s.addDef(name, "@every "+every.String(), timeout, job)
}

func (s *Service) addDef(name, spec string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeScheduleLocked(name)
	s.defs = append(s.defs, scheduleDef{name: name, spec: spec, timeout: timeout, job: job, state: &engine.RunState{}})
	if s.c == nil {
		return nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(d); err != nil {
		return err
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec), logx.Time("next", s.c.Entry(d.entryID).Next))
	return nil
}

func (s *Service) removeScheduleLocked(name string) {
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			continue
		}
		s.defs[n] = d
		n++
	}
	clear(s.defs[n:])
	s.defs = s.defs[:n]
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	name, timeout, run, state := d.name, d.timeout, d.job, d.state
	job := cron.FuncJob(func() {
		at := s.now()
		err := s.engine.Enqueue(engine.Task{
			Name:    name,
			Timeout: timeout,
			Run:     func(ctx context.Context) error { return run(withFiredAt(ctx, at)) },
			Overlap: engine.OverlapSkipIfRunning,
			State:   state,
		})
		s.reportEnqueue("schedule", name, err)
	})

	if every, ok := strings.CutPrefix(d.spec, "@every "); ok {
		if dur, err := time.ParseDuration(every); err == nil && dur > 0 {
			sched, _ := intervalWithSpread(dur, time.Now().In(s.loc), name)
			d.entryID = s.c.Schedule(sched, job)
			return nil
		}
	}
	eid, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}
