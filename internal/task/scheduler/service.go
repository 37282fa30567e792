package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"studybot/internal/eventbus"
	"studybot/internal/task/engine"
	logx "studybot/pkg/logx"
)

func New(cfg Config, eng *engine.Service, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Service{
		log:     log,
		bus:     bus,
		loc:     cfg.Location,
		now:     cfg.Now,
		engine:  eng,
		timers:  map[string]*timer{},
		enqWarn: map[string]*rate.Limiter{},
	}
}

// Start begins cron triggering and accepts timers. Schedules added before
// Start are registered now.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(s.loc))
	for i := range s.defs {
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
	s.tmu.Lock()
	s.armed = true
	s.tmu.Unlock()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop halts cron and discards every pending timer. Timers are not
// persisted; the planner rebuilds them on the next start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	discarded := len(s.timers)
	for _, t := range s.timers {
		t.t.Stop()
	}
	s.timers = map[string]*timer{}
	s.armed = false
	s.tmu.Unlock()

	s.log.Info("scheduler stopped", logx.Int("discarded_timers", discarded), logx.Duration("took", time.Since(start)))
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Running: s.c != nil, Timezone: s.loc.String()}
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	s.mu.Unlock()

	snap.Timers = s.timerInfos()
	if s.engine != nil {
		snap.Engine = s.engine.Snapshot()
	}
	return snap
}
