package scheduler

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	"studybot/internal/task/engine"
	logx "studybot/pkg/logx"
)

// one warning per source every few seconds; a full queue fails every
// trigger until it drains
var enqueueWarnEvery = rate.Every(5 * time.Second)

// reportEnqueue logs a trigger the engine refused. kind is "schedule" or
// "timer". Overlap skips are routine and stay at debug.
func (s *Service) reportEnqueue(kind, name string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug(kind+" trigger skipped", logx.String(kind, name))
		return
	}
	if !s.warnLimiter(kind + ":" + name).Allow() {
		return
	}
	s.log.Warn(kind+" trigger dropped", logx.String(kind, name), logx.Err(err))
}

func (s *Service) warnLimiter(key string) *rate.Limiter {
	s.enqMu.Lock()
	defer s.enqMu.Unlock()
	l := s.enqWarn[key]
	if l == nil {
		l = rate.NewLimiter(enqueueWarnEvery, 1)
		s.enqWarn[key] = l
	}
	return l
}
