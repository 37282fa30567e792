package notifier

import (
	"context"
	"time"

	logx "studybot/pkg/logx"
)

type dedupWrite struct {
	key   string
	until time.Time
}

// claim reports whether m.Key is outside its suppression window and, if so,
// opens a new window. Messages without a key are always fresh.
func (s *Service) claim(ctx context.Context, m Message) (time.Time, bool) {
	cfg := s.config()
	if m.Key == "" || cfg.DedupWindow <= 0 {
		return time.Time{}, true
	}
	now := time.Now()

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.seen.Get(m.Key); ok && now.Before(until) {
		return until, false
	}
	if cfg.PersistDedup && s.dep.Dedup != nil {
		cctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		until, ok, err := s.dep.Dedup.GetDedup(cctx, m.Key)
		cancel()
		if err != nil {
			s.log.Debug("dedup lookup failed", logx.String("key", m.Key), logx.Err(err))
		} else if ok && now.Before(until) {
			s.seen.Add(m.Key, until)
			return until, false
		}
	}
	until := now.Add(cfg.DedupWindow)
	s.seen.Add(m.Key, until)
	return until, true
}

func (s *Service) unclaim(key string) {
	if key == "" {
		return
	}
	s.dmu.Lock()
	s.seen.Remove(key)
	s.dmu.Unlock()
}

// persist records the window in the store so a restart inside the window
// still suppresses the key.
func (s *Service) persist(key string, until time.Time) {
	if key == "" || until.IsZero() {
		return
	}
	cfg := s.config()
	if !cfg.PersistDedup || s.dep.Dedup == nil {
		return
	}
	s.mu.Lock()
	pch := s.persistCh
	s.mu.Unlock()
	if pch == nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.dep.Dedup.PutDedup(ctx, key, until); err != nil {
			s.log.Debug("dedup persist failed", logx.String("key", key), logx.Err(err))
		}
		return
	}
	select {
	case pch <- dedupWrite{key: key, until: until}:
	default:
	}
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ch:
			if !ok {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, time.Second)
			if err := s.dep.Dedup.PutDedup(cctx, w.key, w.until); err != nil {
				s.log.Debug("dedup persist failed", logx.String("key", w.key), logx.Err(err))
			}
			cancel()
		}
	}
}
