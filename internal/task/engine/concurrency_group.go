package engine

import (
	"strings"
	"sync"
)

// group tracks how many tasks of one key are executing and which are waiting.
// The limit is fixed by the first task that creates the group.
type group struct {
	limit   int
	running int
	backlog []queuedTask
}

type groupStore struct {
	mu     sync.Mutex
	groups map[string]*group
}

// acquire admits qt into its group or parks it in the backlog.
func (s *groupStore) acquire(qt queuedTask) bool {
	key := strings.TrimSpace(qt.task.Group)
	if key == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groups == nil {
		s.groups = make(map[string]*group)
	}
	g := s.groups[key]
	if g == nil {
		g = &group{limit: max(qt.task.GroupLimit, 1)}
		s.groups[key] = g
	}
	if g.running < g.limit {
		g.running++
		return true
	}
	g.backlog = append(g.backlog, qt)
	return false
}

// release hands the slot of a finished task to the next backlogged task, if
// any. The caller must run the returned task.
func (s *groupStore) release(key string) (queuedTask, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return queuedTask{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.groups[key]
	if g == nil {
		return queuedTask{}, false
	}
	if len(g.backlog) > 0 {
		next := g.backlog[0]
		g.backlog[0] = queuedTask{}
		g.backlog = g.backlog[1:]
		return next, true
	}
	g.running--
	if g.running <= 0 {
		delete(s.groups, key)
	}
	return queuedTask{}, false
}

func (s *groupStore) backlogLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, g := range s.groups {
		n += len(g.backlog)
	}
	return n
}

// drain empties every backlog and returns the discarded tasks.
func (s *groupStore) drain() []queuedTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []queuedTask
	for _, g := range s.groups {
		out = append(out, g.backlog...)
	}
	s.groups = nil
	return out
}
