package streambus

import (
	"sync"
	"time"
)

// taskSet tracks cancelable deferred callbacks keyed by message id.
// A fired callback runs only if its task was not canceled or replaced.
// With retain set, fired tasks stay registered until done is called.
type taskSet struct {
	mu      sync.Mutex
	tasks   map[string]*task
	retain  bool
	stopped bool
}

type task struct {
	timer *time.Timer
}

func newTaskSet(retain bool) *taskSet {
	return &taskSet{tasks: make(map[string]*task), retain: retain}
}

// add registers id and schedules fn after d. A d <= 0 or nil fn only records id.
func (s *taskSet) add(id string, d time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if prev, ok := s.tasks[id]; ok && prev.timer != nil {
		prev.timer.Stop()
	}
	t := &task{}
	s.tasks[id] = t
	if d > 0 && fn != nil {
		t.timer = time.AfterFunc(d, func() { s.fire(id, t, fn) })
	}
	return true
}

func (s *taskSet) fire(id string, t *task, fn func()) {
	s.mu.Lock()
	if s.stopped || s.tasks[id] != t {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	fn()

	if s.retain {
		return
	}
	s.mu.Lock()
	if s.tasks[id] == t {
		delete(s.tasks, id)
	}
	s.mu.Unlock()
}

// done cancels and forgets id. It reports whether id was registered.
func (s *taskSet) done(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	delete(s.tasks, id)
	return true
}

func (s *taskSet) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

func (s *taskSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// stopAll cancels every pending callback and rejects further adds.
func (s *taskSet) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, t := range s.tasks {
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(s.tasks, id)
	}
}
