package orchestrator

import "sync"

// Session is a running restore or backup session
type Session interface {
	ID() string
	Close()
}

// Sessions indexes live sessions by id
type Sessions[S Session] struct {
	mu sync.RWMutex
	m  map[string]S
}

// NewSessions creates an empty index
func NewSessions[S Session]() *Sessions[S] {
	return &Sessions[S]{m: make(map[string]S)}
}

func (ss *Sessions[S]) Add(s S) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.m[s.ID()] = s
}

func (ss *Sessions[S]) Get(id string) (S, bool) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	s, ok := ss.m[id]
	return s, ok
}

// Remove closes and forgets the session. It reports whether it existed.
func (ss *Sessions[S]) Remove(id string) bool {
	ss.mu.Lock()
	s, ok := ss.m[id]
	delete(ss.m, id)
	ss.mu.Unlock()

	if ok {
		s.Close()
	}
	return ok
}

func (ss *Sessions[S]) Len() int {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return len(ss.m)
}

// CloseAll closes every session
func (ss *Sessions[S]) CloseAll() {
	ss.mu.Lock()
	all := ss.m
	ss.m = make(map[string]S)
	ss.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}
