package scheduler

import "sync"

// sourceLocks hands out one mutex per source id so syncs against the same
// source serialize while different sources run concurrently. Locks are never
// evicted; the population is bounded by the number of connected sources.
type sourceLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newSourceLocks() *sourceLocks {
	return &sourceLocks{m: make(map[string]*sync.Mutex)}
}

func (l *sourceLocks) get(sourceID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.m[sourceID]; ok {
		return m
	}
	m := &sync.Mutex{}
	l.m[sourceID] = m
	return m
}
