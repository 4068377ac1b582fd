package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process. Expired entries are dropped lazily
// on read and by Sweep.
type MemoryStore struct {
	mu  sync.RWMutex
	m   map[string]Record
	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		m:   make(map[string]Record),
		now: time.Now,
	}
}

func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	s.m[rec.ID] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	rec, ok := s.m[id]
	s.mu.RUnlock()
	if !ok {
		return Record{}, ErrSessionNotFound
	}

	if rec.Expired(s.now()) {
		s.mu.Lock()
		delete(s.m, id)
		s.mu.Unlock()
		return Record{}, ErrSessionNotFound
	}

	return rec, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.m, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// Sweep removes every expired record and reports how many were dropped.
func (s *MemoryStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, rec := range s.m {
		if rec.Expired(now) {
			delete(s.m, id)
			n++
		}
	}
	return n
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
