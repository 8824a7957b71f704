package leases

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps leases in a map guarded by a mutex. Expiry is judged by the injected clock.
type MemoryStore struct {
	clock func() time.Time

	mu    sync.Mutex
	table map[string]Lease
}

func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{clock: clock, table: map[string]Lease{}}
}

func (s *MemoryStore) Acquire(_ context.Context, name, holder string, ttl time.Duration) (Lease, bool, error) {
	if err := CheckAcquire(name, holder, ttl); err != nil {
		return Lease{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.clock()
	l, exists := s.table[name]
	if exists && l.Holder != holder && l.Live(at) {
		return l, false, nil
	}
	if !exists {
		l = Lease{Name: name}
	}
	if l.Holder != holder {
		l.Holder = holder
		l.Epoch++
	}
	l.ExpiresAt = at.Add(ttl)
	s.table[name] = l
	return l, true, nil
}

func (s *MemoryStore) Release(_ context.Context, name, holder string) error {
	if err := CheckRelease(name, holder); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.clock()
	l, exists := s.table[name]
	switch {
	case !exists, !l.Live(at):
		return nil
	case l.Holder != holder:
		return ErrNotHeld
	}
	l.ExpiresAt = at
	s.table[name] = l
	return nil
}

func (s *MemoryStore) Get(_ context.Context, name string) (Lease, error) {
	if name == "" {
		return Lease{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, exists := s.table[name]; exists {
		return l, nil
	}
	return Lease{}, ErrNotFound
}
