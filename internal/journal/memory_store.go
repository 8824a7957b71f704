package journal

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore keeps the journal in process memory. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries []Entry
	byID    map[common.Hash]int
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now, byID: make(map[common.Hash]int)}
}

func (s *MemoryStore) Append(_ context.Context, e Entry) (Entry, bool, error) {
	if err := Validate(e); err != nil {
		return Entry{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.byID[e.CommandID]; ok {
		return s.entries[i], false, nil
	}
	e.Seq = uint64(len(s.entries)) + 1
	e.RecordedAt = s.now().UTC()
	s.byID[e.CommandID] = len(s.entries)
	s.entries = append(s.entries, e)
	return e, true, nil
}

func (s *MemoryStore) Get(_ context.Context, commandID common.Hash) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.byID[commandID]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return s.entries[i], nil
}

func (s *MemoryStore) List(_ context.Context, afterSeq uint64, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if afterSeq >= uint64(len(s.entries)) {
		return nil, nil
	}
	rest := s.entries[afterSeq:]
	if len(rest) > limit {
		rest = rest[:limit]
	}
	return append([]Entry(nil), rest...), nil
}
