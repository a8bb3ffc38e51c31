package history

import (
	"context"
	"sync"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, fixed-capacity ring of recent records. It is
// the default history backend and the recent-record cache the postgres
// backend builds on.
type MemStore struct {
	mu      sync.RWMutex
	records []Record
	head    int // next write position
	filled  bool
	total   int64
}

// NewMemStore returns a [MemStore] holding at most capacity records.
func NewMemStore(capacity int) *MemStore {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemStore{records: make([]Record, capacity)}
}

// Add implements [Store.Add]. The oldest record is overwritten once the
// ring is full.
func (s *MemStore) Add(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[s.head] = rec
	s.head++
	if s.head == len(s.records) {
		s.head = 0
		s.filled = true
	}
	s.total++
	return nil
}

// Latest implements [Store.Latest]. Records are returned oldest first.
func (s *MemStore) Latest(n int) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.head
	if s.filled {
		size = len(s.records)
	}
	if n > size {
		n = size
	}
	if n <= 0 {
		return nil
	}

	out := make([]Record, n)
	for i := 0; i < n; i++ {
		idx := (s.head - n + i + len(s.records)) % len(s.records)
		out[i] = s.records[idx]
	}
	return out
}

// Stats implements [Store.Stats].
func (s *MemStore) Stats(context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recent := s.head
	if s.filled {
		recent = len(s.records)
	}
	return Stats{TotalRecords: s.total, RecentCount: recent}, nil
}

// Ping implements [Store.Ping]. An in-memory store is always reachable.
func (s *MemStore) Ping(context.Context) error { return nil }

// Close implements [Store.Close].
func (s *MemStore) Close(context.Context) error { return nil }
