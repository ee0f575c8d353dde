package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the single-process fallback used when no Redis is
// configured. Records are lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	rec       Record
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]memoryEntry{}, now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, id string, rec Record, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	rec.Cookies = append([]Cookie(nil), rec.Cookies...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = memoryEntry{rec: rec, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.records, id)
		return Record{}, ErrNotFound
	}
	return entry.rec, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return nil
}

// Sweep drops expired records and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, entry := range s.records {
		if !now.Before(entry.expiresAt) {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
