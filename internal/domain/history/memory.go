package history

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu      sync.RWMutex
	records []Record // 旧的在前
	limit   int
	counts  map[Status]int
}

// NewMemory constructs an in-process history store bounded by cfg.Limit.
func NewMemory(cfg Config) Store {
	return &memoryStore{
		limit:  cfg.limit(),
		counts: make(map[Status]int),
	}
}

func (s *memoryStore) Append(_ context.Context, rec Record) error {
	rec = rec.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	if over := len(s.records) - s.limit; over > 0 {
		s.records = append([]Record(nil), s.records[over:]...)
	}
	s.counts[rec.Status]++
	return nil
}

func (s *memoryStore) Recent(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := clampLimit(limit, s.limit)
	if n > len(s.records) {
		n = len(s.records)
	}
	out := make([]Record, 0, n)
	for i := len(s.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

func (s *memoryStore) Stats(context.Context) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"type":    DriverMemory,
		"total":   len(s.records),
		"success": s.counts[StatusSuccess],
		"failed":  s.counts[StatusFailed],
	}, nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}
