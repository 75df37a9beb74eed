package ledger

import (
	"context"
	"sync"

	v1 "github.com/devplane/devplane/pkg/api/v1"
)

// MemoryStore keeps cost records in memory. Used for tests and the
// "memory" database driver.
type MemoryStore struct {
	mu      sync.RWMutex
	records []v1.CostRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append adds a record to the log.
func (s *MemoryStore) Append(ctx context.Context, record v1.CostRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// List returns matching records newest first.
func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]v1.CostRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]v1.CostRecord, 0, len(s.records))
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if filter.Operation != "" && rec.Operation != filter.Operation {
			continue
		}
		if !filter.Since.IsZero() && rec.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && rec.Timestamp.After(filter.Until) {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of records in the log.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
