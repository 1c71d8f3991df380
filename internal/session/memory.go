package session

import (
	"context"
	"sync"

	"github.com/calebthorne/bastion/internal/models"
)

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.SessionRecord
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]models.SessionRecord),
	}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.SessionRecord, error) {
	s.mu.RLock()
	record, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, models.ErrNoSession
	}

	// Return a copy so callers cannot mutate the stored record in place.
	copied := record
	copied.Values = make(map[string]string, len(record.Values))
	for k, v := range record.Values {
		copied.Values[k] = v
	}
	return &copied, nil
}

func (s *MemoryStore) Put(ctx context.Context, record *models.SessionRecord) error {
	s.mu.Lock()
	s.sessions[record.ID] = *record
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}
