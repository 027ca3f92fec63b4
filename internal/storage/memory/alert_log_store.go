package memory

import (
	"context"
	"sync"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/storage"
)

// AlertLogStore is an in-memory implementation of storage.AlertLogStore.
type AlertLogStore struct {
	mu   sync.RWMutex
	data []*domain.AlertRecord
}

// NewAlertLogStore creates a new in-memory alert log store.
func NewAlertLogStore() *AlertLogStore {
	return &AlertLogStore{}
}

// SaveAlertSent appends one alert record.
func (s *AlertLogStore) SaveAlertSent(_ context.Context, a *domain.AlertRecord) error {
	if a == nil || a.AlertKey == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	s.data = append(s.data, &cp)
	return nil
}

// All returns a copy of every record, in insertion order. Test helper.
func (s *AlertLogStore) All() []*domain.AlertRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.AlertRecord, 0, len(s.data))
	for _, a := range s.data {
		cp := *a
		result = append(result, &cp)
	}
	return result
}

// Verify interface compliance at compile time.
var _ storage.AlertLogStore = (*AlertLogStore)(nil)
