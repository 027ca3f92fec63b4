package memory

import (
	"context"
	"sort"
	"sync"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/storage"
)

// TrackingStore is an in-memory implementation of storage.TrackingStore.
type TrackingStore struct {
	mu   sync.RWMutex
	data map[domain.TokenKey]*domain.TrackedToken
}

// NewTrackingStore creates a new in-memory tracking store.
func NewTrackingStore() *TrackingStore {
	return &TrackingStore{
		data: make(map[domain.TokenKey]*domain.TrackedToken),
	}
}

// Upsert inserts or replaces the registration for the token's key.
func (s *TrackingStore) Upsert(_ context.Context, t *domain.TrackedToken) error {
	if t == nil || t.Account == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a deep copy to prevent external mutation
	s.data[t.Key()] = t.Clone()
	return nil
}

// Delete removes the registration. Deleting an absent key is not an error.
func (s *TrackingStore) Delete(_ context.Context, chain domain.Chain, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, domain.TokenKey{Chain: chain, Account: account})
	return nil
}

// GetActiveTracking returns all persisted registrations.
func (s *TrackingStore) GetActiveTracking(_ context.Context) ([]*domain.TrackedToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.TrackedToken, 0, len(s.data))
	for _, t := range s.data {
		result = append(result, t.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key().String() < result[j].Key().String()
	})

	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.TrackingStore = (*TrackingStore)(nil)
