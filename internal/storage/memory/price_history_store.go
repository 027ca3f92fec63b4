package memory

import (
	"context"
	"sort"
	"sync"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/storage"
)

// PriceHistoryStore is an in-memory implementation of storage.PriceHistoryStore.
type PriceHistoryStore struct {
	mu   sync.RWMutex
	data map[domain.TokenKey][]*domain.PricePoint
}

// NewPriceHistoryStore creates a new in-memory price history store.
func NewPriceHistoryStore() *PriceHistoryStore {
	return &PriceHistoryStore{
		data: make(map[domain.TokenKey][]*domain.PricePoint),
	}
}

// SavePriceUpdate appends one observed price point.
func (s *PriceHistoryStore) SavePriceUpdate(_ context.Context, p *domain.PricePoint) error {
	if p == nil || p.Account == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	key := domain.TokenKey{Chain: p.Chain, Account: p.Account}
	s.data[key] = append(s.data[key], &cp)
	return nil
}

// GetRecentPerformance returns points since the given unix-ms timestamp,
// ordered by timestamp ASC.
func (s *PriceHistoryStore) GetRecentPerformance(_ context.Context, chain domain.Chain, account string, sinceMs int64) ([]*domain.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PricePoint
	for _, p := range s.data[domain.TokenKey{Chain: chain, Account: account}] {
		if p.TimestampMs >= sinceMs {
			cp := *p
			result = append(result, &cp)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.PriceHistoryStore = (*PriceHistoryStore)(nil)
