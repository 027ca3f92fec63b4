// Package tracker holds the in-memory table of tokens currently being watched.
// It is the only shared mutable resource in the monitor; every mutation of a
// tracked entry funnels through WithToken so per-token state changes are
// applied atomically.
package tracker

import (
	"errors"
	"sync"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/indicator"
)

// ErrNotTracked is returned when the requested token is not in the store.
var ErrNotTracked = errors.New("token not tracked")

// Store is the tracked-token table, keyed by (chain, account).
type Store struct {
	mu        sync.RWMutex
	data      map[domain.TokenKey]*domain.TrackedToken
	byAccount map[string]domain.TokenKey
}

// NewStore creates an empty tracked-token store.
func NewStore() *Store {
	return &Store{
		data:      make(map[domain.TokenKey]*domain.TrackedToken),
		byAccount: make(map[string]domain.TokenKey),
	}
}

// Add inserts or replaces a tracked token. Re-adding an existing key starts a
// fresh registration: prior fired-alert state does not carry over.
func (s *Store) Add(tok *domain.TrackedToken) error {
	if tok == nil {
		return errors.New("nil token")
	}
	if err := tok.Validate(); err != nil {
		return err
	}

	entry := newEntry(tok)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[entry.Key()] = entry
	s.byAccount[entry.Account] = entry.Key()
	return nil
}

// newEntry deep-copies the registration so the store never aliases caller
// memory, and resets all fired-alert state: a (re-)add is a fresh
// registration.
func newEntry(tok *domain.TrackedToken) *domain.TrackedToken {
	entry := tok.Clone()
	entry.FiredAlertKeys = nil
	for i := range entry.Ladder {
		entry.Ladder[i].Fired = false
	}
	entry.Normalize()
	return entry
}

// AddWithHistory is Add with seeded candle history; the indicator snapshot is
// computed before the entry becomes visible, so callers never observe a seeded
// token without one (given enough candles).
func (s *Store) AddWithHistory(tok *domain.TrackedToken, candles []domain.Candle) error {
	if tok == nil {
		return errors.New("nil token")
	}
	if err := tok.Validate(); err != nil {
		return err
	}

	entry := newEntry(tok)
	entry.CandleHistory = nil
	for _, c := range candles {
		entry.AppendCandle(c)
	}
	entry.LastSnapshot = indicator.Compute(entry.CandleHistory)
	entry.SpanCache = indicator.Spans(entry.LastSnapshot)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[entry.Key()] = entry
	s.byAccount[entry.Account] = entry.Key()
	return nil
}

// Remove deletes the entry. Returns false if it was not tracked.
func (s *Store) Remove(chain domain.Chain, account string) bool {
	key := domain.TokenKey{Chain: chain, Account: account}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return false
	}
	delete(s.data, key)
	if cur, ok := s.byAccount[account]; ok && cur == key {
		delete(s.byAccount, account)
	}
	return true
}

// WithToken runs fn against the live entry under the store lock. fn must not
// retain the pointer past its return.
func (s *Store) WithToken(key domain.TokenKey, fn func(*domain.TrackedToken) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.data[key]
	if !ok {
		return ErrNotTracked
	}
	return fn(tok)
}

// Get returns a copy of the entry.
func (s *Store) Get(key domain.TokenKey) (*domain.TrackedToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return tok.Clone(), true
}

// ResolveAccount maps a stream account identifier back to a token key.
func (s *Store) ResolveAccount(account string) (domain.TokenKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byAccount[account]
	return key, ok
}

// Len returns the number of tracked tokens.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Keys enumerates all tracked token keys.
func (s *Store) Keys() []domain.TokenKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]domain.TokenKey, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// Accounts enumerates all tracked account identifiers, used for the batch
// resubscribe on stream open.
func (s *Store) Accounts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	accounts := make([]string, 0, len(s.data))
	for k := range s.data {
		accounts = append(accounts, k.Account)
	}
	return accounts
}

// SnapshotReady returns keys of tokens that already hold an indicator
// snapshot; the fallback poller skips the rest.
func (s *Store) SnapshotReady() []domain.TokenKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]domain.TokenKey, 0, len(s.data))
	for k, tok := range s.data {
		if tok.LastSnapshot != nil {
			keys = append(keys, k)
		}
	}
	return keys
}

// Clear empties the store. Used only by shutdown.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[domain.TokenKey]*domain.TrackedToken)
	s.byAccount = make(map[string]domain.TokenKey)
}
