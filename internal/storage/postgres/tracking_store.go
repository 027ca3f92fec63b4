package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/storage"
)

// TrackingStore implements storage.TrackingStore using PostgreSQL. It
// persists registrations only; runtime state (candles, fired alert keys) is
// rebuilt in memory, so a restart behaves like a fresh registration.
type TrackingStore struct {
	pool *Pool
}

// NewTrackingStore creates a new TrackingStore.
func NewTrackingStore(pool *Pool) *TrackingStore {
	return &TrackingStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TrackingStore = (*TrackingStore)(nil)

// ladderLegJSON is the stable on-disk shape of one ladder leg.
type ladderLegJSON struct {
	SizeFraction   float64 `json:"size_fraction"`
	TargetMultiple float64 `json:"target_multiple"`
}

// Upsert inserts or replaces the registration for the token's (chain, account) key.
func (s *TrackingStore) Upsert(ctx context.Context, t *domain.TrackedToken) error {
	if t == nil {
		return storage.ErrInvalidInput
	}

	legs := make([]ladderLegJSON, 0, len(t.Ladder))
	for _, leg := range t.Ladder {
		legs = append(legs, ladderLegJSON{
			SizeFraction:   leg.SizeFraction,
			TargetMultiple: leg.TargetMultiple,
		})
	}
	ladder, err := json.Marshal(legs)
	if err != nil {
		return fmt.Errorf("marshal ladder: %w", err)
	}

	var stopKind *string
	var stopValue *float64
	if t.Stop != nil {
		kind := string(t.Stop.Kind)
		stopKind = &kind
		stopValue = &t.Stop.Value
	}

	query := `
		INSERT INTO tracked_tokens (
			chain, account, name, symbol,
			call_price, call_marketcap, ladder,
			stop_kind, stop_value, chat_id, user_id,
			updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10, $11,
			now()
		)
		ON CONFLICT (chain, account) DO UPDATE SET
			name = EXCLUDED.name,
			symbol = EXCLUDED.symbol,
			call_price = EXCLUDED.call_price,
			call_marketcap = EXCLUDED.call_marketcap,
			ladder = EXCLUDED.ladder,
			stop_kind = EXCLUDED.stop_kind,
			stop_value = EXCLUDED.stop_value,
			chat_id = EXCLUDED.chat_id,
			user_id = EXCLUDED.user_id,
			updated_at = now()
	`

	_, err = s.pool.Exec(ctx, query,
		string(t.Chain), t.Account, t.Name, t.Symbol,
		t.CallPrice, t.CallMarketCap, ladder,
		stopKind, stopValue, t.Recipient.ChatID, t.Recipient.UserID,
	)
	if err != nil {
		return fmt.Errorf("upsert tracked token: %w", err)
	}
	return nil
}

// Delete removes the registration. Deleting an absent key is not an error.
func (s *TrackingStore) Delete(ctx context.Context, chain domain.Chain, account string) error {
	if account == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx,
		`DELETE FROM tracked_tokens WHERE chain = $1 AND account = $2`,
		string(chain), account,
	)
	if err != nil {
		return fmt.Errorf("delete tracked token: %w", err)
	}
	return nil
}

// GetActiveTracking returns all persisted registrations.
func (s *TrackingStore) GetActiveTracking(ctx context.Context) ([]*domain.TrackedToken, error) {
	query := `
		SELECT chain, account, name, symbol,
			call_price, call_marketcap, ladder,
			stop_kind, stop_value, chat_id, user_id
		FROM tracked_tokens
		ORDER BY chain ASC, account ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get active tracking: %w", err)
	}
	defer rows.Close()

	var toks []*domain.TrackedToken
	for rows.Next() {
		var t domain.TrackedToken
		var chain string
		var ladder []byte
		var stopKind *string
		var stopValue *float64

		err := rows.Scan(
			&chain, &t.Account, &t.Name, &t.Symbol,
			&t.CallPrice, &t.CallMarketCap, &ladder,
			&stopKind, &stopValue, &t.Recipient.ChatID, &t.Recipient.UserID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan tracked token row: %w", err)
		}

		t.Chain = domain.Chain(chain)

		var legs []ladderLegJSON
		if err := json.Unmarshal(ladder, &legs); err != nil {
			return nil, fmt.Errorf("unmarshal ladder for %s:%s: %w", chain, t.Account, err)
		}
		for _, leg := range legs {
			t.Ladder = append(t.Ladder, domain.LadderLeg{
				SizeFraction:   leg.SizeFraction,
				TargetMultiple: leg.TargetMultiple,
			})
		}

		if stopKind != nil && stopValue != nil {
			t.Stop = &domain.StopLoss{Kind: domain.StopKind(*stopKind), Value: *stopValue}
		}

		toks = append(toks, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracked token rows: %w", err)
	}
	return toks, nil
}
