package clickhouse

import (
	"context"
	"fmt"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/storage"
)

// PriceHistoryStore implements storage.PriceHistoryStore using ClickHouse.
// Price updates are append-only; MergeTree handles the volume a busy stream
// produces without write amplification.
type PriceHistoryStore struct {
	conn *Conn
}

// NewPriceHistoryStore creates a new PriceHistoryStore.
func NewPriceHistoryStore(conn *Conn) *PriceHistoryStore {
	return &PriceHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceHistoryStore = (*PriceHistoryStore)(nil)

// SavePriceUpdate appends one observed price point.
func (s *PriceHistoryStore) SavePriceUpdate(ctx context.Context, p *domain.PricePoint) error {
	if p == nil {
		return storage.ErrInvalidInput
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_updates (
			chain, account, price, marketcap, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		string(p.Chain), p.Account, p.Price, p.MarketCap, uint64(p.TimestampMs),
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// SavePriceUpdates appends multiple points in one batch.
func (s *PriceHistoryStore) SavePriceUpdates(ctx context.Context, points []*domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_updates (
			chain, account, price, marketcap, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		err = batch.Append(
			string(p.Chain), p.Account, p.Price, p.MarketCap, uint64(p.TimestampMs),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetRecentPerformance returns points for a token since the given unix-ms
// timestamp, ordered by timestamp ASC.
func (s *PriceHistoryStore) GetRecentPerformance(ctx context.Context, chain domain.Chain, account string, sinceMs int64) ([]*domain.PricePoint, error) {
	query := `
		SELECT chain, account, price, marketcap, timestamp_ms
		FROM price_updates
		WHERE chain = ? AND account = ? AND timestamp_ms >= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, string(chain), account, uint64(sinceMs))
	if err != nil {
		return nil, fmt.Errorf("query recent performance: %w", err)
	}
	defer rows.Close()

	var points []*domain.PricePoint
	for rows.Next() {
		var p domain.PricePoint
		var ch string
		var timestampMs uint64

		if err := rows.Scan(&ch, &p.Account, &p.Price, &p.MarketCap, &timestampMs); err != nil {
			return nil, fmt.Errorf("scan price update row: %w", err)
		}

		p.Chain = domain.Chain(ch)
		p.TimestampMs = int64(timestampMs)
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price update rows: %w", err)
	}
	return points, nil
}
