package postgres

import (
	"context"
	"fmt"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/storage"
)

// AlertLogStore implements storage.AlertLogStore using PostgreSQL.
type AlertLogStore struct {
	pool *Pool
}

// NewAlertLogStore creates a new AlertLogStore.
func NewAlertLogStore(pool *Pool) *AlertLogStore {
	return &AlertLogStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AlertLogStore = (*AlertLogStore)(nil)

// SaveAlertSent appends one alert record.
func (s *AlertLogStore) SaveAlertSent(ctx context.Context, a *domain.AlertRecord) error {
	if a == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO alert_log (
			chain, account, alert_key, message, price, timestamp_ms
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
	`

	_, err := s.pool.Exec(ctx, query,
		string(a.Chain), a.Account, a.AlertKey, a.Message, a.Price, a.TimestampMs,
	)
	if err != nil {
		return fmt.Errorf("insert alert record: %w", err)
	}
	return nil
}

// GetByToken retrieves all alerts sent for a token, ordered by time ASC.
func (s *AlertLogStore) GetByToken(ctx context.Context, chain domain.Chain, account string) ([]*domain.AlertRecord, error) {
	query := `
		SELECT chain, account, alert_key, message, price, timestamp_ms
		FROM alert_log
		WHERE chain = $1 AND account = $2
		ORDER BY timestamp_ms ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, string(chain), account)
	if err != nil {
		return nil, fmt.Errorf("get alerts by token: %w", err)
	}
	defer rows.Close()

	var records []*domain.AlertRecord
	for rows.Next() {
		var a domain.AlertRecord
		var ch string
		if err := rows.Scan(&ch, &a.Account, &a.AlertKey, &a.Message, &a.Price, &a.TimestampMs); err != nil {
			return nil, fmt.Errorf("scan alert record row: %w", err)
		}
		a.Chain = domain.Chain(ch)
		records = append(records, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alert record rows: %w", err)
	}
	return records, nil
}
