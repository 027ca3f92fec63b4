// Package storage defines the persistence collaborator contracts consumed by
// the monitoring core. Every call is best-effort from the evaluation path:
// failures are logged by the caller, never propagated into alert evaluation.
package storage

import (
	"context"

	"token-sentinel/internal/domain"
)

// TrackingStore persists tracking registrations so the monitor can rehydrate
// its in-memory store at startup.
type TrackingStore interface {
	// Upsert inserts or replaces the registration for the token's (chain, account) key.
	Upsert(ctx context.Context, t *domain.TrackedToken) error

	// Delete removes the registration. Deleting an absent key is not an error.
	Delete(ctx context.Context, chain domain.Chain, account string) error

	// GetActiveTracking returns all persisted registrations.
	GetActiveTracking(ctx context.Context) ([]*domain.TrackedToken, error)
}

// PriceHistoryStore records observed prices and serves operator queries.
type PriceHistoryStore interface {
	// SavePriceUpdate appends one observed price point.
	SavePriceUpdate(ctx context.Context, p *domain.PricePoint) error

	// GetRecentPerformance returns points for a token since the given unix-ms
	// timestamp, ordered by timestamp ASC.
	GetRecentPerformance(ctx context.Context, chain domain.Chain, account string, sinceMs int64) ([]*domain.PricePoint, error)
}

// AlertLogStore records every alert handed to the notification sink.
type AlertLogStore interface {
	// SaveAlertSent appends one alert record.
	SaveAlertSent(ctx context.Context, a *domain.AlertRecord) error
}
