package clickhouse_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/storage"
	"token-sentinel/internal/storage/clickhouse"
)

const testMint = "So11111111111111111111111111111111111111112"

func TestPriceHistoryStoreSaveAndGet(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := clickhouse.NewPriceHistoryStore(conn)
	ctx := context.Background()

	require.ErrorIs(t, store.SavePriceUpdate(ctx, nil), storage.ErrInvalidInput)

	points := []*domain.PricePoint{
		{Chain: domain.ChainSolana, Account: testMint, Price: 1.5, MarketCap: 1_000_000, TimestampMs: 3000},
		{Chain: domain.ChainSolana, Account: testMint, Price: 1.0, MarketCap: 900_000, TimestampMs: 1000},
		{Chain: domain.ChainSolana, Account: testMint, Price: 1.2, MarketCap: 950_000, TimestampMs: 2000},
	}
	for _, p := range points {
		require.NoError(t, store.SavePriceUpdate(ctx, p))
	}

	got, err := store.GetRecentPerformance(ctx, domain.ChainSolana, testMint, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, int64(1000), got[0].TimestampMs)
	require.Equal(t, int64(3000), got[2].TimestampMs)
	require.Equal(t, 1.0, got[0].Price)
	require.Equal(t, 900_000.0, got[0].MarketCap)
}

func TestPriceHistoryStoreSinceFilter(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := clickhouse.NewPriceHistoryStore(conn)
	ctx := context.Background()

	var points []*domain.PricePoint
	for ts := int64(1000); ts <= 5000; ts += 1000 {
		points = append(points, &domain.PricePoint{
			Chain: domain.ChainSolana, Account: testMint,
			Price: float64(ts), TimestampMs: ts,
		})
	}
	require.NoError(t, store.SavePriceUpdates(ctx, points))

	got, err := store.GetRecentPerformance(ctx, domain.ChainSolana, testMint, 3000)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, int64(3000), got[0].TimestampMs)

	// Different token: empty result.
	other, err := store.GetRecentPerformance(ctx, domain.ChainEthereum, "0x1234567890abcdef1234567890abcdef12345678", 0)
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestPriceHistoryStoreEmptyBatch(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := clickhouse.NewPriceHistoryStore(conn)
	require.NoError(t, store.SavePriceUpdates(context.Background(), nil))
}
