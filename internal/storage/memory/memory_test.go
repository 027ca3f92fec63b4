package memory

import (
	"context"
	"errors"
	"testing"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/storage"
)

const testMint = "So11111111111111111111111111111111111111112"

func TestTrackingStoreUpsertAndGet(t *testing.T) {
	s := NewTrackingStore()
	ctx := context.Background()

	if err := s.Upsert(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}

	tok := &domain.TrackedToken{Chain: domain.ChainSolana, Account: testMint, Symbol: "A", CallPrice: 1}
	if err := s.Upsert(ctx, tok); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Replacing the same key keeps one registration.
	tok2 := &domain.TrackedToken{Chain: domain.ChainSolana, Account: testMint, Symbol: "B", CallPrice: 2}
	if err := s.Upsert(ctx, tok2); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	toks, err := s.GetActiveTracking(ctx)
	if err != nil {
		t.Fatalf("GetActiveTracking: %v", err)
	}
	if len(toks) != 1 || toks[0].Symbol != "B" {
		t.Errorf("toks = %+v", toks)
	}
}

func TestTrackingStoreUpsertCopies(t *testing.T) {
	s := NewTrackingStore()
	ctx := context.Background()

	tok := &domain.TrackedToken{
		Chain: domain.ChainSolana, Account: testMint, Symbol: "A", CallPrice: 1,
		Ladder: []domain.LadderLeg{{SizeFraction: 0.5, TargetMultiple: 2.0}},
	}
	if err := s.Upsert(ctx, tok); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	tok.Symbol = "mutated"
	tok.Ladder[0].Fired = true

	toks, _ := s.GetActiveTracking(ctx)
	if toks[0].Symbol != "A" {
		t.Error("store must hold a copy, not the caller's pointer")
	}
	if toks[0].Ladder[0].Fired {
		t.Error("ladder must not share a backing array with the caller")
	}
}

func TestTrackingStoreDelete(t *testing.T) {
	s := NewTrackingStore()
	ctx := context.Background()

	tok := &domain.TrackedToken{Chain: domain.ChainSolana, Account: testMint, CallPrice: 1}
	if err := s.Upsert(ctx, tok); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Delete(ctx, domain.ChainSolana, testMint); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	// Absent key is not an error.
	if err := s.Delete(ctx, domain.ChainSolana, testMint); err != nil {
		t.Errorf("Delete absent: %v", err)
	}

	toks, _ := s.GetActiveTracking(ctx)
	if len(toks) != 0 {
		t.Errorf("toks = %+v, want empty", toks)
	}
}

func TestPriceHistoryStore(t *testing.T) {
	s := NewPriceHistoryStore()
	ctx := context.Background()

	if err := s.SavePriceUpdate(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}

	for _, ts := range []int64{3000, 1000, 2000} {
		p := &domain.PricePoint{Chain: domain.ChainSolana, Account: testMint, Price: float64(ts), TimestampMs: ts}
		if err := s.SavePriceUpdate(ctx, p); err != nil {
			t.Fatalf("SavePriceUpdate: %v", err)
		}
	}

	points, err := s.GetRecentPerformance(ctx, domain.ChainSolana, testMint, 2000)
	if err != nil {
		t.Fatalf("GetRecentPerformance: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("points = %d, want 2 since cutoff", len(points))
	}
	if points[0].TimestampMs != 2000 || points[1].TimestampMs != 3000 {
		t.Errorf("points not ordered ASC: %+v", points)
	}

	// Different token: empty result.
	other, err := s.GetRecentPerformance(ctx, domain.ChainEthereum, "0x1234567890abcdef1234567890abcdef12345678", 0)
	if err != nil {
		t.Fatalf("GetRecentPerformance: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("other = %+v, want empty", other)
	}
}

func TestAlertLogStore(t *testing.T) {
	s := NewAlertLogStore()
	ctx := context.Background()

	if err := s.SaveAlertSent(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
	if err := s.SaveAlertSent(ctx, &domain.AlertRecord{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput for missing key", err)
	}

	rec := &domain.AlertRecord{
		Chain: domain.ChainSolana, Account: testMint,
		AlertKey: "profit_2x", Message: "m", Price: 2.0, TimestampMs: 1000,
	}
	if err := s.SaveAlertSent(ctx, rec); err != nil {
		t.Fatalf("SaveAlertSent: %v", err)
	}

	all := s.All()
	if len(all) != 1 || all[0].AlertKey != "profit_2x" {
		t.Errorf("all = %+v", all)
	}
}
