package priceapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"token-sentinel/internal/domain"
)

func TestGetCurrentPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/price/solana/mint1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "secret" {
			t.Errorf("missing API key header")
		}
		w.Write([]byte(`{"price":1.25,"marketcap":1000000}`))
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, WithAPIKey("secret"))
	price, err := c.GetCurrentPrice(context.Background(), domain.ChainSolana, "mint1")
	if err != nil {
		t.Fatalf("GetCurrentPrice: %v", err)
	}
	if price != 1.25 {
		t.Errorf("price = %v", price)
	}
}

func TestGetCurrentPriceRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"price":2.5}`))
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, WithMaxRetries(2), WithRetryDelay(time.Millisecond))
	price, err := c.GetCurrentPrice(context.Background(), domain.ChainSolana, "mint1")
	if err != nil {
		t.Fatalf("GetCurrentPrice: %v", err)
	}
	if price != 2.5 {
		t.Errorf("price = %v", price)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestGetCurrentPriceNonPositive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price":0}`))
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, WithMaxRetries(0))
	if _, err := c.GetCurrentPrice(context.Background(), domain.ChainSolana, "mint1"); err == nil {
		t.Error("expected error for non-positive price")
	}
}

func TestGetCurrentPriceMaxRetriesExceeded(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewHTTPClient(server.URL, WithMaxRetries(2), WithRetryDelay(time.Millisecond))
	if _, err := c.GetCurrentPrice(context.Background(), domain.ChainSolana, "mint1"); err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want initial plus 2 retries", calls.Load())
	}
}

func TestGetCurrentPriceContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewHTTPClient(server.URL, WithMaxRetries(5), WithRetryDelay(time.Hour))
	if _, err := c.GetCurrentPrice(ctx, domain.ChainSolana, "mint1"); err == nil {
		t.Error("expected context error")
	}
}
