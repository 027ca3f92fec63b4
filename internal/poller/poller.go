// Package poller implements the fallback REST polling path used while the
// streaming connection is parked. It refreshes indicator state only; ladder
// and stop-loss checks stay on the streaming path.
package poller

import (
	"context"
	"log"
	"sync"
	"time"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/observability"
	"token-sentinel/internal/priceapi"
	"token-sentinel/internal/tracker"
)

// DefaultInterval is the fallback polling cadence.
const DefaultInterval = 30 * time.Second

// SignalEvaluator runs the indicator-only evaluation for a polled price.
type SignalEvaluator interface {
	EvaluateSignals(ctx context.Context, key domain.TokenKey, price float64, timestampMs int64) error
}

// Poller periodically fetches prices over REST for tokens with warmed-up
// indicator state and feeds them through signal evaluation.
type Poller struct {
	store     *tracker.Store
	prices    priceapi.PriceAPI
	evaluator SignalEvaluator
	interval  time.Duration
	logger    *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Options configures the Poller.
type Options struct {
	Store     *tracker.Store
	Prices    priceapi.PriceAPI
	Evaluator SignalEvaluator
	Interval  time.Duration
	Logger    *log.Logger
}

// New creates a Poller.
func New(opts Options) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Poller{
		store:     opts.Store,
		prices:    opts.Prices,
		evaluator: opts.Evaluator,
		interval:  interval,
		logger:    logger,
	}
}

// Start begins periodic polling. Calling Start while already polling is a
// no-op; exactly one ticker runs at a time.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.logger.Printf("Fallback polling started, interval %v", p.interval)

	go p.run(ctx, p.done)
}

// Stop halts polling and waits for the in-flight tick to finish. Safe to call
// when not polling and safe to call repeatedly.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Printf("Fallback polling stopped")
}

// Running reports whether the poller is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick polls every token whose indicator state is warmed up. Tokens without a
// computed snapshot are skipped; a cold indicator has no signals to detect.
func (p *Poller) tick(ctx context.Context) {
	observability.RecordFallbackTick()

	for _, key := range p.store.SnapshotReady() {
		if ctx.Err() != nil {
			return
		}

		price, err := p.prices.GetCurrentPrice(ctx, key.Chain, key.Account)
		observability.RecordFallbackPriceCall(err)
		if err != nil {
			p.logger.Printf("Error fetching fallback price for %s: %v", key, err)
			continue
		}

		ts := time.Now().UnixMilli()
		if err := p.evaluator.EvaluateSignals(ctx, key, price, ts); err != nil {
			p.logger.Printf("Error evaluating fallback signals for %s: %v", key, err)
		}
	}
}
