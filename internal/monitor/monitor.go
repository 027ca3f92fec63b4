// Package monitor wires the tracked-token store, the streaming connection,
// the alert evaluator and the fallback poller into one lifecycle with
// idempotent start, stop and shutdown.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/observability"
	"token-sentinel/internal/storage"
	"token-sentinel/internal/stream"
	"token-sentinel/internal/tracker"
)

// ConnectionManager is the streaming-connection contract the monitor drives.
type ConnectionManager interface {
	Start(ctx context.Context) error
	Stop()
	Subscribe(account string)
	Unsubscribe(account string)
	Events() <-chan stream.Event
	State() stream.State
}

// FallbackPoller is the REST polling contract.
type FallbackPoller interface {
	Start()
	Stop()
}

// Evaluator processes one inbound price observation.
type Evaluator interface {
	Evaluate(ctx context.Context, key domain.TokenKey, price float64, timestampMs int64, marketCap float64) error
}

// Monitor orchestrates the monitoring lifecycle.
type Monitor struct {
	store     *tracker.Store
	conn      ConnectionManager
	fallback  FallbackPoller
	evaluator Evaluator
	tracking  storage.TrackingStore
	logger    *log.Logger

	mu      sync.Mutex
	started bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// Options configures the Monitor. Tracking is optional; when present it is
// used to rehydrate tracked tokens on start and to persist changes,
// best-effort.
type Options struct {
	Store     *tracker.Store
	Conn      ConnectionManager
	Fallback  FallbackPoller
	Evaluator Evaluator
	Tracking  storage.TrackingStore
	Logger    *log.Logger
}

// New creates a Monitor.
func New(opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Monitor{
		store:     opts.Store,
		conn:      opts.Conn,
		fallback:  opts.Fallback,
		evaluator: opts.Evaluator,
		tracking:  opts.Tracking,
		logger:    logger,
	}
}

// Start rehydrates tracked tokens from persistence, opens the streaming
// connection and begins dispatching events. Calling Start while running is a
// no-op. A connection construction failure is returned so the caller can
// retry or alert an operator; fallback polling only covers exhausted
// reconnects and auth blocks, not a monitor that never started. Rehydrated
// tracking state stays in place across a failed Start.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.rehydrate(ctx)

	if err := m.conn.Start(ctx); err != nil {
		m.mu.Lock()
		m.started = false
		m.done = nil
		m.mu.Unlock()
		return fmt.Errorf("open stream: %w", err)
	}

	m.wg.Add(1)
	go m.dispatch(done)
	return nil
}

// Stop halts the poller, the stream and the dispatch loop. Tracked-token
// state stays intact so a later Start resumes monitoring. Safe to call when
// not running and safe to call repeatedly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	done := m.done
	m.done = nil
	m.mu.Unlock()

	m.fallback.Stop()
	m.conn.Stop()
	close(done)
	m.wg.Wait()
}

// Shutdown stops monitoring and discards all in-memory tracking state.
// Idempotent; after Shutdown no goroutines or timers remain.
func (m *Monitor) Shutdown() {
	m.Stop()
	m.store.Clear()
	observability.SetTrackedTokens(0)
}

// AddTracking validates and registers a token, subscribes its account on the
// stream (deferred when the stream is not open) and persists the tracking,
// best-effort.
func (m *Monitor) AddTracking(ctx context.Context, tok *domain.TrackedToken) error {
	if err := m.store.Add(tok); err != nil {
		return err
	}
	m.afterAdd(ctx, tok)
	return nil
}

// AddTrackingWithHistory registers a token seeded with historical candles so
// indicator signals can fire without the live warm-up period.
func (m *Monitor) AddTrackingWithHistory(ctx context.Context, tok *domain.TrackedToken, candles []domain.Candle) error {
	if err := m.store.AddWithHistory(tok, candles); err != nil {
		return err
	}
	m.afterAdd(ctx, tok)
	return nil
}

func (m *Monitor) afterAdd(ctx context.Context, tok *domain.TrackedToken) {
	if tok.Chain == domain.ChainSolana && !domain.IsOnCurve(tok.Account) {
		m.logger.Printf("Tracking %s: account is off-curve (program-derived)", tok.DisplayName())
	}

	m.conn.Subscribe(tok.Account)

	if m.tracking != nil {
		if err := m.tracking.Upsert(ctx, tok); err != nil {
			observability.RecordCollaboratorError("tracking_store")
			m.logger.Printf("Error persisting tracking for %s: %v", tok.DisplayName(), err)
		}
	}
	observability.SetTrackedTokens(m.store.Len())
}

// RemoveTracking stops tracking a token. Returns false when it was not
// tracked.
func (m *Monitor) RemoveTracking(ctx context.Context, chain domain.Chain, account string) bool {
	if !m.store.Remove(chain, account) {
		return false
	}

	m.conn.Unsubscribe(account)

	if m.tracking != nil {
		if err := m.tracking.Delete(ctx, chain, account); err != nil {
			observability.RecordCollaboratorError("tracking_store")
			m.logger.Printf("Error deleting tracking for %s:%s: %v", chain, account, err)
		}
	}
	observability.SetTrackedTokens(m.store.Len())
	return true
}

// rehydrate loads previously tracked tokens from persistence, best-effort.
func (m *Monitor) rehydrate(ctx context.Context) {
	if m.tracking == nil {
		return
	}

	toks, err := m.tracking.GetActiveTracking(ctx)
	if err != nil {
		observability.RecordCollaboratorError("tracking_store")
		m.logger.Printf("Error rehydrating tracked tokens: %v", err)
		return
	}

	restored := 0
	for _, tok := range toks {
		if err := m.store.Add(tok); err != nil {
			m.logger.Printf("Error restoring tracking for %s:%s: %v", tok.Chain, tok.Account, err)
			continue
		}
		restored++
	}
	if restored > 0 {
		m.logger.Printf("Restored %d tracked tokens", restored)
	}
	observability.SetTrackedTokens(m.store.Len())
}

// dispatch routes stream events until stopped.
func (m *Monitor) dispatch(done chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-done:
			return
		case ev := <-m.conn.Events():
			switch ev.Type {
			case stream.EventOpened:
				// The stream carries monitoring again; stop burning REST quota.
				m.fallback.Stop()
			case stream.EventMessage:
				m.handleMessage(ev.Message)
			case stream.EventErrored:
				m.logger.Printf("Stream error: %v", ev.Err)
			case stream.EventClosed:
				switch m.conn.State() {
				case stream.StateFallback, stream.StateAuthBlocked:
					m.fallback.Start()
				}
			}
		}
	}
}

// handleMessage decodes and evaluates one inbound stream message. Malformed
// messages are counted and dropped; they never disturb tracked state.
func (m *Monitor) handleMessage(raw []byte) {
	upd, ok, err := stream.DecodePriceUpdate(raw)
	if err != nil {
		observability.RecordMalformedMessage()
		m.logger.Printf("Dropping malformed stream message: %v", err)
		return
	}
	if !ok {
		return
	}

	key, ok := m.store.ResolveAccount(upd.Account)
	if !ok {
		// Update for an account removed after the subscribe; ignore.
		return
	}

	err = m.evaluator.Evaluate(context.Background(), key, upd.Price, upd.TimestampMs, upd.MarketCap)
	if err != nil && !errors.Is(err, tracker.ErrNotTracked) {
		m.logger.Printf("Error evaluating price update for %s: %v", key, err)
	}
}
