// Package alert evaluates price observations against tracked-token state and
// emits at-most-once alerts per logical condition. Deduplication via the
// token's fired-alert-key set is the sole guarantee; it is what makes a brief
// stream/fallback overlap window safe.
package alert

import (
	"context"
	"log"
	"sync"
	"time"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/indicator"
	"token-sentinel/internal/notify"
	"token-sentinel/internal/observability"
	"token-sentinel/internal/storage"
	"token-sentinel/internal/tracker"
)

// Evaluator runs the per-observation checks. Alert decisions are made under
// the store lock; persistence writes and notification sends run on a
// background goroutine so a slow collaborator never stalls the dispatch of
// other tokens' updates. The alert key is consumed under the lock, before
// delivery, so the at-most-once guarantee does not depend on delivery timing.
type Evaluator struct {
	store    *tracker.Store
	prices   storage.PriceHistoryStore
	alertLog storage.AlertLogStore
	notifier notify.Notifier
	logger   *log.Logger

	bg sync.WaitGroup // in-flight persistence and delivery work
}

// Options configures the Evaluator. Store and Notifier are required; the
// persistence collaborators are optional and best-effort.
type Options struct {
	Store    *tracker.Store
	Prices   storage.PriceHistoryStore
	AlertLog storage.AlertLogStore
	Notifier notify.Notifier
	Logger   *log.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(opts Options) *Evaluator {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	return &Evaluator{
		store:    opts.Store,
		prices:   opts.Prices,
		alertLog: opts.AlertLog,
		notifier: notifier,
		logger:   logger,
	}
}

// firedAlert is one alert decided under the store lock, delivered after it.
type firedAlert struct {
	key       string
	kind      string
	message   string
	recipient domain.Recipient
	chain     domain.Chain
	account   string
	price     float64
}

// Evaluate processes one inbound price observation for a tracked token.
// Returns tracker.ErrNotTracked when the token is unknown; collaborator
// failures are logged and swallowed.
func (e *Evaluator) Evaluate(ctx context.Context, key domain.TokenKey, price float64, timestampMs int64, marketCap float64) error {
	start := time.Now()
	defer func() {
		observability.DefaultMetrics.EvaluationLatency.Observe(time.Since(start).Seconds())
	}()

	var fired []firedAlert
	err := e.store.WithToken(key, func(tok *domain.TrackedToken) error {
		prevPrice := tok.LastPrice
		tok.LastPrice = price

		fired = append(fired, e.checkLadder(tok, price)...)
		fired = append(fired, e.checkStopLoss(tok, price)...)
		fired = append(fired, e.checkIndicator(tok, prevPrice, price, timestampMs)...)
		return nil
	})
	if err != nil {
		return err
	}

	observability.RecordPriceUpdate()

	if e.prices == nil && len(fired) == 0 {
		return nil
	}
	bgCtx := context.WithoutCancel(ctx)
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		e.persistPrice(bgCtx, key, price, timestampMs, marketCap)
		e.deliver(bgCtx, fired, timestampMs)
	}()
	return nil
}

// Wait blocks until all in-flight persistence and delivery work has drained.
// Used for orderly shutdown; evaluation itself never waits on collaborators.
func (e *Evaluator) Wait() {
	e.bg.Wait()
}

// EvaluateSignals is the fallback-polling variant: indicator refresh and
// signal checks only, against a price fetched from the REST API.
func (e *Evaluator) EvaluateSignals(ctx context.Context, key domain.TokenKey, price float64, timestampMs int64) error {
	var fired []firedAlert
	err := e.store.WithToken(key, func(tok *domain.TrackedToken) error {
		prevPrice := tok.LastPrice
		tok.LastPrice = price
		fired = append(fired, e.checkIndicator(tok, prevPrice, price, timestampMs)...)
		return nil
	})
	if err != nil {
		return err
	}

	if len(fired) == 0 {
		return nil
	}
	bgCtx := context.WithoutCancel(ctx)
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		e.deliver(bgCtx, fired, timestampMs)
	}()
	return nil
}

// checkLadder fires every unfired leg the price has reached, in ascending
// target order. A single observation can fire several legs when the price
// jumped past more than one target.
func (e *Evaluator) checkLadder(tok *domain.TrackedToken, price float64) []firedAlert {
	var fired []firedAlert
	for i := range tok.Ladder {
		leg := &tok.Ladder[i]
		if leg.Fired || price < tok.CallPrice*leg.TargetMultiple {
			continue
		}
		leg.Fired = true
		if !tok.MarkFired(leg.AlertKey()) {
			observability.RecordAlertSuppressed()
			continue
		}
		fired = append(fired, firedAlert{
			key:       leg.AlertKey(),
			kind:      "profit",
			message:   profitMessage(tok, *leg, price),
			recipient: tok.Recipient,
			chain:     tok.Chain,
			account:   tok.Account,
			price:     price,
		})
	}
	return fired
}

// checkStopLoss recomputes the effective stop and fires once when breached.
// For trailing stops the effective stop ratchets up with new highs and never
// moves back toward the call price.
func (e *Evaluator) checkStopLoss(tok *domain.TrackedToken, price float64) []firedAlert {
	if tok.Stop == nil {
		return nil
	}

	if price > tok.HighestPrice {
		tok.HighestPrice = price
		if tok.Stop.Kind == domain.StopTrailing {
			if trailed := tok.HighestPrice * (1 + tok.Stop.Value); trailed > tok.EffectiveStop {
				tok.EffectiveStop = trailed
			}
		}
	}

	if price > tok.EffectiveStop {
		return nil
	}
	if !tok.MarkFired(domain.StopLossAlertKey) {
		observability.RecordAlertSuppressed()
		return nil
	}
	return []firedAlert{{
		key:       domain.StopLossAlertKey,
		kind:      "stop_loss",
		message:   stopLossMessage(tok, price),
		recipient: tok.Recipient,
		chain:     tok.Chain,
		account:   tok.Account,
		price:     price,
	}}
}

// checkIndicator folds the observation into candle history. A full recompute
// with signal detection runs when the minute bucket rolls over; otherwise only
// the cheap leading-span cross check against the cached cloud bounds runs.
func (e *Evaluator) checkIndicator(tok *domain.TrackedToken, prevPrice, price float64, timestampMs int64) []firedAlert {
	rolled := tok.ObserveCandle(price, timestampMs)

	var signals []indicator.Signal
	if rolled && len(tok.CandleHistory) >= indicator.MinCandles {
		prev := tok.LastSnapshot
		cur := indicator.Compute(tok.CandleHistory)
		tok.LastSnapshot = cur
		tok.SpanCache = indicator.Spans(cur)
		signals = indicator.DetectSignals(prev, cur, price)
	} else if sig, ok := indicator.CrossSpans(tok.SpanCache, prevPrice, price); ok {
		signals = append(signals, sig)
	}

	var fired []firedAlert
	for _, sig := range signals {
		if !tok.MarkFired(sig.AlertKey()) {
			observability.RecordAlertSuppressed()
			continue
		}
		fired = append(fired, firedAlert{
			key:       sig.AlertKey(),
			kind:      "ichimoku",
			message:   signalMessage(tok, sig, price),
			recipient: tok.Recipient,
			chain:     tok.Chain,
			account:   tok.Account,
			price:     price,
		})
	}
	return fired
}

// persistPrice records the observation, best-effort.
func (e *Evaluator) persistPrice(ctx context.Context, key domain.TokenKey, price float64, timestampMs int64, marketCap float64) {
	if e.prices == nil {
		return
	}
	point := &domain.PricePoint{
		Chain:       key.Chain,
		Account:     key.Account,
		Price:       price,
		MarketCap:   marketCap,
		TimestampMs: timestampMs,
	}
	if err := e.prices.SavePriceUpdate(ctx, point); err != nil {
		observability.RecordCollaboratorError("price_history")
		e.logger.Printf("Error saving price update for %s: %v", key, err)
	}
}

// deliver sends fired alerts and records them, both best-effort. A failed
// send is not retried: the at-most-once guarantee is per alert key, and the
// key was already consumed when the decision fired.
func (e *Evaluator) deliver(ctx context.Context, fired []firedAlert, timestampMs int64) {
	for _, a := range fired {
		if err := e.notifier.Send(ctx, a.recipient, a.message); err != nil {
			observability.RecordCollaboratorError("notifier")
			e.logger.Printf("Error sending alert %s for %s:%s: %v", a.key, a.chain, a.account, err)
		}
		observability.RecordAlertSent(a.kind)

		if e.alertLog == nil {
			continue
		}
		record := &domain.AlertRecord{
			Chain:       a.chain,
			Account:     a.account,
			AlertKey:    a.key,
			Message:     a.message,
			Price:       a.price,
			TimestampMs: timestampMs,
		}
		if err := e.alertLog.SaveAlertSent(ctx, record); err != nil {
			observability.RecordCollaboratorError("alert_log")
			e.logger.Printf("Error saving alert record %s for %s:%s: %v", a.key, a.chain, a.account, err)
		}
	}
}
