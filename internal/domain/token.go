package domain

import (
	"fmt"
	"sort"
	"strconv"
)

// Chain identifies a supported blockchain.
type Chain string

const (
	ChainSolana   Chain = "solana"
	ChainEthereum Chain = "ethereum"
	ChainBase     Chain = "base"
	ChainBSC      Chain = "bsc"
)

// SupportedChains lists all chains tokens can be tracked on.
var SupportedChains = []Chain{ChainSolana, ChainEthereum, ChainBase, ChainBSC}

// Valid reports whether the chain is supported.
func (c Chain) Valid() bool {
	for _, s := range SupportedChains {
		if c == s {
			return true
		}
	}
	return false
}

// TokenKey is the natural key of a tracked token: one entry per (chain, account).
type TokenKey struct {
	Chain   Chain
	Account string
}

func (k TokenKey) String() string {
	return string(k.Chain) + ":" + k.Account
}

// Recipient is the opaque alert destination owned by the notification collaborator.
type Recipient struct {
	ChatID int64
	UserID int64
}

// LadderLeg is a partial-exit rule: fire once when price reaches
// CallPrice * TargetMultiple.
type LadderLeg struct {
	SizeFraction   float64 // fraction of the position this leg exits, 0..1
	TargetMultiple float64 // price multiple of the call price
	Fired          bool
}

// AlertKey returns the deduplication key for this leg, e.g. "profit_2x".
func (l LadderLeg) AlertKey() string {
	return "profit_" + strconv.FormatFloat(l.TargetMultiple, 'f', -1, 64) + "x"
}

// StopKind discriminates stop-loss variants.
type StopKind string

const (
	StopFixed    StopKind = "fixed"
	StopTrailing StopKind = "trailing"
)

// StopLoss defines the stop rule. Value is a fractional offset from the
// reference price, negative for a loss (e.g. -0.2 stops 20% below).
type StopLoss struct {
	Kind  StopKind
	Value float64
}

// StopLossAlertKey is the deduplication key for stop-loss alerts.
const StopLossAlertKey = "stop_loss"

// Candle is a single OHLCV candle. OpenTime is the bucket open in unix ms.
type Candle struct {
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// PricePoint is one observed price for a tracked token.
type PricePoint struct {
	Chain       Chain
	Account     string
	Price       float64
	MarketCap   float64 // 0 when unknown
	TimestampMs int64
}

// IndicatorSnapshot holds the trend-line and cloud values computed from
// recent candles at a point in time.
type IndicatorSnapshot struct {
	ComputedAtMs int64
	Tenkan       float64 // conversion line
	Kijun        float64 // base line
	SenkouA      float64 // leading span A
	SenkouB      float64 // leading span B
	CloudTop     float64
	CloudBottom  float64
	Bullish      bool // price above the cloud
	Bearish      bool // price below the cloud
}

// LeadingSpans caches the cloud bounds for the cheap cross check run between
// full indicator recomputations.
type LeadingSpans struct {
	Upper float64
	Lower float64
}

// MaxCandleHistory bounds per-token candle retention.
const MaxCandleHistory = 240

// TrackedToken is the mutable per-token record held by the tracker store.
// All mutation funnels through the store; external callers never hold a
// reference into a live entry.
type TrackedToken struct {
	Chain   Chain
	Account string
	Name    string
	Symbol  string

	CallPrice     float64
	CallMarketCap float64
	Ladder        []LadderLeg
	Stop          *StopLoss
	Recipient     Recipient

	CandleHistory  []Candle
	LastSnapshot   *IndicatorSnapshot
	SpanCache      *LeadingSpans
	LastPrice      float64
	HighestPrice   float64
	EffectiveStop  float64 // cached stop price; for trailing stops it never decreases
	FiredAlertKeys map[string]struct{}
}

// Key returns the token's natural key.
func (t *TrackedToken) Key() TokenKey {
	return TokenKey{Chain: t.Chain, Account: t.Account}
}

// Clone returns a deep copy: the ladder, candle history, stop rule, snapshot
// and fired-key set share no storage with the receiver.
func (t *TrackedToken) Clone() *TrackedToken {
	cp := *t
	cp.Ladder = append([]LadderLeg(nil), t.Ladder...)
	cp.CandleHistory = append([]Candle(nil), t.CandleHistory...)
	if t.Stop != nil {
		stop := *t.Stop
		cp.Stop = &stop
	}
	if t.LastSnapshot != nil {
		snap := *t.LastSnapshot
		cp.LastSnapshot = &snap
	}
	if t.SpanCache != nil {
		spans := *t.SpanCache
		cp.SpanCache = &spans
	}
	if t.FiredAlertKeys != nil {
		keys := make(map[string]struct{}, len(t.FiredAlertKeys))
		for k := range t.FiredAlertKeys {
			keys[k] = struct{}{}
		}
		cp.FiredAlertKeys = keys
	}
	return &cp
}

// DisplayName returns the best human-readable identifier for alert text.
func (t *TrackedToken) DisplayName() string {
	if t.Symbol != "" {
		return t.Symbol
	}
	if t.Name != "" {
		return t.Name
	}
	return shortAccount(t.Account)
}

func shortAccount(account string) string {
	if len(account) <= 12 {
		return account
	}
	return account[:6] + ".." + account[len(account)-4:]
}

// Validate checks the registration request. It does not inspect runtime state.
func (t *TrackedToken) Validate() error {
	if !t.Chain.Valid() {
		return fmt.Errorf("unsupported chain %q", t.Chain)
	}
	if err := ValidateAddress(t.Chain, t.Account); err != nil {
		return err
	}
	if t.CallPrice <= 0 {
		return fmt.Errorf("call price must be positive, got %v", t.CallPrice)
	}
	for i, leg := range t.Ladder {
		if leg.SizeFraction <= 0 || leg.SizeFraction > 1 {
			return fmt.Errorf("ladder leg %d: size fraction %v outside (0,1]", i, leg.SizeFraction)
		}
		if leg.TargetMultiple <= 1 {
			return fmt.Errorf("ladder leg %d: target multiple %v must exceed 1", i, leg.TargetMultiple)
		}
	}
	if t.Stop != nil {
		if t.Stop.Kind != StopFixed && t.Stop.Kind != StopTrailing {
			return fmt.Errorf("unknown stop-loss kind %q", t.Stop.Kind)
		}
		if t.Stop.Value >= 0 || t.Stop.Value <= -1 {
			return fmt.Errorf("stop-loss value %v outside (-1,0)", t.Stop.Value)
		}
	}
	return nil
}

// Normalize prepares a freshly registered token: ladder legs sorted by
// ascending target, dedup set allocated, initial effective stop computed.
func (t *TrackedToken) Normalize() {
	sort.SliceStable(t.Ladder, func(i, j int) bool {
		return t.Ladder[i].TargetMultiple < t.Ladder[j].TargetMultiple
	})
	if t.FiredAlertKeys == nil {
		t.FiredAlertKeys = make(map[string]struct{})
	}
	if t.HighestPrice == 0 {
		t.HighestPrice = t.CallPrice
	}
	if t.Stop != nil && t.EffectiveStop == 0 {
		t.EffectiveStop = t.CallPrice * (1 + t.Stop.Value)
	}
}

// AlertFired reports whether the alert key has already fired for this token.
func (t *TrackedToken) AlertFired(key string) bool {
	_, ok := t.FiredAlertKeys[key]
	return ok
}

// MarkFired records an alert key. Returns false if the key was already present,
// true if this call recorded it. The set only grows; removal of the token is
// the only reset.
func (t *TrackedToken) MarkFired(key string) bool {
	if t.FiredAlertKeys == nil {
		t.FiredAlertKeys = make(map[string]struct{})
	}
	if _, ok := t.FiredAlertKeys[key]; ok {
		return false
	}
	t.FiredAlertKeys[key] = struct{}{}
	return true
}

// AppendCandle appends a closed candle, trimming history to MaxCandleHistory.
func (t *TrackedToken) AppendCandle(c Candle) {
	t.CandleHistory = append(t.CandleHistory, c)
	if len(t.CandleHistory) > MaxCandleHistory {
		t.CandleHistory = t.CandleHistory[len(t.CandleHistory)-MaxCandleHistory:]
	}
}

// ObserveCandle folds a price observation into the minute-bucketed candle
// history. It returns true when the observation rolled the history over to a
// new bucket, meaning the previous candle just closed. Observations for
// buckets older than the newest candle are ignored; stream and fallback
// timestamps can briefly disagree, and the window must stay ordered.
func (t *TrackedToken) ObserveCandle(price float64, timestampMs int64) bool {
	bucket := timestampMs - timestampMs%60_000
	n := len(t.CandleHistory)
	if n > 0 {
		last := t.CandleHistory[n-1].OpenTime
		if bucket < last {
			return false
		}
		if bucket == last {
			cur := &t.CandleHistory[n-1]
			if price > cur.High {
				cur.High = price
			}
			if price < cur.Low {
				cur.Low = price
			}
			cur.Close = price
			return false
		}
	}
	rolled := n > 0
	t.AppendCandle(Candle{
		OpenTime: bucket,
		Open:     price,
		High:     price,
		Low:      price,
		Close:    price,
	})
	return rolled
}
