// Package indicator computes the Ichimoku trend snapshot and derives signals
// from consecutive snapshots. All functions are pure; candle history lives on
// the tracked token.
package indicator

import (
	"token-sentinel/internal/domain"
)

// Period lengths for the standard Ichimoku windows.
const (
	TenkanPeriod = 9
	KijunPeriod  = 26
	SenkouPeriod = 52

	// MinCandles is the least history needed for a full snapshot.
	MinCandles = SenkouPeriod
)

// KijunProximity is the tolerance band for the "price approaching the base
// line" signal, as a fraction of the kijun value.
const KijunProximity = 0.005

// Compute calculates an Ichimoku snapshot from candle history, newest last.
// Returns nil when fewer than MinCandles candles are available.
func Compute(candles []domain.Candle) *domain.IndicatorSnapshot {
	if len(candles) < MinCandles {
		return nil
	}

	tenkan := midpoint(candles, TenkanPeriod)
	kijun := midpoint(candles, KijunPeriod)
	senkouA := (tenkan + kijun) / 2
	senkouB := midpoint(candles, SenkouPeriod)

	top, bottom := senkouA, senkouB
	if bottom > top {
		top, bottom = bottom, top
	}

	last := candles[len(candles)-1]
	return &domain.IndicatorSnapshot{
		ComputedAtMs: last.OpenTime,
		Tenkan:       tenkan,
		Kijun:        kijun,
		SenkouA:      senkouA,
		SenkouB:      senkouB,
		CloudTop:     top,
		CloudBottom:  bottom,
		Bullish:      last.Close > top,
		Bearish:      last.Close < bottom,
	}
}

// Spans extracts the cached cloud bounds used by the cheap cross check.
func Spans(snap *domain.IndicatorSnapshot) *domain.LeadingSpans {
	if snap == nil {
		return nil
	}
	return &domain.LeadingSpans{Upper: snap.CloudTop, Lower: snap.CloudBottom}
}

// midpoint is (highest high + lowest low) / 2 over the trailing period.
func midpoint(candles []domain.Candle, period int) float64 {
	window := candles[len(candles)-period:]
	hi, lo := window[0].High, window[0].Low
	for _, c := range window[1:] {
		if c.High > hi {
			hi = c.High
		}
		if c.Low < lo {
			lo = c.Low
		}
	}
	return (hi + lo) / 2
}

// Signal is one detected indicator occurrence. Type and Direction together
// identify the logical condition for alert deduplication.
type Signal struct {
	Type      string // "tk_cross", "cloud_breakout", "cloud_entry", "kijun_touch", "span_cross"
	Direction string // "bullish" or "bearish"
}

// AlertKey returns the deduplication key for the signal.
func (s Signal) AlertKey() string {
	return "ichimoku:" + s.Type + ":" + s.Direction
}

// DetectSignals compares the previous and current snapshots at the given price
// and returns every signal that occurred. prev may be nil on the first
// computation; crossover signals need both sides.
func DetectSignals(prev, cur *domain.IndicatorSnapshot, price float64) []Signal {
	if cur == nil {
		return nil
	}

	var signals []Signal

	if prev != nil {
		// Conversion/base line crossover.
		if prev.Tenkan <= prev.Kijun && cur.Tenkan > cur.Kijun {
			signals = append(signals, Signal{Type: "tk_cross", Direction: "bullish"})
		}
		if prev.Tenkan >= prev.Kijun && cur.Tenkan < cur.Kijun {
			signals = append(signals, Signal{Type: "tk_cross", Direction: "bearish"})
		}

		// Cloud transitions.
		if !prev.Bullish && cur.Bullish {
			signals = append(signals, Signal{Type: "cloud_breakout", Direction: "bullish"})
		}
		if !prev.Bearish && cur.Bearish {
			signals = append(signals, Signal{Type: "cloud_breakout", Direction: "bearish"})
		}
		if (prev.Bullish || prev.Bearish) && !cur.Bullish && !cur.Bearish {
			dir := "bearish"
			if prev.Bearish {
				dir = "bullish"
			}
			signals = append(signals, Signal{Type: "cloud_entry", Direction: dir})
		}
	}

	// Price approaching the base line within the tolerance band.
	if cur.Kijun > 0 {
		delta := (price - cur.Kijun) / cur.Kijun
		if delta >= -KijunProximity && delta <= KijunProximity {
			dir := "bearish"
			if cur.Bullish {
				dir = "bullish"
			}
			signals = append(signals, Signal{Type: "kijun_touch", Direction: dir})
		}
	}

	return signals
}

// CrossSpans is the cheap leading-span cross check run between full
// recomputations. It compares the previous and current price against the
// cached cloud bounds only.
func CrossSpans(spans *domain.LeadingSpans, prevPrice, price float64) (Signal, bool) {
	if spans == nil || prevPrice == 0 {
		return Signal{}, false
	}
	if prevPrice <= spans.Upper && price > spans.Upper {
		return Signal{Type: "span_cross", Direction: "bullish"}, true
	}
	if prevPrice >= spans.Lower && price < spans.Lower {
		return Signal{Type: "span_cross", Direction: "bearish"}, true
	}
	return Signal{}, false
}
