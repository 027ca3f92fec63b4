package alert

import (
	"fmt"
	"strconv"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/indicator"
)

// profitMessage formats a ladder-leg alert.
func profitMessage(tok *domain.TrackedToken, leg domain.LadderLeg, price float64) string {
	return fmt.Sprintf("%s hit %sx target: price %s (call %s). Suggested exit: %.0f%% of position.",
		tok.DisplayName(),
		strconv.FormatFloat(leg.TargetMultiple, 'f', -1, 64),
		formatPrice(price),
		formatPrice(tok.CallPrice),
		leg.SizeFraction*100,
	)
}

// stopLossMessage formats a stop-loss alert.
func stopLossMessage(tok *domain.TrackedToken, price float64) string {
	kind := "stop loss"
	if tok.Stop != nil && tok.Stop.Kind == domain.StopTrailing {
		kind = "trailing stop"
	}
	return fmt.Sprintf("%s hit %s at %s (stop level %s, call %s).",
		tok.DisplayName(),
		kind,
		formatPrice(price),
		formatPrice(tok.EffectiveStop),
		formatPrice(tok.CallPrice),
	)
}

// signalMessage formats an indicator signal alert.
func signalMessage(tok *domain.TrackedToken, sig indicator.Signal, price float64) string {
	var what string
	switch sig.Type {
	case "tk_cross":
		what = "conversion/base line cross"
	case "cloud_breakout":
		what = "cloud breakout"
	case "cloud_entry":
		what = "entered the cloud"
	case "kijun_touch":
		what = "price at base line"
	case "span_cross":
		what = "leading span cross"
	default:
		what = sig.Type
	}
	return fmt.Sprintf("%s: %s (%s) at %s.",
		tok.DisplayName(), what, sig.Direction, formatPrice(price))
}

// formatPrice trims trailing zeros; micro-cap prices need many decimals.
func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'g', 8, 64)
}
