package stream

import (
	"encoding/json"
	"fmt"
)

const (
	methodSubscribe   = "subscribe"
	methodUnsubscribe = "unsubscribe"
	methodPriceUpdate = "priceUpdate"
)

// wsRequest is an outbound subscription request. One request covers any
// number of accounts, so the post-reconnect resubscribe is a single write.
type wsRequest struct {
	Method string   `json:"method"`
	Keys   []string `json:"keys"`
}

// inboundEnvelope is the provider's message envelope.
type inboundEnvelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// priceUpdateParams is the payload of a priceUpdate message.
type priceUpdateParams struct {
	Account   string  `json:"account"`
	Price     float64 `json:"price"`
	MarketCap float64 `json:"marketcap"`
	Timestamp int64   `json:"timestamp"`
}

// PriceUpdate is one decoded inbound price observation.
type PriceUpdate struct {
	Account     string
	Price       float64
	MarketCap   float64
	TimestampMs int64
}

// DecodePriceUpdate parses an inbound message. ok is false for messages that
// are valid but not price updates (subscription confirms, heartbeats); an
// error means the message is malformed and should be counted and dropped.
func DecodePriceUpdate(raw []byte) (*PriceUpdate, bool, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Method != methodPriceUpdate {
		return nil, false, nil
	}

	var params priceUpdateParams
	if err := json.Unmarshal(env.Params, &params); err != nil {
		return nil, false, fmt.Errorf("unmarshal priceUpdate params: %w", err)
	}
	if params.Account == "" {
		return nil, false, fmt.Errorf("priceUpdate missing account")
	}
	if params.Price <= 0 {
		return nil, false, fmt.Errorf("priceUpdate non-positive price %v for %s", params.Price, params.Account)
	}

	ts := params.Timestamp
	// Providers disagree on units; anything below ~2001-09 in milliseconds
	// has to be seconds.
	if ts > 0 && ts < 1_000_000_000_000 {
		ts *= 1000
	}

	return &PriceUpdate{
		Account:     params.Account,
		Price:       params.Price,
		MarketCap:   params.MarketCap,
		TimestampMs: ts,
	}, true, nil
}
