package alert

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"token-sentinel/internal/domain"
	"token-sentinel/internal/indicator"
	"token-sentinel/internal/storage/memory"
	"token-sentinel/internal/tracker"
)

const testMint = "So11111111111111111111111111111111111111112"

var testKey = domain.TokenKey{Chain: domain.ChainSolana, Account: testMint}

// captureNotifier records every sent message and optionally fails.
type captureNotifier struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (n *captureNotifier) Send(_ context.Context, _ domain.Recipient, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.msgs = append(n.msgs, message)
	return nil
}

func (n *captureNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

func (n *captureNotifier) setErr(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

func newTestEvaluator(t *testing.T, tok *domain.TrackedToken) (*Evaluator, *tracker.Store, *captureNotifier, *memory.AlertLogStore) {
	t.Helper()
	store := tracker.NewStore()
	if err := store.Add(tok); err != nil {
		t.Fatalf("Add: %v", err)
	}
	notifier := &captureNotifier{}
	alertLog := memory.NewAlertLogStore()
	ev := NewEvaluator(Options{
		Store:    store,
		Prices:   memory.NewPriceHistoryStore(),
		AlertLog: alertLog,
		Notifier: notifier,
	})
	return ev, store, notifier, alertLog
}

func baseToken() *domain.TrackedToken {
	return &domain.TrackedToken{
		Chain:     domain.ChainSolana,
		Account:   testMint,
		Symbol:    "TEST",
		CallPrice: 1.0,
		Ladder: []domain.LadderLeg{
			{SizeFraction: 0.5, TargetMultiple: 2.0},
		},
		Stop: &domain.StopLoss{Kind: domain.StopFixed, Value: -0.2},
	}
}

// evaluate runs one observation and drains the background delivery so the
// notifier and alert log can be asserted deterministically.
func evaluate(t *testing.T, ev *Evaluator, price float64, timestampMs int64) {
	t.Helper()
	if err := ev.Evaluate(context.Background(), testKey, price, timestampMs, 0); err != nil {
		t.Fatalf("Evaluate(%v): %v", price, err)
	}
	ev.Wait()
}

func TestEvaluateUntracked(t *testing.T) {
	ev, _, _, _ := newTestEvaluator(t, baseToken())
	err := ev.Evaluate(context.Background(), domain.TokenKey{Chain: domain.ChainSolana, Account: "unknown"}, 1.0, 1000, 0)
	if !errors.Is(err, tracker.ErrNotTracked) {
		t.Errorf("err = %v, want ErrNotTracked", err)
	}
}

// The full registration scenario: 2.0 fires the profit leg, 0.8 fires the
// stop, and a later return to 2.0 fires nothing.
func TestEvaluateScenario(t *testing.T) {
	ev, _, notifier, alertLog := newTestEvaluator(t, baseToken())

	evaluate(t, ev, 2.0, 1000)
	if got := notifier.sent(); len(got) != 1 || !strings.Contains(got[0], "2x") {
		t.Fatalf("after 2.0: sent = %+v, want one 2x alert", got)
	}

	evaluate(t, ev, 0.8, 2000)
	if got := notifier.sent(); len(got) != 2 || !strings.Contains(got[1], "stop") {
		t.Fatalf("after 0.8: sent = %+v, want stop alert", got)
	}

	evaluate(t, ev, 2.0, 3000)
	if got := notifier.sent(); len(got) != 2 {
		t.Fatalf("re-crossing must not re-alert, sent = %+v", got)
	}

	records := alertLog.All()
	if len(records) != 2 {
		t.Fatalf("alert log = %d records, want 2", len(records))
	}
	if records[0].AlertKey != "profit_2x" || records[1].AlertKey != domain.StopLossAlertKey {
		t.Errorf("alert keys = %s, %s", records[0].AlertKey, records[1].AlertKey)
	}
}

func TestLadderMultipleLegsSingleObservation(t *testing.T) {
	tok := baseToken()
	tok.Ladder = []domain.LadderLeg{
		{SizeFraction: 0.3, TargetMultiple: 3.0},
		{SizeFraction: 0.5, TargetMultiple: 2.0},
	}
	tok.Stop = nil
	ev, _, notifier, _ := newTestEvaluator(t, tok)

	evaluate(t, ev, 3.5, 1000)

	got := notifier.sent()
	if len(got) != 2 {
		t.Fatalf("sent = %+v, want both legs", got)
	}
	// Legs fire in ascending target order.
	if !strings.Contains(got[0], "2x") || !strings.Contains(got[1], "3x") {
		t.Errorf("leg order wrong: %+v", got)
	}
}

func TestLadderBelowTargetNoAlert(t *testing.T) {
	ev, _, notifier, _ := newTestEvaluator(t, baseToken())
	evaluate(t, ev, 1.99, 1000)
	if got := notifier.sent(); len(got) != 0 {
		t.Errorf("sent = %+v, want none below target", got)
	}
}

// Removing a token and registering it again under the same key must behave
// like a brand-new registration: the ladder leg fires a second time, and the
// caller's own struct is never written through.
func TestReAddAfterRemoveFiresAgain(t *testing.T) {
	tok := baseToken()
	tok.Stop = nil
	ev, store, notifier, _ := newTestEvaluator(t, tok)

	evaluate(t, ev, 2.0, 1000)
	if got := notifier.sent(); len(got) != 1 {
		t.Fatalf("sent = %+v, want one 2x alert", got)
	}
	if tok.Ladder[0].Fired {
		t.Fatal("store mutated the caller's token: Ladder[0].Fired = true after evaluation")
	}

	if !store.Remove(domain.ChainSolana, testMint) {
		t.Fatal("Remove returned false")
	}
	if err := store.Add(tok); err != nil {
		t.Fatalf("re-Add: %v", err)
	}

	evaluate(t, ev, 2.0, 2000)
	if got := notifier.sent(); len(got) != 2 {
		t.Fatalf("got %d alerts total, want 2: re-registration must fire the leg again", len(got))
	}
}

func TestFixedStopDoesNotTrail(t *testing.T) {
	tok := baseToken()
	tok.Ladder = nil
	ev, store, notifier, _ := newTestEvaluator(t, tok)

	// New high must not move a fixed stop.
	evaluate(t, ev, 5.0, 1000)
	got, _ := store.Get(testKey)
	if got.EffectiveStop != 0.8 {
		t.Errorf("fixed stop moved to %v", got.EffectiveStop)
	}

	evaluate(t, ev, 0.79, 2000)
	if len(notifier.sent()) != 1 {
		t.Errorf("sent = %+v, want stop alert", notifier.sent())
	}
}

func TestTrailingStopRatchets(t *testing.T) {
	tok := baseToken()
	tok.Ladder = nil
	tok.Stop = &domain.StopLoss{Kind: domain.StopTrailing, Value: -0.2}
	ev, store, notifier, _ := newTestEvaluator(t, tok)

	evaluate(t, ev, 2.0, 1000)
	got, _ := store.Get(testKey)
	if got.EffectiveStop != 1.6 {
		t.Fatalf("effective stop = %v, want 1.6 after high of 2.0", got.EffectiveStop)
	}

	// A lower price must not loosen the stop.
	evaluate(t, ev, 1.7, 2000)
	got, _ = store.Get(testKey)
	if got.EffectiveStop != 1.6 {
		t.Errorf("effective stop loosened to %v", got.EffectiveStop)
	}
	if len(notifier.sent()) != 0 {
		t.Fatalf("no alert expected above the stop, sent = %+v", notifier.sent())
	}

	evaluate(t, ev, 1.6, 3000)
	sent := notifier.sent()
	if len(sent) != 1 || !strings.Contains(sent[0], "trailing") {
		t.Errorf("sent = %+v, want trailing stop alert", sent)
	}
}

func TestNotifierFailureConsumesKey(t *testing.T) {
	ev, _, notifier, _ := newTestEvaluator(t, baseToken())
	notifier.setErr(errors.New("telegram down"))

	evaluate(t, ev, 2.0, 1000)

	// Delivery is at-most-once: the key is consumed even though the send failed.
	notifier.setErr(nil)
	evaluate(t, ev, 2.1, 2000)
	if got := notifier.sent(); len(got) != 0 {
		t.Errorf("sent = %+v, want none after consumed key", got)
	}
}

// gateNotifier blocks every send until the gate is opened.
type gateNotifier struct {
	gate chan struct{}
	mu   sync.Mutex
	msgs []string
}

func (n *gateNotifier) Send(_ context.Context, _ domain.Recipient, message string) error {
	<-n.gate
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, message)
	return nil
}

func (n *gateNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

// A stalled collaborator must not hold up evaluation of further observations.
func TestSlowNotifierDoesNotBlockEvaluation(t *testing.T) {
	store := tracker.NewStore()
	if err := store.Add(baseToken()); err != nil {
		t.Fatalf("Add: %v", err)
	}
	notifier := &gateNotifier{gate: make(chan struct{})}
	ev := NewEvaluator(Options{Store: store, Notifier: notifier})
	ctx := context.Background()

	start := time.Now()
	// Fires the profit leg; its delivery parks on the gate.
	if err := ev.Evaluate(ctx, testKey, 2.0, 1000, 0); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	// Fires the stop while the first delivery is still stalled.
	if err := ev.Evaluate(ctx, testKey, 0.7, 2000, 0); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("evaluation blocked on delivery for %v", elapsed)
	}
	if notifier.count() != 0 {
		t.Fatal("delivery should still be gated")
	}

	close(notifier.gate)
	ev.Wait()
	if notifier.count() != 2 {
		t.Errorf("delivered = %d, want both alerts after the gate opened", notifier.count())
	}
}

func TestEvaluateSignalsSkipsLadderAndStop(t *testing.T) {
	ev, store, notifier, _ := newTestEvaluator(t, baseToken())
	ctx := context.Background()

	// Price beyond both the profit target and the stop level: the
	// signal-only path must fire neither.
	if err := ev.EvaluateSignals(ctx, testKey, 2.5, 1000); err != nil {
		t.Fatalf("EvaluateSignals: %v", err)
	}
	if err := ev.EvaluateSignals(ctx, testKey, 0.5, 2000); err != nil {
		t.Fatalf("EvaluateSignals: %v", err)
	}
	ev.Wait()
	if got := notifier.sent(); len(got) != 0 {
		t.Errorf("sent = %+v, want none from signal-only evaluation", got)
	}

	got, _ := store.Get(testKey)
	if got.LastPrice != 0.5 {
		t.Errorf("last price = %v, want 0.5", got.LastPrice)
	}
}

func TestIndicatorSpanCrossFires(t *testing.T) {
	tok := baseToken()
	tok.Ladder = nil
	tok.Stop = nil

	store := tracker.NewStore()
	candles := make([]domain.Candle, indicator.MinCandles)
	for i := range candles {
		candles[i] = domain.Candle{OpenTime: int64(i) * 60_000, Open: 1, High: 1, Low: 1, Close: 1}
	}
	if err := store.AddWithHistory(tok, candles); err != nil {
		t.Fatalf("AddWithHistory: %v", err)
	}

	notifier := &captureNotifier{}
	ev := NewEvaluator(Options{Store: store, Notifier: notifier})
	ctx := context.Background()

	run := func(price float64, ts int64) {
		t.Helper()
		if err := ev.Evaluate(ctx, testKey, price, ts, 0); err != nil {
			t.Fatalf("Evaluate(%v): %v", price, err)
		}
		ev.Wait()
	}

	// Flat history puts both spans at 1.0. Stay inside the last seeded
	// candle's bucket so only the cheap span check runs: establish a
	// previous price below the cloud, then cross above it.
	ts := int64(indicator.MinCandles-1)*60_000 + 1000
	run(0.95, ts)
	run(1.10, ts+1000)

	sent := notifier.sent()
	if len(sent) != 1 || !strings.Contains(sent[0], "span") {
		t.Fatalf("sent = %+v, want one leading span cross alert", sent)
	}

	// Dropping back below the lower span is a distinct condition with its
	// own alert key, so the bearish cross fires too.
	run(0.95, ts+2000)
	if got := notifier.sent(); len(got) != 2 {
		t.Fatalf("sent = %+v, want the bearish cross as a second alert", got)
	}

	// Re-crossing upward repeats an already-fired condition: deduplicated.
	run(1.10, ts+3000)
	if got := notifier.sent(); len(got) != 2 {
		t.Errorf("sent = %+v, want still two after re-crossing", got)
	}
}
