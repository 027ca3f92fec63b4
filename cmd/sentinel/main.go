// Package main runs the token monitoring service: a streaming price feed
// with reconnect and REST fallback, alert evaluation (profit ladder,
// stop-loss, trend signals), Telegram notification and an admin HTTP API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"token-sentinel/internal/alert"
	"token-sentinel/internal/domain"
	"token-sentinel/internal/monitor"
	"token-sentinel/internal/notify"
	"token-sentinel/internal/observability"
	"token-sentinel/internal/poller"
	"token-sentinel/internal/priceapi"
	"token-sentinel/internal/storage"
	chstore "token-sentinel/internal/storage/clickhouse"
	"token-sentinel/internal/storage/memory"
	"token-sentinel/internal/storage/migrations"
	pgstore "token-sentinel/internal/storage/postgres"
	"token-sentinel/internal/stream"
	"token-sentinel/internal/tracker"
)

// stores holds the persistence collaborators.
type stores struct {
	tracking storage.TrackingStore
	prices   storage.PriceHistoryStore
	alertLog storage.AlertLogStore
}

func main() {
	// Load .env file if exists; system env vars take precedence.
	_ = godotenv.Load()

	wsEndpoint := flag.String("ws-endpoint", os.Getenv("STREAM_WS_ENDPOINT"), "Streaming provider WebSocket endpoint")
	streamAPIKey := flag.String("stream-api-key", os.Getenv("STREAM_API_KEY"), "Streaming provider API key")
	priceAPIURL := flag.String("price-api", os.Getenv("PRICE_API_URL"), "REST price API base URL")
	priceAPIKey := flag.String("price-api-key", os.Getenv("PRICE_API_KEY"), "REST price API key")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	telegramToken := flag.String("telegram-token", os.Getenv("TELEGRAM_BOT_TOKEN"), "Telegram bot token (log-only notifier when empty)")
	httpAddr := flag.String("http-addr", ":8080", "Admin HTTP address (health, status, tracking, metrics)")
	pollInterval := flag.Duration("poll-interval", poller.DefaultInterval, "Fallback polling interval")
	maxReconnect := flag.Int("max-reconnect", 5, "Max stream reconnect attempts before fallback")

	flag.Parse()

	logger := log.New(os.Stdout, "[sentinel] ", log.LstdFlags|log.Lshortfile)

	if *wsEndpoint == "" {
		logger.Fatal("--ws-endpoint is required")
	}
	if *priceAPIURL == "" {
		logger.Fatal("--price-api is required")
	}
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	store := tracker.NewStore()

	prices := priceapi.NewHTTPClient(*priceAPIURL, priceapi.WithAPIKey(*priceAPIKey))

	var notifier notify.Notifier
	if *telegramToken != "" {
		notifier = notify.NewTelegramNotifier(*telegramToken)
	} else {
		logger.Println("No Telegram token configured, alerts go to the log")
		notifier = notify.NewLogNotifier(logger)
	}

	evaluator := alert.NewEvaluator(alert.Options{
		Store:    store,
		Prices:   st.prices,
		AlertLog: st.alertLog,
		Notifier: notifier,
		Logger:   log.New(os.Stdout, "[alert] ", log.LstdFlags|log.Lshortfile),
	})

	streamCfg := stream.DefaultConfig()
	streamCfg.Endpoint = *wsEndpoint
	streamCfg.APIKey = *streamAPIKey
	streamCfg.MaxReconnectAttempts = *maxReconnect
	conn := stream.NewManager(streamCfg, store.Accounts,
		log.New(os.Stdout, "[stream] ", log.LstdFlags|log.Lshortfile))

	fallback := poller.New(poller.Options{
		Store:     store,
		Prices:    prices,
		Evaluator: evaluator,
		Interval:  *pollInterval,
		Logger:    log.New(os.Stdout, "[poller] ", log.LstdFlags|log.Lshortfile),
	})

	mon := monitor.New(monitor.Options{
		Store:     store,
		Conn:      conn,
		Fallback:  fallback,
		Evaluator: evaluator,
		Tracking:  st.tracking,
		Logger:    logger,
	})

	if err := mon.Start(ctx); err != nil {
		logger.Fatalf("Failed to start monitor: %v", err)
	}

	srv := newAdminServer(mon, store, conn, st.prices, logger)
	go srv.listen(*httpAddr)

	// Handle shutdown signals; a second signal forces immediate exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Printf("Received signal %v, shutting down...", sig)

	done := make(chan struct{})
	go func() {
		mon.Shutdown()
		evaluator.Wait()
		close(done)
	}()

	select {
	case sig := <-sigCh:
		logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
		os.Exit(1)
	case <-time.After(30 * time.Second):
		logger.Println("Graceful shutdown timed out after 30s, forcing exit")
		os.Exit(1)
	case <-done:
	}

	logger.Println("Shutdown complete")
}

// createStores wires memory or database-backed persistence.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*stores, func(), error) {
	if useMemory {
		st := &stores{
			tracking: memory.NewTrackingStore(),
			prices:   memory.NewPriceHistoryStore(),
			alertLog: memory.NewAlertLogStore(),
		}
		return st, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("apply postgres migrations: %w", err)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("apply clickhouse migrations: %w", err)
	}

	st := &stores{
		tracking: pgstore.NewTrackingStore(pool),
		prices:   chstore.NewPriceHistoryStore(chConn),
		alertLog: pgstore.NewAlertLogStore(pool),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return st, cleanup, nil
}

// adminServer exposes health, status, metrics and tracking management.
type adminServer struct {
	mon    *monitor.Monitor
	store  *tracker.Store
	conn   *stream.Manager
	prices storage.PriceHistoryStore
	logger *log.Logger
}

func newAdminServer(mon *monitor.Monitor, store *tracker.Store, conn *stream.Manager, prices storage.PriceHistoryStore, logger *log.Logger) *adminServer {
	return &adminServer{mon: mon, store: store, conn: conn, prices: prices, logger: logger}
}

func (s *adminServer) listen(addr string) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/tracking", s.handleTracking)
	mux.HandleFunc("/performance", s.handlePerformance)

	s.logger.Printf("Starting admin HTTP server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("HTTP server error: %v", err)
	}
}

// statusResponse is the JSON response for /status.
type statusResponse struct {
	Status        string `json:"status"`
	StreamState   string `json:"stream_state"`
	TrackedTokens int    `json:"tracked_tokens"`
}

func (s *adminServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:        "running",
		StreamState:   string(s.conn.State()),
		TrackedTokens: s.store.Len(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// trackingRequest is the JSON body for POST /tracking.
type trackingRequest struct {
	Chain         string             `json:"chain"`
	Account       string             `json:"account"`
	Name          string             `json:"name,omitempty"`
	Symbol        string             `json:"symbol,omitempty"`
	CallPrice     float64            `json:"call_price"`
	CallMarketCap float64            `json:"call_marketcap,omitempty"`
	Ladder        []ladderLegRequest `json:"ladder,omitempty"`
	Stop          *stopRequest       `json:"stop,omitempty"`
	ChatID        int64              `json:"chat_id,omitempty"`
	UserID        int64              `json:"user_id,omitempty"`
}

type ladderLegRequest struct {
	SizeFraction   float64 `json:"size_fraction"`
	TargetMultiple float64 `json:"target_multiple"`
}

type stopRequest struct {
	Kind  string  `json:"kind"`
	Value float64 `json:"value"`
}

func (s *adminServer) handleTracking(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleAddTracking(w, r)
	case http.MethodDelete:
		s.handleRemoveTracking(w, r)
	case http.MethodGet:
		s.handleListTracking(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *adminServer) handleAddTracking(w http.ResponseWriter, r *http.Request) {
	var req trackingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	tok := &domain.TrackedToken{
		Chain:         domain.Chain(req.Chain),
		Account:       req.Account,
		Name:          req.Name,
		Symbol:        req.Symbol,
		CallPrice:     req.CallPrice,
		CallMarketCap: req.CallMarketCap,
		Recipient:     domain.Recipient{ChatID: req.ChatID, UserID: req.UserID},
	}
	for _, leg := range req.Ladder {
		tok.Ladder = append(tok.Ladder, domain.LadderLeg{
			SizeFraction:   leg.SizeFraction,
			TargetMultiple: leg.TargetMultiple,
		})
	}
	if req.Stop != nil {
		tok.Stop = &domain.StopLoss{Kind: domain.StopKind(req.Stop.Kind), Value: req.Stop.Value}
	}

	if err := s.mon.AddTracking(r.Context(), tok); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *adminServer) handleRemoveTracking(w http.ResponseWriter, r *http.Request) {
	chain := r.URL.Query().Get("chain")
	account := r.URL.Query().Get("account")
	if chain == "" || account == "" {
		http.Error(w, "chain and account query parameters are required", http.StatusBadRequest)
		return
	}

	if !s.mon.RemoveTracking(r.Context(), domain.Chain(chain), account) {
		http.Error(w, "not tracked", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *adminServer) handleListTracking(w http.ResponseWriter, r *http.Request) {
	keys := s.store.Keys()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.String())
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *adminServer) handlePerformance(w http.ResponseWriter, r *http.Request) {
	chain := r.URL.Query().Get("chain")
	account := r.URL.Query().Get("account")
	if chain == "" || account == "" {
		http.Error(w, "chain and account query parameters are required", http.StatusBadRequest)
		return
	}

	sinceMs := time.Now().Add(-24*time.Hour).UnixMilli()
	if v := r.URL.Query().Get("since_ms"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid since_ms", http.StatusBadRequest)
			return
		}
		sinceMs = parsed
	}

	points, err := s.prices.GetRecentPerformance(r.Context(), domain.Chain(chain), account, sinceMs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(points)
}
