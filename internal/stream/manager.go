// Package stream owns the streaming-connection lifecycle: connect, subscribe,
// reconnect with capped attempts, and the terminal auth-blocked state. The
// manager emits a closed set of typed events on a single channel consumed by
// the monitor's dispatch loop, so there is no runtime listener bookkeeping to
// tear down on shutdown.
package stream

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"token-sentinel/internal/observability"
)

// State is the connection state machine position.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	// StateFallback means reconnection attempts are exhausted; the streaming
	// path is parked and the fallback poller carries the monitoring load.
	StateFallback State = "fallback_active"
	StateClosed   State = "closed"
	// StateAuthBlocked is terminal for the streaming path: automatic
	// reconnection stops permanently until the caller restarts explicitly.
	StateAuthBlocked State = "auth_blocked"
)

// EventType tags events emitted by the manager.
type EventType int

const (
	EventOpened EventType = iota
	EventMessage
	EventErrored
	EventClosed
)

// Event is one tagged message from the connection manager.
type Event struct {
	Type    EventType
	Message []byte // set for EventMessage
	Err     error  // set for EventErrored
}

// Config configures the connection manager.
type Config struct {
	// Endpoint is the websocket URL of the streaming provider.
	Endpoint string
	// APIKey is sent on the handshake when non-empty.
	APIKey string
	// MaxReconnectAttempts caps automatic reconnection before the streaming
	// path parks in StateFallback.
	MaxReconnectAttempts int
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff.
	MaxReconnectDelay time.Duration
	// PingInterval is the keepalive ping cadence.
	PingInterval time.Duration
	// ReadTimeout bounds each read.
	ReadTimeout time.Duration
	// WriteTimeout bounds each write.
	WriteTimeout time.Duration
	// HandshakeTimeout bounds the dial.
	HandshakeTimeout time.Duration
}

// DefaultConfig returns default connection configuration.
func DefaultConfig() Config {
	return Config{
		MaxReconnectAttempts: 5,
		ReconnectDelay:       1 * time.Second,
		MaxReconnectDelay:    30 * time.Second,
		PingInterval:         30 * time.Second,
		ReadTimeout:          60 * time.Second,
		WriteTimeout:         10 * time.Second,
		HandshakeTimeout:     10 * time.Second,
	}
}

// session is one live connection. done is closed exactly once when the
// session ends, stopping its ping loop.
type session struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
}

func (s *session) close() {
	s.once.Do(func() { close(s.done) })
}

// Manager drives the streaming connection state machine.
type Manager struct {
	config       Config
	listAccounts func() []string // tracked accounts for the batch resubscribe on open
	logger       *log.Logger
	events       chan Event

	mu                sync.Mutex
	state             State
	sess              *session
	gen               uint64 // connection generation; stale read loops bail out
	pending           map[string]struct{}
	reconnectAttempts int
	reconnectTimer    *time.Timer
	wg                sync.WaitGroup
}

// NewManager creates a connection manager. listAccounts supplies the accounts
// to resubscribe in one batch whenever the connection opens; it may be nil.
func NewManager(config Config, listAccounts func() []string, logger *log.Logger) *Manager {
	if config.MaxReconnectAttempts == 0 {
		config.MaxReconnectAttempts = DefaultConfig().MaxReconnectAttempts
	}
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = DefaultConfig().ReconnectDelay
	}
	if config.MaxReconnectDelay == 0 {
		config.MaxReconnectDelay = DefaultConfig().MaxReconnectDelay
	}
	if config.PingInterval == 0 {
		config.PingInterval = DefaultConfig().PingInterval
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = DefaultConfig().ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = DefaultConfig().HandshakeTimeout
	}
	if listAccounts == nil {
		listAccounts = func() []string { return nil }
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		config:       config,
		listAccounts: listAccounts,
		logger:       logger,
		events:       make(chan Event, 1024),
		state:        StateIdle,
		pending:      make(map[string]struct{}),
	}
}

// Events returns the manager's event channel. It is never closed; consumers
// select against their own done signal.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReconnectAttempts returns the current attempt counter.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnectAttempts
}

// Start opens the streaming connection. Calling Start while Open or
// Connecting is a no-op. Construction failure is surfaced synchronously and
// leaves the state Idle. Start is also the explicit restart that leaves
// StateAuthBlocked.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateOpen || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.reconnectAttempts = 0
	m.cancelReconnectLocked()
	gen := m.gen
	m.mu.Unlock()

	conn, err := m.dial(ctx)
	if err != nil {
		m.mu.Lock()
		if m.gen == gen && m.state == StateConnecting {
			m.state = StateIdle
		}
		m.mu.Unlock()
		return err
	}

	m.handleOpen(conn, gen)
	return nil
}

// Subscribe sends a subscription request for one account when the connection
// is open; otherwise the account is deferred until the next open.
func (m *Manager) Subscribe(account string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateOpen || m.sess == nil {
		m.pending[account] = struct{}{}
		return
	}
	if err := m.writeSubscribeLocked([]string{account}); err != nil {
		m.logger.Printf("Error subscribing %s, deferring: %v", account, err)
		m.pending[account] = struct{}{}
	}
}

// Unsubscribe is best-effort resource hygiene; correctness never depends on it.
func (m *Manager) Unsubscribe(account string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.pending, account)
	if m.state != StateOpen || m.sess == nil {
		return
	}
	req := wsRequest{Method: methodUnsubscribe, Keys: []string{account}}
	m.sess.conn.SetWriteDeadline(time.Now().Add(m.config.WriteTimeout))
	if err := m.sess.conn.WriteJSON(req); err != nil {
		m.logger.Printf("Error unsubscribing %s: %v", account, err)
	}
}

// Stop closes the connection and cancels any scheduled reconnect. Idempotent:
// safe when never started and safe to call repeatedly.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.gen++ // invalidate any live read loop
	m.cancelReconnectLocked()
	sess := m.sess
	m.sess = nil
	m.state = StateClosed
	m.mu.Unlock()

	if sess != nil {
		sess.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		sess.conn.Close()
		sess.close()
	}
	m.wg.Wait()
}

// dial opens the websocket with the configured handshake timeout and API key.
func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: m.config.HandshakeTimeout}

	var header http.Header
	if m.config.APIKey != "" {
		header = http.Header{"X-API-Key": []string{m.config.APIKey}}
	}

	conn, resp, err := dialer.DialContext(ctx, m.config.Endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}

// handleOpen installs a freshly dialed connection: batch resubscribe of all
// tracked plus deferred accounts, state transition, reader and ping loops.
// expectGen is the generation observed before the dial; a mismatch means a
// concurrent Stop or replacement won, and the fresh connection is discarded
// instead of reopening a cancelled stream.
func (m *Manager) handleOpen(conn *websocket.Conn, expectGen uint64) {
	m.mu.Lock()
	if m.gen != expectGen {
		m.mu.Unlock()
		conn.Close()
		return
	}

	sess := &session{conn: conn, done: make(chan struct{})}
	m.gen++
	gen := m.gen
	m.sess = sess
	m.state = StateOpen
	m.reconnectAttempts = 0

	accounts := m.listAccounts()
	seen := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		seen[a] = struct{}{}
	}
	for a := range m.pending {
		if _, ok := seen[a]; !ok {
			accounts = append(accounts, a)
		}
	}
	m.pending = make(map[string]struct{})

	if len(accounts) > 0 {
		if err := m.writeSubscribeLocked(accounts); err != nil {
			m.logger.Printf("Error sending batch subscribe for %d accounts: %v", len(accounts), err)
		}
	}
	// Registered under the lock so a Stop that follows observes the loops in
	// its wg.Wait.
	m.wg.Add(2)
	m.mu.Unlock()

	observability.RecordStreamOpen()
	m.emit(Event{Type: EventOpened})

	go m.readLoop(sess, gen)
	go m.pingLoop(sess)
}

// writeSubscribeLocked sends one subscribe request covering the accounts.
// Caller holds m.mu and has checked m.sess.
func (m *Manager) writeSubscribeLocked(accounts []string) error {
	req := wsRequest{Method: methodSubscribe, Keys: accounts}
	m.sess.conn.SetWriteDeadline(time.Now().Add(m.config.WriteTimeout))
	if err := m.sess.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// readLoop reads until the connection fails, then routes the failure through
// the reconnection policy. A generation mismatch means the caller already
// stopped or replaced this connection.
func (m *Manager) readLoop(sess *session, gen uint64) {
	defer m.wg.Done()
	defer sess.close()

	for {
		sess.conn.SetReadDeadline(time.Now().Add(m.config.ReadTimeout))
		_, message, err := sess.conn.ReadMessage()
		if err != nil {
			m.handleConnFailure(gen, err)
			return
		}
		m.emit(Event{Type: EventMessage, Message: message})
	}
}

// handleConnFailure applies the reconnection policy for a non-caller-initiated
// connection failure.
func (m *Manager) handleConnFailure(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		// Caller-initiated stop or an already-replaced connection.
		m.mu.Unlock()
		return
	}
	if m.sess != nil {
		m.sess.conn.Close()
		m.sess = nil
	}

	if isAuthError(err) {
		m.state = StateAuthBlocked
		m.mu.Unlock()
		observability.RecordAuthBlock()
		m.logger.Printf("Stream authentication failure, blocking reconnection: %v", err)
		m.emit(Event{Type: EventErrored, Err: err})
		m.emit(Event{Type: EventClosed})
		return
	}

	m.scheduleReconnectLocked()
	m.mu.Unlock()

	m.emit(Event{Type: EventErrored, Err: err})
	m.emit(Event{Type: EventClosed})
}

// scheduleReconnectLocked increments the attempt counter and arms the backoff
// timer, or parks the streaming path in StateFallback once attempts are
// exhausted. Caller holds m.mu.
func (m *Manager) scheduleReconnectLocked() {
	if m.reconnectAttempts >= m.config.MaxReconnectAttempts {
		m.state = StateFallback
		m.logger.Printf("Reconnect attempts exhausted (%d), streaming path parked", m.reconnectAttempts)
		return
	}

	m.reconnectAttempts++
	m.state = StateReconnecting
	delay := m.backoffDelay(m.reconnectAttempts)
	observability.RecordReconnectAttempt()
	m.logger.Printf("Scheduling reconnect attempt %d/%d in %v", m.reconnectAttempts, m.config.MaxReconnectAttempts, delay)

	m.cancelReconnectLocked()
	m.reconnectTimer = time.AfterFunc(delay, m.reconnect)
}

// backoffDelay doubles per attempt, capped at MaxReconnectDelay.
func (m *Manager) backoffDelay(attempt int) time.Duration {
	delay := m.config.ReconnectDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.config.MaxReconnectDelay {
			return m.config.MaxReconnectDelay
		}
	}
	if delay > m.config.MaxReconnectDelay {
		delay = m.config.MaxReconnectDelay
	}
	return delay
}

// reconnect is the armed timer callback.
func (m *Manager) reconnect() {
	m.mu.Lock()
	if m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	gen := m.gen
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.config.HandshakeTimeout)
	conn, err := m.dial(ctx)
	cancel()

	if err != nil {
		m.mu.Lock()
		if m.state != StateReconnecting {
			m.mu.Unlock()
			return
		}
		if isAuthError(err) {
			m.state = StateAuthBlocked
			m.mu.Unlock()
			observability.RecordAuthBlock()
			m.logger.Printf("Stream authentication failure during reconnect, blocking: %v", err)
			m.emit(Event{Type: EventErrored, Err: err})
			m.emit(Event{Type: EventClosed})
			return
		}
		m.scheduleReconnectLocked()
		parked := m.state == StateFallback
		m.mu.Unlock()

		m.emit(Event{Type: EventErrored, Err: err})
		if parked {
			m.emit(Event{Type: EventClosed})
		}
		return
	}

	m.handleOpen(conn, gen)
}

// pingLoop keeps the connection alive until the session ends.
func (m *Manager) pingLoop(sess *session) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(m.config.WriteTimeout)
			if err := sess.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				// Connection might be dead; the read loop handles recovery.
			}
		}
	}
}

// cancelReconnectLocked stops and clears the armed backoff timer, if any.
// Caller holds m.mu.
func (m *Manager) cancelReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

// emit delivers an event without ever blocking the connection goroutines.
// The buffer absorbs bursts; overflow is dropped with a log line.
func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Printf("Event buffer full, dropping event type %d", ev.Type)
	}
}

// isAuthError matches authentication failures by error text.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized")
}
