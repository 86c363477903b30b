// Package realtime owns the client side of the collaboration channel: one
// logical WebSocket connection per authenticated user, with automatic
// bounded-backoff reconnection.
package realtime

import (
	"errors"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/translation-studio/collab/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// DefaultBaseInterval is the first reconnect delay; attempt n waits n
	// times this long.
	DefaultBaseInterval = time.Second

	// DefaultMaxReconnectAttempts bounds the retry budget. Once exhausted
	// the manager stays Disconnected until Connect is called again.
	DefaultMaxReconnectAttempts = 5

	defaultHandshakeTimeout = 10 * time.Second
)

// ErrNotConnected is returned by Send when the channel is down. Callers
// treat sends as fire-and-forget hints, so this is advisory.
var ErrNotConnected = errors.New("realtime channel not connected")

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns the state name for logs and UI flags.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Config holds the channel endpoint and reconnection tuning.
type Config struct {
	// URL is the channel endpoint, e.g. ws://host/ws. The user id is
	// appended as the user_id query parameter at connect time.
	URL string

	// BaseInterval is the unit of the linear backoff schedule.
	BaseInterval time.Duration

	// MaxReconnectAttempts caps automatic retries after an unexpected
	// closure or a failed connection attempt.
	MaxReconnectAttempts int

	// HandshakeTimeout bounds the WebSocket dial.
	HandshakeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseInterval <= 0 {
		c.BaseInterval = DefaultBaseInterval
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	return c
}

// Delay returns the backoff delay scheduled before reconnect attempt n
// (1-based): BaseInterval × n.
func (c Config) Delay(attempt int) time.Duration {
	return c.BaseInterval * time.Duration(attempt)
}

// Manager owns the realtime channel for one user session. All outbound
// traffic goes through Send; no other component holds the connection, so a
// closed socket can never be used by a stale reference.
//
// Inbound events are decoded and delivered on a single goroutine in arrival
// order. Malformed frames are logged and dropped without touching state.
type Manager struct {
	cfg Config

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	userID   string
	attempts int
	timer    *time.Timer
	// gen increments on every Connect/Disconnect so stale read loops and
	// cancelled reconnect timers cannot resurrect a torn-down channel.
	gen int

	// writeMu serializes frame writes; gorilla connections allow only one
	// concurrent writer.
	writeMu sync.Mutex

	cbMu    sync.Mutex
	onEvent func(protocol.ServerEvent)
	onState func(State)
}

// NewManager creates a Manager in the Disconnected state.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg.withDefaults(), state: StateDisconnected}
}

// SetOnEvent sets the inbound event callback. Events arrive on the channel's
// read goroutine, strictly in arrival order.
func (m *Manager) SetOnEvent(fn func(protocol.ServerEvent)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.onEvent = fn
}

// SetOnStateChange sets the callback invoked on every state transition.
func (m *Manager) SetOnStateChange(fn func(State)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.onState = fn
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReconnectAttempts returns the current retry counter. It resets to zero on
// every successful connection and on Disconnect.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Connect opens the channel for the given user. It is a no-op while a
// connection is open or being established. Dial errors never propagate to
// the caller; they are logged and drive the reconnection schedule.
func (m *Manager) Connect(userID string) {
	if userID == "" {
		log.Printf("realtime: connect called without user id, ignoring")
		return
	}

	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	m.userID = userID
	m.attempts = 0
	m.state = StateConnecting
	m.mu.Unlock()

	m.notifyState(StateConnecting)
	m.dial(gen)
}

// Disconnect tears the channel down unconditionally: it cancels any pending
// reconnect timer, closes the socket, and resets the retry counter. Safe to
// call when already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	conn := m.conn
	m.conn = nil
	m.attempts = 0
	changed := m.state != StateDisconnected
	m.state = StateDisconnected
	m.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
	if changed {
		m.notifyState(StateDisconnected)
	}
}

// Send writes an envelope to the channel. Returns ErrNotConnected while the
// channel is down.
func (m *Manager) Send(env protocol.Envelope) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(env)
}

// dial performs one connection attempt for the given generation.
func (m *Manager) dial(gen int) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	userID := m.userID
	m.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.HandshakeTimeout}
	endpoint := m.cfg.URL + "?user_id=" + url.QueryEscape(userID)
	conn, resp, err := dialer.Dial(endpoint, nil)
	if err != nil && resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		log.Printf("realtime: connection attempt failed: %v", err)
		next := m.scheduleReconnectLocked(gen)
		m.mu.Unlock()
		m.notifyState(next)
		return
	}

	m.conn = conn
	m.attempts = 0
	m.state = StateConnected
	m.mu.Unlock()

	m.notifyState(StateConnected)
	go m.readLoop(conn, gen)
}

// scheduleReconnectLocked advances the retry counter and either arms the
// backoff timer or gives up. Caller holds m.mu; the returned state must be
// published after unlocking.
func (m *Manager) scheduleReconnectLocked(gen int) State {
	m.attempts++
	if m.attempts > m.cfg.MaxReconnectAttempts {
		log.Printf("realtime: reconnect budget exhausted after %d attempts, giving up",
			m.cfg.MaxReconnectAttempts)
		m.state = StateDisconnected
		return m.state
	}

	delay := m.cfg.Delay(m.attempts)
	m.state = StateReconnecting
	m.timer = time.AfterFunc(delay, func() { m.redial(gen) })
	log.Printf("realtime: scheduling reconnect attempt %d/%d in %s",
		m.attempts, m.cfg.MaxReconnectAttempts, delay)
	return m.state
}

// redial fires when the backoff timer elapses.
func (m *Manager) redial(gen int) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.state = StateConnecting
	m.mu.Unlock()

	m.notifyState(StateConnecting)
	m.dial(gen)
}

// readLoop pumps inbound frames until the connection drops.
func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleConnectionLost(gen, err)
			return
		}

		ev, decErr := protocol.DecodeServerEvent(data)
		if decErr != nil {
			log.Printf("realtime: dropping malformed event: %v", decErr)
			continue
		}

		m.cbMu.Lock()
		fn := m.onEvent
		m.cbMu.Unlock()
		if fn != nil {
			fn(ev)
		}
	}
}

// handleConnectionLost reacts to an unexpected closure. Intentional
// disconnects bump the generation first, so they are ignored here.
func (m *Manager) handleConnectionLost(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateConnected {
		m.mu.Unlock()
		return
	}

	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		log.Printf("realtime: connection lost: %v", err)
	}
	m.conn = nil
	next := m.scheduleReconnectLocked(gen)
	m.mu.Unlock()

	m.notifyState(next)
}

func (m *Manager) notifyState(st State) {
	m.cbMu.Lock()
	fn := m.onState
	m.cbMu.Unlock()
	if fn != nil {
		fn(st)
	}
}
