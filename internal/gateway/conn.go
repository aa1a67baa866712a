// Package gateway implements the Fan-out Gateway (spec §4.6): the
// per-connection state machine, its bounded send queue, subscribe
// membership, and the websocket upgrade/read loop that drives it.
// Grounded on the teacher's service/chat.ConnManager (snowID-keyed
// connection registry with a byUser secondary index and a sweeper
// goroutine) and ws_server.go's gin+gorilla/websocket upgrade and read
// loop, generalized from the teacher's protobuf frame envelope to the
// plain JSON envelope spec §6 names.
package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hearthline/core/internal/logging"
)

// State is the per-connection lifecycle state of spec §4.6's state
// machine.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateSubscribed
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Close codes spec §6 names for the websocket upgrade path.
const (
	CloseAuthFailed            = 4001
	CloseBackpressure          = 4002
	CloseUnauthorizedSubscribe = 4003
	CloseProtocolError         = 4004
)

// Conn is one websocket connection's full state: (user_id, device_id,
// session_id, subscribed_scopes, send_queue, last_heartbeat, alive,
// elevation_flag) per spec §4.6.
type Conn struct {
	ConnID   string
	UserID   string
	DeviceID string

	mu            sync.Mutex
	state         State
	scopes        map[string]bool
	lastHeartbeat time.Time
	missedPings   int
	elevated      bool

	ws        *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(connID string, ws *websocket.Conn, queueSize int) *Conn {
	now := time.Now()
	return &Conn{
		ConnID:        connID,
		state:         StateConnecting,
		scopes:        make(map[string]bool),
		lastHeartbeat: now,
		ws:            ws,
		send:          make(chan []byte, queueSize),
		closed:        make(chan struct{}),
	}
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Authenticate transitions Connecting -> Authenticated, recording the
// identity the bearer token resolved to.
func (c *Conn) Authenticate(userID, deviceID string) {
	c.mu.Lock()
	c.UserID = userID
	c.DeviceID = deviceID
	c.state = StateAuthenticated
	c.mu.Unlock()
}

func (c *Conn) SetElevated(v bool) {
	c.mu.Lock()
	c.elevated = v
	c.mu.Unlock()
}

func (c *Conn) Elevated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elevated
}

// AddScope records scope as subscribed and, on the connection's first
// subscription, advances Authenticated -> Subscribed.
func (c *Conn) AddScope(scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scopes[scope] = true
	if c.state == StateAuthenticated {
		c.state = StateSubscribed
	}
}

// RemoveScope drops scope and, if it was the last one, steps back to
// Authenticated per spec §4.6's state diagram
// ("Subscribed --unsubscribe(last)--> Authenticated").
func (c *Conn) RemoveScope(scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.scopes, scope)
	if len(c.scopes) == 0 && c.state == StateSubscribed {
		c.state = StateAuthenticated
	}
}

func (c *Conn) HasScope(scope string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scopes[scope]
}

// Scopes returns a snapshot of every scope this connection currently
// subscribes to.
func (c *Conn) Scopes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.scopes))
	for s := range c.scopes {
		out = append(out, s)
	}
	return out
}

func (c *Conn) Heartbeat() {
	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.missedPings = 0
	c.mu.Unlock()
}

// checkHeartbeat increments the missed-ping counter if no heartbeat was
// observed since the last check; returns true once two consecutive
// pings have been missed (spec §4.6/§5: "missing two consecutive pings
// closes the connection").
func (c *Conn) checkHeartbeat(interval time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastHeartbeat) > interval {
		c.missedPings++
	}
	return c.missedPings >= 2
}

// Enqueue attempts a non-blocking send; returns false on overflow, the
// caller's cue to close the connection with CloseBackpressure (spec
// §4.6: "bounded send queue ... on overflow the gateway drops the
// connection").
func (c *Conn) Enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close marks the connection Closing then Closed and releases the
// underlying socket exactly once; safe to call from multiple goroutines
// (write pump, read loop, sweeper).
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.setState(StateClosing)
		deadline := time.Now().Add(2 * time.Second)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.ws.Close()
		c.setState(StateClosed)
		close(c.closed)
	})
}

func (c *Conn) Done() <-chan struct{} { return c.closed }

// writePump drains the send queue to the socket; exits when the
// connection closes. Grounded on the teacher's pattern of a dedicated
// writer goroutine per connection so slow client reads never block
// fan-out producers.
func (c *Conn) writePump() {
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logging.Debugf("gateway: write error conn=%s: %v", c.ConnID, err)
				return
			}
		case <-c.closed:
			return
		}
	}
}

// Manager is the process-local registry of live connections, indexed by
// connection id and by user id, plus a set of distinct scope keys
// currently subscribed by at least one local connection. Grounded on
// the teacher's ConnManager (bySnow / byUser maps under one mutex, plus
// a background sweeper), generalized to scope-key fan-out instead of a
// single-recipient send.
type Manager struct {
	mu      sync.RWMutex
	byConn  map[string]*Conn
	byUser  map[string]map[string]*Conn // userID -> connID -> Conn
	byScope map[string]map[string]*Conn // scopeKey -> connID -> Conn

	heartbeatInterval time.Duration
	queueSize         int

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewManager(heartbeatInterval time.Duration, queueSize int) *Manager {
	m := &Manager{
		byConn:            make(map[string]*Conn),
		byUser:            make(map[string]map[string]*Conn),
		byScope:           make(map[string]map[string]*Conn),
		heartbeatInterval: heartbeatInterval,
		queueSize:         queueSize,
		stopCh:            make(chan struct{}),
	}
	go m.sweeper()
	return m
}

func (m *Manager) Register(connID string, ws *websocket.Conn) *Conn {
	c := newConn(connID, ws, m.queueSize)
	m.mu.Lock()
	m.byConn[connID] = c
	m.mu.Unlock()
	go c.writePump()
	return c
}

// BindUser attaches an authenticated connection to its user index, used
// for cross-device broadcast to user:{id}.
func (m *Manager) BindUser(c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byUser[c.UserID] == nil {
		m.byUser[c.UserID] = make(map[string]*Conn)
	}
	m.byUser[c.UserID][c.ConnID] = c
}

func (m *Manager) Subscribe(c *Conn, scope string) {
	c.AddScope(scope)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byScope[scope] == nil {
		m.byScope[scope] = make(map[string]*Conn)
	}
	m.byScope[scope][c.ConnID] = c
}

func (m *Manager) Unsubscribe(c *Conn, scope string) {
	c.RemoveScope(scope)
	m.mu.Lock()
	defer m.mu.Unlock()
	if mm := m.byScope[scope]; mm != nil {
		delete(mm, c.ConnID)
		if len(mm) == 0 {
			delete(m.byScope, scope)
		}
	}
}

// HasLocalSubscribers reports whether this process has at least one
// connection subscribed to scope, the signal the gateway uses to
// lazily attach or release a bus subscription per scope.
func (m *Manager) HasLocalSubscribers(scope string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byScope[scope]) > 0
}

// Fanout delivers payload to every local connection subscribed to
// scope, dropping (and closing) any connection whose queue overflows.
func (m *Manager) Fanout(scope string, payload []byte) {
	m.mu.RLock()
	recipients := make([]*Conn, 0, len(m.byScope[scope]))
	for _, c := range m.byScope[scope] {
		recipients = append(recipients, c)
	}
	m.mu.RUnlock()

	for _, c := range recipients {
		if !c.Enqueue(payload) {
			logging.Warnf("gateway: conn=%s overflowed send queue on scope=%s, closing", c.ConnID, scope)
			m.Remove(c)
			c.Close(CloseBackpressure, "backpressure")
		}
	}
}

// FanoutUser delivers payload to every connection of userID (spec
// §4.6's cross-device broadcast for user:{id}), regardless of scope
// subscriptions.
func (m *Manager) FanoutUser(userID string, payload []byte) {
	m.mu.RLock()
	recipients := make([]*Conn, 0, len(m.byUser[userID]))
	for _, c := range m.byUser[userID] {
		recipients = append(recipients, c)
	}
	m.mu.RUnlock()

	for _, c := range recipients {
		if !c.Enqueue(payload) {
			logging.Warnf("gateway: conn=%s overflowed send queue on user broadcast, closing", c.ConnID)
			m.Remove(c)
			c.Close(CloseBackpressure, "backpressure")
		}
	}
}

// Remove drops a connection from every index; it does not close the
// socket, leaving that to the caller (the read loop's exit path, or
// Fanout's overflow handling, which calls Close explicitly afterward).
func (m *Manager) Remove(c *Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byConn, c.ConnID)
	if mm := m.byUser[c.UserID]; mm != nil {
		delete(mm, c.ConnID)
		if len(mm) == 0 {
			delete(m.byUser, c.UserID)
		}
	}
	for _, scope := range c.Scopes() {
		if mm := m.byScope[scope]; mm != nil {
			delete(mm, c.ConnID)
			if len(mm) == 0 {
				delete(m.byScope, scope)
			}
		}
	}
}

func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	conns := make([]*Conn, 0, len(m.byConn))
	for _, c := range m.byConn {
		conns = append(conns, c)
	}
	m.byConn = make(map[string]*Conn)
	m.byUser = make(map[string]map[string]*Conn)
	m.byScope = make(map[string]map[string]*Conn)
	m.mu.Unlock()

	for _, c := range conns {
		c.Close(websocket.CloseNormalClosure, "server shutdown")
	}
}

// sweeper enforces the heartbeat timeout (spec §5: "Heartbeat 30s")
// every interval, closing any connection that has missed two
// consecutive pings.
func (m *Manager) sweeper() {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.mu.RLock()
			conns := make([]*Conn, 0, len(m.byConn))
			for _, c := range m.byConn {
				conns = append(conns, c)
			}
			m.mu.RUnlock()

			for _, c := range conns {
				if c.checkHeartbeat(m.heartbeatInterval) {
					logging.Infof("gateway: conn=%s missed heartbeat, closing", c.ConnID)
					m.Remove(c)
					c.Close(websocket.CloseNormalClosure, "heartbeat timeout")
				}
			}
		}
	}
}
