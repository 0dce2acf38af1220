// Package channel owns the single bidirectional connection to a live
// room's event stream: connect, reconnect after unexpected close,
// heartbeat and message dispatch.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/voxclub/liveroom/internal/domain"
	"github.com/voxclub/liveroom/internal/wire"
)

var (
	ErrNotConnected = errors.New("channel not open")
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("channel manager closed")
)

const (
	DefaultPingPeriod     = 30 * time.Second
	DefaultReconnectDelay = 3 * time.Second

	writeWait = 5 * time.Second
	sendQueue = 32
)

// Params are bound into the connection handshake and fixed for the
// lifetime of one connection. Changing any of them requires a
// disconnect and a fresh Connect.
type Params struct {
	SessionID domain.SessionID
	UserID    domain.UserID
	Username  string
	Role      domain.Role
}

type Config struct {
	// URL is the ws endpoint base; the session id is appended as a path
	// segment and the identity as query parameters.
	URL    string
	Dialer *websocket.Dialer

	PingPeriod     time.Duration
	ReconnectDelay time.Duration

	// ShouldReconnect gates the delayed reconnect after an unexpected
	// close. When nil, reconnect is always attempted.
	ShouldReconnect func() bool
	// OnMessage receives every inbound frame, in receipt order.
	OnMessage func([]byte)
	// OnConnected observes the connected flag.
	OnConnected func(bool)
}

type Manager struct {
	cfg Config

	mu         sync.Mutex
	conn       *websocket.Conn
	send       chan []byte
	done       chan struct{}
	connecting bool
	closed     bool

	params  Params
	dialCtx context.Context

	reconnectTimer *time.Timer
	stopHeartbeat  chan struct{}
}

func NewManager(cfg Config) *Manager {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = DefaultPingPeriod
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	m := &Manager{
		cfg:           cfg,
		dialCtx:       context.Background(),
		stopHeartbeat: make(chan struct{}),
	}
	go m.heartbeat()
	return m
}

// Connect opens the channel if none is open. Concurrent calls while a
// connection is open or in progress are no-ops.
func (m *Manager) Connect(ctx context.Context, p Params) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.conn != nil || m.connecting {
		m.mu.Unlock()
		return nil
	}
	m.connecting = true
	m.params = p
	m.dialCtx = ctx
	m.mu.Unlock()

	endpoint, err := m.endpoint(p)
	if err != nil {
		m.mu.Lock()
		m.connecting = false
		m.mu.Unlock()
		return err
	}

	ws, _, err := m.cfg.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "channel").Str("session", string(p.SessionID)).Msg("dial failed")
		m.mu.Lock()
		m.connecting = false
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		return fmt.Errorf("dial channel: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = ws.Close()
		return ErrClosed
	}
	m.conn = ws
	m.connecting = false
	m.send = make(chan []byte, sendQueue)
	m.done = make(chan struct{})
	send, done := m.send, m.done
	m.mu.Unlock()

	log.Info().Str("module", "channel").Str("session", string(p.SessionID)).Str("user_id", string(p.UserID)).Msg("channel connected")
	if m.cfg.OnConnected != nil {
		m.cfg.OnConnected(true)
	}

	go m.writePump(ws, send, done)
	go m.readPump(ws)
	return nil
}

func (m *Manager) endpoint(p Params) (string, error) {
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse channel url: %w", err)
	}
	u = u.JoinPath(string(p.SessionID))
	q := u.Query()
	q.Set("user_id", string(p.UserID))
	q.Set("username", p.Username)
	q.Set("role", string(p.Role))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Manager) writePump(ws *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case data := <-send:
			if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "channel").Msg("writePump set deadline")
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "channel").Msg("writePump write error")
				return
			}
		}
	}
}

func (m *Manager) readPump(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			log.Info().Err(err).Str("module", "channel").Msg("readPump closing")
			break
		}
		if m.cfg.OnMessage != nil {
			m.cfg.OnMessage(data)
		}
	}
	m.connectionLost(ws)
}

// connectionLost tears down after the read pump exits. The close is
// unexpected unless Disconnect or Close already detached the conn.
func (m *Manager) connectionLost(ws *websocket.Conn) {
	m.mu.Lock()
	if m.conn != ws {
		m.mu.Unlock()
		return
	}
	m.detachLocked()
	m.scheduleReconnectLocked()
	m.mu.Unlock()

	_ = ws.Close()
	if m.cfg.OnConnected != nil {
		m.cfg.OnConnected(false)
	}
}

// detachLocked clears the current connection and stops its write pump.
func (m *Manager) detachLocked() {
	m.conn = nil
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	m.send = nil
}

// scheduleReconnectLocked arms at most one pending reconnect. Repeated
// closes within the delay window do not pile up additional attempts.
func (m *Manager) scheduleReconnectLocked() {
	if m.closed || m.reconnectTimer != nil {
		return
	}
	if m.cfg.ShouldReconnect != nil && !m.cfg.ShouldReconnect() {
		log.Info().Str("module", "channel").Msg("session over, not reconnecting")
		return
	}
	params := m.params
	m.reconnectTimer = time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.mu.Lock()
		m.reconnectTimer = nil
		ctx := m.dialCtx
		m.mu.Unlock()
		if err := m.Connect(ctx, params); err != nil && !errors.Is(err, ErrClosed) {
			log.Warn().Err(err).Str("module", "channel").Msg("reconnect attempt failed")
		}
	})
	log.Info().Str("module", "channel").Dur("delay", m.cfg.ReconnectDelay).Msg("reconnect scheduled")
}

// Send marshals and queues one outbound message. It is a no-op error
// when the channel is not open, and never blocks on a slow writer.
func (m *Manager) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal outbound: %w", err)
	}

	m.mu.Lock()
	send, conn := m.send, m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	select {
	case send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// heartbeat sends a liveness ping on a fixed period for the life of the
// manager, regardless of connection state. A send while disconnected is
// silently dropped.
func (m *Manager) heartbeat() {
	ticker := time.NewTicker(m.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopHeartbeat:
			return
		case <-ticker.C:
			if err := m.Send(wire.NewPing()); err != nil && !errors.Is(err, ErrNotConnected) {
				log.Warn().Err(err).Str("module", "channel").Msg("heartbeat send")
			}
		}
	}
}

// Disconnect closes the current connection deliberately and cancels any
// pending reconnect. The manager stays usable for a later Connect with
// fresh params (username change flow).
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	ws := m.conn
	if ws != nil {
		m.detachLocked()
	}
	m.mu.Unlock()

	if ws != nil {
		_ = ws.Close()
		if m.cfg.OnConnected != nil {
			m.cfg.OnConnected(false)
		}
	}
}

// Close shuts the manager down for good: connection, pending reconnect
// and heartbeat. Safe to call more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.stopHeartbeat)
	m.mu.Unlock()

	m.Disconnect()
}
