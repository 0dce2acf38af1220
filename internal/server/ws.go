package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/voxclub/liveroom/internal/domain"
	"github.com/voxclub/liveroom/internal/wire"
)

var ErrBackpressure = errors.New("backpressure")

// closeSessionGone mirrors the original backend: sessions that are
// missing or no longer joinable are refused with close code 4004.
const closeSessionGone = 4004

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

type WSController struct {
	Hub       *Hub
	ReadLimit int64
}

func (ctl *WSController) HandleLiveRoom(ctx context.Context, c *gin.Context) {
	sessionID := domain.SessionID(c.Param("id"))
	userID := domain.UserID(c.Query("user_id"))
	if userID == "" {
		userID = domain.UserID("anon_" + uuid.NewString()[:8])
	}
	username := c.Query("username")
	if username == "" {
		username = domain.DefaultUsername
	}
	role := domain.ParseRole(c.Query("role"))

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "server.ws").Msg("ws upgrade")
		return
	}

	session, ok := ctl.Hub.Session(sessionID)
	if !ok || !session.Status.Joinable() {
		msg := websocket.FormatCloseMessage(closeSessionGone, "session not available")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}

	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan []byte, 32),
	}
	log.Info().Str("module", "server.ws").Str("session", string(sessionID)).Str("user_id", string(userID)).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)

	ctl.Hub.Connect(sessionID, domain.Participant{
		UserID:   userID,
		Username: username,
		Role:     role,
		JoinedAt: time.Now().UTC().Format(time.RFC3339Nano),
		IsMuted:  true,
	}, conn)

	go ctl.readPump(ctx, cancel, sessionID, userID, username, role, conn)
}

func (ctl *WSController) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "server.ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "server.ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *WSController) readPump(
	ctx context.Context,
	cancel context.CancelFunc,
	sessionID domain.SessionID,
	userID domain.UserID,
	username string,
	role domain.Role,
	c *wsConn,
) {
	defer func() {
		log.Info().Str("module", "server.ws").Str("user_id", string(userID)).Msg("readPump closing")
		ctl.Hub.Disconnect(sessionID, userID, c)
		cancel()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			ctl.handleMessage(sessionID, userID, username, role, c, data)
		}
	}
}

func (ctl *WSController) handleMessage(
	sessionID domain.SessionID,
	userID domain.UserID,
	username string,
	role domain.Role,
	c *wsConn,
	data []byte,
) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "server.ws").Msg("bad json")
		return
	}

	switch env.Type {
	case "chat":
		var p wire.ChatMessage
		if err := json.Unmarshal(data, &p); err != nil || p.Message == "" {
			return
		}
		ctl.Hub.Chat(sessionID, userID, username, p.Message)
	case "reaction":
		var p wire.Reaction
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		if p.Emoji == "" {
			p.Emoji = "👍"
		}
		ctl.Hub.Reaction(sessionID, userID, username, p.Emoji)
	case "hand_raise":
		var p wire.HandRaise
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		if p.Action == "" {
			p.Action = wire.ActionRaise
		}
		ctl.Hub.HandRaise(sessionID, userID, p.Action)
	case "promote":
		// Only handshake speakers may promote, as in the original.
		if role != domain.RoleSpeaker {
			return
		}
		var p wire.Promote
		if err := json.Unmarshal(data, &p); err != nil || p.TargetUserID == "" {
			return
		}
		ctl.Hub.Promote(sessionID, p.TargetUserID)
	case "demote":
		if role != domain.RoleSpeaker {
			return
		}
		var p wire.Demote
		if err := json.Unmarshal(data, &p); err != nil || p.TargetUserID == "" {
			return
		}
		ctl.Hub.Demote(sessionID, p.TargetUserID)
	case "ping":
		ctl.Hub.Pong(c)
	default:
		log.Warn().Str("module", "server.ws").Str("type", env.Type).Msg("unknown message")
	}
}
