package server

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/voxclub/liveroom/internal/api"
	"github.com/voxclub/liveroom/internal/config"
	"github.com/voxclub/liveroom/internal/domain"
)

type tokenGrant struct {
	SessionID domain.SessionID
	UserID    domain.UserID
	Publish   bool
}

// tokenStore holds issued audio tokens so the audio endpoint can map a
// bearer token back to its grant.
type tokenStore struct {
	mu     sync.Mutex
	grants map[string]tokenGrant
}

func newTokenStore() *tokenStore {
	return &tokenStore{grants: make(map[string]tokenGrant)}
}

func (s *tokenStore) issue(g tokenGrant) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.grants[token] = g
	s.mu.Unlock()
	return token
}

func (s *tokenStore) lookup(token string) (tokenGrant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[token]
	return g, ok
}

type Handlers struct {
	Hub    *Hub
	Cfg    *config.Config
	Tokens *tokenStore
}

func (h *Handlers) createSession(c *gin.Context) {
	var req api.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid title"})
		return
	}
	s := h.Hub.CreateSession(req.Title, req.Description)
	c.JSON(http.StatusOK, s)
}

func (h *Handlers) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.Hub.Sessions()})
}

func (h *Handlers) getSession(c *gin.Context) {
	s, ok := h.Hub.Session(domain.SessionID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handlers) roomState(c *gin.Context) {
	id := domain.SessionID(c.Param("id"))
	snap := h.Hub.RoomSnapshot(id)
	c.JSON(http.StatusOK, gin.H{
		"session_id":   id,
		"participants": snap.Participants,
		"speakers":     snap.Speakers,
		"listeners":    snap.Listeners,
		"hand_raised":  snap.HandRaised,
		"stats":        snap.Stats,
	})
}

// issueToken scopes an audio-transport token to (session, identity,
// role). When no transport is configured the mock-mode sentinel is
// returned instead; there is no fallback audio path.
func (h *Handlers) issueToken(c *gin.Context) {
	var req api.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.SessionID == "" || req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid token request"})
		return
	}

	if !h.Cfg.AudioEnabled {
		c.JSON(http.StatusOK, gin.H{
			"mock_mode": true,
			"room":      req.SessionID,
			"message":   "audio transport not configured, audio features disabled",
		})
		return
	}

	token := h.Tokens.issue(tokenGrant{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Publish:   req.Role.CanPublish(),
	})
	log.Info().Str("module", "server.http").Str("session", string(req.SessionID)).Str("user_id", string(req.UserID)).Str("role", string(req.Role)).Msg("issued audio token")
	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"url":       h.Cfg.APIBase + "/api/live/audio/" + string(req.SessionID),
		"room":      req.SessionID,
		"mock_mode": false,
	})
}
