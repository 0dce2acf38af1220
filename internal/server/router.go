package server

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/voxclub/liveroom/internal/audio"
	"github.com/voxclub/liveroom/internal/config"
)

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, hub *Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("LiveRoomSessions", store))
	r.Use(ClientTokenMiddleware())

	tokens := newTokenStore()
	handlers := &Handlers{Hub: hub, Cfg: cfg, Tokens: tokens}
	wsCtl := &WSController{Hub: hub, ReadLimit: cfg.ReadLimit}

	log.Info().Str("module", "server.http").Bool("audio", cfg.AudioEnabled).Msg("router setup")

	api := r.Group("/api/live")
	api.POST("/sessions", handlers.createSession)
	api.GET("/sessions", handlers.listSessions)
	api.GET("/sessions/:id", handlers.getSession)
	api.GET("/room/:id/state", handlers.roomState)
	api.POST("/token", handlers.issueToken)
	api.GET("/ws/:id", func(c *gin.Context) {
		wsCtl.HandleLiveRoom(ctx, c)
	})

	if cfg.AudioEnabled {
		audioCtl := NewAudioController(tokens, audio.DefaultWebRTCConfig(cfg.StunURL))
		api.POST("/audio/:id", audioCtl.HandleOffer)
	}

	return r
}
