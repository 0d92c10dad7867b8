package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/sfu/internal/adapters/signal"
	"github.com/dkeye/sfu/internal/config"
)

func SetupRouter(ctx context.Context, cfg *config.Config, s *signal.Signaler) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(AccessLogMiddleware())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("SFUSessions", store))
	r.Use(ClientTokenMiddleware())

	h := &handlers{signaler: s}
	ws := signal.NewSignalWSController(s, cfg.ReadLimit, cfg.PingPeriod)

	r.POST("/offer/:session_id/:endpoint_id", h.offer)
	r.POST("/leave/:session_id/:endpoint_id", h.leave)
	r.GET("/ws/:session_id/:endpoint_id", func(c *gin.Context) {
		sid, eid, ok := pathIDs(c)
		if !ok {
			return
		}
		ws.HandleSignal(ctx, c, sid, eid)
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Malformed signaling paths are bad requests rather than 404.
	r.NoRoute(func(c *gin.Context) {
		p := c.Request.URL.Path
		if strings.HasPrefix(p, "/offer/") || strings.HasPrefix(p, "/leave/") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid path"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
