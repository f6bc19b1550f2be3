package http

import (
	"context"
	"net/http"

	"github.com/dkeye/PoseSync/internal/adapters/signal"
	"github.com/dkeye/PoseSync/internal/config"
	"github.com/dkeye/PoseSync/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const identityKey = "user_id"

// IdentityMiddleware keeps a suggested user id in the cookie session so a
// reloaded page can rejoin under the same name. It is not authentication.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		uid, _ := s.Get(identityKey).(string)
		if uid == "" {
			uid = string(domain.NewUserID())
			s.Set(identityKey, uid)
			if err := s.Save(); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("save identity")
			}
		}
		c.Set(identityKey, uid)
		c.Next()
	}
}

func SetupRouter(
	ctx context.Context,
	cfg *config.Config,
	ctrl *signal.SignalWSController,
	gatherer prometheus.Gatherer,
) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("PoseSyncSessions", store))

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	sessionsStore := ctrl.Orch.Sessions
	api := r.Group("/api")

	api.GET("/identity", IdentityMiddleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": c.GetString(identityKey)})
	})

	api.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, sessionsStore.List())
	})

	api.GET("/sessions/:id", func(c *gin.Context) {
		sid := domain.SessionID(c.Param("id"))
		users := sessionsStore.Members(sid)
		if users == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessionId": sid, "users": users})
	})

	r.GET("/ws", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	return r
}
