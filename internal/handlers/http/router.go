package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"voicelink/internal/core/ports"
	"voicelink/internal/core/services"
	"voicelink/internal/infrastructure/middleware"
	"voicelink/internal/infrastructure/signal"
	"voicelink/pkg/config"
)

// NewRouter assembles the gin engine: middleware chain, the v4 REST
// surface, the signaling websocket and the metrics endpoint.
func NewRouter(
	cfg *config.Config,
	manager *services.ConnectionManager,
	sessions ports.SessionRepository,
	ws *signal.Server,
	logger *zap.SugaredLogger,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.ErrorHandler(logger))
	if cfg.Tracing.Enabled {
		r.Use(middleware.Tracing())
	}

	// Unauthenticated surface.
	if cfg.Monitoring.PrometheusEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	authed := r.Group("/")
	authed.Use(middleware.Auth(cfg.Auth.Password))
	if cfg.RateLimiting.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.Burst)
		authed.Use(limiter.Handler())
	}

	v4 := authed.Group("/v4")
	v4.GET("/websocket", gin.WrapF(ws.Handle))

	NewPlayerHandler(manager, sessions, logger).Register(v4)
	NewAdminHandler(manager, logger).Register(v4)
	NewStatsHandler(manager).Register(v4, authed)

	return r
}
