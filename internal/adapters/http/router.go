package http

import (
	"context"

	"github.com/dkeye/meshcall/internal/adapters/signal"
	"github.com/dkeye/meshcall/internal/app/orch"
	"github.com/dkeye/meshcall/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// SetupRouter wires the relay socket and the small REST surface.
//   - /ws and /api/ws/signal upgrade relay sockets
//   - /health is a liveness probe
//   - /api/rooms lists rooms from the hub
func SetupRouter(ctx context.Context, cfg *config.Config, hub *orch.Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	ctrl := signal.NewSignalWSController(hub, signal.Options{
		SendBuffer:     cfg.SendBuffer,
		MaxMessageSize: cfg.ReadLimit,
		RateLimit:      cfg.RateLimit.Messages,
		RateInterval:   cfg.RateLimit.Interval,
	})
	ws := func(c *gin.Context) { ctrl.HandleSignal(ctx, c) }

	r.GET("/ws", ws)
	r.GET("/health", handleHealth)

	api := r.Group("/api")
	api.GET("/ws/signal", ws)
	api.GET("/rooms", roomsHandler(hub))

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
