package handler

import (
	"log/slog"
	"net/http"

	"opendavinci/internal/microservices/http-api/middleware"
	"opendavinci/internal/microservices/websocket"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routerOptions struct {
	hub *websocket.Hub
}

// RouterOption adds optional routes.
type RouterOption func(*routerOptions)

// WithEventFeed serves the live module feed of hub on /ws.
func WithEventFeed(hub *websocket.Hub) RouterOption {
	return func(o *routerOptions) { o.hub = hub }
}

// NewRouter builds the status API. gatherer may be nil to leave out /metrics.
func NewRouter(src ModuleSource, gatherer prometheus.Gatherer, logger *slog.Logger, opts ...RouterOption) *gin.Engine {
	var o routerOptions
	for _, opt := range opts {
		opt(&o)
	}

	r := gin.New()
	r.Use(middleware.RequestLogger(logger))
	r.Use(gin.Recovery())

	r.GET("/check-conn", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"message": "supercomponent is alive",
			"modules": len(src.Snapshot()),
		})
	})

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	if o.hub != nil {
		r.GET("/ws", websocket.WSHandler(o.hub, src))
	}

	NewModuleHandler(src).RegisterRoutes(r.Group("/modules"))
	return r
}
