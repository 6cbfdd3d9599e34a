package server

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"topup-reconciler/internal/handlers"
	"topup-reconciler/internal/webhook"
)

// NewRouter sets up the HTTP router with middleware and routes.
func NewRouter(h *handlers.Handlers, wh *webhook.Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware())

	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/monday", wh.Handle)

	api := router.Group("/api/v1")
	{
		api.GET("/ruleset", h.GetRuleSet)
		api.PUT("/ruleset", h.UpdateRuleSet)

		api.GET("/poller/settings", h.GetPollerSettings)
		api.PUT("/poller/settings", h.UpdatePollerSettings)
		api.POST("/poller/start", h.StartPoller)
		api.POST("/poller/stop", h.StopPoller)
		api.POST("/poller/run-once", h.RunOnce)
		api.GET("/poller/status", h.GetPollerStatus)

		api.GET("/topups", h.ListTopups)
		api.GET("/topups/:id", h.GetTopup)
		api.POST("/topups/:id/approve", h.ApproveTopup)
		api.POST("/topups/:id/reject", h.RejectTopup)

		api.GET("/webhook-events", h.ListWebhookEvents)
	}

	return router
}

// loggerMiddleware adds logging middleware
func loggerMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC1123),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	})
}
