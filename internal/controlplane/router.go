package controlplane

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/schedulezero/schedulezero/internal/controlplane/middleware"
	"github.com/schedulezero/schedulezero/internal/metrics"
)

// NewRouter builds the gin engine serving the control plane's full HTTP
// surface plus the ambient /metrics endpoint.
func NewRouter(h *Handlers, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger.With("component", "http")))
	r.Use(middleware.Metrics())

	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/api/health", h.Health)

	api := r.Group("/api")
	api.GET("/handlers", h.ListHandlers)

	api.POST("/schedule", h.CreateSchedule)
	api.GET("/schedules", h.ListSchedules)
	api.DELETE("/schedules/:id", h.DeleteSchedule)

	api.POST("/run_now", h.RunNow)

	api.GET("/executions", h.ListExecutions)
	api.GET("/executions/stats", h.ExecutionStats)
	api.GET("/executions/errors", h.ExecutionErrors)
	api.POST("/executions/clear", h.ClearExecutions)

	return r
}
