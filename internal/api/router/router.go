package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/analysis-tracker/internal/api/handler"
	"github.com/gin-gonic/gin"
)

const (
	healthPath         = "/health"
	healthCheckTimeout = 2 * time.Second
	serviceName        = "analysis-api-service"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestIDMiddleware(), LoggerMiddleware(deps.Logger), CORSMiddleware())

	r.GET(healthPath, healthHandler(deps))

	trackingHandler := handler.NewTrackingHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		trackings := v1.Group("/trackings")
		{
			trackings.POST("", trackingHandler.CreateTracking)
			trackings.GET("", trackingHandler.ListTrackings)
			trackings.GET("/:job_id", trackingHandler.GetTracking)
			trackings.GET("/:job_id/messages", trackingHandler.ListMessages)
			trackings.POST("/:job_id/cancel", trackingHandler.CancelTracking)
			trackings.DELETE("/:job_id", trackingHandler.DeleteTracking)
		}
	}

	return r
}

func healthHandler(deps *handler.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		code, status := http.StatusOK, "healthy"

		if deps.HealthCheck != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
			defer cancel()

			if err := deps.HealthCheck(ctx); err != nil {
				deps.Logger.Warn("Health check failed", slog.String("error", err.Error()))
				code, status = http.StatusServiceUnavailable, "unhealthy"
			}
		}

		c.JSON(code, gin.H{"status": status, "service": serviceName})
	}
}
