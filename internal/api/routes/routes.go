package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/rail-service/payroll_relay/internal/api/handlers"
	"github.com/rail-service/payroll_relay/internal/api/middleware"
	"github.com/rail-service/payroll_relay/internal/infrastructure/di"
	"github.com/rail-service/payroll_relay/pkg/metrics"
)

// Version is reported by the health endpoints
var Version = "dev"

// SetupRoutes configures the ops API
func SetupRoutes(container *di.Container) *gin.Engine {
	if container.Config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(middleware.Logger(container.Logger))
	router.Use(middleware.Recovery(container.Logger))
	router.Use(middleware.SecurityHeaders())

	checks := make(map[string]handlers.HealthCheck)
	for name, check := range container.HealthChecks() {
		checks[name] = check
	}
	healthHandler := handlers.NewHealthHandler(checks, container.ZapLog, Version)
	runHandlers := handlers.NewRunHandlers(container.RunRepo, container.ZapLog)

	router.GET("/health", healthHandler.Health)
	router.GET("/ping", healthHandler.Ping)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	runs := router.Group("/runs")
	{
		runs.GET("", runHandlers.List)
		runs.GET("/:sourceTxHash", runHandlers.GetBySourceTxHash)
	}

	return router
}
