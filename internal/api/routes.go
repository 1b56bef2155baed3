// Package api assembles the gin router.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quantfold/lobstream/internal/api/handlers"
	"github.com/quantfold/lobstream/internal/database"
)

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Services  Services  `json:"services"`
}

type Services struct {
	Database string `json:"database"`
	Redis    string `json:"redis"`
}

// SetupRoutes registers the health endpoint, the session API and the
// WebSocket entry point. db and redis may be nil when the service runs
// without them.
func SetupRoutes(router *gin.Engine, sessionHandler *handlers.SessionHandler, db *database.PostgresDB, redis *database.RedisClient) {
	// Health check endpoint
	router.GET("/health", healthCheck(db, redis))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", sessionHandler.CreateSession)
			sessions.GET("", sessionHandler.ListSessions)
			sessions.GET("/:id", sessionHandler.GetSession)
			sessions.DELETE("/:id", sessionHandler.CloseSession)

			sessions.GET("/:id/features", sessionHandler.GetFeatures)
			sessions.GET("/:id/snapshot/latest", sessionHandler.GetLatestSnapshot)
			sessions.GET("/:id/anomalies", sessionHandler.GetAnomalies)
			sessions.GET("/:id/indicators", sessionHandler.GetIndicators)

			sessions.POST("/:id/control/speed", sessionHandler.SetSpeed)
			sessions.POST("/:id/control/:command", sessionHandler.Control)
		}
	}

	// WebSocket stream
	router.GET("/ws/:id", sessionHandler.ServeWS)
}

func healthCheck(db *database.PostgresDB, redis *database.RedisClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		response := HealthResponse{
			Status:    "ok",
			Timestamp: time.Now().UTC(),
			Version:   "1.0.0",
			Services: Services{
				Database: "ok",
				Redis:    "ok",
			},
		}

		if db == nil {
			response.Services.Database = "disabled"
		} else if err := db.HealthCheck(c.Request.Context()); err != nil {
			response.Services.Database = "error"
			response.Status = "degraded"
		}

		if redis == nil {
			response.Services.Redis = "disabled"
		} else if err := redis.HealthCheck(c.Request.Context()); err != nil {
			response.Services.Redis = "error"
			response.Status = "degraded"
		}

		statusCode := http.StatusOK
		if response.Status == "degraded" {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, response)
	}
}
