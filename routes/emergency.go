package routes

import (
	"guardian/config"
	"guardian/controllers"
	"guardian/middleware"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

// SetupEmergencyRoutes configures the emergency trigger, cancel and status routes
func SetupEmergencyRoutes(router *gin.RouterGroup, emergencyController *controllers.EmergencyController, redis *redis.Client, cfg *config.Config) {
	emergency := router.Group("/emergency")
	{
		emergency.POST("/trigger",
			middleware.TriggerRateLimit(redis, cfg.TriggerRateLimit, cfg.TriggerRateWindow),
			emergencyController.TriggerEmergency)
		emergency.POST("/cancel", emergencyController.CancelEmergency)
		emergency.GET("/status", emergencyController.GetStatus)
	}
}

// SetupIncidentRoutes configures the archived incident routes
func SetupIncidentRoutes(router *gin.RouterGroup, incidentController *controllers.IncidentController) {
	incidents := router.Group("/incidents")
	{
		incidents.GET("", incidentController.GetIncidents)
		incidents.GET("/:sessionId", incidentController.GetIncident)
	}
}
