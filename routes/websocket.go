package routes

import (
	"guardian/controllers"
	"guardian/middleware"

	"github.com/gin-gonic/gin"
)

// SetupWebSocketRoutes configures the device live channel
func SetupWebSocketRoutes(router *gin.Engine, wsController *controllers.WebSocketController, auth *middleware.AuthMiddleware) {
	router.GET("/ws", auth.RequireDevice(), wsController.HandleWebSocket)
	router.GET("/api/v1/ws/stats", auth.RequireDevice(), wsController.GetConnectionStats)
}
