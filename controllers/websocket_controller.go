package controllers

import (
	"guardian/utils"
	"guardian/websocket"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type WebSocketController struct {
	hub *websocket.Hub
}

func NewWebSocketController(hub *websocket.Hub) *WebSocketController {
	return &WebSocketController{
		hub: hub,
	}
}

// HandleWebSocket upgrades the request into the device's live channel.
// Authentication, when enabled, has already run in the middleware chain.
func (wsc *WebSocketController) HandleWebSocket(c *gin.Context) {
	deviceID := c.GetString("deviceID")

	if err := websocket.Serve(wsc.hub, c.Writer, c.Request, deviceID); err != nil {
		// The upgrader already wrote the HTTP error.
		logrus.Errorf("Failed to upgrade WebSocket connection: %v", err)
		return
	}
}

// GetConnectionStats reports live channel statistics.
func (wsc *WebSocketController) GetConnectionStats(c *gin.Context) {
	utils.SuccessResponse(c, "Connection statistics retrieved successfully", wsc.hub.GetStats())
}
