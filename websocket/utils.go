package websocket

import (
	"guardian/models"
	"guardian/utils"
	"time"
)

// validateWebSocketMessage validates incoming WebSocket message structure
func validateWebSocketMessage(msg models.WSRequest) error {
	if msg.Type == "" {
		return utils.NewBadRequestError("Message type is required")
	}

	switch msg.Type {
	case models.WSRequestLocationResponse:
		if msg.Data == nil {
			return utils.NewBadRequestError("Location data is required")
		}
	case models.WSRequestMediaOpen:
		if msg.Data == nil {
			return utils.NewBadRequestError("Media data is required")
		}
	}

	return nil
}

// createSuccessResponse creates a standardized success response
func createSuccessResponse(message string, requestID string) models.WSMessage {
	responseData := map[string]interface{}{
		"success": true,
		"message": message,
	}

	if requestID != "" {
		responseData["requestId"] = requestID
	}

	return models.WSMessage{
		Type:      models.WSTypeSuccess,
		Data:      responseData,
		RequestID: requestID,
		Timestamp: time.Now(),
	}
}

// createErrorResponse creates a standardized error response
func createErrorResponse(code, message string) models.WSMessage {
	return models.WSMessage{
		Type: models.WSTypeError,
		Data: models.WSError{
			Code:      code,
			Message:   message,
			Timestamp: time.Now(),
		},
		Timestamp: time.Now(),
	}
}
