package controllers

import (
	"errors"
	"guardian/models"
	"guardian/services"
	"guardian/utils"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type EmergencyController struct {
	coordinator services.Coordinator
	validator   *utils.ValidationService
}

func NewEmergencyController(coordinator services.Coordinator) *EmergencyController {
	return &EmergencyController{
		coordinator: coordinator,
		validator:   utils.NewValidationService(),
	}
}

// TriggerEmergency starts the emergency workflow. The body is optional; a
// blank situation falls back to the default description.
func (ec *EmergencyController) TriggerEmergency(c *gin.Context) {
	var req models.TriggerEmergencyRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.BadRequestResponse(c, "Invalid request body")
		return
	}

	if validationErrors := ec.validator.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	sessionID := ec.coordinator.Trigger(req.Situation, nil)
	if sessionID == "" {
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Emergency service is shutting down", nil)
		return
	}

	logrus.WithFields(logrus.Fields{
		"sessionId": sessionID,
		"deviceId":  c.GetString("deviceID"),
	}).Info("Emergency triggered over HTTP")

	utils.AcceptedResponse(c, "Emergency triggered", models.TriggerEmergencyResponse{
		SessionID: sessionID,
		Situation: utils.FirstNonEmpty(req.Situation, models.DefaultSituation),
	})
}

// CancelEmergency ends the running emergency. Cancelling when nothing is
// running succeeds.
func (ec *EmergencyController) CancelEmergency(c *gin.Context) {
	ec.coordinator.Cancel()
	utils.SuccessResponse(c, "Emergency cancelled", nil)
}

// GetStatus returns the current snapshot with the newest log entries first.
func (ec *EmergencyController) GetStatus(c *gin.Context) {
	utils.SuccessResponse(c, "Emergency status retrieved", ec.coordinator.Snapshot().ForDisplay())
}
