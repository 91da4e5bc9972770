package controllers

import (
	"errors"
	"guardian/models"
	"guardian/repositories"
	"guardian/utils"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type IncidentController struct {
	store repositories.IncidentStore
}

func NewIncidentController(store repositories.IncidentStore) *IncidentController {
	return &IncidentController{
		store: store,
	}
}

// GetIncidents lists archived emergencies, newest first.
func (ic *IncidentController) GetIncidents(c *gin.Context) {
	limit := repositories.DefaultIncidentHistory
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			utils.BadRequestResponse(c, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := ic.store.List(c.Request.Context(), limit)
	if err != nil {
		logrus.Errorf("Get incidents failed: %v", err)
		utils.HandleServiceError(c, utils.NewDatabaseError("list incidents", err))
		return
	}

	utils.SuccessResponseWithMeta(c, "Incidents retrieved successfully", records, &models.MetaData{
		Total: int64(len(records)),
		Limit: limit,
	})
}

func (ic *IncidentController) GetIncident(c *gin.Context) {
	sessionID := c.Param("sessionId")

	record, err := ic.store.GetBySessionID(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			utils.NotFoundResponse(c, "Incident")
			return
		}
		logrus.Errorf("Get incident failed: %v", err)
		utils.HandleServiceError(c, utils.NewDatabaseError("get incident", err))
		return
	}

	utils.SuccessResponse(c, "Incident retrieved successfully", record)
}
