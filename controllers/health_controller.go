package controllers

import (
	"context"
	"guardian/database"
	"guardian/models"
	"guardian/utils"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

const Version = "1.0.0"

type HealthController struct {
	redis        *redis.Client
	mongoEnabled bool
	startTime    time.Time
}

// NewHealthController reports on the stores that are configured. A nil
// redis client and a false mongoEnabled mean those stores are not in use.
func NewHealthController(redisClient *redis.Client, mongoEnabled bool) *HealthController {
	return &HealthController{
		redis:        redisClient,
		mongoEnabled: mongoEnabled,
		startTime:    time.Now(),
	}
}

func (hc *HealthController) HealthCheck(c *gin.Context) {
	services := map[string]string{}
	healthy := true

	if hc.redis != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		err := hc.redis.Ping(ctx).Err()
		cancel()
		if err != nil {
			services["redis"] = "unhealthy"
			healthy = false
		} else {
			services["redis"] = "healthy"
		}
	} else {
		services["redis"] = "disabled"
	}

	if hc.mongoEnabled {
		if database.IsConnected() {
			services["mongodb"] = "healthy"
		} else {
			services["mongodb"] = "unhealthy"
			healthy = false
		}
	} else {
		services["mongodb"] = "disabled"
	}

	response := models.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Services:  services,
		Version:   Version,
		Uptime:    utils.FormatDuration(time.Since(hc.startTime)),
	}

	status := http.StatusOK
	if !healthy {
		// The sequencer keeps working on in-memory fallbacks.
		response.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, response)
}
