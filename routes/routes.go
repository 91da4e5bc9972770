package routes

import (
	"guardian/config"
	"guardian/controllers"
	"guardian/metrics"
	"guardian/middleware"
	"guardian/repositories"
	"guardian/services"
	"guardian/websocket"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

// Dependencies are the long-lived components the HTTP surface exposes.
type Dependencies struct {
	Config      *config.Config
	Coordinator services.Coordinator
	Profiles    *services.ProfileService
	Incidents   repositories.IncidentStore
	Hub         *websocket.Hub
	Redis       *redis.Client
	Metrics     *metrics.Metrics
	Auth        *middleware.AuthMiddleware
}

// Controllers initialization
type Controllers struct {
	Emergency *controllers.EmergencyController
	Settings  *controllers.SettingsController
	Incident  *controllers.IncidentController
	WebSocket *controllers.WebSocketController
	Health    *controllers.HealthController
}

// SetupRoutes initializes all application routes
func SetupRoutes(deps Dependencies) *gin.Engine {
	router := gin.New()

	ctrls := initializeControllers(deps)

	setupGlobalMiddleware(router, deps)

	setupPublicRoutes(router, ctrls, deps)
	setupAuthenticatedRoutes(router, ctrls, deps)
	SetupWebSocketRoutes(router, ctrls.WebSocket, deps.Auth)

	return router
}

func initializeControllers(deps Dependencies) *Controllers {
	return &Controllers{
		Emergency: controllers.NewEmergencyController(deps.Coordinator),
		Settings:  controllers.NewSettingsController(deps.Profiles),
		Incident:  controllers.NewIncidentController(deps.Incidents),
		WebSocket: controllers.NewWebSocketController(deps.Hub),
		Health:    controllers.NewHealthController(deps.Redis, deps.Config.DatabaseURL != ""),
	}
}

func setupGlobalMiddleware(router *gin.Engine, deps Dependencies) {
	router.Use(middleware.NewErrorHandler(deps.Config.Environment, nil).Handle())
	router.Use(middleware.DefaultLoggerMiddleware())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(deps.Config.AllowedOrigins)))

	if deps.Metrics != nil {
		router.Use(deps.Metrics.GinMiddleware())
	}
}

// Public routes (no authentication required)
func setupPublicRoutes(router *gin.Engine, ctrls *Controllers, deps Dependencies) {
	router.GET("/health", ctrls.Health.HealthCheck)

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
}

// Authenticated routes (device token when auth is enabled)
func setupAuthenticatedRoutes(router *gin.Engine, ctrls *Controllers, deps Dependencies) {
	api := router.Group("/api/v1")
	api.Use(deps.Auth.RequireDevice())

	SetupEmergencyRoutes(api, ctrls.Emergency, deps.Redis, deps.Config)
	SetupSettingsRoutes(api, ctrls.Settings)
	SetupIncidentRoutes(api, ctrls.Incident)
}
