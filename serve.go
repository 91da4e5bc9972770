package main

import (
	"context"
	"guardian/config"
	"guardian/database"
	"guardian/metrics"
	"guardian/middleware"
	"guardian/repositories"
	"guardian/routes"
	"guardian/services"
	"guardian/utils"
	"guardian/websocket"
	"guardian/workers"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const profileKeyPrefix = "guardian"

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the device live channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(config.Load())
		},
	}
}

func serve(cfg *config.Config) error {
	setupLogger(cfg)

	// Initialize Redis
	redisClient := config.InitRedis(cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Initialize storage
	profiles := services.NewProfileService(newProfileRepository(redisClient))

	incidents, err := newIncidentStore(cfg)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL != "" {
		defer database.Disconnect()
	}

	m := metrics.New()

	archiver := workers.NewArchiveWorker(incidents, m, workers.ArchiveWorkerConfig{
		WorkerCount: cfg.ArchiveWorkers,
		QueueSize:   cfg.ArchiveQueueSize,
	})
	if err := archiver.Start(); err != nil {
		return err
	}

	var pruner workers.IncidentPruner
	if p, ok := incidents.(workers.IncidentPruner); ok {
		pruner = p
	}
	cleaner := workers.NewCleanupWorker(pruner, redisClient, workers.CleanupWorkerConfig{
		IncidentRetention:       cfg.IncidentRetention,
		IncidentCleanupInterval: cfg.IncidentCleanupInterval,
	})
	if err := cleaner.Start(); err != nil {
		return err
	}

	// Initialize WebSocket hub
	hub := websocket.NewHub(m)
	go hub.Run()

	advisor := newAdvisoryServices(cfg)

	var location services.LocationProvider = hub
	if coords := cfg.StaticCoordinates(); coords != nil {
		logrus.WithField("coordinates", utils.FormatCoordinate(coords.Latitude, coords.Longitude)).
			Info("Using static location instead of the device")
		location = services.NewStaticLocationProvider(coords)
	}

	opts := services.DefaultPositionOptions()
	opts.Timeout = cfg.LocationTimeout

	sequencer := services.NewEmergencySequencer(services.SequencerConfig{
		Location:           location,
		Scripts:            advisor,
		Facilities:         advisor,
		Voice:              advisor,
		Audio:              services.NewAudioPlayer(services.StreamingOutputFactory(hub)),
		Profiles:           profiles,
		Archiver:           archiver,
		Metrics:            m,
		Schedule:           dispatchSchedule(cfg),
		LocationOptions:    opts,
		RecordingTimeslice: cfg.RecordingTimeslice,
		ProfileTimeout:     cfg.ProfileTimeout,
	})
	unsubscribe := sequencer.Subscribe(hub)
	defer unsubscribe()
	hub.AttachCoordinator(sequencer)

	if cfg.ProfileSeedFile != "" {
		if err := seedProfile(profiles, cfg.ProfileSeedFile); err != nil {
			logrus.WithError(err).Warn("Profile seed skipped")
		}
	}

	var jwtService *utils.JWTService
	if cfg.JWTSecret != "" {
		jwtService = newJWTService(cfg)
	} else {
		logrus.Warn("JWT_SECRET not set, device auth disabled")
	}

	// Setup routes
	router := routes.SetupRoutes(routes.Dependencies{
		Config:      cfg,
		Coordinator: sequencer,
		Profiles:    profiles,
		Incidents:   incidents,
		Hub:         hub,
		Redis:       redisClient,
		Metrics:     m,
		Auth:        middleware.NewAuthMiddleware(jwtService),
	})

	// Create HTTP server
	server := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		logrus.Info("Guardian server starting on port ", cfg.Port)
		logrus.Info("WebSocket endpoint: /ws")
		logrus.Info("Health Check: /health")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		logrus.WithError(err).Error("Failed to start server")
	}

	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}
	if err := sequencer.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("Emergency sequencer did not stop in time")
	}
	hub.Shutdown()
	if err := archiver.Stop(); err != nil {
		logrus.WithError(err).Warn("Archive worker stop failed")
	}
	if err := cleaner.Stop(); err != nil {
		logrus.WithError(err).Warn("Cleanup worker stop failed")
	}

	logrus.Info("Server shutdown complete")
	return nil
}

func newProfileRepository(redisClient *redis.Client) repositories.ProfileRepository {
	if redisClient == nil {
		logrus.Info("REDIS_URL not set, settings are kept in memory")
		return repositories.NewMemoryProfileRepository()
	}
	return repositories.NewRedisProfileRepository(redisClient, profileKeyPrefix)
}

func newIncidentStore(cfg *config.Config) (repositories.IncidentStore, error) {
	if cfg.DatabaseURL == "" {
		logrus.Info("DATABASE_URL not set, incident history is kept in memory")
		return repositories.NewMemoryIncidentRepository(cfg.IncidentHistory), nil
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return repositories.NewMongoIncidentRepository(db), nil
}

// newAdvisoryServices falls back to canned answers without a Gemini key.
func newAdvisoryServices(cfg *config.Config) services.AdvisoryServices {
	if cfg.GeminiAPIKey == "" {
		logrus.Warn("GEMINI_API_KEY not set, using offline advisory answers")
		return services.NewOfflineAdvisoryService()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	advisor, err := services.NewGeminiAdvisoryService(ctx, services.GeminiConfig{
		APIKey:    cfg.GeminiAPIKey,
		TextModel: cfg.GeminiTextModel,
		TTSModel:  cfg.GeminiTTSModel,
		Voice:     cfg.GeminiVoice,
	})
	if err != nil {
		logrus.WithError(err).Error("Failed to create Gemini client, using offline advisory answers")
		return services.NewOfflineAdvisoryService()
	}
	return advisor
}

func dispatchSchedule(cfg *config.Config) services.DispatchSchedule {
	return services.DispatchSchedule{
		Call911:        cfg.Call911Delay,
		NotifyContacts: cfg.NotifyContactsDelay,
		PageResponders: cfg.PageRespondersDelay,
	}
}

func seedProfile(profiles *services.ProfileService, path string) error {
	seed, err := config.LoadProfileSeed(path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := profiles.Seed(ctx, seed.Profile, seed.Contacts); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"file":     path,
		"contacts": len(seed.Contacts),
	}).Info("Profile seeded")
	return nil
}

func newJWTService(cfg *config.Config) *utils.JWTService {
	return utils.NewJWTService(cfg.JWTSecret, cfg.TokenTTL)
}
