package main

import (
	"fmt"
	"os"

	"github.com/stylistio/tryon-backend/internal/clients/gcp"
	"github.com/stylistio/tryon-backend/internal/clients/redis"
	"github.com/stylistio/tryon-backend/internal/clients/vertex"
	"github.com/stylistio/tryon-backend/internal/db"
	"github.com/stylistio/tryon-backend/internal/handlers"
	"github.com/stylistio/tryon-backend/internal/logger"
	"github.com/stylistio/tryon-backend/internal/middleware"
	"github.com/stylistio/tryon-backend/internal/repos"
	"github.com/stylistio/tryon-backend/internal/server"
	"github.com/stylistio/tryon-backend/internal/services"
	"github.com/stylistio/tryon-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	profileRepo := repos.NewProfileRepo(thePG, log)
	generationRepo := repos.NewGenerationRepo(thePG, log)

	// Clients
	log.Info("Setting up Clients from main...")
	bucketService, err := gcp.NewBucketService(log)
	if err != nil {
		log.Error("Could not init BucketService", "error", err)
		os.Exit(1)
	}
	vertexClient, err := vertex.NewClient(log)
	if err != nil {
		log.Error("Could not init VertexClient", "error", err)
		os.Exit(1)
	}
	generationCache, err := redis.NewGenerationCache(log)
	if err != nil {
		log.Warn("Could not init GenerationCache, continuing without it", "error", err)
		generationCache = nil
	}

	// Services
	log.Info("Setting up Services from main...")
	profileService := services.NewProfileService(thePG, log, services.DefaultProfileConfig(), profileRepo, bucketService)
	generationService := services.NewGenerationService(
		thePG,
		log,
		services.DefaultGenerationConfig(),
		profileRepo,
		generationRepo,
		bucketService,
		vertexClient,
		generationCache,
	)

	// Handlers
	log.Info("Setting up handlers from main...")
	profileHandler := handlers.NewProfileHandler(profileService, bucketService)
	generationHandler := handlers.NewGenerationHandler(generationService, bucketService)
	webhookHandler := handlers.NewWebhookHandler(log, generationService)

	// Middleware
	log.Info("Setting up middleware from main...")
	authMiddleware := middleware.NewAuthMiddleware(log)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		AuthMiddleware:    authMiddleware,
		ProfileHandler:    profileHandler,
		GenerationHandler: generationHandler,
		WebhookHandler:    webhookHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Warn("Server failed", "error", err)
	}
}
