package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/stylistio/tryon-backend/internal/handlers"
	"github.com/stylistio/tryon-backend/internal/middleware"
	"github.com/stylistio/tryon-backend/internal/utils"
)

type RouterConfig struct {
	AuthMiddleware    *middleware.AuthMiddleware
	ProfileHandler    *handlers.ProfileHandler
	GenerationHandler *handlers.GenerationHandler
	WebhookHandler    *handlers.WebhookHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	allowOrigins := strings.Split(utils.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000,http://localhost:5173", nil), ",")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)
	router.POST("/vertex/webhook", cfg.WebhookHandler.JobUpdate)

	// ===============
	// || Protected ||
	// ===============
	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())
	// Profile
	api.GET("/me/profile", cfg.ProfileHandler.GetProfile)
	api.POST("/me/consent", cfg.ProfileHandler.AcceptConsent)
	api.POST("/me/persona", cfg.ProfileHandler.UploadPersona)
	// Generations
	api.POST("/generations", cfg.GenerationHandler.CreateGeneration)
	api.GET("/generations", cfg.GenerationHandler.ListGenerations)
	api.GET("/generations/:id", cfg.GenerationHandler.GetGeneration)
	api.POST("/generations/:id/rating", cfg.GenerationHandler.RateGeneration)

	return router
}
