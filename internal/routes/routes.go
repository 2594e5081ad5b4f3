package routes

import (
	"github.com/beacongate/backend/internal/controllers"
	"github.com/beacongate/backend/internal/middleware"
	"github.com/beacongate/backend/internal/services"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRoutes configures all application routes
func SetupRoutes(r *gin.Engine, db *gorm.DB, jobService *services.JobService, storage *services.ArtifactStorage) {
	// Initialize services
	embedder := services.NewEmbeddingService()
	retrievalService := services.NewRetrievalService(db, embedder)
	advisoryService := services.NewAdvisoryService(db)

	// Initialize controllers
	authController := controllers.NewAuthController(db)
	caseController := controllers.NewCaseController(db, jobService, retrievalService, advisoryService, storage)
	queueController := controllers.NewQueueController(db)
	artifactController := controllers.NewArtifactController(db, storage)

	// API routes
	api := r.Group("/api/v1")
	{
		// Auth routes
		auth := api.Group("/auth")
		{
			auth.POST("/login", authController.Login)
		}

		// Protected routes
		protected := api.Group("/")
		protected.Use(middleware.AuthMiddleware())
		{
			// Cases
			cases := protected.Group("/cases")
			{
				cases.POST("", caseController.Create)
				cases.GET("", caseController.List)
				cases.GET("/:id", caseController.Get)
				cases.POST("/:id/retry", caseController.Retry)
				cases.POST("/:id/retrieval", caseController.RunRetrieval)
				cases.POST("/:id/advisory", caseController.GenerateAdvisory)
				cases.POST("/:id/decision", caseController.SubmitDecision)
			}

			// Reviewer queue
			protected.GET("/queue", queueController.List)

			// Artifacts
			protected.GET("/artifacts/:id", artifactController.Get)
		}
	}
}
