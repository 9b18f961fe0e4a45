package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/imagegen-be/internal/api/handler"
)

// Config holds router wiring beyond handler dependencies
type Config struct {
	Deps         *handler.Dependencies
	ThumbnailDir string
	ServiceName  string
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(cfg *Config) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(cfg.Deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": cfg.ServiceName,
		})
	})

	// Archived thumbnails are served straight from disk
	if cfg.ThumbnailDir != "" {
		r.Static("/thumbnails", cfg.ThumbnailDir)
	}

	generationHandler := handler.NewGenerationHandler(cfg.Deps)
	uploadHandler := handler.NewUploadHandler(cfg.Deps)
	thumbnailHandler := handler.NewThumbnailHandler(cfg.Deps)
	usageHandler := handler.NewUsageHandler(cfg.Deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		generations := v1.Group("/generations")
		{
			// POST /api/v1/generations - Submit a generation and wait for the result
			generations.POST("", generationHandler.Generate)

			// POST /api/v1/generations/webhook - Prediction status updates
			generations.POST("/webhook", generationHandler.Webhook)

			// GET /api/v1/generations/:job_id - Last-known job status
			generations.GET("/:job_id", generationHandler.GetGeneration)
		}

		// POST /api/v1/uploads - Store a reference image
		v1.POST("/uploads", uploadHandler.Upload)

		thumbnails := v1.Group("/thumbnails")
		{
			// GET /api/v1/thumbnails - List archived thumbnails
			thumbnails.GET("", thumbnailHandler.ListThumbnails)

			// DELETE /api/v1/thumbnails - Remove an archived thumbnail
			thumbnails.DELETE("", thumbnailHandler.DeleteThumbnail)
		}

		// GET /api/v1/usage - Recent usage records
		v1.GET("/usage", usageHandler.ListUsage)
	}

	return r
}
