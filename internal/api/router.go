package api

import (
	"github.com/gin-gonic/gin"
	"github.com/snapmeta/snapmeta/internal/api/handler"
	"github.com/snapmeta/snapmeta/internal/api/middleware"
	"github.com/snapmeta/snapmeta/internal/config"
	"github.com/snapmeta/snapmeta/internal/service"
	"github.com/snapmeta/snapmeta/internal/storage"
	"gorm.io/gorm"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	batchService *service.BatchService,
	exportService *service.ExportService,
	db *gorm.DB,
	objectStorage storage.ObjectStorage,
	cfg *config.Config,
) *gin.Engine {
	// Set Gin mode
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	}))

	// Create handlers
	healthHandler := handler.NewHealthHandler(db, objectStorage)
	batchHandler := handler.NewBatchHandler(batchService, cfg.Pipeline.TempDir)
	downloadHandler := handler.NewDownloadHandler(exportService)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Generation
		v1.POST("/images/generate", batchHandler.Upload)
		v1.GET("/images/download/:id", downloadHandler.Download)

		// Batches
		v1.GET("/batches", batchHandler.ListBatches)
		v1.GET("/batches/:id", batchHandler.GetBatch)
	}

	return r
}
