package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/snapmeta/snapmeta/internal/api"
	"github.com/snapmeta/snapmeta/internal/config"
	"github.com/snapmeta/snapmeta/internal/logger"
	"github.com/snapmeta/snapmeta/internal/repository"
	"github.com/snapmeta/snapmeta/internal/service"
	"github.com/snapmeta/snapmeta/internal/storage"
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "snapmeta",
		Environment: cfg.Log.Environment,
		LogFile:     cfg.Log.File,
		MaxSize:     100,
		MaxBackups:  7,
		MaxAge:      30,
		Compress:    true,
	})
	logger.SetDefault(appLogger)

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	batchRepo := repository.NewBatchRepository(db)
	tokenRepo := repository.NewTokenRepository(db)

	objectStorage, err := storage.New(&storage.Config{
		Type:      storage.StorageType(cfg.Storage.Type),
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		PublicURL: cfg.Storage.PublicURL,
		LocalPath: cfg.Storage.LocalPath,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}

	ctx := context.Background()
	if err := objectStorage.EnsureBucket(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
	}

	generator, err := service.NewGenerator(&service.GeneratorConfig{
		Provider: cfg.Generation.Provider,
		Model:    cfg.Generation.Model,
		APIKey:   cfg.Generation.APIKey,
		BaseURL:  cfg.Generation.BaseURL,
		Timeout:  cfg.Generation.Timeout,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize metadata generator")
	}

	resizer := service.NewResizer(cfg.Pipeline.MaxWidth)
	executor := service.NewExecutor(resizer, generator, objectStorage, appLogger)

	batchService := service.NewBatchService(
		batchRepo,
		tokenRepo,
		objectStorage,
		executor,
		appLogger,
		&service.BatchConfig{
			Workers:   cfg.Pipeline.Workers,
			TokenCost: cfg.Pipeline.TokenCost,
		},
	)
	exportService := service.NewExportService(batchRepo, objectStorage, appLogger)

	router := api.SetupRouter(batchService, exportService, db, objectStorage, cfg)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Fatal("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
