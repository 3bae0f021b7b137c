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

	"github.com/timmy/scrapedeck/internal/api"
	"github.com/timmy/scrapedeck/internal/api/middleware"
	"github.com/timmy/scrapedeck/internal/config"
	"github.com/timmy/scrapedeck/internal/logger"
	"github.com/timmy/scrapedeck/internal/provider"
	"github.com/timmy/scrapedeck/internal/repository"
	"github.com/timmy/scrapedeck/internal/service"
	"github.com/timmy/scrapedeck/internal/storage"
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.Fatalf("Failed to initialize database: %v", err)
	}

	sessionRepo := repository.NewSessionRepository(db)
	iterationRepo := repository.NewIterationRepository(db)
	recordRepo := repository.NewRecordRepository(db)

	providerClient := provider.NewClient(&provider.Config{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Timeout: cfg.Provider.Timeout,
	})

	combiner := service.NewCombiner(sessionRepo, recordRepo)

	// Archive storage is optional; without it completed sessions stay
	// queryable from the store only.
	var archiver *service.ArchiveService
	if cfg.Archive.Enabled {
		objectStorage, err := storage.NewStorage(&storage.S3Config{
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			UseSSL:    cfg.Archive.UseSSL,
			Bucket:    cfg.Archive.Bucket,
			Region:    cfg.Archive.Region,
			PublicURL: cfg.Archive.PublicURL,
		})
		if err != nil {
			appLogger.Fatalf("Failed to initialize archive storage: %v", err)
		}
		if err := objectStorage.EnsureBucket(context.Background()); err != nil {
			appLogger.Fatalf("Failed to ensure archive bucket: %v", err)
		}
		archiver = service.NewArchiveService(sessionRepo, recordRepo, objectStorage)
	}

	runner := service.NewRunner(sessionRepo, iterationRepo, providerClient, combiner, archiver,
		service.RunnerConfig{
			PollInterval: cfg.Scrape.PollInterval,
			StallTimeout: cfg.Scrape.StallTimeout,
			MaxRetries:   cfg.Scrape.MaxRetries,
			ClaimTTL:     cfg.Scrape.ClaimTTL,
		})

	sessionService := service.NewSessionService(sessionRepo, iterationRepo, recordRepo, runner, cfg.Scrape)
	progressService := service.NewProgressService(sessionRepo, iterationRepo)
	analyticsService := service.NewAnalyticsService(sessionRepo, recordRepo)

	// Re-adopt sessions that were in flight when the previous process exited
	if err := runner.Resume(context.Background()); err != nil {
		appLogger.Fatalf("Failed to resume active sessions: %v", err)
	}

	router := api.SetupRouter(api.RouterConfig{
		Sessions:  sessionService,
		Progress:  progressService,
		Analytics: analyticsService,
		Provider:  providerClient,
		DB:        db,
		Logger:    appLogger,
		Mode:      cfg.Server.Mode,
		APIKey:    cfg.Auth.APIKey,
		CORS: middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.Infof("Starting API server on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Infof("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Errorf("Server forced to shutdown: %v", err)
	}
	if err := runner.Shutdown(ctx); err != nil {
		appLogger.Errorf("Runner shutdown timed out: %v", err)
	}

	appLogger.Infof("Server exited")
}
