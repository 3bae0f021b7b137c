package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/scrapedeck/internal/config"
	"github.com/timmy/scrapedeck/internal/logger"
	"github.com/timmy/scrapedeck/internal/provider"
	"github.com/timmy/scrapedeck/internal/repository"
	"github.com/timmy/scrapedeck/internal/service"
	"github.com/timmy/scrapedeck/internal/storage"
)

// The monitor runs the session state machine without the HTTP surface. It is
// meant for deployments where the API and the driving loops are separate
// processes sharing one store: the API only writes pending sessions, the
// monitor picks them up on its rescan interval.
func main() {
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

	rescan := cfg.Scrape.SessionRescanInterval
	if rescan <= 0 {
		rescan = 5 * time.Second
	}

	appLogger.Infof("Monitor started, rescanning sessions every %s", rescan)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(rescan)
	defer ticker.Stop()

	if err := runner.Resume(context.Background()); err != nil {
		appLogger.Errorf("Failed to resume active sessions: %v", err)
	}

loop:
	for {
		select {
		case <-ticker.C:
			if err := runner.Resume(context.Background()); err != nil {
				appLogger.Errorf("Session rescan failed: %v", err)
			}
		case <-quit:
			break loop
		}
	}

	appLogger.Infof("Shutting down monitor...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := runner.Shutdown(ctx); err != nil {
		appLogger.Errorf("Runner shutdown timed out: %v", err)
	}
	appLogger.Infof("Monitor exited")
}
