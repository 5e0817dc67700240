package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/azure/arxiv-poster-bot/internal/api"
	"github.com/azure/arxiv-poster-bot/internal/commentary"
	"github.com/azure/arxiv-poster-bot/internal/config"
	"github.com/azure/arxiv-poster-bot/internal/discovery"
	"github.com/azure/arxiv-poster-bot/internal/enrichment"
	"github.com/azure/arxiv-poster-bot/internal/notifications"
	"github.com/azure/arxiv-poster-bot/internal/poster"
	"github.com/azure/arxiv-poster-bot/internal/queue"
	"github.com/azure/arxiv-poster-bot/internal/ranking"
	"github.com/azure/arxiv-poster-bot/internal/scheduler"
	"github.com/azure/arxiv-poster-bot/internal/sources"
	"github.com/azure/arxiv-poster-bot/internal/state"
	"github.com/azure/arxiv-poster-bot/internal/storage"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up logging
	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Info("Starting arXiv Poster Bot")

	backend, err := newStorage(cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize storage: %v", err)
	}

	ranker := ranking.New(cfg.PopularityWeight, cfg.RecencyBonus, cfg.CategoryBonus, cfg.PreferredCategories)
	store := queue.NewStore(ranker)

	var enricher enrichment.Enricher = enrichment.NewAltmetricClient(cfg.AltmetricURL, cfg.AltmetricAPIKey, cfg.EnrichmentDelay)
	pipeline := discovery.NewPipeline(newCatalog(cfg), enricher, store, ranker, cfg.CallTimeout, cfg.MaxResults)

	var generator commentary.Generator
	if cfg.ChatAPIKey != "" {
		generator = commentary.NewChatClient(cfg.ChatAPIURL, cfg.ChatAPIKey, cfg.ChatModel, cfg.ChatSystemPrompt)
	} else {
		logrus.Info("No chat API key configured, posting without commentary")
	}

	var alerts notifications.NotificationInterface
	if ns := notifications.NewService(cfg); ns.Enabled() {
		alerts = ns
	}

	posterService := poster.NewService(poster.Options{
		Settings: poster.Settings{
			Categories:         cfg.Categories,
			TargetChannel:      cfg.TargetChannel,
			MaxPostsPerDay:     cfg.MaxPostsPerDay,
			MinPostingInterval: cfg.MinPostingInterval,
			DiscoveryInterval:  cfg.DiscoveryInterval,
			InitialLookback:    cfg.InitialLookback,
			MaxLookback:        cfg.MaxLookback,
			DedupRetention:     cfg.DedupRetention,
		},
		Location:    cfg.Location,
		CallTimeout: cfg.CallTimeout,
		Store:       store,
		Pipeline:    pipeline,
		Generator:   generator,
		Publisher:   notifications.NewMatrixPublisher(cfg.MatrixHomeserver, cfg.MatrixAccessToken),
		Alerts:      alerts,
		Persister:   state.NewPersister(backend, cfg.StateFile),
	})
	posterService.LoadState()

	schedulerService := scheduler.NewService(cfg, posterService)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      api.NewRouter(posterService),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // manual discovery can take a while
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := schedulerService.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		<-gctx.Done()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logrus.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("Server forced to shutdown: %v", err)
		}
		if err := schedulerService.Stop(shutdownCtx); err != nil {
			logrus.Errorf("Scheduler did not stop cleanly: %v", err)
		}
		if err := posterService.Save(); err != nil {
			logrus.Errorf("Final state save failed: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logrus.Fatalf("Bot exited with error: %v", err)
	}
	logrus.Info("Bot exited")
}

func newStorage(cfg *config.Config) (storage.StorageInterface, error) {
	switch cfg.StorageBackend {
	case "azure":
		return storage.NewAzureStorage(cfg.StorageAccount, cfg.StorageContainer)
	default:
		return storage.NewLocalStorage(afero.NewOsFs(), cfg.StateDir)
	}
}

func newCatalog(cfg *config.Config) sources.Catalog {
	if cfg.Catalog == "listing" {
		return sources.NewListingSource(cfg.ArxivListingURL)
	}
	return sources.NewArxivSource(cfg.ArxivAPIURL)
}
