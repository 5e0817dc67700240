package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/azure/arxiv-poster-bot/internal/commentary"
	"github.com/azure/arxiv-poster-bot/internal/config"
	"github.com/azure/arxiv-poster-bot/internal/discovery"
	"github.com/azure/arxiv-poster-bot/internal/enrichment"
	"github.com/azure/arxiv-poster-bot/internal/models"
	"github.com/azure/arxiv-poster-bot/internal/poster"
	"github.com/azure/arxiv-poster-bot/internal/queue"
	"github.com/azure/arxiv-poster-bot/internal/ranking"
	"github.com/azure/arxiv-poster-bot/internal/sources"
	"github.com/azure/arxiv-poster-bot/internal/state"
	"github.com/azure/arxiv-poster-bot/internal/storage"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
)

// ConsolePublisher prints posts instead of sending them
type ConsolePublisher struct{}

func (c *ConsolePublisher) Publish(ctx context.Context, channelID string, msg models.Message) error {
	fmt.Printf("\n📨 Would post to %s:\n", channelID)
	fmt.Println("----------------------------------------")
	fmt.Println(msg.Text)
	fmt.Println("----------------------------------------")
	return nil
}

// ConsoleNotification prints operator alerts and reports
type ConsoleNotification struct{}

func (c *ConsoleNotification) SendReport(report *models.Report) error {
	fmt.Println("\n🎉 REPORT GENERATED!")
	fmt.Printf("📊 Queued: %d | Posted today: %d/%d\n",
		report.Status.QueueDepth, report.Status.PostsToday, report.Status.MaxPostsPerDay)
	for i, item := range report.Upcoming {
		fmt.Printf("   %d. %s\n", i+1, item.Title)
	}
	return nil
}

func (c *ConsoleNotification) SendAlert(alert *models.Alert) error {
	fmt.Printf("🚨 ALERT: %s: %s\n", alert.Title, alert.Message)
	return nil
}

func main() {
	fmt.Println("🧪 arXiv Poster Bot - Local Integration Test")
	fmt.Println("============================================")

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := config.Defaults()
	cfg.Categories = []string{"cs.AI", "cs.LG"}
	cfg.MaxResults = 25

	ranker := ranking.New(cfg.PopularityWeight, cfg.RecencyBonus, cfg.CategoryBonus, cfg.PreferredCategories)
	store := queue.NewStore(ranker)
	pipeline := discovery.NewPipeline(
		sources.NewArxivSource(cfg.ArxivAPIURL),
		enrichment.NewAltmetricClient(cfg.AltmetricURL, cfg.AltmetricAPIKey, cfg.EnrichmentDelay),
		store, ranker, cfg.CallTimeout, cfg.MaxResults,
	)

	// in-memory state so the run leaves nothing behind
	backend, err := storage.NewLocalStorage(afero.NewMemMapFs(), "/state")
	if err != nil {
		log.Fatalf("Failed to create storage: %v", err)
	}

	var generator commentary.Generator
	if cfg.ChatAPIKey != "" {
		generator = commentary.NewChatClient(cfg.ChatAPIURL, cfg.ChatAPIKey, cfg.ChatModel, cfg.ChatSystemPrompt)
	}

	notifications := &ConsoleNotification{}
	service := poster.NewService(poster.Options{
		Settings: poster.Settings{
			Categories:         cfg.Categories,
			TargetChannel:      "#console",
			MaxPostsPerDay:     cfg.MaxPostsPerDay,
			MinPostingInterval: cfg.MinPostingInterval,
			DiscoveryInterval:  cfg.DiscoveryInterval,
			InitialLookback:    cfg.InitialLookback,
			MaxLookback:        cfg.MaxLookback,
		},
		Location:    time.UTC,
		CallTimeout: cfg.CallTimeout,
		Store:       store,
		Pipeline:    pipeline,
		Generator:   generator,
		Publisher:   &ConsolePublisher{},
		Alerts:      notifications,
		Persister:   state.NewPersister(backend, cfg.StateFile),
	})

	fmt.Println("🔍 Running a full discovery cycle...")
	fmt.Println("⏱️  This will query real APIs and may take 30-60 seconds...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	res, err := service.RunDiscovery(ctx)
	if err != nil {
		log.Fatalf("❌ Discovery failed: %v", err)
	}
	fmt.Printf("   ✅ %d fetched, %d queued, %d enriched\n", res.Fetched, res.Added, res.Enriched)

	fmt.Println("\n📤 Posting the best paper...")
	post, err := service.PostNext(ctx)
	if err != nil {
		log.Fatalf("❌ Posting failed: %v", err)
	}
	fmt.Printf("   ✅ Outcome: %s\n", post.Outcome)

	if err := service.SendReport("daily", 0); err != nil {
		log.Printf("⚠️  Report failed: %v", err)
	}

	fmt.Println("\n✅ Local integration test completed!")
	fmt.Println("\n🚀 Ready for deployment:")
	fmt.Println("   • Set MATRIX_HOMESERVER, MATRIX_ACCESS_TOKEN and TARGET_CHANNEL in .env")
	fmt.Println("   • Run the bot with: go run ./cmd/bot")
}
