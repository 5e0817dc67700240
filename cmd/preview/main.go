package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/azure/arxiv-poster-bot/internal/commentary"
	"github.com/azure/arxiv-poster-bot/internal/config"
	"github.com/azure/arxiv-poster-bot/internal/discovery"
	"github.com/azure/arxiv-poster-bot/internal/enrichment"
	"github.com/azure/arxiv-poster-bot/internal/queue"
	"github.com/azure/arxiv-poster-bot/internal/ranking"
	"github.com/azure/arxiv-poster-bot/internal/sources"
	"github.com/joho/godotenv"
)

func main() {
	days := flag.Int("days", 3, "how many days back to search")
	top := flag.Int("top", 10, "how many ranked papers to print")
	catalog := flag.String("catalog", "", "catalog to query (api or listing), defaults to CATALOG")
	noEnrich := flag.Bool("no-enrich", false, "skip popularity lookups")
	flag.Parse()

	fmt.Println("🔍 arXiv Poster Bot - Ranking Preview")
	fmt.Println("=====================================")

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := config.Defaults()
	if loaded, err := config.Load(); err == nil {
		cfg = loaded
	} else {
		log.Printf("Configuration incomplete, using defaults: %v", err)
	}
	if *catalog != "" {
		cfg.Catalog = *catalog
	}

	var source sources.Catalog = sources.NewArxivSource(cfg.ArxivAPIURL)
	if cfg.Catalog == "listing" {
		source = sources.NewListingSource(cfg.ArxivListingURL)
	}

	var enricher enrichment.Enricher
	if !*noEnrich {
		enricher = enrichment.NewAltmetricClient(cfg.AltmetricURL, cfg.AltmetricAPIKey, cfg.EnrichmentDelay)
	}

	ranker := ranking.New(cfg.PopularityWeight, cfg.RecencyBonus, cfg.CategoryBonus, cfg.PreferredCategories)
	store := queue.NewStore(ranker)
	pipeline := discovery.NewPipeline(source, enricher, store, ranker, cfg.CallTimeout, cfg.MaxResults)

	now := time.Now()
	window := discovery.Window{Since: now.Add(-time.Duration(*days) * 24 * time.Hour), Until: now}

	fmt.Printf("\n📡 Querying %s for %s over the last %d days...\n", source.GetName(), strings.Join(cfg.Categories, ", "), *days)
	fmt.Println(strings.Repeat("-", 40))

	res, err := pipeline.Discover(context.Background(), window, cfg.Categories)
	if err != nil {
		log.Fatalf("❌ Discovery failed: %v", err)
	}
	fmt.Printf("✅ %d fetched, %d unique, %d rejected, %d enriched, %d enrichment failures\n",
		res.Fetched, res.Unique, res.Rejected, res.Enriched, res.EnrichFailed)

	items := store.Peek(*top, now)
	if len(items) == 0 {
		fmt.Println("\n📭 No papers found")
		return
	}

	fmt.Printf("\n🏆 Top %d papers\n", len(items))
	for i, item := range items {
		fmt.Printf("\n%2d. %s\n", i+1, item.Title)
		fmt.Printf("    👥 %s\n", commentary.AuthorLine(item.Authors, "total"))
		fmt.Printf("    📅 %s | 🏷️ %s\n", item.PublishedAt.Format("2006-01-02"), strings.Join(item.Categories, ", "))
		if item.IsEnriched() {
			fmt.Printf("    📊 score %.2f (popularity %.1f)\n", item.PriorityScore, item.PopularityValue())
		} else {
			fmt.Printf("    📊 score %.2f (not enriched)\n", item.PriorityScore)
		}
		fmt.Printf("    🔗 %s\n", item.URL)
	}
}
