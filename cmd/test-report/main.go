package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/azure/arxiv-poster-bot/internal/commentary"
	"github.com/azure/arxiv-poster-bot/internal/config"
	"github.com/azure/arxiv-poster-bot/internal/models"
	"github.com/azure/arxiv-poster-bot/internal/notifications"
	"github.com/azure/arxiv-poster-bot/internal/poster"
	"github.com/joho/godotenv"
)

func printReport(report *models.Report) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	fmt.Println("📊 ARXIV POSTER REPORT")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("📅 Period: %s\n", report.Period)
	fmt.Printf("🕒 Generated: %s\n", report.GeneratedAt.Format("2006-01-02 15:04:05 UTC"))
	fmt.Printf("📥 Queued: %d | 📤 Posted today: %d/%d | 🗂️ Posted total: %d\n",
		report.Status.QueueDepth, report.Status.PostsToday, report.Status.MaxPostsPerDay, report.Status.PostedTotal)
	fmt.Printf("🧹 Pruned dedup entries: %d\n", report.Pruned)

	fmt.Println("\n📝 Up Next:")
	for i, item := range report.Upcoming {
		fmt.Printf("\n   %d. %s\n", i+1, item.Title)
		fmt.Printf("      👥 %s\n", commentary.AuthorLine(item.Authors, "total"))
		fmt.Printf("      ⭐ Score: %.2f\n", item.PriorityScore)
		fmt.Printf("      🔗 URL: %s\n", item.URL)
	}

	fmt.Println("\n📨 First post would read:")
	if len(report.Upcoming) > 0 {
		fmt.Println(poster.FormatMessage(report.Upcoming[0], "").Text)
	}
	fmt.Println(strings.Repeat("=", 70))
}

func saveReportToFile(report *models.Report) error {
	dir := "test_output"
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	timestamp := report.GeneratedAt.Format("2006-01-02_15-04-05")
	filename := filepath.Join(dir, fmt.Sprintf("arxiv_poster_report_%s.json", timestamp))

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return err
	}

	fmt.Printf("\n💾 Report saved to: %s\n", filename)
	return nil
}

func main() {
	send := flag.Bool("send", false, "also send the report through the configured Teams webhook and email")
	flag.Parse()

	fmt.Println("🤖 arXiv Poster Bot - Test Report Generator")
	fmt.Println("==========================================")

	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using system environment variables")
	}

	now := time.Now().UTC()
	score := func(v float64) *float64 { return &v }
	upcoming := []models.Item{
		{
			ID:            "2506.01234",
			Title:         "Scaling Laws for Sparse Mixture-of-Experts Language Models",
			Authors:       []string{"A. Researcher", "B. Scientist", "C. Engineer", "D. Student"},
			Categories:    []string{"cs.LG", "cs.CL"},
			PublishedAt:   now.Add(-20 * time.Hour),
			URL:           "https://arxiv.org/abs/2506.01234",
			PDFURL:        "https://arxiv.org/pdf/2506.01234",
			Popularity:    score(42.5),
			Attention:     &models.Attention{Score: 42.5, Tweeters: 31, Reddit: 2},
			PriorityScore: 433,
		},
		{
			ID:            "2506.04321",
			Title:         "Self-Supervised Pretraining for Robotic Manipulation",
			Authors:       []string{"E. Roboticist", "F. Vision"},
			Categories:    []string{"cs.RO", "cs.CV"},
			PublishedAt:   now.Add(-30 * time.Hour),
			URL:           "https://arxiv.org/abs/2506.04321",
			PDFURL:        "https://arxiv.org/pdf/2506.04321",
			Popularity:    score(7),
			PriorityScore: 72.1,
		},
		{
			ID:            "2506.05555",
			Title:         "A Note on Calibration of Bayesian Neural Networks",
			Authors:       []string{"G. Statistician"},
			Categories:    []string{"stat.ML"},
			PublishedAt:   now.Add(-50 * time.Hour),
			URL:           "https://arxiv.org/abs/2506.05555",
			PriorityScore: 3.4,
		},
	}

	report := &models.Report{
		GeneratedAt: now,
		Period:      "daily",
		Status: models.Status{
			QueueDepth:         len(upcoming),
			PostedTotal:        118,
			PostsToday:         1,
			MaxPostsPerDay:     2,
			MinPostingInterval: "4h0m0s",
			DiscoveryInterval:  "6h0m0s",
			TargetChannel:      "#papers:example.org",
			LastDiscovery:      now.Add(-2 * time.Hour),
			LastPost:           now.Add(-3 * time.Hour),
			NextDiscovery:      now.Add(4 * time.Hour),
			NextPostEligible:   now.Add(time.Hour),
		},
		Upcoming: upcoming,
		Pruned:   3,
	}

	printReport(report)

	if err := saveReportToFile(report); err != nil {
		fmt.Printf("\n⚠️  Warning: Could not save to file: %v\n", err)
	}

	if *send {
		cfg := config.Defaults()
		if loaded, err := config.Load(); err == nil {
			cfg = loaded
		} else {
			fmt.Printf("⚠️  Configuration incomplete, using defaults: %v\n", err)
		}
		ns := notifications.NewService(cfg)
		if !ns.Enabled() {
			fmt.Println("❌ No Teams webhook or notification email configured")
			os.Exit(1)
		}
		if err := ns.SendReport(report); err != nil {
			fmt.Printf("❌ Error sending report: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("📬 Report sent")
	}

	fmt.Println("\n✅ Test report generation completed!")
	fmt.Println("\n💡 Next steps:")
	fmt.Println("   • Check the 'test_output' directory for saved JSON report")
	fmt.Println("   • Re-run with -send to deliver it through the configured channels")
	fmt.Println("   • Run the full bot with 'go run ./cmd/bot'")
}
