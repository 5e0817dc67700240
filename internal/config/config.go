package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port     string         `yaml:"port"`
	Debug    bool           `yaml:"debug"`
	TimeZone string         `yaml:"timezone"`
	Location *time.Location `yaml:"-"`

	// State storage configuration
	StorageBackend   string `yaml:"storageBackend"` // "local" or "azure"
	StateDir         string `yaml:"stateDir"`
	StateFile        string `yaml:"stateFile"`
	StorageAccount   string `yaml:"storageAccount"`
	StorageContainer string `yaml:"storageContainer"`

	// Catalog configuration
	Catalog             string   `yaml:"catalog"` // "api" or "listing"
	ArxivAPIURL         string   `yaml:"arxivApiUrl"`
	ArxivListingURL     string   `yaml:"arxivListingUrl"`
	Categories          []string `yaml:"categories"`
	PreferredCategories []string `yaml:"preferredCategories"`
	MaxResults          int      `yaml:"maxResults"`

	// Schedule configuration
	DiscoveryInterval    time.Duration `yaml:"discoveryInterval"`
	InitialLookback      time.Duration `yaml:"initialLookback"`
	MaxLookback          time.Duration `yaml:"maxLookback"`
	PostingCheckInterval time.Duration `yaml:"postingCheckInterval"`
	MinPostingInterval   time.Duration `yaml:"minPostingInterval"`
	MaxPostsPerDay       int           `yaml:"maxPostsPerDay"`
	DedupRetention       time.Duration `yaml:"dedupRetention"` // 0 keeps posted ids forever
	ReportSchedule       string        `yaml:"reportSchedule"` // "daily", "weekly" or "off"

	// Enrichment configuration
	AltmetricURL    string        `yaml:"altmetricUrl"`
	AltmetricAPIKey string        `yaml:"altmetricApiKey"`
	EnrichmentDelay time.Duration `yaml:"enrichmentDelay"`
	CallTimeout     time.Duration `yaml:"callTimeout"`

	// Ranking weights
	PopularityWeight float64 `yaml:"popularityWeight"`
	RecencyBonus     float64 `yaml:"recencyBonus"`
	CategoryBonus    float64 `yaml:"categoryBonus"`

	// Channel configuration
	MatrixHomeserver  string `yaml:"matrixHomeserver"`
	MatrixAccessToken string `yaml:"matrixAccessToken"`
	TargetChannel     string `yaml:"targetChannel"`

	// Commentary configuration
	ChatAPIURL       string `yaml:"chatApiUrl"`
	ChatAPIKey       string `yaml:"chatApiKey"`
	ChatModel        string `yaml:"chatModel"`
	ChatSystemPrompt string `yaml:"chatSystemPrompt"`

	// Notification configuration
	TeamsWebhookURL   string `yaml:"teamsWebhookUrl"`
	NotificationEmail string `yaml:"notificationEmail"`
	SMTPHost          string `yaml:"smtpHost"`
	SMTPPort          int    `yaml:"smtpPort"`
	SMTPUsername      string `yaml:"smtpUsername"`
	SMTPPassword      string `yaml:"smtpPassword"`
}

// Defaults returns the configuration used before the YAML file and environment are applied
func Defaults() *Config {
	return &Config{
		Port:     "8080",
		TimeZone: "UTC",

		StorageBackend:   "local",
		StateDir:         "data",
		StateFile:        "arxiv_state.json",
		StorageContainer: "arxiv-poster",

		Catalog:             "api",
		Categories:          []string{"cs.AI", "cs.LG", "cs.CL", "cs.CV", "cs.NE", "stat.ML"},
		PreferredCategories: []string{"cs.AI", "cs.LG", "cs.CL"},
		MaxResults:          100,

		DiscoveryInterval:    6 * time.Hour,
		InitialLookback:      3 * 24 * time.Hour,
		MaxLookback:          7 * 24 * time.Hour,
		PostingCheckInterval: 15 * time.Minute,
		MinPostingInterval:   4 * time.Hour,
		MaxPostsPerDay:       2,
		DedupRetention:       0,
		ReportSchedule:       "daily",

		EnrichmentDelay: time.Second,
		CallTimeout:     30 * time.Second,

		PopularityWeight: 10,
		RecencyBonus:     5,
		CategoryBonus:    3,

		ChatAPIURL: "https://api.openai.com/v1/chat/completions",
		ChatModel:  "gpt-4o-mini",

		SMTPPort: 587,
	}
}

// Load loads configuration from defaults, an optional YAML file named by CONFIG_FILE,
// and environment variables, in that order of precedence
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		logrus.Infof("Loaded configuration file %s", path)
	}

	cfg.applyEnv()

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.Debug = getBoolEnv("DEBUG", c.Debug)
	c.TimeZone = getEnv("TIMEZONE", c.TimeZone)

	c.StorageBackend = getEnv("STORAGE_BACKEND", c.StorageBackend)
	c.StateDir = getEnv("STATE_DIR", c.StateDir)
	c.StateFile = getEnv("STATE_FILE", c.StateFile)
	c.StorageAccount = getEnv("AZURE_STORAGE_ACCOUNT", c.StorageAccount)
	c.StorageContainer = getEnv("AZURE_STORAGE_CONTAINER", c.StorageContainer)

	c.Catalog = getEnv("CATALOG", c.Catalog)
	c.ArxivAPIURL = getEnv("ARXIV_API_URL", c.ArxivAPIURL)
	c.ArxivListingURL = getEnv("ARXIV_LISTING_URL", c.ArxivListingURL)
	c.Categories = getSliceEnv("ARXIV_CATEGORIES", c.Categories)
	c.PreferredCategories = getSliceEnv("PREFERRED_CATEGORIES", c.PreferredCategories)
	c.MaxResults = getIntEnv("MAX_RESULTS", c.MaxResults)

	c.DiscoveryInterval = getDurationEnv("DISCOVERY_INTERVAL", c.DiscoveryInterval)
	c.InitialLookback = getDurationEnv("INITIAL_LOOKBACK", c.InitialLookback)
	c.MaxLookback = getDurationEnv("MAX_LOOKBACK", c.MaxLookback)
	c.PostingCheckInterval = getDurationEnv("POSTING_CHECK_INTERVAL", c.PostingCheckInterval)
	c.MinPostingInterval = getDurationEnv("MIN_POSTING_INTERVAL", c.MinPostingInterval)
	c.MaxPostsPerDay = getIntEnv("MAX_POSTS_PER_DAY", c.MaxPostsPerDay)
	c.DedupRetention = getDurationEnv("DEDUP_RETENTION", c.DedupRetention)
	c.ReportSchedule = getEnv("REPORT_SCHEDULE", c.ReportSchedule)

	c.AltmetricURL = getEnv("ALTMETRIC_API_URL", c.AltmetricURL)
	c.AltmetricAPIKey = getEnv("ALTMETRIC_API_KEY", c.AltmetricAPIKey)
	c.EnrichmentDelay = getDurationEnv("ENRICHMENT_DELAY", c.EnrichmentDelay)
	c.CallTimeout = getDurationEnv("CALL_TIMEOUT", c.CallTimeout)

	c.PopularityWeight = getFloatEnv("POPULARITY_WEIGHT", c.PopularityWeight)
	c.RecencyBonus = getFloatEnv("RECENCY_BONUS", c.RecencyBonus)
	c.CategoryBonus = getFloatEnv("CATEGORY_BONUS", c.CategoryBonus)

	c.MatrixHomeserver = getEnv("MATRIX_HOMESERVER", c.MatrixHomeserver)
	c.MatrixAccessToken = getEnv("MATRIX_ACCESS_TOKEN", c.MatrixAccessToken)
	c.TargetChannel = getEnv("TARGET_CHANNEL", c.TargetChannel)

	c.ChatAPIURL = getEnv("CHAT_API_URL", c.ChatAPIURL)
	c.ChatAPIKey = getEnv("CHAT_API_KEY", c.ChatAPIKey)
	c.ChatModel = getEnv("CHAT_MODEL", c.ChatModel)
	c.ChatSystemPrompt = getEnv("CHAT_SYSTEM_PROMPT", c.ChatSystemPrompt)

	c.TeamsWebhookURL = getEnv("TEAMS_WEBHOOK_URL", c.TeamsWebhookURL)
	c.NotificationEmail = getEnv("NOTIFICATION_EMAIL", c.NotificationEmail)
	c.SMTPHost = getEnv("SMTP_HOST", c.SMTPHost)
	c.SMTPPort = getIntEnv("SMTP_PORT", c.SMTPPort)
	c.SMTPUsername = getEnv("SMTP_USERNAME", c.SMTPUsername)
	c.SMTPPassword = getEnv("SMTP_PASSWORD", c.SMTPPassword)
}

func (c *Config) validate() error {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return fmt.Errorf("TIMEZONE %q is not a valid IANA timezone: %w", c.TimeZone, err)
	}
	c.Location = loc

	switch c.StorageBackend {
	case "local":
		if c.StateDir == "" {
			return fmt.Errorf("STATE_DIR is required for the local storage backend")
		}
	case "azure":
		if c.StorageAccount == "" {
			return fmt.Errorf("AZURE_STORAGE_ACCOUNT is required for the azure storage backend")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be 'local' or 'azure'")
	}

	if c.Catalog != "api" && c.Catalog != "listing" {
		return fmt.Errorf("CATALOG must be 'api' or 'listing'")
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("at least one category must be configured (ARXIV_CATEGORIES)")
	}

	if err := ValidateSchedule(c.DiscoveryInterval, c.MinPostingInterval, c.MaxPostsPerDay); err != nil {
		return err
	}
	if c.PostingCheckInterval <= 0 {
		return fmt.Errorf("POSTING_CHECK_INTERVAL must be positive")
	}
	if c.InitialLookback <= 0 || c.MaxLookback < c.DiscoveryInterval {
		return fmt.Errorf("INITIAL_LOOKBACK must be positive and MAX_LOOKBACK must cover DISCOVERY_INTERVAL")
	}
	if c.DedupRetention != 0 && c.DedupRetention <= c.MaxLookback {
		return fmt.Errorf("DEDUP_RETENTION must exceed MAX_LOOKBACK so pruned papers cannot be rediscovered")
	}
	if c.ReportSchedule != "daily" && c.ReportSchedule != "weekly" && c.ReportSchedule != "off" {
		return fmt.Errorf("REPORT_SCHEDULE must be 'daily', 'weekly' or 'off'")
	}

	if c.MatrixHomeserver == "" || c.MatrixAccessToken == "" || c.TargetChannel == "" {
		return fmt.Errorf("MATRIX_HOMESERVER, MATRIX_ACCESS_TOKEN and TARGET_CHANNEL are required")
	}

	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when NOTIFICATION_EMAIL is set")
		}
	}

	return nil
}

// ValidateSchedule checks the settings that can also be changed at runtime
func ValidateSchedule(discoveryInterval, minPostingInterval time.Duration, maxPostsPerDay int) error {
	if discoveryInterval < time.Minute {
		return fmt.Errorf("DISCOVERY_INTERVAL must be at least one minute")
	}
	if minPostingInterval < 0 {
		return fmt.Errorf("MIN_POSTING_INTERVAL cannot be negative")
	}
	if maxPostsPerDay < 1 {
		return fmt.Errorf("MAX_POSTS_PER_DAY must be at least 1")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		logrus.Warnf("Ignoring invalid duration %s=%q", key, value)
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}
