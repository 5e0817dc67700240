package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("MATRIX_HOMESERVER", "https://matrix.example.org")
	t.Setenv("MATRIX_ACCESS_TOKEN", "token")
	t.Setenv("TARGET_CHANNEL", "#papers:example.org")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "local", cfg.StorageBackend)
	assert.Equal(t, "api", cfg.Catalog)
	assert.Equal(t, 2, cfg.MaxPostsPerDay)
	assert.Equal(t, 4*time.Hour, cfg.MinPostingInterval)
	assert.Equal(t, 6*time.Hour, cfg.DiscoveryInterval)
	assert.Equal(t, []string{"cs.AI", "cs.LG", "cs.CL"}, cfg.PreferredCategories)
	assert.Equal(t, time.UTC, cfg.Location)
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("ARXIV_CATEGORIES", " cs.AI, cs.RO ,,")
	t.Setenv("MAX_POSTS_PER_DAY", "5")
	t.Setenv("DISCOVERY_INTERVAL", "8h")
	t.Setenv("MIN_POSTING_INTERVAL", "not-a-duration")
	t.Setenv("TIMEZONE", "Europe/Berlin")
	t.Setenv("POPULARITY_WEIGHT", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"cs.AI", "cs.RO"}, cfg.Categories)
	assert.Equal(t, 5, cfg.MaxPostsPerDay)
	assert.Equal(t, 8*time.Hour, cfg.DiscoveryInterval)
	assert.Equal(t, 4*time.Hour, cfg.MinPostingInterval, "invalid durations keep the default")
	assert.Equal(t, "Europe/Berlin", cfg.Location.String())
	assert.Equal(t, 2.5, cfg.PopularityWeight)
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	setRequired(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
catalog: listing
maxPostsPerDay: 3
minPostingInterval: 90m
categories: [cs.CV]
chatModel: from-file
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("CHAT_MODEL", "from-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "listing", cfg.Catalog)
	assert.Equal(t, 3, cfg.MaxPostsPerDay)
	assert.Equal(t, 90*time.Minute, cfg.MinPostingInterval)
	assert.Equal(t, []string{"cs.CV"}, cfg.Categories)
	assert.Equal(t, "from-env", cfg.ChatModel)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	setRequired(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "Unknown backend", env: map[string]string{"STORAGE_BACKEND": "s3"}},
		{name: "Azure without account", env: map[string]string{"STORAGE_BACKEND": "azure"}},
		{name: "Unknown catalog", env: map[string]string{"CATALOG": "rss"}},
		{name: "Bad timezone", env: map[string]string{"TIMEZONE": "Mars/Olympus"}},
		{name: "Zero daily cap", env: map[string]string{"MAX_POSTS_PER_DAY": "0"}},
		{name: "Tiny discovery interval", env: map[string]string{"DISCOVERY_INTERVAL": "10s"}},
		{name: "Lookback shorter than interval", env: map[string]string{"MAX_LOOKBACK": "1h"}},
		{name: "Retention inside lookback", env: map[string]string{"DEDUP_RETENTION": "72h"}},
		{name: "Unknown report schedule", env: map[string]string{"REPORT_SCHEDULE": "hourly"}},
		{name: "Email without SMTP", env: map[string]string{"NOTIFICATION_EMAIL": "ops@example.org"}},
		{name: "Missing channel", env: map[string]string{"TARGET_CHANNEL": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule(time.Hour, 0, 1))
	assert.Error(t, ValidateSchedule(time.Hour, -time.Minute, 1))
	assert.Error(t, ValidateSchedule(time.Hour, time.Hour, 0))
}
