package config

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue time.Duration
		expected     time.Duration
	}{
		{
			name:         "env not set, return default",
			envValue:     "",
			defaultValue: time.Second,
			expected:     time.Second,
		},
		{
			name:         "go duration syntax",
			envValue:     "5m",
			defaultValue: time.Second,
			expected:     5 * time.Minute,
		},
		{
			name:         "bare integer is milliseconds",
			envValue:     "120000",
			defaultValue: time.Second,
			expected:     2 * time.Minute,
		},
		{
			name:         "invalid value, return default",
			envValue:     "soon",
			defaultValue: time.Second,
			expected:     time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_DURATION_VALUE"
			if tt.envValue != "" {
				t.Setenv(key, tt.envValue)
			}

			assert.Equal(t, tt.expected, getEnvDuration(key, tt.defaultValue))
		})
	}
}

func TestGetEnvBoolAndInt(t *testing.T) {
	t.Setenv("TEST_BOOL_VALUE", "true")
	t.Setenv("TEST_INT_VALUE", "42")
	t.Setenv("TEST_INT64_VALUE", "not-a-number")

	assert.True(t, getEnvBool("TEST_BOOL_VALUE", false))
	assert.False(t, getEnvBool("TEST_BOOL_MISSING", false))
	assert.Equal(t, 42, getEnvInt("TEST_INT_VALUE", 1))
	assert.Equal(t, int64(7), getEnvInt64("TEST_INT64_VALUE", 7))
}

func TestLoadFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ENV_FILE_PATH", "")
	t.Setenv("OFFSYNC_SITE_URL", "https://school.example.com/")
	t.Setenv("OFFSYNC_SITE_USER_ID", "7")
	t.Setenv("OFFSYNC_SYNC_ONLY_ON_UNMETERED", "true")
	t.Setenv("OFFSYNC_SYNC_MIN_INTERVAL", "300000")
	t.Setenv("OFFSYNC_CRON_MAX_JOB_DURATION", "90s")
	t.Setenv("OFFSYNC_LOG_OUTPUT", "stderr")

	cfg, err := LoadFromEnv(dir, filepath.Join(dir, ".env"))
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.ConfigDir())
	assert.Equal(t, "https://school.example.com", cfg.Site.URL)
	assert.Equal(t, int64(7), cfg.Site.UserID)
	assert.NotEmpty(t, cfg.Site.DeviceName)
	assert.True(t, cfg.Sync.OnlyOnUnmeteredNetwork)
	assert.Equal(t, 5*time.Minute, cfg.Sync.MinInterval)
	assert.Equal(t, 90*time.Second, cfg.Cron.MaxJobDuration)
	assert.Equal(t, time.Hour, cfg.Cron.DefaultInterval)
	assert.Equal(t, 4*time.Minute, cfg.Cron.MinInterval)
	assert.Equal(t, "https://school.example.com", cfg.Network.CheckURL)
	assert.Equal(t, filepath.Join(dir, "offsync.db"), cfg.Database.Path)
	assert.Equal(t, time.RFC3339, cfg.Logging.TimeFormat)
}

func TestSetGet(t *testing.T) {
	Set(nil)

	_, err := Get()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")

	testCfg := New()
	testCfg.Site.ID = "school"
	Set(testCfg)

	cfg, err := Get()
	require.NoError(t, err)
	assert.Equal(t, "school", cfg.Site.ID)
}

func validConfig(t *testing.T) *Config {
	cfg := New()
	cfg.Site = SiteConfig{ID: "default", URL: "https://school.example.com", Timeout: time.Second}
	cfg.Sync = SyncConfig{MinInterval: time.Minute, Concurrency: 2}
	cfg.Cron = CronConfig{DefaultInterval: time.Hour, MinInterval: 4 * time.Minute, MaxJobDuration: 2 * time.Minute}
	cfg.Database = DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.db"), BusyTimeout: 5000, QueryTimeout: time.Second}
	cfg.Logging = LoggingConfig{Level: "info", Format: "text"}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing site id", mutate: func(c *Config) { c.Site.ID = "" }, wantErr: "site config"},
		{name: "relative site url", mutate: func(c *Config) { c.Site.URL = "school" }, wantErr: "site config"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Sync.Concurrency = 0 }, wantErr: "sync config"},
		{name: "default below min interval", mutate: func(c *Config) { c.Cron.DefaultInterval = time.Minute }, wantErr: "cron config"},
		{name: "zero max job duration", mutate: func(c *Config) { c.Cron.MaxJobDuration = 0 }, wantErr: "cron config"},
		{name: "empty database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: "database config"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "logging config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level  string
		expect slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"none", slog.Level(9999)},
		{"invalid", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expect, ParseLogLevel(tt.level))
		})
	}
}

func TestCheckDirectoryWritable(t *testing.T) {
	assert.NoError(t, checkDirectoryWritable(t.TempDir()))
	assert.Error(t, checkDirectoryWritable("/path/that/does/not/exist"))
}

func TestTokenObfuscation(t *testing.T) {
	stored := obfuscateToken("s3cr3t-token")
	assert.NotContains(t, stored, "s3cr3t")

	plain, err := deobfuscateToken(stored)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t-token", plain)

	plain, err = deobfuscateToken("legacy-plain")
	require.NoError(t, err)
	assert.Equal(t, "legacy-plain", plain)
}
