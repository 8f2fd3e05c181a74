package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goombaio/namegenerator"
	"github.com/joho/godotenv"
)

// DefaultConfigDir returns ~/.offsync
func DefaultConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".offsync"), nil
}

// LoadFromEnv loads configuration from environment variables
// Parameters:
// - configDir: Directory containing config files (or empty for default)
// - configFilePath: Path to .env file (or empty for default)
func LoadFromEnv(configDir string, configFilePath string) (*Config, error) {
	cfg := New()

	if configDir == "" {
		dir, err := DefaultConfigDir()
		if err != nil {
			return nil, err
		}
		configDir = dir
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	cfg.configDir = configDir

	if configFilePath == "" {
		configFilePath = filepath.Join(configDir, ".env")
	}

	// ENV_FILE_PATH overrides the lookup; otherwise the config dir wins over the working dir
	if envFilePath := getEnvString("ENV_FILE_PATH", ""); envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			return nil, fmt.Errorf("failed to load env file from %s: %w", envFilePath, err)
		}
	} else if err := godotenv.Load(configFilePath); err != nil {
		_ = godotenv.Load()
	}

	cfg.Site = SiteConfig{
		ID:                getEnvString("OFFSYNC_SITE_ID", "default"),
		URL:               strings.TrimRight(getEnvString("OFFSYNC_SITE_URL", ""), "/"),
		Token:             getEnvString("OFFSYNC_SITE_TOKEN", ""),
		UserID:            getEnvInt64("OFFSYNC_SITE_USER_ID", 0),
		DeviceName:        getEnvString("OFFSYNC_DEVICE_NAME", ""),
		Timeout:           getEnvDuration("OFFSYNC_SITE_TIMEOUT", 30*time.Second),
		MaxRetries:        getEnvInt("OFFSYNC_SITE_MAX_RETRIES", 3),
		RequestsPerMinute: getEnvInt("OFFSYNC_SITE_REQUESTS_PER_MINUTE", 120),
		BurstLimit:        getEnvInt("OFFSYNC_SITE_BURST_LIMIT", 5),
		CacheTTL:          getEnvDuration("OFFSYNC_SITE_CACHE_TTL", 5*time.Minute),
	}
	if cfg.Site.DeviceName == "" {
		cfg.Site.DeviceName = GenerateDeviceName()
	}

	cfg.Sync = SyncConfig{
		OnlyOnUnmeteredNetwork: getEnvBool("OFFSYNC_SYNC_ONLY_ON_UNMETERED", false),
		MinInterval:            getEnvDuration("OFFSYNC_SYNC_MIN_INTERVAL", 5*time.Minute),
		Concurrency:            getEnvInt("OFFSYNC_SYNC_CONCURRENCY", 4),
	}

	cfg.Cron = CronConfig{
		DefaultInterval: getEnvDuration("OFFSYNC_CRON_DEFAULT_INTERVAL", time.Hour),
		MinInterval:     getEnvDuration("OFFSYNC_CRON_MIN_INTERVAL", 4*time.Minute),
		MaxJobDuration:  getEnvDuration("OFFSYNC_CRON_MAX_JOB_DURATION", 2*time.Minute),
	}

	cfg.Network = NetworkConfig{
		CheckURL:      getEnvString("OFFSYNC_NETWORK_CHECK_URL", cfg.Site.URL),
		CheckInterval: getEnvDuration("OFFSYNC_NETWORK_CHECK_INTERVAL", 30*time.Second),
		CheckTimeout:  getEnvDuration("OFFSYNC_NETWORK_CHECK_TIMEOUT", 5*time.Second),
		Metered:       getEnvBool("OFFSYNC_NETWORK_METERED", false),
	}

	cfg.Database = DatabaseConfig{
		Path:            getEnvString("OFFSYNC_DB_PATH", filepath.Join(configDir, "offsync.db")),
		BusyTimeout:     getEnvInt("OFFSYNC_DB_BUSY_TIMEOUT", 5000),
		JournalMode:     getEnvString("OFFSYNC_DB_JOURNAL_MODE", "WAL"),
		SynchronousMode: getEnvString("OFFSYNC_DB_SYNCHRONOUS_MODE", "NORMAL"),
		CacheSize:       getEnvInt("OFFSYNC_DB_CACHE_SIZE", -16000), // ~16MB
		ForeignKeys:     getEnvBool("OFFSYNC_DB_FOREIGN_KEYS", true),
		ConnMaxLife:     getEnvDuration("OFFSYNC_DB_CONN_MAX_LIFE", 5*time.Minute),
		QueryTimeout:    getEnvDuration("OFFSYNC_DB_QUERY_TIMEOUT", 30*time.Second),
	}

	cfg.Logging = LoggingConfig{
		Level:      getEnvString("OFFSYNC_LOG_LEVEL", "info"),
		Format:     getEnvString("OFFSYNC_LOG_FORMAT", "text"),
		Output:     getEnvString("OFFSYNC_LOG_OUTPUT", filepath.Join(configDir, "offsync.log")),
		AddSource:  getEnvBool("OFFSYNC_LOG_ADD_SOURCE", false),
		TimeFormat: getTimeFormat(getEnvString("OFFSYNC_LOG_TIME_FORMAT", "RFC3339")),
	}

	return cfg, cfg.Validate()
}

// GenerateDeviceName creates a memorable device name such as "wispy-dust"
func GenerateDeviceName() string {
	name := namegenerator.NewNameGenerator(time.Now().UTC().UnixNano()).Generate()
	return strings.ReplaceAll(name, "_", "-")
}
