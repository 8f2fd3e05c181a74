package config

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/tildaslashalef/offsync/internal/loggy"
	"github.com/tildaslashalef/offsync/internal/ulid"
)

// Setting keys persisted in the settings table
const (
	KeySiteURL             = "site.url"
	KeySiteToken           = "site.token"
	KeyDeviceName          = "site.device_name"
	KeySyncOnlyOnUnmetered = "sync.only_on_unmetered"
	KeySyncMinInterval     = "sync.min_interval"
	KeyCronMaxJobDuration  = "cron.max_job_duration"
	obfuscatedMarker       = "OBFS:"
	settingsTable          = "settings"
	settingsConflictClause = "ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at"
)

// SettingsRepository defines operations for managing settings in the database
type SettingsRepository interface {
	// GetSetting retrieves a setting by key, returning "" when unset
	GetSetting(ctx context.Context, key string) (string, error)

	// GetSettings retrieves multiple settings by prefix
	GetSettings(ctx context.Context, prefix string) (map[string]string, error)

	// SetSetting inserts or replaces a setting value
	SetSetting(ctx context.Context, key, value string) error

	// DeleteSetting deletes a setting
	DeleteSetting(ctx context.Context, key string) error
}

// SQLSettingsRepository implements SettingsRepository using a SQL database
type SQLSettingsRepository struct {
	db      *sql.DB
	logger  *loggy.Logger
	builder squirrel.StatementBuilderType
}

// NewSQLSettingsRepository creates a new SQL settings repository
func NewSQLSettingsRepository(db *sql.DB, logger *loggy.Logger) *SQLSettingsRepository {
	return &SQLSettingsRepository{
		db:      db,
		logger:  logger,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}
}

// GetSetting retrieves a setting by key
func (r *SQLSettingsRepository) GetSetting(ctx context.Context, key string) (string, error) {
	query, args, err := r.builder.Select("value").
		From(settingsTable).
		Where(squirrel.Eq{"key": key}).
		Limit(1).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("building get setting query: %w", err)
	}

	var value string
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("executing get setting query: %w", err)
	}

	if key == KeySiteToken {
		return deobfuscateToken(value)
	}
	return value, nil
}

// GetSettings retrieves multiple settings by prefix
func (r *SQLSettingsRepository) GetSettings(ctx context.Context, prefix string) (map[string]string, error) {
	query, args, err := r.builder.Select("key", "value").
		From(settingsTable).
		Where(squirrel.Like{"key": prefix + "%"}).
		OrderBy("key").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get settings query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing get settings query: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning setting row: %w", err)
		}

		if key == KeySiteToken {
			value, err = deobfuscateToken(value)
			if err != nil {
				r.logger.Warn("Failed to deobfuscate token", "error", err)
				continue
			}
		}
		settings[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating setting rows: %w", err)
	}

	return settings, nil
}

// SetSetting sets a setting value
func (r *SQLSettingsRepository) SetSetting(ctx context.Context, key, value string) error {
	if key == KeySiteToken && value != "" {
		value = obfuscateToken(value)
	}

	now := time.Now().UTC()
	query, args, err := r.builder.Insert(settingsTable).
		Columns("id", "key", "value", "created_at", "updated_at").
		Values(ulid.SettingID(), key, value, now, now).
		Suffix(settingsConflictClause).
		ToSql()
	if err != nil {
		return fmt.Errorf("building set setting query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing set setting query: %w", err)
	}
	return nil
}

// DeleteSetting deletes a setting
func (r *SQLSettingsRepository) DeleteSetting(ctx context.Context, key string) error {
	query, args, err := r.builder.Delete(settingsTable).
		Where(squirrel.Eq{"key": key}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building delete setting query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing delete setting query: %w", err)
	}
	return nil
}

// ApplySettings overlays persisted settings onto cfg. Unparseable values are logged and skipped.
func ApplySettings(cfg *Config, settings map[string]string, logger *loggy.Logger) {
	if v := settings[KeySiteURL]; v != "" {
		cfg.Site.URL = strings.TrimRight(v, "/")
	}
	if v := settings[KeySiteToken]; v != "" {
		cfg.Site.Token = v
	}
	if v := settings[KeyDeviceName]; v != "" {
		cfg.Site.DeviceName = v
	}
	if v := settings[KeySyncOnlyOnUnmetered]; v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Sync.OnlyOnUnmeteredNetwork = b
		} else {
			logger.Warn("Ignoring invalid setting", "key", KeySyncOnlyOnUnmetered, "value", v)
		}
	}
	if v := settings[KeySyncMinInterval]; v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.Sync.MinInterval = d
		} else {
			logger.Warn("Ignoring invalid setting", "key", KeySyncMinInterval, "value", v)
		}
	}
	if v := settings[KeyCronMaxJobDuration]; v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Cron.MaxJobDuration = d
		} else {
			logger.Warn("Ignoring invalid setting", "key", KeyCronMaxJobDuration, "value", v)
		}
	}
}

// LoadSettings loads persisted overrides from the database into cfg
func LoadSettings(ctx context.Context, cfg *Config, repo SettingsRepository, logger *loggy.Logger) error {
	settings, err := repo.GetSettings(ctx, "")
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	ApplySettings(cfg, settings, logger)
	return nil
}

// obfuscateToken keeps the token out of casual view in the database file; it is not encryption
func obfuscateToken(token string) string {
	runes := []rune(token)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return obfuscatedMarker + base64.StdEncoding.EncodeToString([]byte(string(runes)))
}

func deobfuscateToken(stored string) (string, error) {
	if !strings.HasPrefix(stored, obfuscatedMarker) {
		return stored, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, obfuscatedMarker))
	if err != nil {
		return "", fmt.Errorf("decoding obfuscated token: %w", err)
	}

	runes := []rune(string(decoded))
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes), nil
}
