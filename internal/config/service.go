package config

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/tildaslashalef/offsync/internal/loggy"
)

// SettingsService manages persisted overrides of the runtime configuration
type SettingsService struct {
	repo   SettingsRepository
	config *Config
	logger *loggy.Logger
}

// NewSettingsService creates a new settings service
func NewSettingsService(repo SettingsRepository, config *Config, logger *loggy.Logger) *SettingsService {
	return &SettingsService{
		repo:   repo,
		config: config,
		logger: logger,
	}
}

// Keys lists the settings that can be persisted
func Keys() []string {
	keys := []string{
		KeySiteURL,
		KeySiteToken,
		KeyDeviceName,
		KeySyncOnlyOnUnmetered,
		KeySyncMinInterval,
		KeyCronMaxJobDuration,
	}
	sort.Strings(keys)
	return keys
}

// Load applies every persisted setting to the in-memory configuration
func (s *SettingsService) Load(ctx context.Context) error {
	return LoadSettings(ctx, s.config, s.repo, s.logger)
}

// All returns every persisted setting
func (s *SettingsService) All(ctx context.Context) (map[string]string, error) {
	return s.repo.GetSettings(ctx, "")
}

// Set validates, persists and applies a single setting
func (s *SettingsService) Set(ctx context.Context, key, value string) error {
	if err := validateSetting(key, value); err != nil {
		return err
	}
	if err := s.repo.SetSetting(ctx, key, value); err != nil {
		return err
	}
	ApplySettings(s.config, map[string]string{key: value}, s.logger)
	return nil
}

// Unset removes a persisted override; the environment value applies again on next start
func (s *SettingsService) Unset(ctx context.Context, key string) error {
	if err := validateSetting(key, ""); err != nil {
		return err
	}
	return s.repo.DeleteSetting(ctx, key)
}

func validateSetting(key, value string) error {
	switch key {
	case KeySiteURL, KeySiteToken, KeyDeviceName:
		return nil
	case KeySyncOnlyOnUnmetered:
		if value == "" {
			return nil
		}
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("%s expects a boolean, got %q", key, value)
		}
		return nil
	case KeySyncMinInterval, KeyCronMaxJobDuration:
		if value == "" {
			return nil
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s expects a duration, got %q", key, value)
		}
		return nil
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
}
