// Package app provides the application initialization and lifecycle management
package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/tildaslashalef/offsync/internal/config"
	"github.com/tildaslashalef/offsync/internal/cron"
	"github.com/tildaslashalef/offsync/internal/database"
	"github.com/tildaslashalef/offsync/internal/loggy"
	"github.com/tildaslashalef/offsync/internal/mod/assign"
	"github.com/tildaslashalef/offsync/internal/mod/lesson"
	"github.com/tildaslashalef/offsync/internal/mod/quiz"
	"github.com/tildaslashalef/offsync/internal/mod/workshop"
	"github.com/tildaslashalef/offsync/internal/network"
	"github.com/tildaslashalef/offsync/internal/offline"
	syncpkg "github.com/tildaslashalef/offsync/internal/sync"
	"github.com/urfave/cli/v2"
)

// App represents the application instance with its dependencies
type App struct {
	Config   *config.Config
	DB       *sql.DB
	Settings *config.SettingsService
	Actions  *offline.SQLRepository
	Sites    *syncpkg.Sites
	Network  *network.Monitor
	Checker  *network.Checker
	Sync     *syncpkg.Service
	Cron     *cron.Scheduler
	CronRepo cron.Repository
}

// New initializes a new application instance with all its dependencies
func New() (*App, error) {
	cfg, err := initConfig()
	if err != nil {
		return nil, err
	}

	if err := initLogger(cfg); err != nil {
		return nil, err
	}

	loggy.Info("Application initializing",
		"version", os.Getenv("VERSION"),
		"log_level", cfg.Logging.Level,
		"site", cfg.Site.ID,
	)

	if err := database.InitDB(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	db, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}

	app, err := initServices(cfg, db)
	if err != nil {
		return nil, err
	}

	loggy.Info("Application initialized successfully")
	return app, nil
}

// initConfig loads and sets up the application configuration
func initConfig() (*config.Config, error) {
	cfg, err := config.LoadFromEnv("", "")
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	config.Set(cfg)
	return cfg, nil
}

// initLogger initializes the logging system
func initLogger(cfg *config.Config) error {
	err := loggy.Init(loggy.Config{
		Level:      config.ParseLogLevel(cfg.Logging.Level),
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// initServices initializes all application services
func initServices(cfg *config.Config, db *sql.DB) (*App, error) {
	logger := loggy.GetGlobalLogger()
	ctx := context.Background()

	// Persisted overrides apply before anything reads the site settings
	settingsService := config.NewSettingsService(config.NewSQLSettingsRepository(db, logger), cfg, logger)
	if err := settingsService.Load(ctx); err != nil {
		loggy.Warn("Failed to load settings from database", "error", err)
	}

	sites := syncpkg.NewSites()
	if cfg.Site.URL != "" {
		sites.Add(cfg.Site.ID, syncpkg.NewClient(cfg.Site, logger))
	} else {
		loggy.Warn("No site URL configured, remote calls will fail", "site", cfg.Site.ID)
	}

	monitor := network.NewMonitor(network.Status{Metered: cfg.Network.Metered}, logger)
	checker := network.NewChecker(cfg.Network, cfg.Site.URL, monitor, logger)

	actions := offline.NewSQLRepository(db, logger, cfg.Site.UserID)
	syncService := syncpkg.NewService(cfg.Sync, actions, syncpkg.NewSQLRepository(db, logger), monitor, logger)

	handlers := []syncpkg.Handler{
		assign.New(actions, sites),
		lesson.New(actions, sites),
		quiz.New(actions, sites),
		workshop.New(actions, sites),
	}
	for _, h := range handlers {
		if err := syncService.Register(h); err != nil {
			return nil, fmt.Errorf("registering %s handler: %w", h.Component(), err)
		}
	}

	cronRepo := cron.NewSQLRepository(db, logger)
	scheduler := cron.NewScheduler(cfg.Cron, cfg.Sync, cronRepo, monitor, logger)
	for _, job := range syncService.Jobs() {
		if err := scheduler.Register(job); err != nil {
			return nil, fmt.Errorf("registering cron job: %w", err)
		}
	}

	return &App{
		Config:   cfg,
		DB:       db,
		Settings: settingsService,
		Actions:  actions,
		Sites:    sites,
		Network:  monitor,
		Checker:  checker,
		Sync:     syncService,
		Cron:     scheduler,
		CronRepo: cronRepo,
	}, nil
}

// CheckConnectivity probes the site once so one-shot commands see the
// current network status
func (app *App) CheckConnectivity(ctx context.Context) network.Status {
	return app.Checker.Check(ctx)
}

// Shutdown gracefully shuts down the application
func (app *App) Shutdown() error {
	loggy.Info("Shutting down application")

	app.Cron.Stop()
	app.Checker.Stop()

	if err := database.CloseDB(); err != nil {
		loggy.Error("Error closing database connection", "error", err)
	}

	return nil
}

// FromContext retrieves the App instance from the CLI context
func FromContext(c *cli.Context) (*App, error) {
	if c.App.Metadata == nil {
		return nil, fmt.Errorf("app metadata not found in context")
	}

	app, ok := c.App.Metadata["app"].(*App)
	if !ok {
		return nil, fmt.Errorf("app instance not found in context")
	}

	return app, nil
}
