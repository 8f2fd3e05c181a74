package commands

import (
	"fmt"

	"github.com/tildaslashalef/offsync/internal/config"
	"github.com/tildaslashalef/offsync/internal/database"
	"github.com/tildaslashalef/offsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// InitCommand returns the CLI command for initializing offsync
func InitCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize or update the offsync environment",
		Description: "Creates the configuration directory with a sample .env file and the " +
			"database with its tables. Run it on first use and after upgrading offsync.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config-dir",
				Usage: "Configuration directory (default: ~/.offsync)",
			},
			&cli.BoolFlag{
				Name:  "reset-config",
				Usage: "Replace an existing .env with the sample, keeping a dated backup",
			},
		},
		Action: initAction,
	}
}

func initAction(c *cli.Context) error {
	utils.PrintHeading("Initializing offsync")

	configDir := c.String("config-dir")
	if configDir == "" {
		dir, err := config.DefaultConfigDir()
		if err != nil {
			utils.PrintError(fmt.Sprintf("Failed to resolve config directory: %s", err))
			return err
		}
		configDir = dir
	}
	utils.PrintInfo("Configuration directory: " + utils.Highlight(configDir))

	configFilePath, err := config.SetupConfigDirectory(configDir, c.Bool("reset-config"))
	if err != nil {
		utils.PrintError(fmt.Sprintf("Failed to set up configuration files: %s", err))
		return fmt.Errorf("failed to set up configuration files: %w", err)
	}

	cfg, err := config.LoadFromEnv(configDir, configFilePath)
	if err != nil {
		utils.PrintError(fmt.Sprintf("Failed to load configuration: %s", err))
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	utils.PrintInfo("Initializing database...")
	if err := database.InitDB(cfg); err != nil {
		utils.PrintError(fmt.Sprintf("Failed to initialize database: %s", err))
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.CloseDB()

	utils.PrintInfo("Applying database migrations...")
	applied, err := database.RunMigrations()
	if err != nil {
		utils.PrintError(fmt.Sprintf("Failed to apply migrations: %s", err))
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	utils.PrintSuccess("offsync initialized successfully!")
	if applied > 0 {
		utils.PrintSuccess(fmt.Sprintf("Applied %s", utils.Plural(applied, "migration")))
	} else {
		utils.PrintInfo("Database schema is already up-to-date")
	}

	utils.PrintInfo("Configuration file: " + utils.Highlight(configFilePath))
	utils.PrintInfo("Database location: " + utils.Highlight(cfg.Database.Path))
	utils.PrintInfo("Log file location: " + utils.Highlight(cfg.Logging.Output))
	utils.PrintInfo("Device name: " + utils.Highlight(cfg.Site.DeviceName))
	fmt.Println()
	if cfg.Site.Token == "" {
		utils.PrintWarning("No site token configured yet. Set one with " + utils.Command("offsync config set site.token <token>"))
	}
	utils.PrintInfo("Record offline work with " + utils.Command("offsync pending add") + " and send it with " + utils.Command("offsync sync"))

	return nil
}
