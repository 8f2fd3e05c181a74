package commands

import (
	"fmt"

	"github.com/tildaslashalef/offsync/internal/database"
	"github.com/tildaslashalef/offsync/internal/migrations"
	"github.com/tildaslashalef/offsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// MigrateCommand returns the CLI command for database migrations
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Manage database migrations",
		Hidden: true,
		Subcommands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Apply all pending migrations",
				Action: func(c *cli.Context) error {
					utils.PrintInfo("Applying embedded migrations")

					applied, err := database.RunMigrations()
					if err != nil {
						utils.PrintError(fmt.Sprintf("Failed to apply migrations: %s", err))
						return fmt.Errorf("failed to apply migrations: %w", err)
					}

					if applied > 0 {
						utils.PrintSuccess(fmt.Sprintf("Applied %s successfully!", utils.Plural(applied, "migration")))
					} else {
						utils.PrintSuccess("Database schema is already up-to-date")
					}
					return nil
				},
			},
			{
				Name:  "down",
				Usage: "Revert the last migration",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "steps",
						Usage: "Number of migrations to revert",
						Value: 1,
					},
				},
				Action: func(c *cli.Context) error {
					steps := c.Int("steps")
					if steps <= 0 {
						return fmt.Errorf("steps must be positive, got %d", steps)
					}

					utils.PrintWarning(fmt.Sprintf("Reverting %s", utils.Plural(steps, "migration")))
					if err := database.RevertMigrations(steps); err != nil {
						utils.PrintError(fmt.Sprintf("Failed to revert migrations: %s", err))
						return fmt.Errorf("failed to revert migrations: %w", err)
					}

					utils.PrintSuccess("Migration(s) reverted successfully!")
					return nil
				},
			},
			{
				Name:  "status",
				Usage: "Show the schema version and the embedded migrations",
				Action: func(c *cli.Context) error {
					version, dirty, err := database.MigrationVersion()
					if err != nil {
						return fmt.Errorf("failed to get migration version: %w", err)
					}

					files, err := migrations.Files()
					if err != nil {
						return fmt.Errorf("failed to list embedded migrations: %w", err)
					}

					utils.PrintKeyValue("Schema version", fmt.Sprintf("%d", version))
					if dirty {
						utils.PrintKeyValueWithColor("Dirty", "yes", utils.Theme.Error)
					}

					rows := make([][]string, 0, len(files))
					for _, f := range files {
						rows = append(rows, []string{f})
					}
					utils.PrintTable([]string{"Migration"}, rows, utils.TableOptions{Title: "Embedded migrations"})
					return nil
				},
			},
		},
	}
}
