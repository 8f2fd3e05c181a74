package commands

import (
	"fmt"

	"github.com/tildaslashalef/offsync/internal/app"
	"github.com/tildaslashalef/offsync/internal/config"
	"github.com/tildaslashalef/offsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// ConfigCommand returns the CLI command that manages persisted setting overrides
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Show or change persisted settings",
		Description: "Settings stored in the database override the .env file. " +
			"Known keys: site.url, site.token, site.device_name, sync.only_on_unmetered, " +
			"sync.min_interval, cron.max_job_duration.",
		Action: configShowAction,
		Subcommands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Persist a setting",
				ArgsUsage: "<key> <value>",
				Action: func(c *cli.Context) error {
					application, err := app.FromContext(c)
					if err != nil {
						return err
					}
					if c.NArg() != 2 {
						return fmt.Errorf("expected <key> <value>, got %d arguments", c.NArg())
					}

					key, value := c.Args().Get(0), c.Args().Get(1)
					if key == config.KeyDeviceName {
						value = utils.SanitizeName(value)
					}
					if err := application.Settings.Set(c.Context, key, value); err != nil {
						return err
					}

					shown := value
					if key == config.KeySiteToken {
						shown = maskToken(value)
					}
					utils.PrintKeyValueWithColor(key+" updated", shown, utils.Theme.Info)
					return nil
				},
			},
			{
				Name:      "unset",
				Usage:     "Remove a persisted setting",
				ArgsUsage: "<key>",
				Action: func(c *cli.Context) error {
					application, err := app.FromContext(c)
					if err != nil {
						return err
					}
					key := c.Args().First()
					if err := application.Settings.Unset(c.Context, key); err != nil {
						return err
					}
					utils.PrintSuccess(key + " removed, the .env value applies from the next run")
					return nil
				},
			},
		},
	}
}

func configShowAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	cfg := application.Config

	utils.PrintHeading("Current configuration")
	utils.PrintKeyValueWithColor("Config directory", cfg.ConfigDir(), utils.Theme.Info)
	utils.PrintKeyValueWithColor("Site", cfg.Site.ID, utils.Theme.Info)
	utils.PrintKeyValueWithColor("Site URL", cfg.Site.URL, utils.Theme.Info)
	utils.PrintKeyValueWithColor("Token", maskToken(cfg.Site.Token), utils.Theme.Info)
	utils.PrintKeyValueWithColor("User ID", fmt.Sprintf("%d", cfg.Site.UserID), utils.Theme.Info)
	utils.PrintKeyValueWithColor("Device name", cfg.Site.DeviceName, utils.Theme.Info)
	utils.PrintKeyValueWithColor("Sync only on unmetered", utils.FormatBool(cfg.Sync.OnlyOnUnmeteredNetwork), utils.Theme.Info)
	utils.PrintKeyValueWithColor("Sync min interval", cfg.Sync.MinInterval.String(), utils.Theme.Info)
	utils.PrintKeyValueWithColor("Cron max job duration", cfg.Cron.MaxJobDuration.String(), utils.Theme.Info)
	utils.PrintKeyValueWithColor("Database", cfg.Database.Path, utils.Theme.Info)

	stored, err := application.Settings.All(c.Context)
	if err != nil {
		return fmt.Errorf("listing settings: %w", err)
	}

	rows := [][]string{}
	for _, key := range config.Keys() {
		value, ok := stored[key]
		if !ok {
			continue
		}
		if key == config.KeySiteToken {
			value = maskToken(value)
		}
		rows = append(rows, []string{key, value})
	}
	utils.PrintTable([]string{"Key", "Value"}, rows, utils.TableOptions{
		Title:        "Persisted overrides",
		EmptyMessage: "No overrides stored.",
	})
	return nil
}

// maskToken keeps the last four characters of a token
func maskToken(token string) string {
	if token == "" {
		return "(not set)"
	}
	if len(token) <= 4 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}
