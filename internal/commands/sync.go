package commands

import (
	"errors"
	"fmt"

	"github.com/tildaslashalef/offsync/internal/app"
	"github.com/tildaslashalef/offsync/internal/loggy"
	syncpkg "github.com/tildaslashalef/offsync/internal/sync"
	"github.com/tildaslashalef/offsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// SyncCommand returns the CLI command that replays stored actions against the site
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Send offline actions to the site",
		Description: "Replays every stored offline action against the site. Narrow the pass with " +
			"--component, or sync a single activity with --component and --entity. Entities synced " +
			"within the minimum interval are skipped unless --force is given.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "site",
				Usage: "Site to sync (default: every site with stored actions)",
			},
			&cli.StringFlag{
				Name:    "component",
				Aliases: []string{"c"},
				Usage:   "Only sync this activity kind, e.g. mod_quiz",
			},
			&cli.Int64Flag{
				Name:    "entity",
				Aliases: []string{"e"},
				Usage:   "Only sync this activity instance (requires --component)",
			},
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   "Ignore the minimum interval and the unmetered-only setting",
			},
		},
		Action: syncAction,
	}
}

func syncAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	ctx := c.Context
	siteID := c.String("site")
	component := c.String("component")
	entityID := c.Int64("entity")
	force := c.Bool("force")

	if entityID != 0 && component == "" {
		return fmt.Errorf("--entity requires --component")
	}

	status := application.CheckConnectivity(ctx)
	if !status.Online {
		utils.PrintError("The site cannot be reached, actions stay stored until the next sync")
		return syncpkg.ErrOffline
	}

	sub := application.Sync.Subscribe(func(e syncpkg.SyncedEvent) {
		utils.PrintSuccess(fmt.Sprintf("%s %d synced", e.Component, e.EntityID))
	})
	defer sub.Unsubscribe()

	loggy.Info("Starting manual sync", "site", siteID, "component", component, "entity_id", entityID, "force", force)

	if entityID != 0 {
		return syncOne(c, application, siteID, component, entityID, force)
	}

	var summary *syncpkg.Summary
	if component != "" {
		summary, err = application.Sync.SyncComponent(ctx, component, siteID, force)
	} else {
		summary, err = application.Sync.SyncAll(ctx, siteID, force)
	}
	if errors.Is(err, syncpkg.ErrMeteredNetwork) {
		utils.PrintWarning("Sync skipped on a metered network, use --force to sync anyway")
		return nil
	}
	if err != nil {
		utils.PrintError(fmt.Sprintf("Sync failed: %s", err))
		return err
	}

	printSummary(summary)
	return summary.Err()
}

func syncOne(c *cli.Context, application *app.App, siteID, component string, entityID int64, force bool) error {
	if siteID == "" {
		siteID = application.Config.Site.ID
	}

	var (
		result *syncpkg.Result
		err    error
	)
	if force {
		result, err = application.Sync.ForceSync(c.Context, siteID, component, entityID)
	} else {
		result, err = application.Sync.SyncIfNeeded(c.Context, siteID, component, entityID)
	}
	if err != nil {
		utils.PrintError(fmt.Sprintf("Sync of %s %d failed (%s): %s", component, entityID, syncpkg.ClassifyError(err), err))
		return err
	}
	if result == nil {
		utils.PrintInfo(fmt.Sprintf("%s %d synced recently, use --force to sync now", component, entityID))
		return nil
	}

	if !result.Updated {
		utils.PrintInfo(fmt.Sprintf("%s %d had nothing to send", component, entityID))
	}
	for _, w := range result.Warnings {
		utils.PrintWarning(w.String())
	}
	return nil
}

func printSummary(summary *syncpkg.Summary) {
	if len(summary.Results) == 0 {
		utils.PrintInfo("No offline actions to sync")
		return
	}

	skipped := 0
	for _, r := range summary.Results {
		if r.Skipped {
			skipped++
		}
	}

	utils.PrintHeading("Sync summary")
	utils.PrintKeyValue("Entities", fmt.Sprintf("%d", len(summary.Results)))
	utils.PrintKeyValueWithColor("Updated", fmt.Sprintf("%d", len(summary.Updated())), utils.Theme.Success)
	if skipped > 0 {
		utils.PrintKeyValueWithColor("Skipped", fmt.Sprintf("%d (synced recently)", skipped), utils.Theme.Subtle)
	}

	if failed := summary.Failures(); len(failed) > 0 {
		rows := make([][]string, 0, len(failed))
		for _, f := range failed {
			rows = append(rows, []string{
				f.Key.SiteID,
				f.Key.Component,
				fmt.Sprintf("%d", f.Key.EntityID),
				string(syncpkg.ClassifyError(f.Err)),
				utils.Truncate(f.Err.Error(), 64),
			})
		}
		utils.PrintTable([]string{"Site", "Component", "Entity", "Type", "Error"}, rows, utils.TableOptions{Title: "Failed"})
	}

	for _, w := range summary.Warnings() {
		utils.PrintWarning(w.String())
	}
}
