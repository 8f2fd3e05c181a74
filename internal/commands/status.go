package commands

import (
	"fmt"

	"github.com/tildaslashalef/offsync/internal/app"
	"github.com/tildaslashalef/offsync/internal/offline"
	"github.com/tildaslashalef/offsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// StatusCommand returns the CLI command that reports stored actions,
// warnings, recent sync attempts and scheduled jobs
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show pending actions, warnings and recent syncs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "site",
				Usage: "Only show this site",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Number of recent sync attempts to show",
				Value: 20,
			},
			&cli.BoolFlag{
				Name:  "offline",
				Usage: "Skip the connectivity probe",
			},
		},
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	ctx := c.Context
	siteID := c.String("site")

	utils.PrintHeading("offsync status")
	utils.PrintKeyValue("Site", fmt.Sprintf("%s (%s)", application.Config.Site.ID, application.Config.Site.URL))
	utils.PrintKeyValue("Device", application.Config.Site.DeviceName)
	if !c.Bool("offline") {
		status := application.CheckConnectivity(ctx)
		if status.Online {
			utils.PrintKeyValueWithColor("Network", "online", utils.Theme.Success)
		} else {
			utils.PrintKeyValueWithColor("Network", "offline", utils.Theme.Error)
		}
	}
	fmt.Println()

	actions, err := listPending(c, application, siteID)
	if err != nil {
		return err
	}
	printActions(actions)

	warnings, err := application.Sync.ListWarnings(ctx, siteID)
	if err != nil {
		return fmt.Errorf("error listing warnings: %w", err)
	}
	warningRows := make([][]string, 0, len(warnings))
	for _, w := range warnings {
		warningRows = append(warningRows, []string{
			w.SiteID,
			w.Warning.Component,
			fmt.Sprintf("%d", w.Warning.EntityID),
			utils.Truncate(w.Warning.String(), 64),
			utils.FormatTime(w.CreatedAt),
		})
	}
	utils.PrintTable([]string{"Site", "Component", "Entity", "Warning", "Created"}, warningRows, utils.TableOptions{
		Title:        "Warnings",
		EmptyMessage: "No warnings.",
	})

	logs, err := application.Sync.GetSyncLogs(ctx, siteID, c.Int("limit"))
	if err != nil {
		return fmt.Errorf("error getting sync logs: %w", err)
	}
	logRows := make([][]string, 0, len(logs))
	for _, l := range logs {
		logRows = append(logRows, []string{
			l.Component,
			fmt.Sprintf("%d", l.EntityID),
			utils.FormatSuccess(l.Success),
			string(l.ErrorType),
			utils.Truncate(l.ErrorMessage, 48),
			utils.FormatTime(l.StartedAt),
			utils.FormatDuration(l.Duration()),
		})
	}
	utils.PrintTable([]string{"Component", "Entity", "Status", "Type", "Error", "Started", "Took"}, logRows, utils.TableOptions{
		Title:        "Recent syncs",
		EmptyMessage: "No sync attempts yet.",
	})

	executions, err := application.CronRepo.ListExecutions(ctx)
	if err != nil {
		return fmt.Errorf("error listing job executions: %w", err)
	}
	jobRows := [][]string{}
	for _, job := range application.Cron.Status() {
		jobRows = append(jobRows, []string{
			job.Name,
			utils.FormatTime(executions[job.Name]),
			utils.FormatBool(job.UsesNetwork),
			utils.FormatBool(job.IsSync),
		})
	}
	utils.PrintTable([]string{"Job", "Last run", "Network", "Sync"}, jobRows, utils.TableOptions{
		Title:        "Periodic jobs",
		EmptyMessage: "No jobs registered.",
	})

	return nil
}

func listPending(c *cli.Context, application *app.App, siteID string) ([]*offline.PendingAction, error) {
	sites := []string{siteID}
	if siteID == "" {
		var err error
		sites, err = application.Actions.ListSites(c.Context)
		if err != nil {
			return nil, fmt.Errorf("error listing sites: %w", err)
		}
	}

	var actions []*offline.PendingAction
	for _, site := range sites {
		siteActions, err := application.Actions.ListAllPending(c.Context, site)
		if err != nil {
			return nil, fmt.Errorf("error listing pending actions of %s: %w", site, err)
		}
		actions = append(actions, siteActions...)
	}
	return actions, nil
}

func printActions(actions []*offline.PendingAction) {
	rows := make([][]string, 0, len(actions))
	for _, a := range actions {
		rows = append(rows, []string{
			a.ID,
			a.SiteID,
			a.Component,
			fmt.Sprintf("%d", a.EntityID),
			fmt.Sprintf("%d", a.UserID),
			fmt.Sprintf("%d", a.AttemptNumber),
			fmt.Sprintf("%d", len(a.Partials)),
			utils.FormatBool(a.Finished),
			utils.FormatTime(a.ModifiedAt),
		})
	}
	utils.PrintTable(
		[]string{"ID", "Site", "Component", "Entity", "User", "Attempt", "Partials", "Finished", "Modified"},
		rows,
		utils.TableOptions{Title: "Pending actions", EmptyMessage: "Nothing waiting to be synced."},
	)
}
