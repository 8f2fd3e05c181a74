package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tildaslashalef/offsync/internal/app"
	"github.com/tildaslashalef/offsync/internal/loggy"
	"github.com/tildaslashalef/offsync/internal/network"
	syncpkg "github.com/tildaslashalef/offsync/internal/sync"
	"github.com/tildaslashalef/offsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// DaemonCommand returns the CLI command that keeps syncing in the background
func DaemonCommand() *cli.Command {
	return &cli.Command{
		Name:  "daemon",
		Usage: "Sync periodically until interrupted",
		Description: "Runs the connectivity checker and the periodic sync jobs. Jobs that need the " +
			"network stop while offline and restart on reconnection. Stop with Ctrl+C.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "sync-now",
				Usage: "Run every sync job once right after starting",
				Value: true,
			},
		},
		Action: daemonAction,
	}
}

func daemonAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	unwatch := application.Network.OnChange(func(change network.Change) {
		if change.Current.Online {
			utils.PrintInfo("Network is back online")
		} else {
			utils.PrintWarning("Network lost, syncing paused")
		}
	})
	defer unwatch()

	sub := application.Sync.Subscribe(func(e syncpkg.SyncedEvent) {
		utils.PrintSuccess(fmt.Sprintf("%s %d synced on %s", e.Component, e.EntityID, e.SiteID))
		for _, w := range e.Warnings {
			utils.PrintWarning(w.String())
		}
	})
	defer sub.Unsubscribe()

	// The first probe must land before jobs start so they see the real status
	application.CheckConnectivity(ctx)
	application.Checker.Start(ctx)
	application.Cron.Start(ctx)

	utils.PrintHeading("offsync daemon running")
	for _, job := range application.Cron.Status() {
		utils.PrintKeyValue(job.Name, "next run "+utils.FormatTime(job.NextRun))
	}

	if c.Bool("sync-now") {
		go forceSync(ctx, application)
	}

	<-ctx.Done()
	utils.PrintInfo("Stopping daemon")
	return nil
}

func forceSync(ctx context.Context, application *app.App) {
	if !application.Network.IsOnline() {
		return
	}
	if err := application.Cron.ForceSyncExecution(ctx, ""); err != nil && ctx.Err() == nil {
		loggy.Warn("Initial sync failed", "error", err)
		utils.PrintWarning(fmt.Sprintf("Initial sync failed: %s", err))
	}
}
