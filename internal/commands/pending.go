package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tildaslashalef/offsync/internal/app"
	"github.com/tildaslashalef/offsync/internal/offline"
	"github.com/tildaslashalef/offsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// PendingCommand returns the CLI command that manages stored offline actions
func PendingCommand() *cli.Command {
	return &cli.Command{
		Name:  "pending",
		Usage: "Manage offline actions waiting to be synced",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Record an offline action from a JSON document",
				ArgsUsage: "[file]",
				Description: "Reads the action from file, or stdin when no file or \"-\" is given. " +
					"An action stored under the same site, component, entity, user and attempt is replaced.\n\n" +
					"Example:\n" +
					`  {"component": "mod_quiz", "entity_id": 42, "attempt_number": 2, "finished": true,` + "\n" +
					`   "payload": {"attemptid": 501}, "partials": [{"key": "1", "reconcile_key": "2", "payload": {"q88:1_answer": "3"}}]}`,
				Action: pendingAddAction,
			},
			{
				Name:  "list",
				Usage: "List stored offline actions",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "site", Usage: "Only list this site"},
				},
				Action: func(c *cli.Context) error {
					application, err := app.FromContext(c)
					if err != nil {
						return err
					}
					actions, err := listPending(c, application, c.String("site"))
					if err != nil {
						return err
					}
					printActions(actions)
					return nil
				},
			},
			{
				Name:      "remove",
				Usage:     "Discard a stored offline action without sending it",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					application, err := app.FromContext(c)
					if err != nil {
						return err
					}
					id := c.Args().First()
					if id == "" {
						return fmt.Errorf("action id is required")
					}
					if err := application.Actions.DeleteByID(c.Context, id); err != nil {
						return fmt.Errorf("removing action %s: %w", id, err)
					}
					utils.PrintSuccess("Removed action " + id)
					return nil
				},
			},
		},
	}
}

// actionDocument is the JSON form of an offline action accepted by "pending add"
type actionDocument struct {
	SiteID        string                 `json:"site_id"`
	Component     string                 `json:"component"`
	EntityID      int64                  `json:"entity_id"`
	UserID        int64                  `json:"user_id"`
	AttemptNumber int                    `json:"attempt_number"`
	ReconcileKey  string                 `json:"reconcile_key"`
	Finished      bool                   `json:"finished"`
	Payload       offline.Payload        `json:"payload"`
	Partials      []offline.PartialWrite `json:"partials"`
}

// parseAction decodes an action document. Partials without a modification
// time keep the order they are listed in.
func parseAction(r io.Reader, defaultSite string, now time.Time) (*offline.PendingAction, error) {
	var doc actionDocument
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding action: %w", err)
	}

	if doc.SiteID == "" {
		doc.SiteID = defaultSite
	}
	for i := range doc.Partials {
		if doc.Partials[i].Key == "" {
			return nil, fmt.Errorf("partial %d has no key", i)
		}
		if doc.Partials[i].ModifiedAt.IsZero() {
			doc.Partials[i].ModifiedAt = now.Add(time.Duration(i) * time.Millisecond)
		}
	}

	action := &offline.PendingAction{
		SiteID:        doc.SiteID,
		Component:     doc.Component,
		EntityID:      doc.EntityID,
		UserID:        doc.UserID,
		AttemptNumber: doc.AttemptNumber,
		ReconcileKey:  doc.ReconcileKey,
		Finished:      doc.Finished,
		Payload:       doc.Payload,
	}
	for _, p := range doc.Partials {
		action.SetPartial(p)
	}
	return action, nil
}

func pendingAddAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if path := c.Args().First(); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening action file: %w", err)
		}
		defer f.Close()
		in = f
	}

	action, err := parseAction(in, application.Config.Site.ID, time.Now().UTC())
	if err != nil {
		return err
	}
	if _, err := application.Sync.Handler(action.Component); err != nil {
		return err
	}

	if err := application.Actions.Save(c.Context, action); err != nil {
		utils.PrintError(fmt.Sprintf("Failed to store action: %s", err))
		return err
	}

	utils.PrintSuccess(fmt.Sprintf("Stored %s %d as %s", action.Component, action.EntityID, action.ID))
	return nil
}
