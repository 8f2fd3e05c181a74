// Package lesson syncs lesson retakes answered offline.
//
// An action is one retake; its key is the number of retakes the site had
// counted when it started. Partial writes are answered pages keyed by page
// ID, sent in the order they were answered. The terminal write finishes the
// retake.
package lesson

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tildaslashalef/offsync/internal/mod"
	"github.com/tildaslashalef/offsync/internal/offline"
	syncpkg "github.com/tildaslashalef/offsync/internal/sync"
)

const (
	// ModName is the activity module name
	ModName = "lesson"
	// Component is the tag the handler is registered under
	Component = "mod_" + ModName
)

// Handler syncs lesson retakes
type Handler struct {
	mod.Base
}

var _ syncpkg.Handler = (*Handler)(nil)

// New creates the lesson handler
func New(store offline.Repository, sites *syncpkg.Sites) *Handler {
	return &Handler{Base: mod.NewBase(ModName, store, sites)}
}

type accessInformation struct {
	AttemptsCount int64 `json:"attemptscount"`
	LastPageSeen  int64 `json:"lastpageseen"`
}

// FetchRemoteState reads the current retake count of the lesson
func (h *Handler) FetchRemoteState(ctx context.Context, siteID string, action *offline.PendingAction) (*syncpkg.RemoteState, error) {
	state, err := h.Describe(ctx, siteID, action.EntityID)
	if err != nil || state.Gone {
		return state, err
	}

	client, err := h.Client(siteID)
	if err != nil {
		return nil, err
	}

	var info accessInformation
	params := map[string]any{"lessonid": action.EntityID}
	if err := client.ReadFresh(ctx, "mod_lesson_get_lesson_access_information", params, h.Tag(action.EntityID), &info); err != nil {
		return nil, fmt.Errorf("getting access information of lesson %d: %w", action.EntityID, err)
	}

	state.Key = strconv.FormatInt(info.AttemptsCount, 10)
	return state, nil
}

// WritePartial sends one answered page
func (h *Handler) WritePartial(ctx context.Context, siteID string, action *offline.PendingAction, partial offline.PartialWrite) error {
	pageID, err := strconv.ParseInt(partial.Key, 10, 64)
	if err != nil {
		return mod.Invalid("invalid lesson page %q", partial.Key)
	}

	client, err := h.Client(siteID)
	if err != nil {
		return err
	}

	params := h.params(action)
	params["pageid"] = pageID
	params["data"] = mod.FormData(partial.Payload)

	var resp struct {
		NewPageID int64           `json:"newpageid"`
		Warnings  []mod.WSWarning `json:"warnings"`
	}
	if err := client.Write(ctx, "mod_lesson_process_page", params, &resp); err != nil {
		return fmt.Errorf("processing page %d: %w", pageID, err)
	}
	return mod.Rejected(resp.Warnings)
}

// WriteTerminal finishes the retake
func (h *Handler) WriteTerminal(ctx context.Context, siteID string, action *offline.PendingAction) error {
	client, err := h.Client(siteID)
	if err != nil {
		return err
	}

	params := h.params(action)
	params["outoftime"] = mod.Bool(action.Payload, "outoftime")
	params["review"] = false

	var resp struct {
		Data     []map[string]any `json:"data"`
		Warnings []mod.WSWarning  `json:"warnings"`
	}
	if err := client.Write(ctx, "mod_lesson_finish_attempt", params, &resp); err != nil {
		return fmt.Errorf("finishing retake: %w", err)
	}
	return mod.Rejected(resp.Warnings)
}

func (h *Handler) params(action *offline.PendingAction) map[string]any {
	params := map[string]any{"lessonid": action.EntityID}
	if password, ok := action.Payload["password"].(string); ok && password != "" {
		params["password"] = password
	}
	return params
}
