package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/tildaslashalef/offsync/internal/loggy"
	"github.com/tildaslashalef/offsync/internal/offline"
)

// Probe reports connectivity
type Probe interface {
	IsOnline() bool
	IsMetered() bool
}

// Reconciler replays the stored actions of one entity against the site
type Reconciler struct {
	store  offline.Repository
	blocks *BlockRegistry
	probe  Probe
	logger *loggy.Logger
}

// NewReconciler creates a reconciler
func NewReconciler(store offline.Repository, blocks *BlockRegistry, probe Probe, logger *loggy.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		blocks: blocks,
		probe:  probe,
		logger: logger,
	}
}

// Reconcile syncs the entity identified by key through h.
//
// The returned result is never nil. When err is non nil the result holds the
// work completed before the failure.
func (r *Reconciler) Reconcile(ctx context.Context, h Handler, key EntityKey) (*Result, error) {
	result := &Result{}
	logger := loggy.FromContext(ctx).With("component", key.Component, "entity_id", key.EntityID, "site_id", key.SiteID)

	actions, err := h.FetchPendingActions(ctx, key.SiteID, key.EntityID)
	if err != nil {
		return result, fmt.Errorf("fetching pending actions of %s: %w", key, err)
	}
	if len(actions) == 0 {
		logger.Debug("Nothing to sync")
		return result, nil
	}

	if !r.probe.IsOnline() {
		return result, ErrOffline
	}
	if r.blocks.IsBlocked(key) {
		return result, r.blocks.blockedError(key)
	}

	live := actions[:0:0]
	for _, action := range actions {
		if !action.IsDangling() {
			live = append(live, action)
			continue
		}
		if err := r.store.DeleteByID(ctx, action.ID); err != nil {
			logger.Warn("Failed to delete empty action", "id", action.ID, "error", err)
			continue
		}
		logger.Debug("Deleted empty action", "id", action.ID, "attempt", action.AttemptNumber)
	}
	if len(live) == 0 {
		return result, nil
	}
	offline.SortByModified(live)

	defer func() {
		if !result.Updated {
			return
		}
		if err := h.Invalidate(ctx, key.SiteID, key.EntityID); err != nil {
			logger.Warn("Failed to invalidate cached data", "error", err)
		}
	}()

	for _, action := range live {
		if r.blocks.IsBlocked(key) {
			return result, r.blocks.blockedError(key)
		}

		name, err := r.replay(ctx, h, key, action, result, logger)
		var fetchErr *remoteStateError
		switch {
		case err == nil:
		case errors.As(err, &fetchErr):
			logger.Info("Could not read remote state, offline data kept", "id", action.ID, "error", fetchErr.err)
			return result, asTransport(fetchErr.err)
		case errors.Is(err, ErrServerRejected):
			logger.Warn("Site rejected offline data, discarding it", "id", action.ID, "error", err)
			if derr := r.discard(ctx, action); derr != nil {
				return result, derr
			}
			result.addWarning(r.warning(key, name, rejectionReason(err)))
		default:
			logger.Info("Sync aborted, offline data kept for a later attempt", "id", action.ID, "error", err)
			return result, asTransport(err)
		}
	}

	return result, nil
}

// replay sends the writes of one action and deletes it. The returned name is
// the display name of the entity, empty when the remote state was not fetched.
func (r *Reconciler) replay(ctx context.Context, h Handler, key EntityKey, stored *offline.PendingAction, result *Result, logger *loggy.Logger) (string, error) {
	remote, err := h.FetchRemoteState(ctx, key.SiteID, stored)
	if err != nil {
		return "", &remoteStateError{err: fmt.Errorf("fetching remote state of %s: %w", key, err)}
	}
	name := remote.Name

	if remote.Gone {
		logger.Info("Entity removed from the site, discarding offline data", "id", stored.ID)
		if err := r.discard(ctx, stored); err != nil {
			return name, err
		}
		result.addWarning(r.warning(key, name, "the activity no longer exists on the site, offline data was discarded"))
		return name, nil
	}

	if local := h.ReconciliationKeyOf(stored); local != "" && remote.Key != "" && local != remote.Key {
		conflict := &ConflictError{LocalKey: local, RemoteKey: remote.Key}
		logger.Info("Offline data is stale, discarding it", "id", stored.ID, "error", conflict)
		if err := r.discard(ctx, stored); err != nil {
			return name, err
		}
		result.addWarning(r.warning(key, name, conflict.Error()+", offline data was discarded"))
		return name, nil
	}

	partials, dropped := splitStalePartials(stored, remote.SubKeys)
	if len(dropped) > 0 {
		keys := make([]string, 0, len(dropped))
		for _, p := range dropped {
			stored.RemovePartial(p.Key)
			keys = append(keys, p.Key)
		}
		if err := r.store.RemovePartials(ctx, stored.ID, keys...); err != nil {
			return name, fmt.Errorf("dropping stale answers of %s: %w", stored.ID, err)
		}
		result.addWarning(r.warning(key, name,
			fmt.Sprintf("%d offline change(s) were made on the site too and were discarded", len(dropped))))
	}

	for _, p := range partials {
		if err := h.WritePartial(ctx, key.SiteID, stored, p); err != nil {
			return name, err
		}
		result.Updated = true

		stored.RemovePartial(p.Key)
		if err := r.store.RemovePartials(ctx, stored.ID, p.Key); err != nil {
			return name, fmt.Errorf("saving progress of %s: %w", stored.ID, err)
		}
	}

	if stored.Finished {
		if err := h.WriteTerminal(ctx, key.SiteID, stored); err != nil {
			return name, err
		}
		result.Updated = true
	}

	resaved, err := r.savedSince(ctx, h, key, stored)
	if err != nil {
		return name, err
	}
	if resaved {
		logger.Info("Offline action changed while syncing, kept for the next sync", "id", stored.ID)
		return name, nil
	}
	if err := r.store.DeleteByID(ctx, stored.ID); err != nil {
		return name, fmt.Errorf("deleting synced action %s: %w", stored.ID, err)
	}
	logger.Debug("Offline action synced", "id", stored.ID, "partials", len(partials), "finished", stored.Finished)
	return name, nil
}

// savedSince reports whether the action was saved again after the copy being replayed was read
func (r *Reconciler) savedSince(ctx context.Context, h Handler, key EntityKey, stored *offline.PendingAction) (bool, error) {
	current, err := h.FetchPendingActions(ctx, key.SiteID, key.EntityID)
	if err != nil {
		return false, fmt.Errorf("re-reading pending actions of %s: %w", key, err)
	}
	for _, a := range current {
		if a.ID == stored.ID {
			return !a.ModifiedAt.Equal(stored.ModifiedAt), nil
		}
	}
	return false, nil
}

// remoteStateError aborts the entity whatever the cause: nothing can be
// validated without the remote state
type remoteStateError struct {
	err error
}

func (e *remoteStateError) Error() string { return e.err.Error() }

func (e *remoteStateError) Unwrap() error { return e.err }

// splitStalePartials separates the partial writes still matching the site
// from those whose sub-record moved on. Both are returned oldest first.
func splitStalePartials(action *offline.PendingAction, subKeys map[string]string) (keep, stale []offline.PartialWrite) {
	for _, p := range action.SortedPartials() {
		if current, ok := subKeys[p.Key]; ok && p.ReconcileKey != "" && current != p.ReconcileKey {
			stale = append(stale, p)
			continue
		}
		keep = append(keep, p)
	}
	return keep, stale
}

func (r *Reconciler) discard(ctx context.Context, action *offline.PendingAction) error {
	if err := r.store.DeleteByID(ctx, action.ID); err != nil {
		return fmt.Errorf("discarding action %s: %w", action.ID, err)
	}
	return nil
}

func (r *Reconciler) warning(key EntityKey, name, reason string) Warning {
	return Warning{Component: key.Component, EntityID: key.EntityID, Name: name, Reason: reason}
}

func rejectionReason(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return "the site rejected the offline data: " + apiErr.Message
	}
	return "the site rejected the offline data"
}

// asTransport keeps classified errors and marks anything else as a transport
// failure so the caller retries later
func asTransport(err error) error {
	if errors.Is(err, ErrTransport) || errors.Is(err, ErrServerRejected) || errors.Is(err, ErrOffline) || errors.Is(err, ErrSyncBlocked) {
		return err
	}
	return &TransportError{Op: "sync", Err: err}
}
