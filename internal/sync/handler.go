package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/tildaslashalef/offsync/internal/offline"
)

// RemoteState is the authoritative state needed to decide whether a local
// action can be replayed
type RemoteState struct {
	Name    string            // Display name used in warnings
	Key     string            // Current reconciliation key, empty when the kind has none
	SubKeys map[string]string // Current version of each sub-record, keyed like PartialWrite.Key
	Gone    bool              // The entity no longer exists on the site
}

// Handler adapts one entity kind to the reconciler. Handlers are registered
// once at startup, keyed by their component tag.
type Handler interface {
	// Component returns the tag the handler is registered under
	Component() string

	// FetchPendingActions returns the actions stored for an entity
	FetchPendingActions(ctx context.Context, siteID string, entityID int64) ([]*offline.PendingAction, error)

	// FetchRemoteState returns the remote state an action is validated against
	FetchRemoteState(ctx context.Context, siteID string, action *offline.PendingAction) (*RemoteState, error)

	// ReconciliationKeyOf returns the remote version an action was recorded against
	ReconciliationKeyOf(action *offline.PendingAction) string

	// WritePartial sends one intermediate write
	WritePartial(ctx context.Context, siteID string, action *offline.PendingAction, partial offline.PartialWrite) error

	// WriteTerminal sends the write that completes the action
	WriteTerminal(ctx context.Context, siteID string, action *offline.PendingAction) error

	// Invalidate drops cached remote data of an entity
	Invalidate(ctx context.Context, siteID string, entityID int64) error
}

// IntervalHandler is implemented by handlers whose periodic sync runs on
// their own interval
type IntervalHandler interface {
	SyncInterval() time.Duration
}

// BaseHandler provides the storage and cache parts of a Handler
type BaseHandler struct {
	component string
	store     offline.Repository
	sites     *Sites
}

// NewBaseHandler creates the shared part of a handler for component
func NewBaseHandler(component string, store offline.Repository, sites *Sites) BaseHandler {
	return BaseHandler{component: component, store: store, sites: sites}
}

// Component returns the tag the handler is registered under
func (b BaseHandler) Component() string {
	return b.component
}

// FetchPendingActions returns every action stored for the entity
func (b BaseHandler) FetchPendingActions(ctx context.Context, siteID string, entityID int64) ([]*offline.PendingAction, error) {
	actions, err := b.store.ListByEntity(ctx, siteID, b.component, entityID)
	if err != nil {
		return nil, fmt.Errorf("listing %s actions: %w", b.component, err)
	}
	return actions, nil
}

// ReconciliationKeyOf returns the key stored with the action
func (b BaseHandler) ReconciliationKeyOf(action *offline.PendingAction) string {
	return action.ReconcileKey
}

// Invalidate drops the cached responses tagged with the entity
func (b BaseHandler) Invalidate(_ context.Context, siteID string, entityID int64) error {
	client, err := b.sites.Client(siteID)
	if err != nil {
		return err
	}
	client.Cache().Invalidate(Tag(b.component, entityID))
	return nil
}

// Client returns the web service client of a site
func (b BaseHandler) Client(siteID string) (*Client, error) {
	return b.sites.Client(siteID)
}

// Store returns the local action log
func (b BaseHandler) Store() offline.Repository {
	return b.store
}

// Tag returns the cache tag of an entity of this kind
func (b BaseHandler) Tag(entityID int64) string {
	return Tag(b.component, entityID)
}
