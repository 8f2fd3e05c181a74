package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tildaslashalef/offsync/internal/config"
	"github.com/tildaslashalef/offsync/internal/events"
	"github.com/tildaslashalef/offsync/internal/loggy"
	"github.com/tildaslashalef/offsync/internal/offline"
	"golang.org/x/sync/errgroup"
)

// Service orchestrates syncs across entities and sites
type Service struct {
	config     config.SyncConfig
	store      offline.Repository
	repo       Repository
	probe      Probe
	locks      *LockRegistry
	blocks     *BlockRegistry
	reconciler *Reconciler
	events     *events.Bus[SyncedEvent]
	logger     *loggy.Logger
	now        func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewService creates a new sync service
func NewService(cfg config.SyncConfig, store offline.Repository, repo Repository, probe Probe, logger *loggy.Logger) *Service {
	blocks := NewBlockRegistry()
	return &Service{
		config:     cfg,
		store:      store,
		repo:       repo,
		probe:      probe,
		locks:      NewLockRegistry(),
		blocks:     blocks,
		reconciler: NewReconciler(store, blocks, probe, logger),
		events:     events.NewBus[SyncedEvent](),
		logger:     logger,
		now:        time.Now,
		handlers:   make(map[string]Handler),
	}
}

// Register adds the handler of an entity kind
func (s *Service) Register(h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	component := h.Component()
	if component == "" {
		return errors.New("handler component cannot be empty")
	}
	if _, ok := s.handlers[component]; ok {
		return fmt.Errorf("handler for %s already registered", component)
	}
	s.handlers[component] = h
	s.logger.Debug("Registered sync handler", "component", component)
	return nil
}

// Handler returns the handler registered for component
func (s *Service) Handler(component string) (Handler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.handlers[component]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownComponent, component)
	}
	return h, nil
}

// Components returns the registered component tags, sorted
func (s *Service) Components() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	components := make([]string, 0, len(s.handlers))
	for c := range s.handlers {
		components = append(components, c)
	}
	sort.Strings(components)
	return components
}

// Events returns the bus SyncedEvent values are published on
func (s *Service) Events() *events.Bus[SyncedEvent] {
	return s.events
}

// Subscribe registers fn for SyncedEvent values
func (s *Service) Subscribe(fn func(SyncedEvent)) *events.Subscription {
	return s.events.Subscribe(fn)
}

// HasDataToSync reports whether an entity has stored actions
func (s *Service) HasDataToSync(ctx context.Context, siteID, component string, entityID int64) bool {
	return s.store.HasPendingData(ctx, siteID, component, entityID)
}

// IsSyncNeeded reports whether the minimum interval elapsed since the last sync of an entity
func (s *Service) IsSyncNeeded(ctx context.Context, siteID, component string, entityID int64) (bool, error) {
	last, err := s.repo.GetSyncTime(ctx, EntityKey{SiteID: siteID, Component: component, EntityID: entityID})
	if err != nil {
		return false, fmt.Errorf("getting last sync time: %w", err)
	}
	if last.IsZero() {
		return true, nil
	}
	return s.now().Sub(last) >= s.config.MinInterval, nil
}

// SyncIfNeeded syncs an entity unless it synced within the minimum interval,
// in which case it returns nil, nil
func (s *Service) SyncIfNeeded(ctx context.Context, siteID, component string, entityID int64) (*Result, error) {
	needed, err := s.IsSyncNeeded(ctx, siteID, component, entityID)
	if err != nil {
		return nil, err
	}
	if !needed {
		return nil, nil
	}
	return s.syncEntity(ctx, EntityKey{SiteID: siteID, Component: component, EntityID: entityID}, false)
}

// ForceSync syncs an entity regardless of when it last synced
func (s *Service) ForceSync(ctx context.Context, siteID, component string, entityID int64) (*Result, error) {
	return s.syncEntity(ctx, EntityKey{SiteID: siteID, Component: component, EntityID: entityID}, true)
}

// SyncAll syncs every entity with stored actions. An empty siteID covers every site.
func (s *Service) SyncAll(ctx context.Context, siteID string, force bool) (*Summary, error) {
	return s.syncPass(ctx, siteID, "", force)
}

// SyncComponent syncs every entity of one kind with stored actions
func (s *Service) SyncComponent(ctx context.Context, component, siteID string, force bool) (*Summary, error) {
	if _, err := s.Handler(component); err != nil {
		return nil, err
	}
	return s.syncPass(ctx, siteID, component, force)
}

func (s *Service) syncPass(ctx context.Context, siteID, component string, force bool) (*Summary, error) {
	if !s.probe.IsOnline() {
		return nil, ErrOffline
	}
	if !force && s.config.OnlyOnUnmeteredNetwork && s.probe.IsMetered() {
		return nil, ErrMeteredNetwork
	}

	keys, err := s.pendingKeys(ctx, siteID, component)
	if err != nil {
		return nil, err
	}

	ctx = loggy.WithSyncID(loggy.WithLogger(ctx, s.logger))
	logger := loggy.FromContext(ctx)
	logger.Info("Starting sync pass", "entities", len(keys), "site_id", siteID, "component", component, "forced", force)

	summary := &Summary{Results: make([]EntityResult, len(keys))}

	var g errgroup.Group
	g.SetLimit(max(s.config.Concurrency, 1))
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			summary.Results[i] = s.passEntity(ctx, key, force)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range summary.Results {
		if r.Result == nil || !r.Result.Updated {
			continue
		}
		s.events.Publish(SyncedEvent{
			SiteID:    r.Key.SiteID,
			Component: r.Key.Component,
			EntityID:  r.Key.EntityID,
			Updated:   true,
			Warnings:  r.Result.Warnings,
		})
	}

	logger.Info("Sync pass finished",
		"entities", len(keys),
		"updated", len(summary.Updated()),
		"failures", len(summary.Failures()),
		"warnings", len(summary.Warnings()),
	)
	return summary, nil
}

// passEntity syncs one entity within a pass. Failures are returned in the
// result, never propagated, so one entity cannot stop the others.
func (s *Service) passEntity(ctx context.Context, key EntityKey, force bool) EntityResult {
	res := EntityResult{Key: key}

	if !force {
		needed, err := s.IsSyncNeeded(ctx, key.SiteID, key.Component, key.EntityID)
		if err != nil {
			loggy.FromContext(ctx).Warn("Failed to read last sync time, syncing anyway", "entity", key.String(), "error", err)
		} else if !needed {
			res.Skipped = true
			return res
		}
	}

	res.Result, res.Err = s.syncEntity(ctx, key, force)
	if res.Result == nil && res.Err == nil {
		res.Skipped = true
	}
	return res
}

// pendingKeys lists the entities with stored actions, in the order their
// oldest action was recorded
func (s *Service) pendingKeys(ctx context.Context, siteID, component string) ([]EntityKey, error) {
	sites := []string{siteID}
	if siteID == "" {
		var err error
		sites, err = s.store.ListSites(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing sites with pending data: %w", err)
		}
	}

	var keys []EntityKey
	seen := make(map[EntityKey]struct{})
	for _, site := range sites {
		actions, err := s.store.ListAllPending(ctx, site)
		if err != nil {
			return nil, fmt.Errorf("listing pending actions of %s: %w", site, err)
		}
		for _, a := range actions {
			if component != "" && a.Component != component {
				continue
			}
			key := EntityKey{SiteID: a.SiteID, Component: a.Component, EntityID: a.EntityID}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			if _, err := s.Handler(a.Component); err != nil {
				s.logger.Warn("Pending action for unregistered component", "component", a.Component, "entity_id", a.EntityID)
				continue
			}
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// syncEntity checks the block, then runs the attempt through the lock registry.
// An entity with nothing stored is never reported as blocked. Unforced syncs
// check the interval again once they hold the lock and return nil, nil when a
// sync that finished meanwhile already covered them.
func (s *Service) syncEntity(ctx context.Context, key EntityKey, forced bool) (*Result, error) {
	h, err := s.Handler(key.Component)
	if err != nil {
		return nil, err
	}
	if s.blocks.IsBlocked(key) && s.store.HasPendingData(ctx, key.SiteID, key.Component, key.EntityID) {
		return nil, s.blocks.blockedError(key)
	}

	return s.locks.Run(ctx, key, func(ctx context.Context) (*Result, error) {
		if !forced {
			needed, err := s.IsSyncNeeded(ctx, key.SiteID, key.Component, key.EntityID)
			if err != nil {
				s.logger.Warn("Failed to read last sync time, syncing anyway", "entity", key.String(), "error", err)
			} else if !needed {
				return nil, nil
			}
		}
		return s.attempt(ctx, h, key, forced)
	})
}

func (s *Service) attempt(ctx context.Context, h Handler, key EntityKey, forced bool) (*Result, error) {
	if loggy.SyncID(ctx) == "" {
		ctx = loggy.WithSyncID(loggy.WithLogger(ctx, s.logger))
	}
	logger := loggy.FromContext(ctx).With("entity", key.String())

	syncLog := NewSyncLog(key, forced, s.now())
	result, err := s.reconciler.Reconcile(ctx, h, key)

	if result != nil && len(result.Warnings) > 0 {
		if werr := s.repo.AddWarnings(ctx, key.SiteID, result.Warnings); werr != nil {
			logger.Error("Failed to store sync warnings", "error", werr)
		}
	}

	if err != nil {
		syncLog.MarkFailed(result, err, s.now())
		logger.Warn("Sync failed", "error_type", syncLog.ErrorType, "error", err)
	} else {
		if terr := s.repo.SetSyncTime(ctx, key, s.now()); terr != nil {
			logger.Error("Failed to store sync time", "error", terr)
		}
		syncLog.MarkSuccessful(result, s.now())
		logger.Debug("Sync finished", "updated", result.Updated, "warnings", len(result.Warnings))
	}

	if lerr := s.repo.CreateSyncLog(ctx, syncLog); lerr != nil {
		logger.Error("Failed to create sync log", "error", lerr)
	}

	return result, err
}

// Block marks an entity as held by a foreground operation
func (s *Service) Block(siteID, component string, entityID int64, operation string) {
	s.blocks.Block(EntityKey{SiteID: siteID, Component: component, EntityID: entityID}, operation)
}

// Unblock releases the hold of operation on an entity
func (s *Service) Unblock(siteID, component string, entityID int64, operation string) {
	s.blocks.Unblock(EntityKey{SiteID: siteID, Component: component, EntityID: entityID}, operation)
}

// IsBlocked reports whether an entity is held by any operation
func (s *Service) IsBlocked(siteID, component string, entityID int64) bool {
	return s.blocks.IsBlocked(EntityKey{SiteID: siteID, Component: component, EntityID: entityID})
}

// IsSyncing reports whether a sync of an entity is in flight
func (s *Service) IsSyncing(siteID, component string, entityID int64) bool {
	return s.locks.IsSyncing(EntityKey{SiteID: siteID, Component: component, EntityID: entityID})
}

// TakeWarnings returns and forgets the warnings stored for an entity
func (s *Service) TakeWarnings(ctx context.Context, siteID, component string, entityID int64) ([]Warning, error) {
	return s.repo.TakeWarnings(ctx, EntityKey{SiteID: siteID, Component: component, EntityID: entityID})
}

// ListWarnings returns the stored warnings of a site
func (s *Service) ListWarnings(ctx context.Context, siteID string) ([]*WarningRecord, error) {
	return s.repo.ListWarnings(ctx, siteID)
}

// GetSyncLogs retrieves recent sync logs
func (s *Service) GetSyncLogs(ctx context.Context, siteID string, limit int) ([]*SyncLog, error) {
	return s.repo.GetSyncLogs(ctx, siteID, limit)
}

// Logout forgets in-flight syncs and blocks of the session
func (s *Service) Logout() {
	s.locks.Reset()
	s.blocks.Clear()
	s.logger.Info("Sync session state cleared")
}
