package sync

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/tildaslashalef/offsync/internal/offline"
)

// memStore is an in-memory offline.Repository
type memStore struct {
	mu      sync.Mutex
	nextID  int
	actions map[string]*offline.PendingAction
	userID  int64
}

func newMemStore() *memStore {
	return &memStore{actions: make(map[string]*offline.PendingAction), userID: 7}
}

func cloneAction(a *offline.PendingAction) *offline.PendingAction {
	c := *a
	c.Partials = append([]offline.PartialWrite(nil), a.Partials...)
	if a.Payload != nil {
		c.Payload = offline.Payload{}
		for k, v := range a.Payload {
			c.Payload[k] = v
		}
	}
	return &c
}

func sameIdentity(a, b *offline.PendingAction) bool {
	return a.SiteID == b.SiteID && a.Component == b.Component && a.EntityID == b.EntityID &&
		a.UserID == b.UserID && a.AttemptNumber == b.AttemptNumber
}

func (m *memStore) Save(_ context.Context, action *offline.PendingAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if action.UserID == 0 {
		action.UserID = m.userID
	}
	for id, existing := range m.actions {
		if sameIdentity(existing, action) {
			action.ID = id
		}
	}
	if action.ID == "" {
		m.nextID++
		action.ID = "act-" + string(rune('a'+m.nextID-1))
	}
	if action.ModifiedAt.IsZero() {
		action.ModifiedAt = time.Now()
	}
	m.actions[action.ID] = cloneAction(action)
	return nil
}

func (m *memStore) find(match func(*offline.PendingAction) bool) *offline.PendingAction {
	for _, a := range m.actions {
		if match(a) {
			return cloneAction(a)
		}
	}
	return nil
}

func (m *memStore) Get(_ context.Context, siteID, component string, entityID, userID int64) (*offline.PendingAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if userID == 0 {
		userID = m.userID
	}
	return m.find(func(a *offline.PendingAction) bool {
		return a.SiteID == siteID && a.Component == component && a.EntityID == entityID && a.UserID == userID && a.AttemptNumber == 0
	}), nil
}

func (m *memStore) GetByAttempt(_ context.Context, siteID, component string, entityID int64, attempt int) (*offline.PendingAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(func(a *offline.PendingAction) bool {
		return a.SiteID == siteID && a.Component == component && a.EntityID == entityID && a.AttemptNumber == attempt
	}), nil
}

func (m *memStore) list(match func(*offline.PendingAction) bool) []*offline.PendingAction {
	var out []*offline.PendingAction
	for _, a := range m.actions {
		if match(a) {
			out = append(out, cloneAction(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ModifiedAt.Equal(out[j].ModifiedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ModifiedAt.Before(out[j].ModifiedAt)
	})
	return out
}

func (m *memStore) ListByEntity(_ context.Context, siteID, component string, entityID int64) ([]*offline.PendingAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(a *offline.PendingAction) bool {
		return a.SiteID == siteID && a.Component == component && a.EntityID == entityID
	}), nil
}

func (m *memStore) ListAllPending(_ context.Context, siteID string) ([]*offline.PendingAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(func(a *offline.PendingAction) bool { return a.SiteID == siteID }), nil
}

func (m *memStore) ListSites(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var sites []string
	for _, a := range m.actions {
		if !seen[a.SiteID] {
			seen[a.SiteID] = true
			sites = append(sites, a.SiteID)
		}
	}
	sort.Strings(sites)
	return sites, nil
}

func (m *memStore) deleteWhere(match func(*offline.PendingAction) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, a := range m.actions {
		if match(a) {
			delete(m.actions, id)
		}
	}
}

func (m *memStore) Delete(_ context.Context, siteID, component string, entityID, userID int64) error {
	m.deleteWhere(func(a *offline.PendingAction) bool {
		return a.SiteID == siteID && a.Component == component && a.EntityID == entityID && a.UserID == userID && a.AttemptNumber == 0
	})
	return nil
}

func (m *memStore) DeleteAttempt(_ context.Context, siteID, component string, entityID int64, attempt int) error {
	m.deleteWhere(func(a *offline.PendingAction) bool {
		return a.SiteID == siteID && a.Component == component && a.EntityID == entityID && a.AttemptNumber == attempt
	})
	return nil
}

func (m *memStore) DeleteByID(_ context.Context, id string) error {
	m.deleteWhere(func(a *offline.PendingAction) bool { return a.ID == id })
	return nil
}

func (m *memStore) RemovePartials(_ context.Context, id string, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.actions[id]
	if !ok {
		return nil
	}
	for _, k := range keys {
		a.RemovePartial(k)
	}
	return nil
}

func (m *memStore) HasPendingData(_ context.Context, siteID, component string, entityID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.find(func(a *offline.PendingAction) bool {
		return a.SiteID == siteID && a.Component == component && a.EntityID == entityID
	}) != nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.actions)
}

// memRepo is an in-memory Repository
type memRepo struct {
	mu        sync.Mutex
	syncTimes map[EntityKey]time.Time
	warnings  map[string][]Warning
	logs      []*SyncLog

	// afterGetSyncTime runs once the lock is released, mimicking work done between two reads
	afterGetSyncTime func(key EntityKey)
}

func newMemRepo() *memRepo {
	return &memRepo{syncTimes: map[EntityKey]time.Time{}, warnings: map[string][]Warning{}}
}

func (r *memRepo) GetSyncTime(_ context.Context, key EntityKey) (time.Time, error) {
	r.mu.Lock()
	t := r.syncTimes[key]
	hook := r.afterGetSyncTime
	r.mu.Unlock()

	if hook != nil {
		hook(key)
	}
	return t, nil
}

func (r *memRepo) SetSyncTime(_ context.Context, key EntityKey, t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncTimes[key] = t
	return nil
}

func (r *memRepo) AddWarnings(_ context.Context, siteID string, warnings []Warning) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings[siteID] = append(r.warnings[siteID], warnings...)
	return nil
}

func (r *memRepo) TakeWarnings(_ context.Context, key EntityKey) ([]Warning, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var taken, kept []Warning
	for _, w := range r.warnings[key.SiteID] {
		if w.Component == key.Component && w.EntityID == key.EntityID {
			taken = append(taken, w)
		} else {
			kept = append(kept, w)
		}
	}
	r.warnings[key.SiteID] = kept
	return taken, nil
}

func (r *memRepo) ListWarnings(_ context.Context, siteID string) ([]*WarningRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*WarningRecord
	for _, w := range r.warnings[siteID] {
		out = append(out, &WarningRecord{SiteID: siteID, Warning: w})
	}
	return out, nil
}

func (r *memRepo) CreateSyncLog(_ context.Context, log *SyncLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

func (r *memRepo) GetSyncLogs(_ context.Context, siteID string, limit int) ([]*SyncLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logs, nil
}

func (r *memRepo) syncTime(key EntityKey) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncTimes[key]
}

// staticProbe is a settable connectivity probe
type staticProbe struct {
	online  atomic.Bool
	metered atomic.Bool
}

func newProbe(online bool) *staticProbe {
	p := &staticProbe{}
	p.online.Store(online)
	return p
}

func (p *staticProbe) IsOnline() bool  { return p.online.Load() }
func (p *staticProbe) IsMetered() bool { return p.metered.Load() }

// MockHandler is a mock Handler reading pending actions from a memStore
type MockHandler struct {
	mock.Mock
	component string
	store     *memStore
}

func newMockHandler(component string, store *memStore) *MockHandler {
	return &MockHandler{component: component, store: store}
}

func (m *MockHandler) Component() string { return m.component }

func (m *MockHandler) FetchPendingActions(ctx context.Context, siteID string, entityID int64) ([]*offline.PendingAction, error) {
	return m.store.ListByEntity(ctx, siteID, m.component, entityID)
}

func (m *MockHandler) ReconciliationKeyOf(action *offline.PendingAction) string {
	return action.ReconcileKey
}

func (m *MockHandler) FetchRemoteState(ctx context.Context, siteID string, action *offline.PendingAction) (*RemoteState, error) {
	args := m.Called(ctx, siteID, action.EntityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RemoteState), args.Error(1)
}

func (m *MockHandler) WritePartial(ctx context.Context, siteID string, action *offline.PendingAction, partial offline.PartialWrite) error {
	args := m.Called(ctx, siteID, action.EntityID, partial.Key)
	return args.Error(0)
}

func (m *MockHandler) WriteTerminal(ctx context.Context, siteID string, action *offline.PendingAction) error {
	args := m.Called(ctx, siteID, action.EntityID)
	return args.Error(0)
}

func (m *MockHandler) Invalidate(ctx context.Context, siteID string, entityID int64) error {
	args := m.Called(ctx, siteID, entityID)
	return args.Error(0)
}

// writeTrace returns the write calls in the order they were made
func (m *MockHandler) writeTrace() []string {
	var trace []string
	for _, c := range m.Calls {
		switch c.Method {
		case "WritePartial":
			trace = append(trace, "partial:"+c.Arguments.String(3))
		case "WriteTerminal":
			trace = append(trace, "terminal")
		}
	}
	return trace
}
