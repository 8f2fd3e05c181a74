// Package network tracks whether the device can reach its site.
package network

import (
	"sync"

	"github.com/tildaslashalef/offsync/internal/events"
	"github.com/tildaslashalef/offsync/internal/loggy"
)

// Status is the connectivity of the device at one point in time
type Status struct {
	Online  bool
	Metered bool
}

// Change is published when the status changes
type Change struct {
	Previous Status
	Current  Status
}

// Reconnected reports an offline to online transition
func (c Change) Reconnected() bool {
	return !c.Previous.Online && c.Current.Online
}

// Monitor holds the current connectivity and notifies transitions
type Monitor struct {
	mu      sync.RWMutex
	status  Status
	changes *events.Bus[Change]
	logger  *loggy.Logger
}

// NewMonitor creates a monitor starting at initial
func NewMonitor(initial Status, logger *loggy.Logger) *Monitor {
	return &Monitor{
		status:  initial,
		changes: events.NewBus[Change](),
		logger:  logger,
	}
}

// Status returns the current status
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsOnline reports whether the site is reachable
func (m *Monitor) IsOnline() bool {
	return m.Status().Online
}

// IsMetered reports whether the current link is metered
func (m *Monitor) IsMetered() bool {
	return m.Status().Metered
}

// SetStatus records a new status. Subscribers are notified only when it differs
// from the previous one.
func (m *Monitor) SetStatus(online, metered bool) {
	next := Status{Online: online, Metered: metered}

	m.mu.Lock()
	prev := m.status
	m.status = next
	m.mu.Unlock()

	if prev == next {
		return
	}

	m.logger.Info("Connectivity changed",
		"online", next.Online,
		"metered", next.Metered,
		"was_online", prev.Online)
	m.changes.Publish(Change{Previous: prev, Current: next})
}

// OnChange calls fn on every status change. The returned func unsubscribes.
func (m *Monitor) OnChange(fn func(Change)) func() {
	return m.changes.Subscribe(fn).Unsubscribe
}

// OnReconnect calls fn whenever the device goes from offline to online
func (m *Monitor) OnReconnect(fn func()) func() {
	return m.OnChange(func(c Change) {
		if c.Reconnected() {
			fn()
		}
	})
}
