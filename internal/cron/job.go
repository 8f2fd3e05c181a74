// Package cron runs registered jobs periodically, one at a time.
package cron

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnknownJob is returned for a job name that was never registered
	ErrUnknownJob = errors.New("unknown cron job")

	// ErrDuplicateJob is returned when a job name is registered twice
	ErrDuplicateJob = errors.New("cron job already registered")

	// ErrOffline is returned when a network job is run without connectivity
	ErrOffline = errors.New("cannot run network job while offline")

	// ErrMeteredNetwork is returned when a sync job is skipped on a metered link
	ErrMeteredNetwork = errors.New("cannot run sync job on a metered network")

	// ErrNotRunning is returned when a job is forced before Start or after Stop
	ErrNotRunning = errors.New("scheduler is not running")
)

// Job is a unit of periodic work
type Job interface {
	// Name identifies the job. It keys the persisted last execution time.
	Name() string

	// Interval between two runs. Zero uses the scheduler default.
	Interval() time.Duration

	// UsesNetwork reports whether the job needs connectivity
	UsesNetwork() bool

	// IsSync reports whether the job is a sync process, subject to the
	// unmetered-only setting unless forced
	IsSync() bool

	// Execute runs the job. An empty siteID means every site.
	Execute(ctx context.Context, siteID string, force bool) error
}

// ManualSyncer is implemented by jobs that decide whether a manual
// "sync everything" includes them. Jobs without it are included when IsSync.
type ManualSyncer interface {
	CanManualSync() bool
}

// Probe reports connectivity
type Probe interface {
	IsOnline() bool
	IsMetered() bool
}

// reconnectNotifier is implemented by probes that can announce a reconnection
type reconnectNotifier interface {
	OnReconnect(fn func()) func()
}

func canManualSync(job Job) bool {
	if m, ok := job.(ManualSyncer); ok {
		return m.CanManualSync()
	}
	return job.IsSync()
}
