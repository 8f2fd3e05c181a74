// Package sync reconciles locally stored offline actions with the remote site
package sync

import (
	"fmt"
	"time"
)

// SyncErrorType represents the type of error that stopped a sync attempt
type SyncErrorType string

const (
	// SyncErrorTypeOffline represents an attempt made without connectivity
	SyncErrorTypeOffline SyncErrorType = "offline"
	// SyncErrorTypeBlocked represents an attempt refused because of a block
	SyncErrorTypeBlocked SyncErrorType = "blocked"
	// SyncErrorTypeNetwork represents a transport failure
	SyncErrorTypeNetwork SyncErrorType = "network"
	// SyncErrorTypeServer represents a request the site rejected
	SyncErrorTypeServer SyncErrorType = "server"
	// SyncErrorTypeUnknown represents any other failure
	SyncErrorTypeUnknown SyncErrorType = "unknown"
)

// EntityKey identifies one entity instance on one site
type EntityKey struct {
	SiteID    string
	Component string
	EntityID  int64
}

func (k EntityKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.SiteID, k.Component, k.EntityID)
}

// Warning is a user facing message produced when local data was discarded or altered
type Warning struct {
	Component string `json:"component"`
	EntityID  int64  `json:"entity_id"`
	Name      string `json:"name"`
	Reason    string `json:"reason"`
}

func (w Warning) String() string {
	if w.Name == "" {
		return w.Reason
	}
	return fmt.Sprintf("%s: %s", w.Name, w.Reason)
}

// WarningRecord is a persisted warning
type WarningRecord struct {
	ID        string
	SiteID    string
	Warning   Warning
	CreatedAt time.Time
}

// Result is the outcome of syncing one entity
type Result struct {
	Warnings []Warning
	Updated  bool // At least one remote write was sent successfully
}

// addWarning records one warning per discarded action, even when two
// actions share the same reason
func (r *Result) addWarning(w Warning) {
	r.Warnings = append(r.Warnings, w)
}

// SyncedEvent is published once per entity updated during a pass
type SyncedEvent struct {
	SiteID    string
	Component string
	EntityID  int64
	Updated   bool
	Warnings  []Warning
}

// EntityResult is the outcome of one entity within a pass
type EntityResult struct {
	Key     EntityKey
	Result  *Result
	Err     error
	Skipped bool // Synced recently enough that the pass left it alone
}

// Summary aggregates a pass over several entities
type Summary struct {
	Results []EntityResult
}

// Updated returns the entities that had at least one successful write
func (s *Summary) Updated() []EntityKey {
	var keys []EntityKey
	for _, r := range s.Results {
		if r.Result != nil && r.Result.Updated {
			keys = append(keys, r.Key)
		}
	}
	return keys
}

// Failures returns the entities whose attempt ended in an error
func (s *Summary) Failures() []EntityResult {
	var failed []EntityResult
	for _, r := range s.Results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	return failed
}

// Warnings returns every warning produced during the pass
func (s *Summary) Warnings() []Warning {
	var warnings []Warning
	for _, r := range s.Results {
		if r.Result != nil {
			warnings = append(warnings, r.Result.Warnings...)
		}
	}
	return warnings
}

// Err summarises the failures of the pass, nil when every entity succeeded
func (s *Summary) Err() error {
	failed := s.Failures()
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d entities failed to sync, first %s: %w",
		len(failed), len(s.Results), failed[0].Key, failed[0].Err)
}

// SyncLog represents a log entry for one sync attempt
type SyncLog struct {
	ID           string        `json:"id"`
	SiteID       string        `json:"site_id"`
	Component    string        `json:"component"`
	EntityID     int64         `json:"entity_id"`
	Forced       bool          `json:"forced"`
	Success      bool          `json:"success"`
	Updated      bool          `json:"updated"`
	Warnings     int           `json:"warnings"`
	ErrorType    SyncErrorType `json:"error_type,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at"`
}

// NewSyncLog creates a new sync log entry
func NewSyncLog(key EntityKey, forced bool, startedAt time.Time) *SyncLog {
	return &SyncLog{
		SiteID:      key.SiteID,
		Component:   key.Component,
		EntityID:    key.EntityID,
		Forced:      forced,
		StartedAt:   startedAt,
		CompletedAt: startedAt,
	}
}

// MarkSuccessful marks the sync log as successful
func (l *SyncLog) MarkSuccessful(result *Result, completedAt time.Time) {
	l.Success = true
	if result != nil {
		l.Updated = result.Updated
		l.Warnings = len(result.Warnings)
	}
	l.CompletedAt = completedAt
}

// MarkFailed marks the sync log as failed
func (l *SyncLog) MarkFailed(result *Result, err error, completedAt time.Time) {
	l.Success = false
	if result != nil {
		l.Updated = result.Updated
		l.Warnings = len(result.Warnings)
	}
	l.ErrorType = ClassifyError(err)
	l.ErrorMessage = err.Error()
	l.CompletedAt = completedAt
}

// Duration returns how long the attempt took
func (l *SyncLog) Duration() time.Duration {
	return l.CompletedAt.Sub(l.StartedAt)
}
