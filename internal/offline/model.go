// Package offline stores user actions recorded while the device had no
// connectivity until they can be replayed against the remote site.
package offline

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrInvalidAction is returned when an action is missing its identity fields
	ErrInvalidAction = errors.New("invalid pending action")
)

// Payload is an entity specific set of field values
type Payload map[string]any

// PartialWrite is an intermediate write that must reach the server before the
// terminal one, such as a single page or question answer.
type PartialWrite struct {
	Key          string    `json:"key"`                     // Sub-record the write belongs to (page id, question slot)
	ReconcileKey string    `json:"reconcile_key,omitempty"` // Sub-record version observed offline
	Payload      Payload   `json:"payload"`
	ModifiedAt   time.Time `json:"modified_at"`
}

// PendingAction is one unsynchronized user operation against one entity.
//
// Identity is (SiteID, Component, EntityID, UserID, AttemptNumber). Submission
// style entities leave AttemptNumber at zero.
type PendingAction struct {
	ID            string
	SiteID        string
	Component     string
	EntityID      int64
	UserID        int64
	AttemptNumber int
	ReconcileKey  string // Remote version the action was built against
	Partials      []PartialWrite
	Payload       Payload // Terminal write payload
	Finished      bool    // Whether the terminal write should be sent
	CreatedAt     time.Time
	ModifiedAt    time.Time
}

// IsDangling reports whether the action carries nothing to send: an attempt
// that was started offline but neither answered nor finished.
func (a *PendingAction) IsDangling() bool {
	return !a.Finished && len(a.Partials) == 0 && len(a.Payload) == 0
}

// SortedPartials returns the partial writes oldest first
func (a *PendingAction) SortedPartials() []PartialWrite {
	out := append([]PartialWrite(nil), a.Partials...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ModifiedAt.Before(out[j].ModifiedAt)
	})
	return out
}

// RemovePartial drops the partial write with the given key
func (a *PendingAction) RemovePartial(key string) {
	kept := a.Partials[:0]
	for _, p := range a.Partials {
		if p.Key != key {
			kept = append(kept, p)
		}
	}
	a.Partials = kept
}

// SetPartial adds or replaces the partial write for p.Key
func (a *PendingAction) SetPartial(p PartialWrite) {
	for i := range a.Partials {
		if a.Partials[i].Key == p.Key {
			a.Partials[i] = p
			return
		}
	}
	a.Partials = append(a.Partials, p)
}

func (a *PendingAction) validate() error {
	switch {
	case a == nil:
		return ErrInvalidAction
	case a.SiteID == "":
		return fmt.Errorf("%w: site id is required", ErrInvalidAction)
	case a.Component == "":
		return fmt.Errorf("%w: component is required", ErrInvalidAction)
	case a.EntityID <= 0:
		return fmt.Errorf("%w: entity id must be positive", ErrInvalidAction)
	case a.AttemptNumber < 0:
		return fmt.Errorf("%w: attempt number cannot be negative", ErrInvalidAction)
	}
	return nil
}

// SortByModified orders actions oldest first
func SortByModified(actions []*PendingAction) {
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].ModifiedAt.Before(actions[j].ModifiedAt)
	})
}
