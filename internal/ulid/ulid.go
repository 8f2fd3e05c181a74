// Package ulid generates the prefixed, time-ordered identifiers used as
// primary keys for offline actions, sync passes, warnings and settings.
package ulid

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// PrefixAction marks pending offline actions
	PrefixAction = "act"

	// PrefixSync marks sync passes and sync log rows
	PrefixSync = "sync"

	// PrefixWarning marks persisted reconciliation warnings
	PrefixWarning = "warn"

	// PrefixSetting marks persisted settings
	PrefixSetting = "set"

	// PrefixSeparator is used to separate the prefix from the ULID
	PrefixSeparator = "-"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// ID is a ULID with an optional prefix describing what it identifies
type ID struct {
	ulid.ULID
	prefix string
}

// NewWithTime creates an unprefixed ID for t.
// IDs created within the same millisecond still sort in creation order.
func NewWithTime(t time.Time) ID {
	entropyLock.Lock()
	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	entropyLock.Unlock()
	return ID{ULID: id}
}

// GenerateWithPrefix creates a new ID stamped with the current time
func GenerateWithPrefix(prefix string) ID {
	id := NewWithTime(time.Now())
	id.prefix = prefix
	return id
}

// Parse accepts both plain and prefixed ("act-01AN4Z07BY79KA1307SR9X4MV3") forms
func Parse(s string) (ID, error) {
	prefix, raw, found := strings.Cut(s, PrefixSeparator)
	if !found {
		raw, prefix = s, ""
	}

	parsed, err := ulid.Parse(raw)
	if err != nil {
		return ID{}, fmt.Errorf("invalid ULID %q: %w", s, err)
	}
	return ID{ULID: parsed, prefix: prefix}, nil
}

// Prefix returns the ID's prefix, empty for plain IDs
func (id ID) Prefix() string {
	return id.prefix
}

// Time returns the creation time encoded in the ID
func (id ID) Time() time.Time {
	return ulid.Time(id.ULID.Time())
}

func (id ID) String() string {
	if id.prefix == "" {
		return id.ULID.String()
	}
	return id.prefix + PrefixSeparator + id.ULID.String()
}

// ActionID generates an identifier for a pending action
func ActionID() string {
	return GenerateWithPrefix(PrefixAction).String()
}

// SyncID generates an identifier for a sync pass
func SyncID() string {
	return GenerateWithPrefix(PrefixSync).String()
}

// WarningID generates an identifier for a stored warning
func WarningID() string {
	return GenerateWithPrefix(PrefixWarning).String()
}

// SettingID generates an identifier for a setting row
func SettingID() string {
	return GenerateWithPrefix(PrefixSetting).String()
}
