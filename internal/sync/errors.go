package sync

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrOffline is returned when a sync is requested without connectivity
	ErrOffline = errors.New("device is offline")

	// ErrSyncBlocked is returned when a foreground feature holds a block on the entity
	ErrSyncBlocked = errors.New("sync is blocked for this entity")

	// ErrServerRejected marks a write or read the site explicitly refused
	ErrServerRejected = errors.New("request rejected by the site")

	// ErrTransport marks a call that did not complete
	ErrTransport = errors.New("request did not complete")

	// ErrConflict marks a local action built against a remote version that no longer exists
	ErrConflict = errors.New("local data no longer matches the site")

	// ErrUnknownComponent is returned for a component tag with no registered handler
	ErrUnknownComponent = errors.New("no handler registered for component")

	// ErrMeteredNetwork is returned when background syncs are restricted to unmetered links
	ErrMeteredNetwork = errors.New("sync skipped on metered network")

	// ErrUnknownSite is returned when no client is registered for a site
	ErrUnknownSite = errors.New("unknown site")
)

// BlockedError reports which operations are holding an entity
type BlockedError struct {
	Key        EntityKey
	Operations []string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("sync of %s blocked by %s", e.Key, strings.Join(e.Operations, ", "))
}

// Is makes errors.Is(err, ErrSyncBlocked) match
func (e *BlockedError) Is(target error) bool {
	return target == ErrSyncBlocked
}

// APIError is a web service exception returned by the site
type APIError struct {
	StatusCode int    `json:"-"`
	Exception  string `json:"exception"`
	ErrorCode  string `json:"errorcode"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 && e.ErrorCode == "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error %s: %s", e.ErrorCode, e.Message)
}

// Is makes errors.Is(err, ErrServerRejected) match. Session exceptions match
// ErrTransport instead.
func (e *APIError) Is(target error) bool {
	if e.IsSessionError() {
		return target == ErrTransport
	}
	return target == ErrServerRejected
}

// sessionErrorCodes are exceptions about the site or the user account, not
// about the data sent. The same request can succeed once they clear.
var sessionErrorCodes = map[string]bool{
	"userdeleted":               true,
	"upgraderunning":            true,
	"forcepasswordchangenotice": true,
	"usernotfullysetup":         true,
	"sitepolicynotagreed":       true,
	"sitemaintenance":           true,
	"wsaccessusersuspended":     true,
	"wsaccessuserdeleted":       true,
	"invalidtoken":              true,
}

// IsSessionError reports whether the exception is unrelated to the request payload
func (e *APIError) IsSessionError() bool {
	if sessionErrorCodes[e.ErrorCode] {
		return true
	}
	return e.ErrorCode == "accessexception" && strings.Contains(e.Message, "Invalid token - token expired")
}

// isSessionError reports whether err carries a session exception
func isSessionError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsSessionError()
}

// TransportError wraps a failure to complete a call
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransport) match
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// ConflictError describes a reconciliation key mismatch. It never leaves the
// reconciler: conflicts become warnings.
type ConflictError struct {
	LocalKey  string
	RemoteKey string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("local data was recorded against version %s but the site is at %s", e.LocalKey, e.RemoteKey)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ClassifyError maps an error to the type stored in sync logs
func ClassifyError(err error) SyncErrorType {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrOffline):
		return SyncErrorTypeOffline
	case errors.Is(err, ErrSyncBlocked):
		return SyncErrorTypeBlocked
	case errors.Is(err, ErrServerRejected):
		return SyncErrorTypeServer
	case errors.Is(err, ErrTransport):
		return SyncErrorTypeNetwork
	default:
		return SyncErrorTypeUnknown
	}
}

// IsRetryable reports whether a later attempt may succeed where err failed
func IsRetryable(err error) bool {
	return err != nil && !errors.Is(err, ErrServerRejected) && !errors.Is(err, ErrUnknownComponent)
}
