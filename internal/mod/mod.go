// Package mod holds what the activity handlers share: the sync interval,
// module name lookups and payload helpers.
package mod

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/tildaslashalef/offsync/internal/offline"
	syncpkg "github.com/tildaslashalef/offsync/internal/sync"
)

// SyncInterval is how often the scheduler syncs each activity kind
const SyncInterval = 10 * time.Minute

// Error codes meaning the activity was deleted on the site
var goneErrorCodes = map[string]bool{
	"invalidrecord":        true,
	"invalidcoursemodule":  true,
	"invalidrecordunknown": true,
}

// CourseModule is the course module of an activity instance
type CourseModule struct {
	ID       int64  `json:"id"`
	Course   int64  `json:"course"`
	Name     string `json:"name"`
	Instance int64  `json:"instance"`
	ModName  string `json:"modname"`
}

// Base is embedded by every activity handler
type Base struct {
	syncpkg.BaseHandler
	modName string
}

// NewBase creates the shared part of the handler of modName activities,
// registered as "mod_" + modName
func NewBase(modName string, store offline.Repository, sites *syncpkg.Sites) Base {
	return Base{
		BaseHandler: syncpkg.NewBaseHandler("mod_"+modName, store, sites),
		modName:     modName,
	}
}

// SyncInterval returns the periodic sync interval of the activity
func (b Base) SyncInterval() time.Duration {
	return SyncInterval
}

// Module looks up the course module of an activity instance. The response
// is cached under the entity tag.
func (b Base) Module(ctx context.Context, siteID string, instance int64) (*CourseModule, error) {
	client, err := b.Client(siteID)
	if err != nil {
		return nil, err
	}

	var resp struct {
		CM CourseModule `json:"cm"`
	}
	params := map[string]any{"module": b.modName, "instance": instance}
	if err := client.Read(ctx, "core_course_get_course_module_by_instance", params, b.Tag(instance), &resp); err != nil {
		return nil, fmt.Errorf("getting %s module %d: %w", b.modName, instance, err)
	}
	return &resp.CM, nil
}

// Describe starts the remote state of an activity: its name, or Gone when
// the site no longer has it
func (b Base) Describe(ctx context.Context, siteID string, instance int64) (*syncpkg.RemoteState, error) {
	cm, err := b.Module(ctx, siteID, instance)
	if err != nil {
		if IsGone(err) {
			return &syncpkg.RemoteState{Gone: true}, nil
		}
		return nil, err
	}
	return &syncpkg.RemoteState{Name: cm.Name}, nil
}

// IsGone reports whether err says the activity does not exist
func IsGone(err error) bool {
	var apiErr *syncpkg.APIError
	return errors.As(err, &apiErr) && goneErrorCodes[apiErr.ErrorCode]
}

// FormData turns a payload into the name/value list that page and attempt
// functions take, sorted by name
func FormData(payload offline.Payload) []map[string]any {
	names := make([]string, 0, len(payload))
	for name := range payload {
		names = append(names, name)
	}
	sort.Strings(names)

	data := make([]map[string]any, 0, len(names))
	for _, name := range names {
		data = append(data, map[string]any{"name": name, "value": String(payload[name])})
	}
	return data
}

// Int64 reads a numeric payload field. Payloads loaded from storage carry
// numbers as float64.
func Int64(payload offline.Payload, key string) (int64, bool) {
	switch v := payload[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Bool reads a flag payload field
func Bool(payload offline.Payload, key string) bool {
	switch v := payload[key].(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	case string:
		b, _ := strconv.ParseBool(v)
		return b || v == "1"
	default:
		return false
	}
}

// Map reads a nested object payload field
func Map(payload offline.Payload, key string) offline.Payload {
	switch v := payload[key].(type) {
	case map[string]any:
		return v
	case offline.Payload:
		return v
	default:
		return nil
	}
}

// String formats a payload value the way forms send it
func String(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// WSWarning is a warning returned by a write function. Write functions
// report refused data as warnings instead of exceptions.
type WSWarning struct {
	Item        string `json:"item"`
	ItemID      int64  `json:"itemid"`
	WarningCode string `json:"warningcode"`
	Message     string `json:"message"`
}

// Rejected turns the first warning into a rejection error
func Rejected(warnings []WSWarning) error {
	if len(warnings) == 0 {
		return nil
	}
	w := warnings[0]
	return &syncpkg.APIError{Exception: "warning", ErrorCode: w.WarningCode, Message: w.Message}
}

// Invalid reports local data that can never be accepted by the site
func Invalid(format string, args ...any) error {
	return &syncpkg.APIError{Exception: "invalid_local_data", ErrorCode: "invalidlocaldata", Message: fmt.Sprintf(format, args...)}
}
