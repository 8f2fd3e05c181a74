// Package workshop syncs workshop work done offline.
//
// A user has one action per workshop. Every record the user touched offline
// is one partial write: the own submission, assessments of peers' work, and
// evaluations of submissions or assessments. Each partial carries the
// timemodified of the record it was edited from, and is dropped when the
// site changed or deleted that record since.
package workshop

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tildaslashalef/offsync/internal/mod"
	"github.com/tildaslashalef/offsync/internal/offline"
	syncpkg "github.com/tildaslashalef/offsync/internal/sync"
)

const (
	// ModName is the activity module name
	ModName = "workshop"
	// Component is the tag the handler is registered under
	Component = "mod_" + ModName
)

// Partial key prefixes. The submission partial has no id suffix.
const (
	KeySubmission         = "submission"
	KeyAssessment         = "assessment:"
	KeyEvaluateSubmission = "evaluate-submission:"
	KeyEvaluateAssessment = "evaluate-assessment:"
)

// Submission actions
const (
	ActionAdd    = "add"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// missingRecord is the sub-key of a record the site no longer returns
const missingRecord = "missing"

// Handler syncs workshop submissions, assessments and evaluations
type Handler struct {
	mod.Base
}

var _ syncpkg.Handler = (*Handler)(nil)

// New creates the workshop handler
func New(store offline.Repository, sites *syncpkg.Sites) *Handler {
	return &Handler{Base: mod.NewBase(ModName, store, sites)}
}

// AssessmentKey returns the partial key of an assessment
func AssessmentKey(assessmentID int64) string {
	return KeyAssessment + strconv.FormatInt(assessmentID, 10)
}

// EvaluateSubmissionKey returns the partial key of a submission evaluation
func EvaluateSubmissionKey(submissionID int64) string {
	return KeyEvaluateSubmission + strconv.FormatInt(submissionID, 10)
}

// EvaluateAssessmentKey returns the partial key of an assessment evaluation
func EvaluateAssessmentKey(assessmentID int64) string {
	return KeyEvaluateAssessment + strconv.FormatInt(assessmentID, 10)
}

// record names the site record a partial was edited from
type record struct {
	function string // read function
	param    string // id parameter and payload field
	field    string // response object
	id       int64
}

func recordOf(p offline.PartialWrite) (record, bool) {
	var r record
	switch {
	case p.Key == KeySubmission, strings.HasPrefix(p.Key, KeyEvaluateSubmission):
		r = record{function: "mod_workshop_get_submission", param: "submissionid", field: "submission"}
	case strings.HasPrefix(p.Key, KeyAssessment), strings.HasPrefix(p.Key, KeyEvaluateAssessment):
		r = record{function: "mod_workshop_get_assessment", param: "assessmentid", field: "assessment"}
	default:
		return r, false
	}
	id, ok := mod.Int64(p.Payload, r.param)
	if !ok || id <= 0 {
		return r, false
	}
	r.id = id
	return r, true
}

// FetchRemoteState reads the timemodified of every record a partial refers to
func (h *Handler) FetchRemoteState(ctx context.Context, siteID string, action *offline.PendingAction) (*syncpkg.RemoteState, error) {
	state, err := h.Describe(ctx, siteID, action.EntityID)
	if err != nil || state.Gone {
		return state, err
	}

	client, err := h.Client(siteID)
	if err != nil {
		return nil, err
	}

	for _, p := range action.Partials {
		rec, ok := recordOf(p)
		if !ok || p.ReconcileKey == "" {
			continue
		}

		var resp map[string]struct {
			TimeModified int64 `json:"timemodified"`
		}
		err := client.ReadFresh(ctx, rec.function, map[string]any{rec.param: rec.id}, h.Tag(action.EntityID), &resp)

		if state.SubKeys == nil {
			state.SubKeys = make(map[string]string)
		}
		switch {
		case err == nil:
			state.SubKeys[p.Key] = strconv.FormatInt(resp[rec.field].TimeModified, 10)
		case syncpkg.IsRetryable(err):
			return nil, fmt.Errorf("getting %s %d: %w", rec.field, rec.id, err)
		default:
			state.SubKeys[p.Key] = missingRecord
		}
	}
	return state, nil
}

type statusResponse struct {
	Status       bool            `json:"status"`
	SubmissionID int64           `json:"submissionid"`
	Warnings     []mod.WSWarning `json:"warnings"`
}

// WritePartial sends one record
func (h *Handler) WritePartial(ctx context.Context, siteID string, action *offline.PendingAction, partial offline.PartialWrite) error {
	function, params, err := h.request(action, partial)
	if err != nil {
		return err
	}

	client, err := h.Client(siteID)
	if err != nil {
		return err
	}

	var resp statusResponse
	if err := client.Write(ctx, function, params, &resp); err != nil {
		return fmt.Errorf("sending %s: %w", partial.Key, err)
	}
	if err := mod.Rejected(resp.Warnings); err != nil {
		return err
	}
	if !resp.Status {
		return mod.Invalid("the site did not accept %s", partial.Key)
	}
	return nil
}

func (h *Handler) request(action *offline.PendingAction, partial offline.PartialWrite) (string, map[string]any, error) {
	payload := partial.Payload
	switch {
	case partial.Key == KeySubmission:
		return submissionRequest(action, payload)

	case strings.HasPrefix(partial.Key, KeyAssessment):
		id, ok := mod.Int64(payload, "assessmentid")
		if !ok {
			return "", nil, mod.Invalid("%s has no assessment id", partial.Key)
		}
		return "mod_workshop_update_assessment", map[string]any{
			"assessmentid": id,
			"data":         mod.FormData(mod.Map(payload, "inputdata")),
		}, nil

	case strings.HasPrefix(partial.Key, KeyEvaluateSubmission):
		id, ok := mod.Int64(payload, "submissionid")
		if !ok {
			return "", nil, mod.Invalid("%s has no submission id", partial.Key)
		}
		params := map[string]any{
			"submissionid":   id,
			"feedbacktext":   mod.String(payload["feedbacktext"]),
			"feedbackformat": 1,
			"published":      mod.Bool(payload, "published"),
		}
		if v, ok := payload["gradeover"]; ok {
			params["gradeover"] = mod.String(v)
		}
		return "mod_workshop_evaluate_submission", params, nil

	case strings.HasPrefix(partial.Key, KeyEvaluateAssessment):
		id, ok := mod.Int64(payload, "assessmentid")
		if !ok {
			return "", nil, mod.Invalid("%s has no assessment id", partial.Key)
		}
		params := map[string]any{
			"assessmentid":   id,
			"feedbacktext":   mod.String(payload["feedbacktext"]),
			"feedbackformat": 1,
		}
		if weight, ok := mod.Int64(payload, "weight"); ok {
			params["weight"] = weight
		}
		if v, ok := payload["gradinggradeover"]; ok {
			params["gradinggradeover"] = mod.String(v)
		}
		return "mod_workshop_evaluate_assessment", params, nil
	}

	return "", nil, mod.Invalid("unknown workshop record %q", partial.Key)
}

func submissionRequest(action *offline.PendingAction, payload offline.Payload) (string, map[string]any, error) {
	id, _ := mod.Int64(payload, "submissionid")
	kind := mod.String(payload["action"])

	switch kind {
	case ActionAdd:
		return "mod_workshop_add_submission", map[string]any{
			"workshopid":    action.EntityID,
			"title":         mod.String(payload["title"]),
			"content":       mod.String(payload["content"]),
			"contentformat": 1,
		}, nil
	case ActionUpdate, ActionDelete:
		if id <= 0 {
			return "", nil, mod.Invalid("submission %s has no submission id", kind)
		}
		if kind == ActionDelete {
			return "mod_workshop_delete_submission", map[string]any{"submissionid": id}, nil
		}
		return "mod_workshop_update_submission", map[string]any{
			"submissionid":  id,
			"title":         mod.String(payload["title"]),
			"content":       mod.String(payload["content"]),
			"contentformat": 1,
		}, nil
	}
	return "", nil, mod.Invalid("unknown submission action %q", kind)
}

// WriteTerminal has nothing to send: every workshop record is a partial write
func (h *Handler) WriteTerminal(_ context.Context, _ string, _ *offline.PendingAction) error {
	return nil
}
