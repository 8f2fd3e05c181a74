// Package assign syncs assignment submissions and grades made offline.
//
// A submission action is keyed by the timemodified of the site submission
// it was edited from ("0" when there was none). Each partial write saves the
// data of one submission plugin; the terminal write submits for grading, or
// removes the submission when the user emptied it.
//
// A grade action has kind "grade" in its payload and belongs to the graded
// student. It is keyed by the graded date of the feedback it was edited from
// and has a single terminal write that submits the grading form.
package assign

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tildaslashalef/offsync/internal/mod"
	"github.com/tildaslashalef/offsync/internal/offline"
	syncpkg "github.com/tildaslashalef/offsync/internal/sync"
)

const (
	// ModName is the activity module name
	ModName = "assign"
	// Component is the tag the handler is registered under
	Component = "mod_" + ModName
)

// KindGrade marks a grade action in the payload "kind" field
const KindGrade = "grade"

// Handler syncs assignment submissions and grades
type Handler struct {
	mod.Base
}

var _ syncpkg.Handler = (*Handler)(nil)

// New creates the assignment handler
func New(store offline.Repository, sites *syncpkg.Sites) *Handler {
	return &Handler{Base: mod.NewBase(ModName, store, sites)}
}

type submission struct {
	ID           int64  `json:"id"`
	Status       string `json:"status"`
	TimeModified int64  `json:"timemodified"`
}

type submissionStatus struct {
	LastAttempt *struct {
		Submission     *submission `json:"submission"`
		TeamSubmission *submission `json:"teamsubmission"`
	} `json:"lastattempt"`
	Feedback *struct {
		GradedDate int64 `json:"gradeddate"`
		Grade      *struct {
			TimeModified int64 `json:"timemodified"`
		} `json:"grade"`
	} `json:"feedback"`
	Warnings []mod.WSWarning `json:"warnings"`
}

// gradedAt is when the current grade was last changed, 0 when ungraded
func (s submissionStatus) gradedAt() int64 {
	if s.Feedback == nil {
		return 0
	}
	if s.Feedback.GradedDate > 0 {
		return s.Feedback.GradedDate
	}
	if s.Feedback.Grade != nil {
		return s.Feedback.Grade.TimeModified
	}
	return 0
}

// IsGrade reports whether action grades a student instead of submitting
func IsGrade(action *offline.PendingAction) bool {
	return mod.String(action.Payload["kind"]) == KindGrade
}

func (s submissionStatus) current() *submission {
	if s.LastAttempt == nil {
		return nil
	}
	if s.LastAttempt.TeamSubmission != nil {
		return s.LastAttempt.TeamSubmission
	}
	return s.LastAttempt.Submission
}

// FetchRemoteState reads the submission of the action owner, or the
// current grade of the student for grade actions
func (h *Handler) FetchRemoteState(ctx context.Context, siteID string, action *offline.PendingAction) (*syncpkg.RemoteState, error) {
	state, err := h.Describe(ctx, siteID, action.EntityID)
	if err != nil || state.Gone {
		return state, err
	}

	client, err := h.Client(siteID)
	if err != nil {
		return nil, err
	}

	var status submissionStatus
	params := map[string]any{"assignid": action.EntityID, "userid": action.UserID}
	if err := client.ReadFresh(ctx, "mod_assign_get_submission_status", params, h.Tag(action.EntityID), &status); err != nil {
		return nil, fmt.Errorf("getting submission status of assign %d: %w", action.EntityID, err)
	}

	if IsGrade(action) {
		state.Key = strconv.FormatInt(status.gradedAt(), 10)
		return state, nil
	}
	if sub := status.current(); sub != nil {
		state.Key = strconv.FormatInt(sub.TimeModified, 10)
	}
	return state, nil
}

// WritePartial saves the data of one submission plugin
func (h *Handler) WritePartial(ctx context.Context, siteID string, action *offline.PendingAction, partial offline.PartialWrite) error {
	if IsGrade(action) {
		return mod.Invalid("grade of user %d has unexpected partial data %q", action.UserID, partial.Key)
	}

	client, err := h.Client(siteID)
	if err != nil {
		return err
	}

	params := map[string]any{
		"assignmentid": action.EntityID,
		"plugindata":   partial.Payload,
	}

	var warnings []mod.WSWarning
	if err := client.Write(ctx, "mod_assign_save_submission", params, &warnings); err != nil {
		return fmt.Errorf("saving %s submission data: %w", partial.Key, err)
	}
	return mod.Rejected(warnings)
}

// WriteTerminal submits for grading, removes an emptied submission, or
// submits the grading form of a grade action
func (h *Handler) WriteTerminal(ctx context.Context, siteID string, action *offline.PendingAction) error {
	client, err := h.Client(siteID)
	if err != nil {
		return err
	}

	if IsGrade(action) {
		return h.submitGrade(ctx, client, action)
	}

	if mod.Bool(action.Payload, "remove") {
		var resp struct {
			Status   bool            `json:"status"`
			Warnings []mod.WSWarning `json:"warnings"`
		}
		params := map[string]any{"userid": action.UserID, "assignid": action.EntityID}
		if err := client.Write(ctx, "mod_assign_remove_submission", params, &resp); err != nil {
			return fmt.Errorf("removing submission: %w", err)
		}
		return mod.Rejected(resp.Warnings)
	}

	params := map[string]any{
		"assignmentid":              action.EntityID,
		"acceptsubmissionstatement": mod.Bool(action.Payload, "submissionstatement"),
	}

	var warnings []mod.WSWarning
	if err := client.Write(ctx, "mod_assign_submit_for_grading", params, &warnings); err != nil {
		return fmt.Errorf("submitting for grading: %w", err)
	}
	return mod.Rejected(warnings)
}

// gradingForm builds the grading form fields of a grade action
func gradingForm(action *offline.PendingAction) map[string]any {
	payload := action.Payload
	attempt, ok := mod.Int64(payload, "attemptnumber")
	if !ok {
		attempt = -1
	}

	form := map[string]any{
		"grade":         mod.String(payload["grade"]),
		"attemptnumber": attempt,
		"addattempt":    mod.Bool(payload, "addattempt"),
		"workflowstate": mod.String(payload["workflowstate"]),
		"applytoall":    mod.Bool(payload, "applytoall"),
	}
	for id, value := range mod.Map(payload, "outcomes") {
		form[fmt.Sprintf("outcome_%s[%d]", id, action.UserID)] = mod.String(value)
	}
	for name, value := range mod.Map(payload, "plugindata") {
		form[name] = value
	}
	return form
}

func (h *Handler) submitGrade(ctx context.Context, client *syncpkg.Client, action *offline.PendingAction) error {
	// the form travels url-encoded inside a JSON string
	encoded, err := json.Marshal(syncpkg.FlattenParams(gradingForm(action)).Encode())
	if err != nil {
		return fmt.Errorf("encoding grading form: %w", err)
	}

	params := map[string]any{
		"assignmentid": action.EntityID,
		"userid":       action.UserID,
		"jsonformdata": string(encoded),
	}

	var warnings []mod.WSWarning
	if err := client.Write(ctx, "mod_assign_submit_grading_form", params, &warnings); err != nil {
		return fmt.Errorf("submitting grade of user %d: %w", action.UserID, err)
	}
	return mod.Rejected(warnings)
}
