package assign

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/offsync/internal/mod/modtest"
	"github.com/tildaslashalef/offsync/internal/offline"
	syncpkg "github.com/tildaslashalef/offsync/internal/sync"
)

func newAction() *offline.PendingAction {
	return &offline.PendingAction{
		ID:           "act-1",
		SiteID:       "s1",
		Component:    Component,
		EntityID:     12,
		UserID:       7,
		ReconcileKey: "1700000000",
		Finished:     true,
		Payload:      offline.Payload{"submissionstatement": true},
	}
}

func withModule(site *modtest.Site) {
	site.On("core_course_get_course_module_by_instance", map[string]any{
		"cm": map[string]any{"id": 5, "course": 2, "name": "Essay 1", "instance": 12, "modname": "assign"},
	})
}

func TestFetchRemoteState(t *testing.T) {
	tests := []struct {
		name    string
		status  map[string]any
		wantKey string
	}{
		{
			name: "own submission",
			status: map[string]any{"lastattempt": map[string]any{
				"submission": map[string]any{"id": 3, "status": "draft", "timemodified": 1700000000},
			}},
			wantKey: "1700000000",
		},
		{
			name: "team submission wins",
			status: map[string]any{"lastattempt": map[string]any{
				"submission":     map[string]any{"id": 3, "timemodified": 1},
				"teamsubmission": map[string]any{"id": 4, "timemodified": 1700000500},
			}},
			wantKey: "1700000500",
		},
		{
			name:    "no submission yet",
			status:  map[string]any{"lastattempt": map[string]any{}},
			wantKey: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := modtest.NewSite(t, "s1")
			withModule(site)
			site.On("mod_assign_get_submission_status", tt.status)

			h := New(nil, site.Sites)
			state, err := h.FetchRemoteState(context.Background(), "s1", newAction())
			require.NoError(t, err)
			assert.Equal(t, "Essay 1", state.Name)
			assert.Equal(t, tt.wantKey, state.Key)
			assert.False(t, state.Gone)

			form := site.Last("mod_assign_get_submission_status")
			assert.Equal(t, "12", form.Get("assignid"))
			assert.Equal(t, "7", form.Get("userid"))
		})
	}
}

func TestFetchRemoteStateDeletedActivity(t *testing.T) {
	site := modtest.NewSite(t, "s1")
	site.Exception("core_course_get_course_module_by_instance", "invalidrecord", "Can't find data record in database table course_modules.")

	h := New(nil, site.Sites)
	state, err := h.FetchRemoteState(context.Background(), "s1", newAction())
	require.NoError(t, err)
	assert.True(t, state.Gone)
	assert.Equal(t, []string{"core_course_get_course_module_by_instance"}, site.Functions())
}

func TestFetchRemoteStateUnknownSite(t *testing.T) {
	h := New(nil, syncpkg.NewSites())
	_, err := h.FetchRemoteState(context.Background(), "s1", newAction())
	assert.ErrorIs(t, err, syncpkg.ErrUnknownSite)
}

func TestWritePartial(t *testing.T) {
	site := modtest.NewSite(t, "s1")
	site.On("mod_assign_save_submission", []any{})

	h := New(nil, site.Sites)
	partial := offline.PartialWrite{
		Key: "onlinetext",
		Payload: offline.Payload{
			"onlinetext_editor": map[string]any{"text": "<p>My essay</p>", "format": 1, "itemid": 0},
		},
	}
	require.NoError(t, h.WritePartial(context.Background(), "s1", newAction(), partial))

	form := site.Last("mod_assign_save_submission")
	assert.Equal(t, "12", form.Get("assignmentid"))
	assert.Equal(t, "<p>My essay</p>", form.Get("plugindata[onlinetext_editor][text]"))
	assert.Equal(t, "1", form.Get("plugindata[onlinetext_editor][format]"))
}

func TestWritePartialWarningIsRejection(t *testing.T) {
	site := modtest.NewSite(t, "s1")
	site.On("mod_assign_save_submission", []any{
		map[string]any{"item": "assign", "itemid": 12, "warningcode": "couldnotsavesubmission", "message": "Could not save submission."},
	})

	h := New(nil, site.Sites)
	err := h.WritePartial(context.Background(), "s1", newAction(), offline.PartialWrite{Key: "onlinetext"})
	assert.ErrorIs(t, err, syncpkg.ErrServerRejected)
	assert.Contains(t, err.Error(), "Could not save submission.")
}

func TestWriteTerminal(t *testing.T) {
	t.Run("submit for grading", func(t *testing.T) {
		site := modtest.NewSite(t, "s1")
		site.On("mod_assign_submit_for_grading", []any{})

		h := New(nil, site.Sites)
		require.NoError(t, h.WriteTerminal(context.Background(), "s1", newAction()))

		form := site.Last("mod_assign_submit_for_grading")
		assert.Equal(t, "12", form.Get("assignmentid"))
		assert.Equal(t, "1", form.Get("acceptsubmissionstatement"))
	})

	t.Run("remove emptied submission", func(t *testing.T) {
		site := modtest.NewSite(t, "s1")
		site.On("mod_assign_remove_submission", map[string]any{"status": true, "warnings": []any{}})

		action := newAction()
		action.Payload = offline.Payload{"remove": float64(1)}

		h := New(nil, site.Sites)
		require.NoError(t, h.WriteTerminal(context.Background(), "s1", action))
		assert.Equal(t, []string{"mod_assign_remove_submission"}, site.Functions())
		assert.Equal(t, "7", site.Last("mod_assign_remove_submission").Get("userid"))
	})
}

func newGrade() *offline.PendingAction {
	return &offline.PendingAction{
		ID:           "grade-1",
		SiteID:       "s1",
		Component:    Component,
		EntityID:     12,
		UserID:       9,
		ReconcileKey: "1700000500",
		Finished:     true,
		Payload: offline.Payload{
			"kind":          KindGrade,
			"grade":         "72.5",
			"attemptnumber": float64(0),
			"addattempt":    true,
			"workflowstate": "released",
			"outcomes":      map[string]any{"3": "2"},
			"plugindata": map[string]any{
				"assignfeedbackcomments_editor": map[string]any{"text": "Good work", "format": float64(1)},
			},
		},
	}
}

func TestFetchRemoteStateGrade(t *testing.T) {
	tests := []struct {
		name     string
		feedback map[string]any
		wantKey  string
	}{
		{name: "graded", feedback: map[string]any{"gradeddate": 1700000500}, wantKey: "1700000500"},
		{name: "regraded online", feedback: map[string]any{"gradeddate": 1700009999}, wantKey: "1700009999"},
		{name: "grade without date", feedback: map[string]any{"grade": map[string]any{"timemodified": 1700000400}}, wantKey: "1700000400"},
		{name: "ungraded", wantKey: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := modtest.NewSite(t, "s1")
			withModule(site)
			status := map[string]any{
				"lastattempt": map[string]any{"submission": map[string]any{"id": 3, "timemodified": 1600000000}},
				"warnings":    []any{},
			}
			if tt.feedback != nil {
				status["feedback"] = tt.feedback
			}
			site.On("mod_assign_get_submission_status", status)

			h := New(nil, site.Sites)
			state, err := h.FetchRemoteState(context.Background(), "s1", newGrade())
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, state.Key)
			assert.Equal(t, "9", site.Last("mod_assign_get_submission_status").Get("userid"))
		})
	}
}

func TestWriteTerminalGrade(t *testing.T) {
	site := modtest.NewSite(t, "s1")
	site.On("mod_assign_submit_grading_form", []any{})

	h := New(nil, site.Sites)
	require.NoError(t, h.WriteTerminal(context.Background(), "s1", newGrade()))
	assert.Equal(t, []string{"mod_assign_submit_grading_form"}, site.Functions())

	form := site.Last("mod_assign_submit_grading_form")
	assert.Equal(t, "12", form.Get("assignmentid"))
	assert.Equal(t, "9", form.Get("userid"))

	var encoded string
	require.NoError(t, json.Unmarshal([]byte(form.Get("jsonformdata")), &encoded))
	fields, err := url.ParseQuery(encoded)
	require.NoError(t, err)

	assert.Equal(t, "72.5", fields.Get("grade"))
	assert.Equal(t, "0", fields.Get("attemptnumber"))
	assert.Equal(t, "1", fields.Get("addattempt"))
	assert.Equal(t, "0", fields.Get("applytoall"))
	assert.Equal(t, "released", fields.Get("workflowstate"))
	assert.Equal(t, "2", fields.Get("outcome_3[9]"))
	assert.Equal(t, "Good work", fields.Get("assignfeedbackcomments_editor[text]"))
	assert.Equal(t, "1", fields.Get("assignfeedbackcomments_editor[format]"))
}

func TestWriteTerminalGradeRejected(t *testing.T) {
	site := modtest.NewSite(t, "s1")
	site.On("mod_assign_submit_grading_form", []any{
		map[string]any{"item": "assign", "warningcode": "couldnotsavegrade", "message": "Grade is out of range"},
	})

	h := New(nil, site.Sites)
	err := h.WriteTerminal(context.Background(), "s1", newGrade())
	require.ErrorIs(t, err, syncpkg.ErrServerRejected)
	assert.Contains(t, err.Error(), "Grade is out of range")
}

func TestWritePartialGradeIsInvalid(t *testing.T) {
	site := modtest.NewSite(t, "s1")
	h := New(nil, site.Sites)

	err := h.WritePartial(context.Background(), "s1", newGrade(), offline.PartialWrite{Key: "onlinetext"})
	require.ErrorIs(t, err, syncpkg.ErrServerRejected)
	assert.Empty(t, site.Calls())
}
