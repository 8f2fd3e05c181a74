package workshop

import (
	"context"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/offsync/internal/config"
	"github.com/tildaslashalef/offsync/internal/database"
	"github.com/tildaslashalef/offsync/internal/loggy"
	"github.com/tildaslashalef/offsync/internal/mod/modtest"
	"github.com/tildaslashalef/offsync/internal/network"
	"github.com/tildaslashalef/offsync/internal/offline"
	syncpkg "github.com/tildaslashalef/offsync/internal/sync"
)

func newAction(partials ...offline.PartialWrite) *offline.PendingAction {
	return &offline.PendingAction{
		ID:         "ws-1",
		SiteID:     "s1",
		Component:  Component,
		EntityID:   31,
		UserID:     7,
		Partials:   partials,
		ModifiedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func submissionUpdate() offline.PartialWrite {
	return offline.PartialWrite{
		Key:          KeySubmission,
		ReconcileKey: "1700",
		Payload: offline.Payload{
			"action":       ActionUpdate,
			"submissionid": float64(12),
			"title":        "My essay",
			"content":      "<p>Draft two</p>",
		},
	}
}

func assessment(id int64, seen string) offline.PartialWrite {
	return offline.PartialWrite{
		Key:          AssessmentKey(id),
		ReconcileKey: seen,
		Payload: offline.Payload{
			"assessmentid": float64(id),
			"inputdata":    map[string]any{"grade__idx_0": "4", "peercomment__idx_0": "Good"},
		},
	}
}

func newSite(t *testing.T) *modtest.Site {
	t.Helper()
	site := modtest.NewSite(t, "s1")
	site.On("core_course_get_course_module_by_instance", map[string]any{
		"cm": map[string]any{"id": 90, "name": "Peer review", "instance": 31, "modname": "workshop"},
	})
	site.On("mod_workshop_get_submission", map[string]any{"submission": map[string]any{"id": 12, "timemodified": 1700}})
	site.OnFunc("mod_workshop_get_assessment", func(form url.Values) any {
		modified := 2000
		if form.Get("assessmentid") == "5" {
			modified = 2100
		}
		return map[string]any{"assessment": map[string]any{"timemodified": modified}}
	})
	return site
}

func TestFetchRemoteStateSubKeys(t *testing.T) {
	site := newSite(t)
	h := New(nil, site.Sites)

	add := offline.PartialWrite{Key: KeySubmission, ReconcileKey: "0", Payload: offline.Payload{"action": ActionAdd}}
	action := newAction(add, assessment(4, "2000"), assessment(5, "2000"))

	state, err := h.FetchRemoteState(context.Background(), "s1", action)
	require.NoError(t, err)

	assert.Equal(t, "Peer review", state.Name)
	assert.Empty(t, state.Key)
	assert.Equal(t, map[string]string{"assessment:4": "2000", "assessment:5": "2100"}, state.SubKeys)
	assert.NotContains(t, site.Functions(), "mod_workshop_get_submission")
}

func TestFetchRemoteStateMissingRecord(t *testing.T) {
	site := newSite(t)
	site.Exception("mod_workshop_get_submission", "invalidrecord", "Can not find data record in database")
	h := New(nil, site.Sites)

	state, err := h.FetchRemoteState(context.Background(), "s1", newAction(submissionUpdate()))
	require.NoError(t, err)
	assert.Equal(t, missingRecord, state.SubKeys[KeySubmission])
}

func TestFetchRemoteStateTransportError(t *testing.T) {
	site := newSite(t)
	site.Exception("mod_workshop_get_assessment", "sitemaintenance", "Site is under maintenance")
	h := New(nil, site.Sites)

	_, err := h.FetchRemoteState(context.Background(), "s1", newAction(assessment(4, "2000")))
	require.ErrorIs(t, err, syncpkg.ErrTransport)
}

func TestWritePartialRequests(t *testing.T) {
	tests := []struct {
		name     string
		partial  offline.PartialWrite
		function string
		want     map[string]string
	}{
		{
			name:     "add submission",
			partial:  offline.PartialWrite{Key: KeySubmission, Payload: offline.Payload{"action": ActionAdd, "title": "New", "content": "Text"}},
			function: "mod_workshop_add_submission",
			want:     map[string]string{"workshopid": "31", "title": "New", "content": "Text", "contentformat": "1"},
		},
		{
			name:     "update submission",
			partial:  submissionUpdate(),
			function: "mod_workshop_update_submission",
			want:     map[string]string{"submissionid": "12", "title": "My essay", "content": "<p>Draft two</p>"},
		},
		{
			name:     "delete submission",
			partial:  offline.PartialWrite{Key: KeySubmission, Payload: offline.Payload{"action": ActionDelete, "submissionid": float64(12)}},
			function: "mod_workshop_delete_submission",
			want:     map[string]string{"submissionid": "12"},
		},
		{
			name:     "assessment",
			partial:  assessment(4, "2000"),
			function: "mod_workshop_update_assessment",
			want: map[string]string{
				"assessmentid":  "4",
				"data[0][name]": "grade__idx_0", "data[0][value]": "4",
				"data[1][name]": "peercomment__idx_0", "data[1][value]": "Good",
			},
		},
		{
			name: "evaluate submission",
			partial: offline.PartialWrite{Key: EvaluateSubmissionKey(12), Payload: offline.Payload{
				"submissionid": float64(12), "feedbacktext": "Well done", "published": true, "gradeover": "80",
			}},
			function: "mod_workshop_evaluate_submission",
			want:     map[string]string{"submissionid": "12", "feedbacktext": "Well done", "published": "1", "gradeover": "80"},
		},
		{
			name: "evaluate assessment",
			partial: offline.PartialWrite{Key: EvaluateAssessmentKey(4), Payload: offline.Payload{
				"assessmentid": float64(4), "feedbacktext": "Fair", "weight": float64(2), "gradinggradeover": "",
			}},
			function: "mod_workshop_evaluate_assessment",
			want:     map[string]string{"assessmentid": "4", "feedbacktext": "Fair", "weight": "2", "gradinggradeover": ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := modtest.NewSite(t, "s1")
			site.On(tt.function, map[string]any{"status": true, "warnings": []any{}})
			h := New(nil, site.Sites)

			require.NoError(t, h.WritePartial(context.Background(), "s1", newAction(), tt.partial))
			form := site.Last(tt.function)
			for k, v := range tt.want {
				assert.Equal(t, v, form.Get(k), k)
			}
		})
	}
}

func TestWritePartialRejected(t *testing.T) {
	t.Run("warnings", func(t *testing.T) {
		site := modtest.NewSite(t, "s1")
		site.On("mod_workshop_update_assessment", map[string]any{
			"status":   false,
			"warnings": []any{map[string]any{"item": "assessment", "warningcode": "nopermission", "message": "Assessment closed"}},
		})
		h := New(nil, site.Sites)

		err := h.WritePartial(context.Background(), "s1", newAction(), assessment(4, "2000"))
		require.ErrorIs(t, err, syncpkg.ErrServerRejected)
		assert.Contains(t, err.Error(), "Assessment closed")
	})

	t.Run("invalid record", func(t *testing.T) {
		site := modtest.NewSite(t, "s1")
		h := New(nil, site.Sites)

		err := h.WritePartial(context.Background(), "s1", newAction(), offline.PartialWrite{
			Key:     KeySubmission,
			Payload: offline.Payload{"action": ActionUpdate},
		})
		require.ErrorIs(t, err, syncpkg.ErrServerRejected)
		assert.Empty(t, site.Calls())
	})
}

func TestReconcileDropsRecordsChangedOnline(t *testing.T) {
	ctx := context.Background()
	logger := loggy.NewNoopLogger()

	conn, err := database.Open(&config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "workshop.db"), BusyTimeout: 1000})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = database.Migrate(conn)
	require.NoError(t, err)
	store := offline.NewSQLRepository(conn, logger, 7)

	// assessment 5 was regraded online after it was edited offline
	require.NoError(t, store.Save(ctx, newAction(submissionUpdate(), assessment(4, "2000"), assessment(5, "2000"))))

	site := newSite(t)
	site.On("mod_workshop_update_submission", map[string]any{"status": true, "warnings": []any{}})
	site.On("mod_workshop_update_assessment", map[string]any{"status": true, "warnings": []any{}})

	monitor := network.NewMonitor(network.Status{Online: true}, logger)
	rec := syncpkg.NewReconciler(store, syncpkg.NewBlockRegistry(), monitor, logger)

	key := syncpkg.EntityKey{SiteID: "s1", Component: Component, EntityID: 31}
	result, err := rec.Reconcile(ctx, New(store, site.Sites), key)
	require.NoError(t, err)

	assert.True(t, result.Updated)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "Peer review", result.Warnings[0].Name)

	var assessed []string
	for _, c := range site.Calls() {
		if c.Function == "mod_workshop_update_assessment" {
			assessed = append(assessed, c.Form.Get("assessmentid"))
		}
	}
	assert.Equal(t, []string{"4"}, assessed)
	assert.Contains(t, site.Functions(), "mod_workshop_update_submission")

	pending, err := store.ListByEntity(ctx, "s1", Component, 31)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
