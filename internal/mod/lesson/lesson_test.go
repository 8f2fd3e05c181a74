package lesson

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/offsync/internal/mod"
	"github.com/tildaslashalef/offsync/internal/mod/modtest"
	"github.com/tildaslashalef/offsync/internal/offline"
	syncpkg "github.com/tildaslashalef/offsync/internal/sync"
)

func newAction() *offline.PendingAction {
	return &offline.PendingAction{
		ID:            "act-1",
		SiteID:        "s1",
		Component:     Component,
		EntityID:      3,
		UserID:        7,
		AttemptNumber: 2,
		ReconcileKey:  "2",
		Finished:      true,
		Payload:       offline.Payload{"password": "moodle", "outoftime": false},
	}
}

func TestFetchRemoteState(t *testing.T) {
	site := modtest.NewSite(t, "s1")
	site.On("core_course_get_course_module_by_instance", map[string]any{
		"cm": map[string]any{"id": 9, "name": "Safety lesson", "instance": 3, "modname": "lesson"},
	})

	count := 2
	site.OnFunc("mod_lesson_get_lesson_access_information", func(url.Values) any {
		return map[string]any{"attemptscount": count, "lastpageseen": 0, "warnings": []any{}}
	})

	h := New(nil, site.Sites)
	state, err := h.FetchRemoteState(context.Background(), "s1", newAction())
	require.NoError(t, err)
	assert.Equal(t, "Safety lesson", state.Name)
	assert.Equal(t, "2", state.Key)
	assert.Equal(t, h.ReconciliationKeyOf(newAction()), state.Key)

	// retake finished online meanwhile: access information is never cached
	count = 3
	state, err = h.FetchRemoteState(context.Background(), "s1", newAction())
	require.NoError(t, err)
	assert.Equal(t, "3", state.Key)
	assert.Equal(t, mod.SyncInterval, h.SyncInterval())
}

func TestWritePartial(t *testing.T) {
	site := modtest.NewSite(t, "s1")
	site.On("mod_lesson_process_page", map[string]any{"newpageid": 12, "warnings": []any{}})

	h := New(nil, site.Sites)
	partial := offline.PartialWrite{
		Key:     "11",
		Payload: offline.Payload{"answerid": float64(40), "jumpto": "-1"},
	}
	require.NoError(t, h.WritePartial(context.Background(), "s1", newAction(), partial))

	form := site.Last("mod_lesson_process_page")
	assert.Equal(t, "3", form.Get("lessonid"))
	assert.Equal(t, "11", form.Get("pageid"))
	assert.Equal(t, "moodle", form.Get("password"))
	assert.Equal(t, "answerid", form.Get("data[0][name]"))
	assert.Equal(t, "40", form.Get("data[0][value]"))
	assert.Equal(t, "jumpto", form.Get("data[1][name]"))
	assert.Equal(t, "-1", form.Get("data[1][value]"))
}

func TestWritePartialInvalidPage(t *testing.T) {
	site := modtest.NewSite(t, "s1")
	h := New(nil, site.Sites)

	err := h.WritePartial(context.Background(), "s1", newAction(), offline.PartialWrite{Key: "intro"})
	assert.ErrorIs(t, err, syncpkg.ErrServerRejected)
	assert.Empty(t, site.Calls())
}

func TestWriteTerminal(t *testing.T) {
	site := modtest.NewSite(t, "s1")
	site.On("mod_lesson_finish_attempt", map[string]any{"data": []any{}, "messages": []any{}, "warnings": []any{}})

	h := New(nil, site.Sites)
	require.NoError(t, h.WriteTerminal(context.Background(), "s1", newAction()))

	form := site.Last("mod_lesson_finish_attempt")
	assert.Equal(t, "3", form.Get("lessonid"))
	assert.Equal(t, "0", form.Get("outoftime"))
	assert.Equal(t, "0", form.Get("review"))
	assert.Equal(t, "moodle", form.Get("password"))
}

func TestWriteTerminalRejected(t *testing.T) {
	site := modtest.NewSite(t, "s1")
	site.Exception("mod_lesson_finish_attempt", "cannotfindattempt", "Cannot find attempt")

	h := New(nil, site.Sites)
	err := h.WriteTerminal(context.Background(), "s1", newAction())
	assert.ErrorIs(t, err, syncpkg.ErrServerRejected)
}
