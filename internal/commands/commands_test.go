package commands

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAction(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	doc := `{
		"component": "mod_quiz",
		"entity_id": 42,
		"attempt_number": 2,
		"finished": true,
		"payload": {"attemptid": 501},
		"partials": [
			{"key": "2", "reconcile_key": "1", "payload": {"q88:2_answer": "1"}},
			{"key": "1", "reconcile_key": "3", "payload": {"q88:1_answer": "3"}}
		]
	}`

	action, err := parseAction(strings.NewReader(doc), "default", now)
	require.NoError(t, err)

	assert.Equal(t, "default", action.SiteID)
	assert.Equal(t, "mod_quiz", action.Component)
	assert.Equal(t, int64(42), action.EntityID)
	assert.Equal(t, 2, action.AttemptNumber)
	assert.True(t, action.Finished)
	assert.Equal(t, float64(501), action.Payload["attemptid"])

	partials := action.SortedPartials()
	require.Len(t, partials, 2)
	assert.Equal(t, "2", partials[0].Key)
	assert.Equal(t, "1", partials[1].Key)
	assert.Equal(t, now, partials[0].ModifiedAt)
}

func TestParseActionKeepsExplicitSite(t *testing.T) {
	action, err := parseAction(strings.NewReader(`{"site_id": "s2", "component": "mod_assign", "entity_id": 12}`), "default", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "s2", action.SiteID)
	assert.Empty(t, action.Partials)
}

func TestParseActionErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `quiz`},
		{"unknown field", `{"component": "mod_quiz", "entityid": 42}`},
		{"partial without key", `{"component": "mod_lesson", "entity_id": 3, "partials": [{"payload": {}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseAction(strings.NewReader(tt.doc), "default", time.Now())
			assert.Error(t, err)
		})
	}
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "(not set)", maskToken(""))
	assert.Equal(t, "****", maskToken("abc"))
	assert.Equal(t, "****cdef", maskToken("0123456789abcdef"))
}
