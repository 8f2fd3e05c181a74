package ulid

import (
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateWithPrefix(t *testing.T) {
	for _, prefix := range []string{PrefixAction, PrefixSync, PrefixWarning, PrefixSetting} {
		id := GenerateWithPrefix(prefix)

		assert.Equal(t, prefix, id.Prefix())
		assert.True(t, strings.HasPrefix(id.String(), prefix+PrefixSeparator))
		assert.WithinDuration(t, time.Now(), id.Time(), time.Second)
	}
}

func TestParse(t *testing.T) {
	original := GenerateWithPrefix(PrefixAction)

	parsed, err := Parse(original.String())
	require.NoError(t, err)
	assert.Equal(t, original, parsed)

	plain := NewWithTime(time.Now())
	parsedPlain, err := Parse(plain.String())
	require.NoError(t, err)
	assert.Empty(t, parsedPlain.Prefix())
	assert.Equal(t, plain.ULID, parsedPlain.ULID)

	_, err = Parse("act-notaulid")
	assert.Error(t, err)
}

func TestIDsSortInCreationOrder(t *testing.T) {
	ids := make([]string, 50)
	for i := range ids {
		ids[i] = ActionID()
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	assert.Equal(t, ids, sorted)
}

func TestHelpers(t *testing.T) {
	assert.True(t, strings.HasPrefix(SyncID(), "sync-"))
	assert.True(t, strings.HasPrefix(WarningID(), "warn-"))
	assert.True(t, strings.HasPrefix(SettingID(), "set-"))
	assert.NotEqual(t, ActionID(), ActionID())
}
