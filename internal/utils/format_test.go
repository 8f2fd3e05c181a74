package utils

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"a rather long error message", 10, "a rathe..."},
		{"ünïcödé text", 6, "ünï..."},
		{"abcdef", 2, "ab"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Truncate(tt.in, tt.maxLen), tt.in)
	}
}

func TestFormatters(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	assert.Equal(t, "-", FormatTime(time.Time{}))
	assert.NotEqual(t, "-", FormatTime(time.Now()))

	assert.Equal(t, "0s", FormatDuration(0))
	assert.Equal(t, "250ms", FormatDuration(250*time.Millisecond))
	assert.Equal(t, "1m3s", FormatDuration(62600*time.Millisecond))

	assert.Equal(t, "✓ Success", FormatSuccess(true))
	assert.Equal(t, "✗ Failed", FormatSuccess(false))
	assert.Equal(t, "yes", FormatBool(true))

	assert.Equal(t, "1 action", Plural(1, "action"))
	assert.Equal(t, "0 warnings", Plural(0, "warning"))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "work-laptop", SanitizeName("Work Laptop"))
	assert.Equal(t, "tablet-2", SanitizeName("  tablet_.2 "))
	assert.Equal(t, "a-b", SanitizeName("/a//b/"))
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	Output = &buf
	t.Cleanup(func() { Output = os.Stdout })

	PrintTable([]string{"Site", "Component"}, [][]string{{"s1", "mod_quiz"}}, TableOptions{Title: "Pending"})
	out := buf.String()
	assert.Contains(t, out, "Pending")
	assert.Contains(t, out, "mod_quiz")
	assert.NotContains(t, out, "No records found.")

	buf.Reset()
	PrintTable([]string{"Site"}, nil, DefaultTableOptions())
	assert.Contains(t, buf.String(), "No records found.")
}
