// Package utils holds terminal output helpers shared by the commands
package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
)

// FormatTime renders t for tables, "-" for the zero time
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("Jan 02 15:04:05")
}

// FormatDuration renders d rounded for humans
func FormatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}

// FormatSuccess renders a sync outcome
func FormatSuccess(success bool) string {
	if success {
		return color.GreenString("✓ Success")
	}
	return color.RedString("✗ Failed")
}

// FormatBool renders a flag as yes or no
func FormatBool(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// Truncate shortens s to maxLen runes, marking the cut with "..."
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// Plural renders a count with its noun, "1 action" or "3 actions"
func Plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// SanitizeName turns a free form name into a lowercase hyphenated slug
func SanitizeName(name string) string {
	name = strings.ToLower(strings.ReplaceAll(name, " ", "-"))

	replacer := strings.NewReplacer(
		"_", "-",
		".", "-",
		",", "-",
		";", "-",
		":", "-",
		"/", "-",
		"\\", "-",
	)
	name = replacer.Replace(name)

	for strings.Contains(name, "--") {
		name = strings.ReplaceAll(name, "--", "-")
	}

	return strings.Trim(name, "-")
}
