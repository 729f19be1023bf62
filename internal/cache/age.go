package cache

import (
	"fmt"
	"strings"
	"time"
)

const hoursPerDay = 24

// FormatAge renders the elapsed time since capturedAt as a compact human
// string using the largest two non-zero units among days, hours, and
// minutes: "3d 5h", "2h 15m", "30m". A zero or negative age is "0m".
func FormatAge(capturedAt, now time.Time) string {
	delta := now.Sub(capturedAt)
	if delta < 0 {
		delta = 0
	}

	days := int(delta.Hours()) / hoursPerDay
	hours := int(delta.Hours()) % hoursPerDay
	minutes := int(delta.Minutes()) % 60

	parts := make([]string, 0, 2)
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if len(parts) < 2 && minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}

	if len(parts) == 0 {
		return "0m"
	}
	return strings.Join(parts, " ")
}
