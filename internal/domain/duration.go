package domain

import (
	"fmt"
	"strings"
	"time"
)

// FormatDuration renders a stage duration as "1d 2h 3m", falling back to seconds
// for stays shorter than a minute.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := d / (24 * time.Hour)
	hours := (d % (24 * time.Hour)) / time.Hour
	minutes := (d % time.Hour) / time.Minute

	parts := make([]string, 0, 3)
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%ds", int64(d/time.Second))
	}
	return strings.Join(parts, " ")
}
