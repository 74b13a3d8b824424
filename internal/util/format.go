package util

import (
	"fmt"
	"time"
)

// FormatNumber formats an int64 with K/M suffix for readability.
// Examples: 500 -> "500", 1500 -> "1.5K", 1500000 -> "1.5M"
func FormatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

// FormatPercent formats an accuracy value that is already on a 0-100 scale.
func FormatPercent(v float64) string {
	return fmt.Sprintf("%.2f%%", v)
}

// FormatLoss formats a loss value with four decimals.
func FormatLoss(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

// FormatDateTime formats t as "2006-01-02 15:04" in UTC.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}
