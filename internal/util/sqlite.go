package util

import (
	"fmt"
	"time"
)

// TimestampLayout is a fixed-width UTC layout. Fixed width keeps lexical and
// chronological order identical, so TEXT columns sort correctly.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTimestamp renders t in TimestampLayout after converting it to UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a TimestampLayout or RFC3339 string.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// BoolToInt64 converts a bool to int64 (true=1, false=0).
// This is useful for SQLite which doesn't have a native boolean type.
func BoolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
