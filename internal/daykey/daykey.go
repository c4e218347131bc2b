// Package daykey normalizes calendar-day identifiers. A dayKey is a
// YYYY-MM-DD string in the system's reference timezone; every component that
// buckets records by day goes through this package so two sources never
// disagree on which day a timestamp belongs to.
package daykey

import (
	"strconv"
	"strings"
	"time"
)

const Layout = "2006-01-02"

var parseLayouts = []string{
	Layout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02",
	"20060102",
}

// FromTime returns the canonical dayKey of t in loc.
func FromTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(Layout)
}

// Normalize parses an arbitrary date representation and returns the canonical
// dayKey. On parse failure it returns the input unchanged and false; it never
// fails hard, because a malformed key from a remote snapshot must not abort a
// merge pass.
func Normalize(input string, loc *time.Location) (string, bool) {
	if loc == nil {
		loc = time.UTC
	}
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return input, false
	}

	for _, layout := range parseLayouts {
		if t, err := time.ParseInLocation(layout, trimmed, loc); err == nil {
			return FromTime(t, loc), true
		}
	}

	// Millisecond epoch timestamps show up in older ingestion payloads.
	if epoch, err := strconv.ParseInt(trimmed, 10, 64); err == nil && epoch > 1_000_000_000_000 {
		return FromTime(time.UnixMilli(epoch), loc), true
	}

	return input, false
}

// IsValid reports whether s already is a canonical dayKey.
func IsValid(s string) bool {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return false
	}
	return t.Format(Layout) == s
}
