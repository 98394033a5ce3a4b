package common

import (
	"strings"
	"time"

	"github.com/spf13/cast"
)

// ParseTimestamp accepts the date formats seen in structured data and search items.
// Values without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := cast.ToTimeInDefaultLocationE(s, time.UTC); err == nil {
		return t, true
	}
	for _, layout := range []string{
		"2006-01-02 15:04:05 -07:00",
		"2006-01-02 15:04:05 -0700",
		"2006-01-02T15:04Z07:00",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
	} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
