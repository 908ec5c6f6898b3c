package slot

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseAt interprets a user-supplied --at value as the instant a slot is
// resolved from.
//
// A date-only value (YYYY-MM-DD) selects that calendar day's report: for
// daily schedules it maps to local midnight of the following day, so the
// resolved slot's window covers the named day. For other schedule types a
// date maps to its own local midnight. RFC 3339 timestamps are used as-is
// and zone-less timestamps are read in loc.
func ParseAt(value string, s Schedule, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty --at value")
	}

	if d, err := time.ParseInLocation(dateLayout, value, loc); err == nil {
		if s.Type == Daily {
			return time.Date(d.Year(), d.Month(), d.Day()+1, 0, 0, 0, 0, loc), nil
		}
		return d, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q (want YYYY-MM-DD, YYYY-MM-DDTHH:MM or RFC 3339)", value)
}

// LoadLocation resolves an IANA zone name; empty means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}
