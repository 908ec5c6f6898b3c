// Package slot maps wall-clock time onto discrete, timezone-aware report
// slots and decides whether a job is due.
//
// A slot is identified by its end instant. Slot boundaries are computed on
// local calendar fields in the job's timezone and converted to UTC last, so
// a daily slot always spans one local calendar day even when a daylight
// saving transition makes it 23 or 25 hours long.
package slot

import (
	"fmt"
	"strings"
)

// Type is the cadence of a schedule.
type Type string

const (
	Hourly  Type = "hourly"
	Daily   Type = "daily"
	Weekly  Type = "weekly"
	Monthly Type = "monthly"
	Yearly  Type = "yearly"
)

// Types lists every supported schedule type.
var Types = []Type{Hourly, Daily, Weekly, Monthly, Yearly}

// ParseType parses a schedule type name, case-insensitively.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Types {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown schedule type %q", s)
}

func (t Type) String() string { return string(t) }

// Schedule describes when a job's slots end. Fields that do not apply to
// Type are ignored.
type Schedule struct {
	Type Type `json:"type" yaml:"type" mapstructure:"type"`

	// Minute and Hour default to 0.
	Minute int `json:"minute,omitempty" yaml:"minute,omitempty" mapstructure:"minute"`
	Hour   int `json:"hour,omitempty" yaml:"hour,omitempty" mapstructure:"hour"`

	// Weekday is 0 (Sunday) through 6 (Saturday). Weekly only.
	Weekday int `json:"weekday,omitempty" yaml:"weekday,omitempty" mapstructure:"weekday"`

	// DayOfMonth is 1-31; zero means 1. Monthly and yearly only. Values
	// past the end of a month are clamped to its last day.
	DayOfMonth int `json:"dayOfMonth,omitempty" yaml:"dayOfMonth,omitempty" mapstructure:"dayOfMonth"`

	// Month is 1-12; zero means 1. Yearly only.
	Month int `json:"month,omitempty" yaml:"month,omitempty" mapstructure:"month"`
}

// Validate checks field ranges.
func (s Schedule) Validate() error {
	if _, err := ParseType(string(s.Type)); err != nil {
		return err
	}
	switch {
	case s.Minute < 0 || s.Minute > 59:
		return fmt.Errorf("schedule minute %d out of range 0-59", s.Minute)
	case s.Hour < 0 || s.Hour > 23:
		return fmt.Errorf("schedule hour %d out of range 0-23", s.Hour)
	case s.Weekday < 0 || s.Weekday > 6:
		return fmt.Errorf("schedule weekday %d out of range 0-6", s.Weekday)
	case s.DayOfMonth < 0 || s.DayOfMonth > 31:
		return fmt.Errorf("schedule dayOfMonth %d out of range 1-31", s.DayOfMonth)
	case s.Month < 0 || s.Month > 12:
		return fmt.Errorf("schedule month %d out of range 1-12", s.Month)
	}
	return nil
}

func (s Schedule) dayOfMonth() int {
	if s.DayOfMonth <= 0 {
		return 1
	}
	return s.DayOfMonth
}

func (s Schedule) month() int {
	if s.Month <= 0 {
		return 1
	}
	return s.Month
}

// String renders a compact human description, e.g. "weekly Mon 09:00".
func (s Schedule) String() string {
	hm := fmt.Sprintf("%02d:%02d", s.Hour, s.Minute)
	switch s.Type {
	case Hourly:
		return fmt.Sprintf("hourly :%02d", s.Minute)
	case Weekly:
		return fmt.Sprintf("weekly %s %s", weekdayName(s.Weekday), hm)
	case Monthly:
		return fmt.Sprintf("monthly day %d %s", s.dayOfMonth(), hm)
	case Yearly:
		return fmt.Sprintf("yearly %02d-%02d %s", s.month(), s.dayOfMonth(), hm)
	default:
		return fmt.Sprintf("%s %s", s.Type, hm)
	}
}

func weekdayName(d int) string {
	names := [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}
	if d < 0 || d >= len(names) {
		return "?"
	}
	return names[d]
}
