package slot

import (
	"fmt"
	"time"
)

// KeyLayout formats a slot end instant in UTC. Lexical order of keys equals
// chronological order.
const KeyLayout = "2006-01-02T15-04Z"

// LocalTime holds wall-clock calendar fields in a job's timezone.
type LocalTime struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
}

// LocalFields returns the calendar fields of t in loc.
func LocalFields(t time.Time, loc *time.Location) LocalTime {
	lt := t.In(loc)
	return LocalTime{Year: lt.Year(), Month: lt.Month(), Day: lt.Day(), Hour: lt.Hour(), Minute: lt.Minute()}
}

// In converts the fields to an instant using loc's offset at that local
// time. Wall times skipped by a DST transition are normalized by time.Date.
func (l LocalTime) In(loc *time.Location) time.Time {
	return time.Date(l.Year, l.Month, l.Day, l.Hour, l.Minute, 0, 0, loc)
}

func (l LocalTime) String() string {
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d", l.Year, int(l.Month), l.Day, l.Hour, l.Minute)
}

// normalize carries overflowing fields (day 0, hour -1) using UTC so the
// arithmetic never depends on a zone's offsets.
func normalize(y int, m time.Month, d, h, min int) LocalTime {
	t := time.Date(y, m, d, h, min, 0, 0, time.UTC)
	return LocalTime{Year: t.Year(), Month: t.Month(), Day: t.Day(), Hour: t.Hour(), Minute: t.Minute()}
}

// daysIn returns the number of days in the given month.
func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func clampDay(y int, m time.Month, day int) int {
	if n := daysIn(y, m); day > n {
		return n
	}
	return day
}

// Window is the half-open activity interval [Start, End) covered by a slot.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration { return w.End.Sub(w.Start) }

// Slot identifies one report period.
type Slot struct {
	Key         string    `json:"slotKey"`
	Type        Type      `json:"slotType"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Window      Window    `json:"window"`

	end LocalTime
}

// LocalEnd returns the slot end as local calendar fields.
func (s Slot) LocalEnd() LocalTime { return s.end }

// FormatSlotKey returns the canonical key for a slot ending at t.
func FormatSlotKey(t time.Time) string {
	return t.UTC().Format(KeyLayout)
}

// ParseSlotKey parses a key produced by FormatSlotKey.
func ParseSlotKey(key string) (time.Time, error) {
	t, err := time.ParseInLocation(KeyLayout, key, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid slot key %q: %w", key, err)
	}
	return t, nil
}

// candidate builds the boundary in the current period named by the
// schedule fields.
func candidate(now LocalTime, weekday time.Weekday, s Schedule) LocalTime {
	switch s.Type {
	case Hourly:
		return LocalTime{Year: now.Year, Month: now.Month, Day: now.Day, Hour: now.Hour, Minute: s.Minute}
	case Weekly:
		back := (int(weekday) - s.Weekday + 7) % 7
		return normalize(now.Year, now.Month, now.Day-back, s.Hour, s.Minute)
	case Monthly:
		return LocalTime{Year: now.Year, Month: now.Month, Day: clampDay(now.Year, now.Month, s.dayOfMonth()), Hour: s.Hour, Minute: s.Minute}
	case Yearly:
		m := time.Month(s.month())
		return LocalTime{Year: now.Year, Month: m, Day: clampDay(now.Year, m, s.dayOfMonth()), Hour: s.Hour, Minute: s.Minute}
	default:
		return LocalTime{Year: now.Year, Month: now.Month, Day: now.Day, Hour: s.Hour, Minute: s.Minute}
	}
}

// step moves a boundary by n schedule units (n is +1 or -1) using calendar
// arithmetic. Monthly and yearly steps re-clamp the day of month.
func step(l LocalTime, s Schedule, n int) LocalTime {
	switch s.Type {
	case Hourly:
		return normalize(l.Year, l.Month, l.Day, l.Hour+n, l.Minute)
	case Weekly:
		return normalize(l.Year, l.Month, l.Day+7*n, l.Hour, l.Minute)
	case Monthly:
		first := normalize(l.Year, l.Month+time.Month(n), 1, l.Hour, l.Minute)
		first.Day = clampDay(first.Year, first.Month, s.dayOfMonth())
		return first
	case Yearly:
		y := l.Year + n
		l.Year = y
		l.Day = clampDay(y, l.Month, s.dayOfMonth())
		return l
	default:
		return normalize(l.Year, l.Month, l.Day+n, l.Hour, l.Minute)
	}
}

// shift steps like step. Hourly boundaries that fall in a spring-forward gap
// of loc are passed over.
func shift(l LocalTime, s Schedule, n int, loc *time.Location) LocalTime {
	l = step(l, s, n)
	if s.Type != Hourly {
		return l
	}
	for i := 0; i < 24 && !exists(l, loc); i++ {
		l = step(l, s, n)
	}
	return l
}

// exists reports whether l is a wall-clock time that occurs in loc.
func exists(l LocalTime, loc *time.Location) bool {
	return LocalFields(l.In(loc), loc) == l
}

// ResolveSlotEnd returns, as local calendar fields in loc, the most recent
// slot boundary at or before now. A now exactly on a boundary resolves to
// that boundary.
//
// Hourly slots step on local fields: during a DST fall-back the repeated
// wall-clock hour maps to a single slot, and an hour skipped by spring-forward
// has no slot.
func ResolveSlotEnd(now time.Time, s Schedule, loc *time.Location) LocalTime {
	if loc == nil {
		loc = time.UTC
	}
	local := LocalFields(now, loc)
	c := candidate(local, now.In(loc).Weekday(), s)
	if now.Before(c.In(loc)) || (s.Type == Hourly && !exists(c, loc)) {
		c = shift(c, s, -1, loc)
	}
	return c
}

// BuildSlotWindow builds the slot ending at end. Both bounds are converted
// with loc's offset at their own local instant.
func BuildSlotWindow(end LocalTime, s Schedule, loc *time.Location) Slot {
	if loc == nil {
		loc = time.UTC
	}
	start := shift(end, s, -1, loc)
	endUTC := end.In(loc).UTC()
	return Slot{
		Key:         FormatSlotKey(endUTC),
		Type:        s.Type,
		ScheduledAt: endUTC,
		Window:      Window{Start: start.In(loc).UTC(), End: endUTC},
		end:         end,
	}
}

// Current returns the slot containing now.
func Current(now time.Time, s Schedule, loc *time.Location) Slot {
	return BuildSlotWindow(ResolveSlotEnd(now, s, loc), s, loc)
}

// ListSlots returns max(1, backfill) slots, newest first, each one schedule
// unit before the previous. Backfill counts slots, not days: a monthly job
// with backfill 3 covers three months.
func ListSlots(now time.Time, s Schedule, loc *time.Location, backfill int) []Slot {
	if loc == nil {
		loc = time.UTC
	}
	if backfill < 1 {
		backfill = 1
	}
	end := ResolveSlotEnd(now, s, loc)
	out := make([]Slot, 0, backfill)
	for i := 0; i < backfill; i++ {
		out = append(out, BuildSlotWindow(end, s, loc))
		end = shift(end, s, -1, loc)
	}
	return out
}

// Next returns the slot after sl.
func Next(sl Slot, s Schedule, loc *time.Location) Slot {
	if loc == nil {
		loc = time.UTC
	}
	return BuildSlotWindow(shift(sl.end, s, 1, loc), s, loc)
}

// FromKey rebuilds the slot whose key is key. It fails when key does not
// fall on a boundary of s in loc.
func FromKey(key string, s Schedule, loc *time.Location) (Slot, error) {
	t, err := ParseSlotKey(key)
	if err != nil {
		return Slot{}, err
	}
	sl := Current(t, s, loc)
	if sl.Key != key {
		return Slot{}, fmt.Errorf("slot key %q is not a %s boundary (nearest %s)", key, s, sl.Key)
	}
	return sl, nil
}
