package slot

import "time"

// Decision is the outcome of IsDue.
type Decision struct {
	Due         bool   `json:"due"`
	SlotKey     string `json:"slotKey"`
	LastSlotKey string `json:"lastSlotKey,omitempty"`
	NextSlotKey string `json:"nextSlotKey"`
}

// IsDue reports whether the slot containing now has not been recorded yet.
// lastSlotKey is the key of the most recent recorded run, or empty when the
// job has never run. Keys compare lexically.
func IsDue(s Schedule, now time.Time, loc *time.Location, lastSlotKey string) Decision {
	cur := Current(now, s, loc)
	return Decision{
		Due:         lastSlotKey == "" || lastSlotKey < cur.Key,
		SlotKey:     cur.Key,
		LastSlotKey: lastSlotKey,
		NextSlotKey: Next(cur, s, loc).Key,
	}
}
