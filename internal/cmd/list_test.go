package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/cadence/pkg/jobconfig"
	"github.com/3leaps/cadence/pkg/manifest"
	"github.com/3leaps/cadence/pkg/slot"
	"github.com/3leaps/cadence/pkg/storekey"
)

func dailyItem(day int, status manifest.Status) manifest.IndexItem {
	end := time.Date(2024, 11, day, 0, 0, 0, 0, time.UTC)
	return manifest.IndexItem{
		SlotKey: slot.FormatSlotKey(end),
		Window:  slot.Window{Start: end.AddDate(0, 0, -1), End: end},
		Status:  status,
	}
}

func TestFilterItems(t *testing.T) {
	// Oldest first, as stored.
	items := []manifest.IndexItem{
		dailyItem(1, manifest.StatusSuccess),
		dailyItem(2, manifest.StatusFailed),
		dailyItem(3, manifest.StatusSuccess),
		dailyItem(4, manifest.StatusSuccess),
	}
	periodOf := func(it manifest.IndexItem) string { return storekey.Period(it.Window.Start, time.UTC) }

	keys := func(got []periodItem) []string {
		out := make([]string, 0, len(got))
		for _, g := range got {
			out = append(out, g.item.SlotKey)
		}
		return out
	}

	tests := []struct {
		name   string
		status manifest.Status
		period string
		limit  int
		want   []string
	}{
		{name: "all newest first", want: []string{"2024-11-04T00-00Z", "2024-11-03T00-00Z", "2024-11-02T00-00Z", "2024-11-01T00-00Z"}},
		{name: "limit", limit: 2, want: []string{"2024-11-04T00-00Z", "2024-11-03T00-00Z"}},
		{name: "status", status: manifest.StatusFailed, want: []string{"2024-11-02T00-00Z"}},
		{name: "period by window start", period: "2024-10", want: []string{"2024-11-01T00-00Z"}},
		{name: "no match", period: "2023-01", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := filterItems(items, tt.status, tt.period, periodOf, tt.limit)
			assert.Equal(t, tt.want, keys(got))
		})
	}
}

func TestPreviewSlots(t *testing.T) {
	job := &jobconfig.Job{ID: "acme-weekly", Schedule: slot.Schedule{Type: slot.Weekly, Weekday: 1}}
	at := time.Date(2024, 11, 13, 12, 0, 0, 0, time.UTC)

	recs := previewSlots(job, at, 2)
	require.Len(t, recs, 2)
	assert.Equal(t, "2024-11-11T00-00Z", recs[0].SlotKey)
	assert.Equal(t, "2024-11-04T00-00Z", recs[1].SlotKey)
	assert.Equal(t, "weekly", recs[0].SlotType)
	assert.Equal(t, 7*24*time.Hour, recs[0].WindowEnd.Sub(recs[0].WindowStart))

	var buf bytes.Buffer
	require.NoError(t, writeSlotsTable(&buf, recs))
	assert.Contains(t, buf.String(), "2024-11-11T00-00Z")
	assert.Contains(t, buf.String(), "168")
}
