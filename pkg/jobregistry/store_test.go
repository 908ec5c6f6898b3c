package jobregistry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/cadence/pkg/jobconfig"
	"github.com/3leaps/cadence/pkg/provider"
	"github.com/3leaps/cadence/pkg/provider/file"
	"github.com/3leaps/cadence/pkg/slot"
)

func jobs() (*jobconfig.Job, *jobconfig.Job) {
	f := &jobconfig.File{Jobs: []jobconfig.Job{
		{ID: "daily", Owner: "acme", Schedule: slot.Schedule{Type: slot.Daily}},
		{ID: "weekly", Owner: "acme", Schedule: slot.Schedule{Type: slot.Weekly, Weekday: 1, Hour: 9}},
	}}
	f.ApplyDefaults()
	return &f.Jobs[0], &f.Jobs[1]
}

func TestStore_RecordAndList(t *testing.T) {
	ctx := context.Background()
	fs, err := file.New(file.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	s := NewStore(fs, "reports", nil)
	daily, weekly := jobs()

	t0 := time.Date(2024, 11, 3, 1, 0, 0, 0, time.UTC)
	_, err = s.Record(ctx, daily, Run{RunID: "r1", SlotKey: "2024-11-03T00-00Z", Status: "success", At: t0})
	require.NoError(t, err)
	_, err = s.Record(ctx, weekly, Run{RunID: "r2", SlotKey: "2024-11-04T09-00Z", Status: "failed", At: t0.Add(time.Hour)})
	require.NoError(t, err)
	e, err := s.Record(ctx, daily, Run{RunID: "r3", SlotKey: "2024-11-04T00-00Z", Status: "success", At: t0.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 2, e.TotalRuns)
	assert.Equal(t, "daily 00:00", e.Schedule)

	ok, err := fs.Exists(ctx, "reports/_index/org/acme/jobs.json")
	require.NoError(t, err)
	assert.True(t, ok)

	entries, err := s.List(ctx, "org", "acme")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "daily", entries[0].JobID)
	assert.Equal(t, "2024-11-04T00-00Z", entries[0].LastSlotKey)
	assert.Equal(t, "weekly", entries[1].JobID)
	assert.Equal(t, "failed", entries[1].LastStatus)
}

func TestStore_CorruptRegistryStartsOver(t *testing.T) {
	ctx := context.Background()
	fs, err := file.New(file.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	s := NewStore(fs, "", nil)
	daily, _ := jobs()

	_, err = fs.Put(ctx, s.Key("org", "acme"), []byte("{oops"), provider.ContentTypeJSON)
	require.NoError(t, err)

	e, err := s.Record(ctx, daily, Run{Status: "success", At: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, 1, e.TotalRuns)
}

func TestStore_RecordRequiresJob(t *testing.T) {
	s := NewStore(nil, "", nil)
	_, err := s.Record(context.Background(), nil, Run{})
	assert.Error(t, err)
}
