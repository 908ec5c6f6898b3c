package storekey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	base := ReportBase("reports", "org", "acme", "daily", "2024-11-03T00-00Z")
	assert.Equal(t, "reports/org/acme/daily/2024-11-03T00-00Z", base)
	assert.Equal(t, "reports/org/acme/daily/2024-11-03T00-00Z/manifest.json", Manifest(base))
	assert.Equal(t, "reports/org/acme/daily/2024-11-03T00-00Z/summary.json", Summary(base))
	assert.Equal(t, "reports/org/acme/daily/2024-11-03T00-00Z/output.md", Output(base, ".md"))
	assert.Equal(t, "reports/org/acme/daily/2024-11-03T00-00Z/output.txt", Output(base, ""))

	idx := IndexBase("reports", "org", "acme", "daily")
	assert.Equal(t, "reports/_index/org/acme/daily", idx)
	assert.Equal(t, "reports/_index/org/acme/daily/2024-11.json", MonthIndex(idx, "2024-11"))
	assert.Equal(t, "reports/_index/org/acme/daily/latest.json", Latest(idx))
	assert.Equal(t, "reports/_index/org/acme/jobs.json", JobsRegistry("reports", "org", "acme"))
}

func TestKeys_TrimSlashesAndEmptyPrefix(t *testing.T) {
	assert.Equal(t, "user/octo/weekly/K", ReportBase("", "user", "octo", "weekly", "K"))
	assert.Equal(t, "a/b/_index/user/octo/weekly", IndexBase("/a/b/", "user", "octo", "weekly"))
	assert.Equal(t, "_index", IndexRoot(""))
	assert.Equal(t, "reports/_index", IndexRoot("reports/"))
}

func TestPeriod_UsesJobTimezone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	start := time.Date(2024, 10, 31, 16, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-10", Period(start, time.UTC))
	assert.Equal(t, "2024-11", Period(start, tokyo))
	assert.Equal(t, "2024-10", Period(start, nil))
}

func TestMonthIndexDetection(t *testing.T) {
	assert.True(t, IsMonthIndex("r/_index/org/acme/daily/2024-11.json"))
	assert.False(t, IsMonthIndex("r/_index/org/acme/daily/latest.json"))
	assert.False(t, IsMonthIndex("r/_index/org/acme/jobs.json"))

	p, ok := PeriodOf("x/2023-01.json")
	assert.True(t, ok)
	assert.Equal(t, "2023-01", p)
}

func TestJob(t *testing.T) {
	j := Job{Prefix: "reports", OwnerType: "org", Owner: "acme", JobID: "daily"}
	keys := j.ForSlot("2024-11-03T00-00Z")
	assert.Equal(t, "reports/org/acme/daily/2024-11-03T00-00Z/manifest.json", keys.Manifest)
	assert.Equal(t, "reports/org/acme/daily/2024-11-03T00-00Z/output.json", keys.Output("json"))
	assert.Equal(t, "reports/_index/org/acme/daily/latest.json", j.Latest())
	assert.Equal(t, "reports/_index/org/acme/jobs.json", j.Registry())
	assert.Equal(t, "reports/_index/org/acme/daily/2024-11.json",
		j.MonthIndexFor(time.Date(2024, 11, 2, 0, 0, 0, 0, time.UTC), time.UTC))
}
