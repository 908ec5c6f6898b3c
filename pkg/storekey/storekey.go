// Package storekey derives object keys for report artifacts and indexes.
//
// Every key is a pure function of its inputs: no execution timestamps or
// random components. Re-running a slot therefore overwrites the same
// objects and lookups never need a search.
package storekey

import (
	"path"
	"regexp"
	"strings"
	"time"
)

const (
	indexDir     = "_index"
	manifestFile = "manifest.json"
	summaryFile  = "summary.json"
	latestFile   = "latest.json"
	jobsFile     = "jobs.json"
	periodLayout = "2006-01"
)

var monthFileRe = regexp.MustCompile(`^\d{4}-\d{2}\.json$`)

// Job names the key space owned by one (ownerType, owner, jobId) triple.
type Job struct {
	Prefix    string
	OwnerType string
	Owner     string
	JobID     string
}

func join(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

// ReportBase returns {prefix}/{ownerType}/{owner}/{jobId}/{slotKey}.
func ReportBase(prefix, ownerType, owner, jobID, slotKey string) string {
	return join(prefix, ownerType, owner, jobID, slotKey)
}

// IndexRoot returns {prefix}/_index, the root of every index document.
func IndexRoot(prefix string) string {
	return join(prefix, indexDir)
}

// IndexBase returns {prefix}/_index/{ownerType}/{owner}/{jobId}.
func IndexBase(prefix, ownerType, owner, jobID string) string {
	return join(prefix, indexDir, ownerType, owner, jobID)
}

// JobsRegistry returns {prefix}/_index/{ownerType}/{owner}/jobs.json.
func JobsRegistry(prefix, ownerType, owner string) string {
	return join(prefix, indexDir, ownerType, owner, jobsFile)
}

// Manifest returns {reportBase}/manifest.json.
func Manifest(reportBase string) string { return join(reportBase, manifestFile) }

// Summary returns {reportBase}/summary.json.
func Summary(reportBase string) string { return join(reportBase, summaryFile) }

// Output returns {reportBase}/output.{ext}.
func Output(reportBase, ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		ext = "txt"
	}
	return join(reportBase, "output."+ext)
}

// MonthIndex returns {indexBase}/{period}.json.
func MonthIndex(indexBase, period string) string {
	return join(indexBase, period+".json")
}

// Latest returns {indexBase}/latest.json.
func Latest(indexBase string) string { return join(indexBase, latestFile) }

// Period returns the YYYY-MM month containing t in loc.
func Period(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(periodLayout)
}

// IsMonthIndex reports whether key names a monthly index file.
func IsMonthIndex(key string) bool {
	return monthFileRe.MatchString(path.Base(key))
}

// PeriodOf extracts YYYY-MM from a monthly index key.
func PeriodOf(key string) (string, bool) {
	base := path.Base(key)
	if !monthFileRe.MatchString(base) {
		return "", false
	}
	return strings.TrimSuffix(base, ".json"), true
}

// ReportBase returns the report base for slotKey.
func (j Job) ReportBase(slotKey string) string {
	return ReportBase(j.Prefix, j.OwnerType, j.Owner, j.JobID, slotKey)
}

// IndexBase returns the job's index base.
func (j Job) IndexBase() string {
	return IndexBase(j.Prefix, j.OwnerType, j.Owner, j.JobID)
}

// Registry returns the owner's jobs.json key.
func (j Job) Registry() string {
	return JobsRegistry(j.Prefix, j.OwnerType, j.Owner)
}

// Latest returns the job's latest pointer key.
func (j Job) Latest() string { return Latest(j.IndexBase()) }

// MonthIndexFor returns the monthly index key for a window starting at
// start, with the month taken in loc.
func (j Job) MonthIndexFor(start time.Time, loc *time.Location) string {
	return MonthIndex(j.IndexBase(), Period(start, loc))
}

// Slot bundles every key for one slot.
type Slot struct {
	Base     string
	Manifest string
	Summary  string
}

// ForSlot returns the keys of slotKey.
func (j Job) ForSlot(slotKey string) Slot {
	base := j.ReportBase(slotKey)
	return Slot{Base: base, Manifest: Manifest(base), Summary: Summary(base)}
}

// Output returns the artifact key with the given extension.
func (s Slot) Output(ext string) string { return Output(s.Base, ext) }
