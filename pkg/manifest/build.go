package manifest

import (
	"time"

	"github.com/3leaps/cadence/pkg/activity"
	"github.com/3leaps/cadence/pkg/jobconfig"
	"github.com/3leaps/cadence/pkg/slot"
)

// Input carries everything a manifest records about one run.
type Input struct {
	RunID string
	Job   *jobconfig.Job
	Slot  slot.Slot

	Rollup activity.Rollup
	Fetch  *activity.Meta
	Source *activity.SourceRef

	Output     *Output
	Empty      bool
	DurationMs int64
	LLM        *LLMUsage

	// Now stamps GeneratedAt. Zero means time.Now.
	Now time.Time
}

func (in Input) base() *Manifest {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	j := in.Job
	scope := j.Scope
	return &Manifest{
		SchemaVersion: SchemaVersion,
		RunID:         in.RunID,
		JobID:         j.ID,
		JobName:       j.Name,
		JobVersion:    j.Version,
		Kind:          string(j.Kind),
		Owner:         j.Owner,
		OwnerType:     j.OwnerType,
		Scope:         &scope,
		SlotKey:       in.Slot.Key,
		SlotType:      in.Slot.Type,
		ScheduledAt:   in.Slot.ScheduledAt,
		Window:        in.Slot.Window,
		Timezone:      j.Timezone,
		GeneratedAt:   now.UTC(),
		DurationMs:    in.DurationMs,
		DataProfile:   j.DataProfile,
	}
}

// Build assembles a successful run's manifest. Totals are taken from the
// rollup; metrics are derived from it.
func Build(in Input) *Manifest {
	m := in.base()
	m.Status = StatusSuccess
	m.Empty = in.Empty
	m.LLM = in.LLM
	m.Source = in.Source
	m.Output = in.Output
	m.Fetch = in.Fetch
	m.Stats = in.Rollup.Stats
	m.Repos = in.Rollup.Repos
	m.Contributors = in.Rollup.Contributors
	m.Metrics = ComputeMetrics(in.Rollup.Stats)
	return m
}

// BuildFailed assembles a failed run's manifest: empty, no output, zeroed
// statistics.
func BuildFailed(in Input, runErr error) *Manifest {
	m := in.base()
	m.Status = StatusFailed
	m.Empty = true
	if runErr != nil {
		m.Error = runErr.Error()
	}
	m.Fetch = in.Fetch
	return m
}

// BuildSummary projects m for listing.
func BuildSummary(m *Manifest, manifestKey string) *Summary {
	s := &Summary{
		SchemaVersion: m.SchemaVersion,
		RunID:         m.RunID,
		JobID:         m.JobID,
		JobName:       m.JobName,
		Status:        m.Status,
		Error:         m.Error,
		Owner:         m.Owner,
		OwnerType:     m.OwnerType,
		SlotKey:       m.SlotKey,
		SlotType:      m.SlotType,
		ScheduledAt:   m.ScheduledAt,
		Window:        m.Window,
		Timezone:      m.Timezone,
		Empty:         m.Empty,
		GeneratedAt:   m.GeneratedAt,
		DurationMs:    m.DurationMs,
		DataProfile:   m.DataProfile,
		LLM:           m.LLM,
		Output:        m.Output,
		Stats:         m.Stats,
		Metrics:       m.Metrics,
		ManifestKey:   manifestKey,
	}
	if m.Output != nil {
		s.OutputSize = m.Output.Size
	}
	return s
}

// IndexItemFrom derives the index entry for a summary.
func IndexItemFrom(s *Summary) IndexItem {
	return IndexItem{
		Owner:       s.Owner,
		OwnerType:   s.OwnerType,
		JobID:       s.JobID,
		SlotKey:     s.SlotKey,
		SlotType:    s.SlotType,
		ScheduledAt: s.ScheduledAt,
		Window:      s.Window,
		Status:      s.Status,
		Empty:       s.Empty,
		OutputSize:  s.OutputSize,
		ManifestKey: s.ManifestKey,
		DurationMs:  s.DurationMs,
		Metrics:     s.Metrics,
		LLMUsage:    s.LLM,
	}
}

// ComputeMetrics derives ratios from totals. Returns nil when there is no
// activity.
func ComputeMetrics(st activity.Stats) *Metrics {
	if st.Commits == 0 && st.PullRequests == 0 && st.Issues == 0 {
		return nil
	}
	m := &Metrics{ActiveRepos: st.Repos, ActiveContributors: st.Contributors}
	if st.Contributors > 0 {
		m.CommitsPerContributor = round2(float64(st.Commits) / float64(st.Contributors))
	}
	if st.Repos > 0 {
		m.PRsPerRepo = round2(float64(st.PullRequests) / float64(st.Repos))
	}
	return m
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
