// Package activity defines the source of repository activity that reports
// summarize, and the rollup statistics derived from it.
package activity

import (
	"context"
	"time"

	"github.com/3leaps/cadence/pkg/jobconfig"
	"github.com/3leaps/cadence/pkg/slot"
)

// Kind classifies an activity item.
type Kind string

const (
	KindCommit      Kind = "commit"
	KindPullRequest Kind = "pull_request"
	KindIssue       Kind = "issue"
)

// Item is one unit of activity inside a slot window.
type Item struct {
	Kind      Kind      `json:"kind"`
	Repo      string    `json:"repo"`
	Author    string    `json:"author,omitempty"`
	Title     string    `json:"title,omitempty"`
	URL       string    `json:"url,omitempty"`
	Number    int       `json:"number,omitempty"`
	State     string    `json:"state,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Meta reports fetch counts for observability.
type Meta struct {
	Total    int `json:"total"`
	Filtered int `json:"filtered"`
	Excluded int `json:"excluded"`
}

// SourceRef records which stored reports an aggregate run consumed.
type SourceRef struct {
	JobID     string   `json:"jobId"`
	Owner     string   `json:"owner"`
	OwnerType string   `json:"ownerType"`
	SlotKeys  []string `json:"slotKeys"`
}

// Report is a previously generated report fed into an aggregate run.
type Report struct {
	SlotKey string `json:"slotKey"`
	Text    string `json:"text"`
}

// Result is what a Source returns for one window.
type Result struct {
	Items []Item
	Meta  Meta

	// Rollups carry precomputed statistics from aggregated reports.
	Rollups []Rollup

	// Reports carry the text of aggregated reports.
	Reports []Report

	Source *SourceRef
}

// Empty reports whether the result has nothing to summarize.
func (r *Result) Empty() bool {
	if r == nil {
		return true
	}
	if len(r.Items) > 0 || len(r.Reports) > 0 {
		return false
	}
	for _, ru := range r.Rollups {
		if !ru.Empty() {
			return false
		}
	}
	return true
}

// Rollup summarizes every item and precomputed rollup in the result.
func (r *Result) Rollup() Rollup {
	if r == nil {
		return Rollup{}
	}
	return Merge(append([]Rollup{Summarize(r.Items)}, r.Rollups...)...)
}

// Source fetches activity for a job's scope within a window. Failures are
// returned as errors; retries happen inside implementations.
type Source interface {
	Fetch(ctx context.Context, job *jobconfig.Job, window slot.Window) (*Result, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, job *jobconfig.Job, window slot.Window) (*Result, error)

func (f SourceFunc) Fetch(ctx context.Context, job *jobconfig.Job, window slot.Window) (*Result, error) {
	return f(ctx, job, window)
}

// Static serves fixed items filtered to the requested window. Used for
// dry runs and tests.
type Static struct {
	Items []Item
}

func (s Static) Fetch(ctx context.Context, _ *jobconfig.Job, window slot.Window) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res := &Result{}
	for _, it := range s.Items {
		if it.CreatedAt.Before(window.Start) || !it.CreatedAt.Before(window.End) {
			continue
		}
		res.Items = append(res.Items, it)
	}
	res.Meta = Meta{Total: len(s.Items), Filtered: len(res.Items), Excluded: len(s.Items) - len(res.Items)}
	return res, nil
}
