// Package jobconfig loads and validates cadence job definitions.
//
// A jobs file is a YAML or JSON document listing reporting jobs: whose
// activity to summarize, on which schedule, and how to render and deliver
// the result. It is validated against an embedded JSON Schema before it is
// parsed, so unknown fields are rejected rather than silently ignored.
//
// Example jobs file (YAML):
//
//	version: "1.0"
//	defaults:
//	  timezone: America/New_York
//	jobs:
//	  - id: acme-daily
//	    owner: acme
//	    ownerType: org
//	    schedule:
//	      type: daily
//	      hour: 0
//	    scope:
//	      repos: ["acme/*"]
//	      excludeAuthors: ["*\\[bot\\]"]
//	    output:
//	      format: markdown
//	  - id: acme-weekly
//	    kind: aggregate
//	    owner: acme
//	    schedule:
//	      type: weekly
//	      weekday: 1
//	      hour: 9
//	    source:
//	      jobId: acme-daily
package jobconfig

import (
	"time"

	"github.com/3leaps/cadence/pkg/slot"
	"github.com/3leaps/cadence/pkg/storekey"
)

// Kind selects the activity source of a job.
type Kind string

const (
	// KindActivity fetches repository activity from the forge API.
	KindActivity Kind = "activity"

	// KindAggregate summarizes the stored results of another job.
	KindAggregate Kind = "aggregate"
)

// EmptyPolicy decides what happens when a slot has no activity.
type EmptyPolicy string

const (
	// EmptySkip records nothing.
	EmptySkip EmptyPolicy = "skip"

	// EmptyManifestOnly records a manifest, summary and index entry marked
	// empty, without an output artifact.
	EmptyManifestOnly EmptyPolicy = "manifest-only"

	// EmptyPlaceholder also writes a short placeholder artifact.
	EmptyPlaceholder EmptyPolicy = "placeholder"
)

// File is a parsed jobs file.
type File struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version must be "1.0".
	Version string `json:"version" yaml:"version"`

	Defaults Defaults `json:"defaults,omitempty" yaml:"defaults,omitempty"`
	Jobs     []Job    `json:"jobs" yaml:"jobs"`
}

// Defaults apply to every job that leaves the field unset.
type Defaults struct {
	Timezone    string      `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Backfill    int         `json:"backfill,omitempty" yaml:"backfill,omitempty"`
	EmptyPolicy EmptyPolicy `json:"emptyPolicy,omitempty" yaml:"emptyPolicy,omitempty"`
	DataProfile string      `json:"dataProfile,omitempty" yaml:"dataProfile,omitempty"`
}

// Job is one reporting job definition.
type Job struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Version int    `json:"version,omitempty" yaml:"version,omitempty"`
	Kind    Kind   `json:"kind,omitempty" yaml:"kind,omitempty"`
	Enabled *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	Owner     string `json:"owner" yaml:"owner"`
	OwnerType string `json:"ownerType,omitempty" yaml:"ownerType,omitempty"`

	// Timezone is an IANA zone name. Slot boundaries are computed in it.
	Timezone string        `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Schedule slot.Schedule `json:"schedule" yaml:"schedule"`

	// Backfill is the number of slots (not days) processed per run,
	// newest first. A monthly job with backfill 3 covers three months.
	Backfill int `json:"backfill,omitempty" yaml:"backfill,omitempty"`

	// Idempotent skips slots that already have a manifest.
	Idempotent *bool `json:"idempotent,omitempty" yaml:"idempotent,omitempty"`

	EmptyPolicy EmptyPolicy `json:"emptyPolicy,omitempty" yaml:"emptyPolicy,omitempty"`
	DataProfile string      `json:"dataProfile,omitempty" yaml:"dataProfile,omitempty"`

	Scope  Scope         `json:"scope,omitempty" yaml:"scope,omitempty"`
	Source *SourceRef    `json:"source,omitempty" yaml:"source,omitempty"`
	Output OutputConfig  `json:"output,omitempty" yaml:"output,omitempty"`
	Notify *NotifyConfig `json:"notify,omitempty" yaml:"notify,omitempty"`

	loc *time.Location
}

// Scope selects repositories and contributors.
type Scope struct {
	// Repos are owner/name glob patterns. Empty means every repository of
	// the owner.
	Repos []string `json:"repos,omitempty" yaml:"repos,omitempty"`

	// Exclude removes repositories matching any pattern.
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`

	// ExcludeAuthors removes activity by matching logins.
	ExcludeAuthors []string `json:"excludeAuthors,omitempty" yaml:"excludeAuthors,omitempty"`

	IncludeForks    bool `json:"includeForks,omitempty" yaml:"includeForks,omitempty"`
	IncludeArchived bool `json:"includeArchived,omitempty" yaml:"includeArchived,omitempty"`
}

// SourceRef points an aggregate job at another job's results. Owner fields
// default to the aggregate job's own.
type SourceRef struct {
	JobID     string `json:"jobId" yaml:"jobId"`
	Owner     string `json:"owner,omitempty" yaml:"owner,omitempty"`
	OwnerType string `json:"ownerType,omitempty" yaml:"ownerType,omitempty"`
}

// OutputConfig controls the report artifact.
type OutputConfig struct {
	// Format is markdown, json or text. Default: markdown.
	Format string `json:"format,omitempty" yaml:"format,omitempty"`

	// Generator is digest (built in) or llm. Default: digest.
	Generator string `json:"generator,omitempty" yaml:"generator,omitempty"`

	Prompt    string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Model     string `json:"model,omitempty" yaml:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
}

// NotifyConfig configures webhook delivery.
type NotifyConfig struct {
	Webhook      string            `json:"webhook" yaml:"webhook"`
	OnFailure    bool              `json:"onFailure,omitempty" yaml:"onFailure,omitempty"`
	AttachOutput bool              `json:"attachOutput,omitempty" yaml:"attachOutput,omitempty"`
	Headers      map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Default values for optional fields.
const (
	DefaultVersion     = "1.0"
	DefaultKind        = KindActivity
	DefaultOwnerType   = "org"
	DefaultTimezone    = "UTC"
	DefaultBackfill    = 1
	DefaultEmptyPolicy = EmptyManifestOnly
	DefaultDataProfile = "standard"
	DefaultFormat      = "markdown"
	DefaultGenerator   = "digest"
	DefaultJobVersion  = 1
)

// ApplyDefaults fills in file-level and built-in defaults for every job.
func (f *File) ApplyDefaults() {
	for i := range f.Jobs {
		f.Jobs[i].applyDefaults(f.Defaults)
	}
}

func (j *Job) applyDefaults(d Defaults) {
	if j.Name == "" {
		j.Name = j.ID
	}
	if j.Version == 0 {
		j.Version = DefaultJobVersion
	}
	if j.Kind == "" {
		j.Kind = DefaultKind
	}
	if j.OwnerType == "" {
		j.OwnerType = DefaultOwnerType
	}
	if j.Timezone == "" {
		j.Timezone = firstNonEmpty(d.Timezone, DefaultTimezone)
	}
	if j.Backfill == 0 {
		j.Backfill = d.Backfill
	}
	if j.Backfill == 0 {
		j.Backfill = DefaultBackfill
	}
	if j.EmptyPolicy == "" {
		j.EmptyPolicy = d.EmptyPolicy
	}
	if j.EmptyPolicy == "" {
		j.EmptyPolicy = DefaultEmptyPolicy
	}
	if j.DataProfile == "" {
		j.DataProfile = firstNonEmpty(d.DataProfile, DefaultDataProfile)
	}
	if j.Output.Format == "" {
		j.Output.Format = DefaultFormat
	}
	if j.Output.Generator == "" {
		j.Output.Generator = DefaultGenerator
	}
	if j.Source != nil {
		if j.Source.Owner == "" {
			j.Source.Owner = j.Owner
		}
		if j.Source.OwnerType == "" {
			j.Source.OwnerType = j.OwnerType
		}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// IsEnabled defaults to true.
func (j *Job) IsEnabled() bool {
	return j.Enabled == nil || *j.Enabled
}

// IsIdempotent defaults to true.
func (j *Job) IsIdempotent() bool {
	return j.Idempotent == nil || *j.Idempotent
}

// Location returns the job's timezone. Jobs returned by Load always have a
// valid one; a zero Job falls back to UTC.
func (j *Job) Location() *time.Location {
	if j.loc != nil {
		return j.loc
	}
	loc, err := slot.LoadLocation(j.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Keys returns the job's key space under prefix.
func (j *Job) Keys(prefix string) storekey.Job {
	return storekey.Job{Prefix: prefix, OwnerType: j.OwnerType, Owner: j.Owner, JobID: j.ID}
}

// SourceKeys returns the key space of an aggregate job's source.
func (j *Job) SourceKeys(prefix string) (storekey.Job, bool) {
	if j.Source == nil {
		return storekey.Job{}, false
	}
	return storekey.Job{Prefix: prefix, OwnerType: j.Source.OwnerType, Owner: j.Source.Owner, JobID: j.Source.JobID}, true
}

// OutputExt maps the output format to a file extension.
func (j *Job) OutputExt() string {
	switch j.Output.Format {
	case "json":
		return "json"
	case "text":
		return "txt"
	default:
		return "md"
	}
}

// Lookup returns the job with id.
func (f *File) Lookup(id string) (*Job, bool) {
	for i := range f.Jobs {
		if f.Jobs[i].ID == id {
			return &f.Jobs[i], true
		}
	}
	return nil, false
}

// Enabled returns the enabled jobs in file order.
func (f *File) Enabled() []*Job {
	out := make([]*Job, 0, len(f.Jobs))
	for i := range f.Jobs {
		if f.Jobs[i].IsEnabled() {
			out = append(out, &f.Jobs[i])
		}
	}
	return out
}
