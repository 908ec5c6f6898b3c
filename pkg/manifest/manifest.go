// Package manifest builds the durable records of a job run: the full
// Manifest, its listing-oriented Summary, and the IndexItem stored in
// monthly indexes.
package manifest

import (
	"time"

	"github.com/3leaps/cadence/pkg/activity"
	"github.com/3leaps/cadence/pkg/jobconfig"
	"github.com/3leaps/cadence/pkg/slot"
)

// SchemaVersion is the manifest document version.
const SchemaVersion = 1

// Status is the terminal state recorded for a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Output describes the stored report artifact.
type Output struct {
	Format string `json:"format"`
	Key    string `json:"key"`
	URI    string `json:"uri,omitempty"`
	Size   int64  `json:"size"`
}

// LLMUsage records model token usage.
type LLMUsage struct {
	Model            string `json:"model,omitempty"`
	PromptTokens     int    `json:"promptTokens"`
	CompletionTokens int    `json:"completionTokens"`
	TotalTokens      int    `json:"totalTokens"`
}

// Metrics are ratios derived from rollup statistics.
type Metrics struct {
	ActiveRepos           int     `json:"activeRepos"`
	ActiveContributors    int     `json:"activeContributors"`
	CommitsPerContributor float64 `json:"commitsPerContributor"`
	PRsPerRepo            float64 `json:"prsPerRepo"`
}

// Manifest is the durable record of one job run against one slot.
type Manifest struct {
	SchemaVersion int    `json:"schemaVersion"`
	RunID         string `json:"runId,omitempty"`

	JobID      string `json:"jobId"`
	JobName    string `json:"jobName,omitempty"`
	JobVersion int    `json:"jobVersion,omitempty"`
	Kind       string `json:"kind,omitempty"`

	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`

	Owner     string           `json:"owner"`
	OwnerType string           `json:"ownerType"`
	Scope     *jobconfig.Scope `json:"scope,omitempty"`

	SlotKey     string      `json:"slotKey"`
	SlotType    slot.Type   `json:"slotType"`
	ScheduledAt time.Time   `json:"scheduledAt"`
	Window      slot.Window `json:"window"`
	Timezone    string      `json:"timezone,omitempty"`

	Empty       bool      `json:"empty"`
	GeneratedAt time.Time `json:"generatedAt"`
	DurationMs  int64     `json:"durationMs"`
	DataProfile string    `json:"dataProfile,omitempty"`

	LLM    *LLMUsage           `json:"llm,omitempty"`
	Source *activity.SourceRef `json:"source,omitempty"`
	Output *Output             `json:"output,omitempty"`

	Stats        activity.Stats              `json:"stats"`
	Repos        []activity.RepoStats        `json:"repos,omitempty"`
	Contributors []activity.ContributorStats `json:"contributors,omitempty"`
	Metrics      *Metrics                    `json:"metrics,omitempty"`
	Fetch        *activity.Meta              `json:"fetch,omitempty"`
}

// Summary is the listing projection of a Manifest, without per-repository
// detail.
type Summary struct {
	SchemaVersion int    `json:"schemaVersion"`
	RunID         string `json:"runId,omitempty"`
	JobID         string `json:"jobId"`
	JobName       string `json:"jobName,omitempty"`
	Status        Status `json:"status"`
	Error         string `json:"error,omitempty"`

	Owner     string `json:"owner"`
	OwnerType string `json:"ownerType"`

	SlotKey     string      `json:"slotKey"`
	SlotType    slot.Type   `json:"slotType"`
	ScheduledAt time.Time   `json:"scheduledAt"`
	Window      slot.Window `json:"window"`
	Timezone    string      `json:"timezone,omitempty"`

	Empty       bool      `json:"empty"`
	GeneratedAt time.Time `json:"generatedAt"`
	DurationMs  int64     `json:"durationMs"`
	DataProfile string    `json:"dataProfile,omitempty"`

	LLM     *LLMUsage      `json:"llm,omitempty"`
	Output  *Output        `json:"output,omitempty"`
	Stats   activity.Stats `json:"stats"`
	Metrics *Metrics       `json:"metrics,omitempty"`

	ManifestKey string `json:"manifestKey"`
	OutputSize  int64  `json:"outputSize"`
}

// IndexItem is one entry of a monthly index file.
type IndexItem struct {
	Owner       string      `json:"owner"`
	OwnerType   string      `json:"ownerType"`
	JobID       string      `json:"jobId"`
	SlotKey     string      `json:"slotKey"`
	SlotType    slot.Type   `json:"slotType"`
	ScheduledAt time.Time   `json:"scheduledAt"`
	Window      slot.Window `json:"window"`
	Status      Status      `json:"status"`
	Empty       bool        `json:"empty"`
	OutputSize  int64       `json:"outputSize"`
	ManifestKey string      `json:"manifestKey"`
	DurationMs  int64       `json:"durationMs,omitempty"`
	Metrics     *Metrics    `json:"metrics,omitempty"`
	LLMUsage    *LLMUsage   `json:"llmUsage,omitempty"`
}
