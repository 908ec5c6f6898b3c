package jobregistry

import "time"

// Entry is the registry record for one job of an owner. It is
// observational: nothing reads it to decide whether or how to run.
type Entry struct {
	JobID       string `json:"jobId"`
	Name        string `json:"name,omitempty"`
	Version     int    `json:"version,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Schedule    string `json:"schedule"`
	Timezone    string `json:"timezone,omitempty"`
	OutputFmt   string `json:"outputFormat,omitempty"`
	DataProfile string `json:"dataProfile,omitempty"`

	TotalRuns   int       `json:"totalRuns"`
	LastRunAt   time.Time `json:"lastRunAt"`
	LastStatus  string    `json:"lastStatus"`
	LastSlotKey string    `json:"lastSlotKey,omitempty"`
	LastRunID   string    `json:"lastRunId,omitempty"`
}

// Registry is the persisted jobs.json of one owner.
type Registry struct {
	Owner     string    `json:"owner"`
	OwnerType string    `json:"ownerType"`
	UpdatedAt time.Time `json:"updatedAt"`
	Jobs      []Entry   `json:"jobs"`
}

// Run describes a finished run to record.
type Run struct {
	RunID   string
	SlotKey string
	Status  string
	At      time.Time
}
