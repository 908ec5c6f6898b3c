// Package output provides JSONL output for batch commands.
//
// Each line is a typed record envelope carrying one slot outcome, slot
// preview, index entry, diagnostic check, error or final summary. Lines are
// self-contained and can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: cadence.<type>.v<version>
const (
	// TypeSlot identifies slot run outcome records.
	TypeSlot = "cadence.slot.v1"

	// TypePreview identifies slot preview records (no run).
	TypePreview = "cadence.preview.v1"

	// TypeIndex identifies index entry records.
	TypeIndex = "cadence.index.v1"

	// TypeCheck identifies doctor check records.
	TypeCheck = "cadence.check.v1"

	// TypeError identifies error records.
	TypeError = "cadence.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "cadence.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "cadence.slot.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// InvocationID correlates every record of one CLI invocation.
	InvocationID string `json:"invocation_id"`

	// Store identifies the storage backend (e.g., "s3", "file").
	Store string `json:"store"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// SlotRecord is the outcome of one slot run.
type SlotRecord struct {
	JobID       string `json:"job_id"`
	SlotKey     string `json:"slot_key"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	Error       string `json:"error,omitempty"`
	RunID       string `json:"run_id,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Empty       bool   `json:"empty,omitempty"`
	ManifestKey string `json:"manifest_key,omitempty"`
	OutputKey   string `json:"output_key,omitempty"`
	OutputSize  int64  `json:"output_size,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
}

// PreviewRecord describes a slot without running it.
type PreviewRecord struct {
	JobID       string    `json:"job_id"`
	SlotKey     string    `json:"slot_key"`
	SlotType    string    `json:"slot_type"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Local       string    `json:"local"`
	Exists      *bool     `json:"exists,omitempty"`
}

// IndexRecord wraps one index item; the payload is the persisted item.
type IndexRecord struct {
	Period string          `json:"period"`
	Item   json.RawMessage `json:"item"`
}

// CheckRecord is a single doctor check result.
type CheckRecord struct {
	Check  string `json:"check"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than failing the whole batch, so one
// broken job does not hide the others.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// JobID is the job related to this error, if applicable.
	JobID string `json:"job_id,omitempty"`

	// SlotKey is the slot related to this error, if applicable.
	SlotKey string `json:"slot_key,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeAccessDenied = "ACCESS_DENIED"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInvalid      = "INVALID"
	ErrCodeThrottled    = "THROTTLED"
	ErrCodeInternal     = "INTERNAL"
)

// SummaryRecord is emitted once at the end of a batch.
type SummaryRecord struct {
	Jobs    int `json:"jobs"`
	Slots   int `json:"slots"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`

	// Duration is the total batch duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Add counts one slot outcome by status.
func (s *SummaryRecord) Add(status string) {
	s.Slots++
	switch status {
	case "success":
		s.Success++
	case "failed":
		s.Failed++
	case "skipped":
		s.Skipped++
	}
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
