// Package ledger records every run attempt in a SQLite database.
//
// The ledger is observational. Manifests and index files in the object
// store remain authoritative; nothing in a run consults the ledger.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Mode says what triggered a run.
type Mode string

const (
	ModeScheduled Mode = "scheduled"
	ModeManual    Mode = "manual"
	ModeRerun     Mode = "rerun"
)

// Run is one ledger row.
type Run struct {
	RunID      string    `json:"runId"`
	JobID      string    `json:"jobId"`
	Owner      string    `json:"owner"`
	OwnerType  string    `json:"ownerType"`
	SlotKey    string    `json:"slotKey"`
	Mode       Mode      `json:"mode"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMs int64     `json:"durationMs"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	JobID   string
	Owner   string
	SlotKey string
	Status  string
	Since   time.Time
	Limit   int
}

// Stats counts runs per status.
type Stats struct {
	Total     int
	ByStatus  map[string]int
	LastRunAt time.Time
}

// Ledger wraps the database handle.
type Ledger struct {
	db *sql.DB
}

// Open opens (and creates if needed) the ledger and applies migrations.
func Open(ctx context.Context, cfg Config) (*Ledger, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Record inserts run. Recording the same run id again replaces the row.
func (l *Ledger) Record(ctx context.Context, run Run) error {
	if strings.TrimSpace(run.RunID) == "" {
		return fmt.Errorf("run id is required")
	}
	var errText sql.NullString
	if run.Error != "" {
		errText = sql.NullString{String: run.Error, Valid: true}
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs
		 (run_id, job_id, owner, owner_type, slot_key, mode, status, error, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   status=excluded.status, error=excluded.error, duration_ms=excluded.duration_ms`,
		run.RunID, run.JobID, run.Owner, run.OwnerType, run.SlotKey, string(run.Mode),
		run.Status, errText, formatTime(run.StartedAt), run.DurationMs)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// List returns matching runs, newest first.
func (l *Ledger) List(ctx context.Context, f Filter) ([]Run, error) {
	query := `SELECT run_id, job_id, owner, owner_type, slot_key, mode, status, error, started_at, duration_ms
		FROM runs`
	where, args := f.clauses()
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, run_id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		var r Run
		var mode, startedAt string
		var errText sql.NullString
		if err := rows.Scan(&r.RunID, &r.JobID, &r.Owner, &r.OwnerType, &r.SlotKey, &mode,
			&r.Status, &errText, &startedAt, &r.DurationMs); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Mode = Mode(mode)
		r.Error = errText.String
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("scan run %s: %w", r.RunID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// Stats aggregates runs matching f. Limit is ignored.
func (l *Ledger) Stats(ctx context.Context, f Filter) (*Stats, error) {
	query := `SELECT status, COUNT(*), MAX(started_at) FROM runs`
	where, args := f.clauses()
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " GROUP BY status"

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	st := &Stats{ByStatus: map[string]int{}}
	for rows.Next() {
		var status, last string
		var n int
		if err := rows.Scan(&status, &n, &last); err != nil {
			return nil, fmt.Errorf("scan run stats: %w", err)
		}
		st.ByStatus[status] = n
		st.Total += n
		if t, err := parseTime(last); err == nil && t.After(st.LastRunAt) {
			st.LastRunAt = t
		}
	}
	return st, rows.Err()
}

func (f Filter) clauses() ([]string, []any) {
	var where []string
	var args []any
	add := func(clause string, v any) {
		where = append(where, clause)
		args = append(args, v)
	}
	if f.JobID != "" {
		add("job_id = ?", f.JobID)
	}
	if f.Owner != "" {
		add("owner = ?", f.Owner)
	}
	if f.SlotKey != "" {
		add("slot_key = ?", f.SlotKey)
	}
	if f.Status != "" {
		add("status = ?", f.Status)
	}
	if !f.Since.IsZero() {
		add("started_at >= ?", formatTime(f.Since))
	}
	return where, args
}

// Timestamps are stored as fixed-width UTC text so they sort lexically
// under both drivers.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }
