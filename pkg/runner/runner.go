// Package runner executes reporting jobs against slots.
//
// A slot run moves through fetching, generating, writing and indexing and
// ends in exactly one of success, failed or skipped. Durable writes happen
// in a fixed order: output, manifest, summary, month index, latest pointer.
// A reader that finds an index entry can therefore always resolve its
// manifest, and a reader that finds a manifest can resolve its output.
//
// Registry updates, ledger rows and notifications follow the durable writes
// and never change a run's result.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/cadence/pkg/activity"
	"github.com/3leaps/cadence/pkg/generate"
	"github.com/3leaps/cadence/pkg/index"
	"github.com/3leaps/cadence/pkg/jobconfig"
	"github.com/3leaps/cadence/pkg/jobregistry"
	"github.com/3leaps/cadence/pkg/ledger"
	"github.com/3leaps/cadence/pkg/manifest"
	"github.com/3leaps/cadence/pkg/notify"
	"github.com/3leaps/cadence/pkg/provider"
	"github.com/3leaps/cadence/pkg/slot"
	"github.com/3leaps/cadence/pkg/storekey"
)

// Status is the terminal state of a slot run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Reasons reported with StatusSkipped.
const (
	ReasonExists = "manifest exists"
	ReasonEmpty  = "no activity"
)

// Options control one slot run.
type Options struct {
	// Force runs the slot even when an idempotent job already has a
	// manifest for it.
	Force bool

	// RecordFailure writes a failed manifest, summary and index entry when
	// the run fails.
	RecordFailure bool

	// Notify sends the job's webhook after the run.
	Notify bool

	Mode ledger.Mode

	// deferred leaves ledger and notification to the caller, which commits
	// buffered writes first.
	deferred bool
}

// DefaultOptions are the options of unattended runs.
func DefaultOptions() Options {
	return Options{RecordFailure: true, Notify: true, Mode: ledger.ModeScheduled}
}

// Result describes a finished slot run.
type Result struct {
	RunID     string    `json:"runId"`
	JobID     string    `json:"jobId"`
	SlotKey   string    `json:"slotKey"`
	Status    Status    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	Empty     bool      `json:"empty"`
	StartedAt time.Time `json:"startedAt"`

	ManifestKey string `json:"manifestKey,omitempty"`
	SummaryKey  string `json:"summaryKey,omitempty"`
	OutputKey   string `json:"outputKey,omitempty"`
	OutputURI   string `json:"outputUri,omitempty"`
	OutputSize  int64  `json:"outputSize,omitempty"`
	DurationMs  int64  `json:"durationMs"`

	// Removed lists stale keys a rerun deleted after committing.
	Removed []string `json:"removed,omitempty"`

	content string
}

// Failed reports whether the run failed.
func (r Result) Failed() bool { return r.Status == StatusFailed }

// RunRecorder stores run attempts. *ledger.Ledger implements it.
type RunRecorder interface {
	Record(ctx context.Context, run ledger.Run) error
}

// Deps are the collaborators of a Runner. Store is required.
type Deps struct {
	Store provider.Store

	// Sources maps job kinds to activity sources.
	Sources map[jobconfig.Kind]activity.Source

	Generators generate.Set
	Notifier   notify.Notifier
	Ledger     RunRecorder

	// Locks serializes read-modify-write of index and registry documents.
	// Share it with anything else writing the same store.
	Locks *index.Locker
}

// Config tunes a Runner.
type Config struct {
	// Prefix is prepended to every key.
	Prefix string

	// Concurrency bounds parallel slots within one job. Values below 2
	// run slots sequentially.
	Concurrency int

	// Now is the clock. Nil means time.Now.
	Now func() time.Time

	// NewRunID mints run ids. Nil means random UUIDs.
	NewRunID func() string
}

// Runner executes jobs.
type Runner struct {
	store      provider.Store
	index      *index.Maintainer
	registry   *jobregistry.Store
	sources    map[jobconfig.Kind]activity.Source
	generators generate.Set
	notifier   notify.Notifier
	ledger     RunRecorder
	logger     *zap.Logger
	cfg        Config
}

// New returns a Runner. A nil logger discards.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Runner, error) {
	if deps.Store == nil {
		return nil, errors.New("runner: store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	locks := deps.Locks
	if locks == nil {
		locks = index.NewLocker()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewRunID == nil {
		cfg.NewRunID = func() string { return uuid.NewString() }
	}
	return &Runner{
		store:      deps.Store,
		index:      index.New(deps.Store, logger, locks),
		registry:   jobregistry.NewStore(deps.Store, cfg.Prefix, locks),
		sources:    deps.Sources,
		generators: deps.Generators,
		notifier:   deps.Notifier,
		ledger:     deps.Ledger,
		logger:     logger,
		cfg:        cfg,
	}, nil
}

// Index returns the runner's index maintainer.
func (r *Runner) Index() *index.Maintainer { return r.index }

// Registry returns the runner's job registry.
func (r *Runner) Registry() *jobregistry.Store { return r.registry }

// Prefix returns the key prefix.
func (r *Runner) Prefix() string { return r.cfg.Prefix }

func (r *Runner) withStore(s provider.Store) *Runner {
	cp := *r
	cp.store = s
	cp.index = r.index.WithStore(s)
	cp.registry = r.registry.WithStore(s)
	return &cp
}

func (r *Runner) source(job *jobconfig.Job) (activity.Source, error) {
	src, ok := r.sources[job.Kind]
	if !ok || src == nil {
		return nil, fmt.Errorf("no activity source for kind %q", job.Kind)
	}
	return src, nil
}

// RunSlot runs job for one slot. Errors never escape: they end the run as
// StatusFailed with the message in Result.Error.
func (r *Runner) RunSlot(ctx context.Context, job *jobconfig.Job, sl slot.Slot, opts Options) Result {
	start := r.cfg.Now()
	keys := job.Keys(r.cfg.Prefix)
	sk := keys.ForSlot(sl.Key)

	res := Result{
		RunID:       r.cfg.NewRunID(),
		JobID:       job.ID,
		SlotKey:     sl.Key,
		StartedAt:   start.UTC(),
		ManifestKey: sk.Manifest,
		SummaryKey:  sk.Summary,
	}
	a := &attempt{
		r:     r,
		job:   job,
		slot:  sl,
		opts:  opts,
		keys:  keys,
		sk:    sk,
		res:   &res,
		start: start,
		log: r.logger.With(
			zap.String("job_id", job.ID),
			zap.String("slot_key", sl.Key),
			zap.String("run_id", res.RunID),
		),
	}
	a.run(ctx)
	res.DurationMs = a.elapsed()

	a.log.Info("slot finished",
		zap.String("status", string(res.Status)),
		zap.String("reason", res.Reason),
		zap.Int64("duration_ms", res.DurationMs),
	)
	r.finish(ctx, job, &res, opts)
	return res
}

type attempt struct {
	r     *Runner
	job   *jobconfig.Job
	slot  slot.Slot
	opts  Options
	keys  storekey.Job
	sk    storekey.Slot
	res   *Result
	start time.Time
	log   *zap.Logger

	existed bool
	fetch   *activity.Meta
	source  *activity.SourceRef

	// output is the key this attempt wrote; previous holds the bytes it
	// replaced. committed is set once a manifest describing output exists.
	output     string
	previous   []byte
	previousCT string
	committed  bool
}

func (a *attempt) elapsed() int64 {
	return a.r.cfg.Now().Sub(a.start).Milliseconds()
}

func (a *attempt) run(ctx context.Context) {
	existed, err := a.r.store.Exists(ctx, a.sk.Manifest)
	if err != nil {
		a.fail(ctx, fmt.Errorf("check manifest: %w", err))
		return
	}
	a.existed = existed
	if existed && a.job.IsIdempotent() && !a.opts.Force {
		a.skip(ReasonExists)
		return
	}

	src, err := a.r.source(a.job)
	if err != nil {
		a.fail(ctx, err)
		return
	}
	fetched, err := src.Fetch(ctx, a.job, a.slot.Window)
	if err != nil {
		a.fail(ctx, fmt.Errorf("fetch: %w", err))
		return
	}
	a.fetch = &fetched.Meta
	a.source = fetched.Source

	empty := fetched.Empty()
	a.res.Empty = empty
	if empty && a.job.EmptyPolicy == jobconfig.EmptySkip {
		a.skip(ReasonEmpty)
		return
	}

	in := generate.Input{Job: a.job, Slot: a.slot, Result: fetched, Rollup: fetched.Rollup()}
	var gen *generate.Generation
	switch {
	case !empty:
		g, err := a.r.generators.For(a.job)
		if err != nil {
			a.fail(ctx, err)
			return
		}
		gen, err = g.Generate(ctx, in)
		if err != nil {
			a.fail(ctx, fmt.Errorf("generate: %w", err))
			return
		}
		if err := checkOutput(a.job, gen); err != nil {
			a.fail(ctx, err)
			return
		}
	case a.job.EmptyPolicy == jobconfig.EmptyPlaceholder:
		gen = generate.Placeholder(in)
	}

	if err := a.write(ctx, in.Rollup, gen); err != nil {
		a.fail(ctx, err)
		return
	}
	a.res.Status = StatusSuccess
}

// checkOutput rejects generations that cannot be stored as the job's
// format.
func checkOutput(job *jobconfig.Job, gen *generate.Generation) error {
	if gen == nil || strings.TrimSpace(gen.Text) == "" {
		return errors.New("generator returned no content")
	}
	if job.Output.Format == "json" && !json.Valid([]byte(gen.Text)) {
		return errors.New("generated output is not valid JSON")
	}
	return nil
}

func (a *attempt) skip(reason string) {
	a.res.Status = StatusSkipped
	a.res.Reason = reason
}

func (a *attempt) write(ctx context.Context, rollup activity.Rollup, gen *generate.Generation) error {
	var out *manifest.Output
	var usage *manifest.LLMUsage
	if gen != nil {
		key := a.sk.Output(a.job.OutputExt())
		if a.existed {
			prev, err := a.r.store.Get(ctx, key)
			switch {
			case err == nil:
				a.previous, a.previousCT = prev, gen.ContentType
			case !provider.IsNotFound(err):
				return fmt.Errorf("read previous output: %w", err)
			}
		}
		put, err := a.r.store.Put(ctx, key, []byte(gen.Text), gen.ContentType)
		if err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		a.output = put.Key
		out = &manifest.Output{Format: a.job.Output.Format, Key: put.Key, Size: put.Size}
		usage = gen.Usage
		a.res.OutputKey = put.Key
		a.res.OutputURI = put.URI
		a.res.OutputSize = put.Size
		a.res.content = gen.Text
	}

	m := manifest.Build(manifest.Input{
		RunID:      a.res.RunID,
		Job:        a.job,
		Slot:       a.slot,
		Rollup:     rollup,
		Fetch:      a.fetch,
		Source:     a.source,
		Output:     out,
		Empty:      a.res.Empty,
		DurationMs: a.elapsed(),
		LLM:        usage,
		Now:        a.r.cfg.Now(),
	})
	return a.persist(ctx, m)
}

// persist writes the manifest, its summary, the month index entry and the
// latest pointer, in that order. An existing entry for the slot is
// replaced.
func (a *attempt) persist(ctx context.Context, m *manifest.Manifest) error {
	if _, err := provider.PutJSON(ctx, a.r.store, a.sk.Manifest, m); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	a.committed = m.Output != nil
	s := manifest.BuildSummary(m, a.sk.Manifest)
	if _, err := provider.PutJSON(ctx, a.r.store, a.sk.Summary, s); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	item := manifest.IndexItemFrom(s)
	monthKey := a.keys.MonthIndexFor(a.slot.Window.Start, a.job.Location())
	if a.existed {
		if _, err := a.r.index.RemoveIndexItemBySlot(ctx, monthKey, a.slot.Key); err != nil {
			return fmt.Errorf("update index: %w", err)
		}
	}
	if _, err := a.r.index.UpdateIndex(ctx, monthKey, item); err != nil {
		return fmt.Errorf("update index: %w", err)
	}
	if _, err := a.r.index.AdvanceLatest(ctx, a.keys.Latest(), item); err != nil {
		return fmt.Errorf("write latest: %w", err)
	}
	return nil
}

func (a *attempt) fail(ctx context.Context, err error) {
	a.res.Status = StatusFailed
	a.res.Error = err.Error()
	a.res.OutputKey, a.res.OutputURI, a.res.OutputSize, a.res.content = "", "", 0, ""
	a.log.Warn("slot failed", zap.Error(err))
	a.rollbackOutput(ctx)

	if !a.opts.RecordFailure {
		return
	}
	m := manifest.BuildFailed(manifest.Input{
		RunID:      a.res.RunID,
		Job:        a.job,
		Slot:       a.slot,
		Fetch:      a.fetch,
		Source:     a.source,
		DurationMs: a.elapsed(),
		Now:        a.r.cfg.Now(),
	}, err)
	if perr := a.persist(ctx, m); perr != nil {
		a.log.Error("record failure", zap.Error(perr))
		a.res.Error += "; record failure: " + perr.Error()
	}
}

// rollbackOutput undoes this attempt's output write when no manifest will
// describe it: the success manifest was never written, or a failure
// manifest is about to replace it. Replaced bytes are restored unless a
// failure is recorded.
func (a *attempt) rollbackOutput(ctx context.Context) {
	if a.output == "" || (a.committed && !a.opts.RecordFailure) {
		return
	}
	ctx = context.WithoutCancel(ctx)
	var err error
	if a.previous != nil && !a.opts.RecordFailure {
		_, err = a.r.store.Put(ctx, a.output, a.previous, a.previousCT)
	} else {
		err = a.r.store.Delete(ctx, a.output)
	}
	if err != nil {
		a.log.Error("roll back output", zap.String("key", a.output), zap.Error(err))
		a.res.Error += "; roll back output: " + err.Error()
	}
	a.output, a.committed = "", false
}

// finish runs the best-effort steps that follow durable writes.
func (r *Runner) finish(ctx context.Context, job *jobconfig.Job, res *Result, opts Options) {
	if res.Status != StatusSkipped {
		run := jobregistry.Run{RunID: res.RunID, SlotKey: res.SlotKey, Status: string(res.Status), At: r.cfg.Now()}
		if _, err := r.registry.Record(ctx, job, run); err != nil {
			r.logger.Warn("registry update failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if opts.deferred {
		return
	}
	r.record(ctx, job, res, opts.Mode)
	if opts.Notify {
		r.notify(ctx, job, res)
	}
}

func (r *Runner) record(ctx context.Context, job *jobconfig.Job, res *Result, mode ledger.Mode) {
	if r.ledger == nil {
		return
	}
	if mode == "" {
		mode = ledger.ModeManual
	}
	err := r.ledger.Record(ctx, ledger.Run{
		RunID:      res.RunID,
		JobID:      job.ID,
		Owner:      job.Owner,
		OwnerType:  job.OwnerType,
		SlotKey:    res.SlotKey,
		Mode:       mode,
		Status:     string(res.Status),
		Error:      res.Error,
		StartedAt:  res.StartedAt,
		DurationMs: res.DurationMs,
	})
	if err != nil {
		r.logger.Warn("ledger record failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (r *Runner) notify(ctx context.Context, job *jobconfig.Job, res *Result) {
	if r.notifier == nil || res.Status == StatusSkipped {
		return
	}
	failed := res.Failed()
	if !notify.ShouldNotify(job.Notify, failed) {
		return
	}
	event := notify.EventSucceeded
	if failed {
		event = notify.EventFailed
	}
	p := notify.Payload{
		Event:       event,
		RunID:       res.RunID,
		JobID:       job.ID,
		JobName:     job.Name,
		Owner:       job.Owner,
		OwnerType:   job.OwnerType,
		SlotKey:     res.SlotKey,
		Status:      string(res.Status),
		Error:       res.Error,
		Empty:       res.Empty,
		ManifestKey: res.ManifestKey,
		OutputKey:   res.OutputKey,
		OutputURI:   res.OutputURI,
		SentAt:      r.cfg.Now().UTC(),
		Content:     res.content,
	}
	if err := r.notifier.Send(ctx, job.Notify, p); err != nil {
		r.logger.Warn("notification failed", zap.String("job_id", job.ID), zap.String("slot_key", res.SlotKey), zap.Error(err))
	}
}
