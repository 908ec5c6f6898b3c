package runner

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/3leaps/cadence/pkg/jobconfig"
	"github.com/3leaps/cadence/pkg/slot"
)

// RunJob runs job for the slots selected by its backfill at now, oldest
// first. Results come back in the same order. With Concurrency above one,
// slots run in parallel; index writes stay serialized per document and the
// latest pointer only ever advances.
func (r *Runner) RunJob(ctx context.Context, job *jobconfig.Job, now time.Time, opts Options) []Result {
	slots := slot.ListSlots(now, job.Schedule, job.Location(), job.Backfill)
	slices.Reverse(slots)
	return r.RunSlots(ctx, job, slots, opts)
}

// RunSlots runs job for each slot in the given order.
func (r *Runner) RunSlots(ctx context.Context, job *jobconfig.Job, slots []slot.Slot, opts Options) []Result {
	results := make([]Result, len(slots))
	if r.cfg.Concurrency < 2 || len(slots) < 2 {
		for i, sl := range slots {
			results[i] = r.RunSlot(ctx, job, sl, opts)
		}
		return results
	}

	sem := semaphore.NewWeighted(int64(r.cfg.Concurrency))
	var g errgroup.Group
	for i, sl := range slots {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = Result{JobID: job.ID, SlotKey: sl.Key, Status: StatusFailed, Error: err.Error()}
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)
			results[i] = r.RunSlot(ctx, job, sl, opts)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// TickResult is the outcome of one job in a Tick.
type TickResult struct {
	JobID    string        `json:"jobId"`
	Decision slot.Decision `json:"decision"`
	Results  []Result      `json:"results,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Tick runs every enabled job whose current slot is due according to its
// latest pointer. Jobs are independent: one failing does not stop the
// others. Jobs run concurrently up to Concurrency.
func (r *Runner) Tick(ctx context.Context, jobs []*jobconfig.Job, now time.Time) []TickResult {
	enabled := make([]*jobconfig.Job, 0, len(jobs))
	for _, j := range jobs {
		if j.IsEnabled() {
			enabled = append(enabled, j)
		}
	}

	out := make([]TickResult, len(enabled))
	if r.cfg.Concurrency < 2 {
		for i, j := range enabled {
			out[i] = r.tickJob(ctx, j, now)
		}
		return out
	}

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for i, j := range enabled {
		g.Go(func() error {
			out[i] = r.tickJob(ctx, j, now)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (r *Runner) tickJob(ctx context.Context, job *jobconfig.Job, now time.Time) TickResult {
	tr := TickResult{JobID: job.ID}
	log := r.logger.With(zap.String("job_id", job.ID))

	lp, err := r.index.ReadLatest(ctx, job.Keys(r.cfg.Prefix).Latest())
	if err != nil {
		tr.Error = err.Error()
		log.Warn("read latest pointer", zap.Error(err))
		return tr
	}
	last := ""
	if lp != nil {
		last = lp.Latest.SlotKey
	}
	tr.Decision = slot.IsDue(job.Schedule, now, job.Location(), last)
	if !tr.Decision.Due {
		log.Debug("not due", zap.String("slot_key", tr.Decision.SlotKey), zap.String("last_slot_key", last))
		return tr
	}
	log.Info("due", zap.String("slot_key", tr.Decision.SlotKey), zap.String("last_slot_key", last))
	tr.Results = r.RunJob(ctx, job, now, DefaultOptions())
	return tr
}
