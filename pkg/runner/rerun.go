package runner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/cadence/pkg/jobconfig"
	"github.com/3leaps/cadence/pkg/ledger"
	"github.com/3leaps/cadence/pkg/provider/buffered"
	"github.com/3leaps/cadence/pkg/slot"
)

// Rerun regenerates a slot without exposing a failed attempt.
//
// Every write of the attempt goes to a buffer over the store. Only a
// successful attempt is committed; afterwards, objects under the slot's
// report base that the attempt did not write (an output in a format the
// job no longer produces, say) are deleted. Any other outcome discards the
// buffer, leaving the store byte-for-byte as it was. Notification happens
// only after a commit.
func (r *Runner) Rerun(ctx context.Context, job *jobconfig.Job, sl slot.Slot, opts Options) Result {
	log := r.logger.With(zap.String("job_id", job.ID), zap.String("slot_key", sl.Key))
	base := job.Keys(r.cfg.Prefix).ForSlot(sl.Key).Base

	before, err := r.store.List(ctx, base+"/")
	if err != nil {
		res := Result{JobID: job.ID, SlotKey: sl.Key, Status: StatusFailed, StartedAt: r.cfg.Now().UTC(),
			Error: fmt.Sprintf("snapshot %s: %v", base, err)}
		r.record(ctx, job, &res, ledger.ModeRerun)
		return res
	}

	wantNotify := opts.Notify
	opts.Force = true
	opts.RecordFailure = false
	opts.Notify = false
	opts.Mode = ledger.ModeRerun
	opts.deferred = true

	buf := buffered.New(r.store)
	res := r.withStore(buf).RunSlot(ctx, job, sl, opts)
	if res.Status != StatusSuccess {
		buf.Discard()
		log.Info("rerun discarded", zap.String("status", string(res.Status)), zap.String("error", res.Error))
		r.record(ctx, job, &res, ledger.ModeRerun)
		return res
	}

	written, err := buf.Commit(ctx)
	if err != nil {
		// Writes committed before the error stay; the caller retries.
		res.Status = StatusFailed
		res.Error = fmt.Sprintf("commit: %v", err)
		log.Error("rerun commit failed", zap.Int("committed", len(written)), zap.Error(err))
		r.record(ctx, job, &res, ledger.ModeRerun)
		return res
	}
	if put, ok := written[res.OutputKey]; ok {
		res.OutputURI = put.URI
	}

	for _, k := range before {
		if _, ok := written[k]; ok {
			continue
		}
		if err := r.store.Delete(ctx, k); err != nil {
			log.Warn("remove stale object", zap.String("key", k), zap.Error(err))
			continue
		}
		res.Removed = append(res.Removed, k)
	}

	log.Info("rerun committed", zap.Int("written", len(written)), zap.Int("removed", len(res.Removed)))
	r.record(ctx, job, &res, ledger.ModeRerun)
	if wantNotify {
		r.notify(ctx, job, &res)
	}
	return res
}
