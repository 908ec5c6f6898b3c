package runner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/cadence/pkg/jobconfig"
	"github.com/3leaps/cadence/pkg/manifest"
	"github.com/3leaps/cadence/pkg/slot"
)

// DeleteResult describes a removed slot.
type DeleteResult struct {
	JobID        string              `json:"jobId"`
	SlotKey      string              `json:"slotKey"`
	IndexRemoved bool                `json:"indexRemoved"`
	Removed      []string            `json:"removed"`
	Latest       *manifest.IndexItem `json:"latest,omitempty"`
}

// DeleteSlot removes a slot's index entry, rebuilds the latest pointer and
// then deletes every object under the slot's report base. Index first, so
// no entry ever points at a missing manifest.
func (r *Runner) DeleteSlot(ctx context.Context, job *jobconfig.Job, slotKey string) (*DeleteResult, error) {
	if _, err := slot.ParseSlotKey(slotKey); err != nil {
		return nil, err
	}
	keys := job.Keys(r.cfg.Prefix)
	out := &DeleteResult{JobID: job.ID, SlotKey: slotKey, Removed: []string{}}

	_, monthKey, err := r.index.FindItem(ctx, keys.IndexBase(), slotKey)
	if err != nil {
		return nil, err
	}
	if monthKey != "" {
		if out.IndexRemoved, err = r.index.RemoveIndexItemBySlot(ctx, monthKey, slotKey); err != nil {
			return nil, err
		}
	}
	if out.Latest, err = r.index.RecomputeLatest(ctx, keys.IndexBase()); err != nil {
		return nil, err
	}

	base := keys.ForSlot(slotKey).Base
	objs, err := r.store.List(ctx, base+"/")
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", base, err)
	}
	for _, k := range objs {
		if err := r.store.Delete(ctx, k); err != nil {
			return out, fmt.Errorf("delete %s: %w", k, err)
		}
		out.Removed = append(out.Removed, k)
	}

	r.logger.Info("slot deleted",
		zap.String("job_id", job.ID),
		zap.String("slot_key", slotKey),
		zap.Bool("index_removed", out.IndexRemoved),
		zap.Int("objects", len(out.Removed)),
	)
	return out, nil
}
