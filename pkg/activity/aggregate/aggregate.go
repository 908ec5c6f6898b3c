// Package aggregate summarizes the stored reports of another job. A weekly
// roll-up over a daily job reads the daily job's index, manifests and
// report artifacts instead of refetching activity.
package aggregate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/cadence/pkg/activity"
	"github.com/3leaps/cadence/pkg/index"
	"github.com/3leaps/cadence/pkg/jobconfig"
	"github.com/3leaps/cadence/pkg/manifest"
	"github.com/3leaps/cadence/pkg/provider"
	"github.com/3leaps/cadence/pkg/slot"
)

// ErrNoSource is returned for a job without a source reference.
var ErrNoSource = errors.New("aggregate job has no source")

// Source implements activity.Source over stored reports.
type Source struct {
	store  provider.Store
	index  *index.Maintainer
	prefix string
	logger *zap.Logger
}

var _ activity.Source = (*Source)(nil)

func New(store provider.Store, prefix string, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{store: store, index: index.New(store, logger, nil), prefix: prefix, logger: logger}
}

// Fetch collects every successful source slot whose window lies inside
// window. Failed slots are counted as excluded; unreadable manifests fail
// the fetch, since a partial roll-up would be silently wrong.
func (s *Source) Fetch(ctx context.Context, job *jobconfig.Job, window slot.Window) (*activity.Result, error) {
	keys, ok := job.SourceKeys(s.prefix)
	if !ok {
		return nil, fmt.Errorf("job %s: %w", job.ID, ErrNoSource)
	}

	items, err := s.index.ListItems(ctx, keys.IndexBase())
	if err != nil {
		return nil, err
	}

	res := &activity.Result{Source: &activity.SourceRef{
		JobID:     keys.JobID,
		Owner:     keys.Owner,
		OwnerType: keys.OwnerType,
		SlotKeys:  []string{},
	}}
	for _, it := range items {
		if it.Window.Start.Before(window.Start) || it.Window.End.After(window.End) {
			continue
		}
		res.Meta.Total++
		if it.Status != manifest.StatusSuccess {
			res.Meta.Excluded++
			continue
		}

		m, err := s.readManifest(ctx, it.ManifestKey)
		if err != nil {
			return nil, err
		}
		res.Meta.Filtered++
		res.Source.SlotKeys = append(res.Source.SlotKeys, it.SlotKey)
		res.Rollups = append(res.Rollups, activity.Rollup{
			Stats:        m.Stats,
			Repos:        m.Repos,
			Contributors: m.Contributors,
		})

		if m.Empty || m.Output == nil || m.Output.Key == "" {
			continue
		}
		text, err := provider.GetOptional(ctx, s.store, m.Output.Key)
		if err != nil {
			return nil, fmt.Errorf("read report %s: %w", m.Output.Key, err)
		}
		if len(text) == 0 {
			s.logger.Warn("aggregated report artifact missing",
				zap.String("job_id", job.ID),
				zap.String("slot_key", it.SlotKey),
				zap.String("key", m.Output.Key))
			continue
		}
		res.Reports = append(res.Reports, activity.Report{SlotKey: it.SlotKey, Text: string(text)})
	}
	return res, nil
}

func (s *Source) readManifest(ctx context.Context, key string) (*manifest.Manifest, error) {
	b, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", key, err)
	}
	m, err := manifest.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", key, err)
	}
	return m, nil
}
