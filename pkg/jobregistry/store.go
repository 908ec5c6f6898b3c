// Package jobregistry keeps a per-owner jobs.json listing every job that
// has run, with running totals.
package jobregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/3leaps/cadence/pkg/index"
	"github.com/3leaps/cadence/pkg/jobconfig"
	"github.com/3leaps/cadence/pkg/provider"
	"github.com/3leaps/cadence/pkg/storekey"
)

// Store upserts registry entries in an object store.
//
// Layout:
//
//	<prefix>/_index/<ownerType>/<owner>/jobs.json
type Store struct {
	store  provider.Store
	prefix string
	locks  *index.Locker
}

// NewStore returns a registry store. locks may be shared with the index
// maintainer; nil allocates a private one.
func NewStore(store provider.Store, prefix string, locks *index.Locker) *Store {
	if locks == nil {
		locks = index.NewLocker()
	}
	return &Store{store: store, prefix: strings.Trim(prefix, "/"), locks: locks}
}

// WithStore returns a copy writing through store.
func (s *Store) WithStore(store provider.Store) *Store {
	cp := *s
	cp.store = store
	return &cp
}

// Key returns the registry key for an owner.
func (s *Store) Key(ownerType, owner string) string {
	return storekey.JobsRegistry(s.prefix, ownerType, owner)
}

// Record upserts job's entry and bumps its totals.
func (s *Store) Record(ctx context.Context, job *jobconfig.Job, run Run) (*Entry, error) {
	if job == nil {
		return nil, fmt.Errorf("job is nil")
	}
	if strings.TrimSpace(job.ID) == "" {
		return nil, fmt.Errorf("job id is required")
	}

	key := s.Key(job.OwnerType, job.Owner)
	unlock := s.locks.Lock(key)
	defer unlock()

	reg, err := s.Get(ctx, job.OwnerType, job.Owner)
	if err != nil {
		return nil, err
	}

	var entry *Entry
	for i := range reg.Jobs {
		if reg.Jobs[i].JobID == job.ID {
			entry = &reg.Jobs[i]
			break
		}
	}
	if entry == nil {
		reg.Jobs = append(reg.Jobs, Entry{JobID: job.ID})
		entry = &reg.Jobs[len(reg.Jobs)-1]
	}

	entry.Name = job.Name
	entry.Version = job.Version
	entry.Kind = string(job.Kind)
	entry.Schedule = job.Schedule.String()
	entry.Timezone = job.Timezone
	entry.OutputFmt = job.Output.Format
	entry.DataProfile = job.DataProfile
	entry.TotalRuns++
	entry.LastRunAt = run.At.UTC()
	entry.LastStatus = run.Status
	entry.LastSlotKey = run.SlotKey
	entry.LastRunID = run.RunID
	out := *entry

	sort.Slice(reg.Jobs, func(i, j int) bool { return reg.Jobs[i].JobID < reg.Jobs[j].JobID })
	reg.UpdatedAt = run.At.UTC()

	if _, err := provider.PutJSON(ctx, s.store, key, reg); err != nil {
		return nil, fmt.Errorf("write job registry: %w", err)
	}
	return &out, nil
}

// Get loads an owner's registry. A missing or unreadable registry yields an
// empty one; the registry can always be rebuilt from later runs.
func (s *Store) Get(ctx context.Context, ownerType, owner string) (*Registry, error) {
	empty := &Registry{Owner: owner, OwnerType: ownerType}

	b, err := provider.GetOptional(ctx, s.store, s.Key(ownerType, owner))
	if err != nil {
		return nil, fmt.Errorf("read job registry: %w", err)
	}
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return empty, nil
	}

	var reg Registry
	if err := json.Unmarshal([]byte(trimmed), &reg); err != nil {
		return empty, nil
	}
	if reg.Owner == "" {
		reg.Owner, reg.OwnerType = owner, ownerType
	}
	return &reg, nil
}

// List returns the owner's entries, most recently run first.
func (s *Store) List(ctx context.Context, ownerType, owner string) ([]Entry, error) {
	reg, err := s.Get(ctx, ownerType, owner)
	if err != nil {
		return nil, err
	}
	out := append([]Entry(nil), reg.Jobs...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastRunAt.After(out[j].LastRunAt)
	})
	return out, nil
}
