// Package index maintains per-job monthly index files and the latest
// pointer.
//
// Month files are the index of record; the latest pointer is a
// materialized view that RecomputeLatest can rebuild from them at any
// time. Unreadable or schema-invalid files are logged and treated as
// absent, since manifests remain the source of truth.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	schemasassets "github.com/3leaps/cadence/internal/assets/schemas"
	"github.com/3leaps/cadence/internal/schemaval"
	"github.com/3leaps/cadence/pkg/manifest"
	"github.com/3leaps/cadence/pkg/provider"
	"github.com/3leaps/cadence/pkg/storekey"
)

var (
	monthValidator  = schemaval.New("index-month", schemasassets.IndexMonthSchema)
	latestValidator = schemaval.New("latest", schemasassets.LatestSchema)
)

// MonthFile is a persisted monthly index.
type MonthFile struct {
	Owner     string               `json:"owner"`
	OwnerType string               `json:"ownerType"`
	JobID     string               `json:"jobId"`
	Period    string               `json:"period"`
	Items     []manifest.IndexItem `json:"items"`
}

// LatestPointer is the persisted latest pointer.
type LatestPointer struct {
	Owner     string             `json:"owner"`
	OwnerType string             `json:"ownerType"`
	JobID     string             `json:"jobId"`
	Latest    manifest.IndexItem `json:"latest"`
}

// Maintainer reads and writes index documents in a store.
type Maintainer struct {
	store  provider.Store
	logger *zap.Logger
	locks  *Locker
}

// New returns a Maintainer. A nil logger discards; a nil locker gets a
// private one. Share one Locker between Maintainers that write the same
// store concurrently.
func New(store provider.Store, logger *zap.Logger, locks *Locker) *Maintainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locks == nil {
		locks = NewLocker()
	}
	return &Maintainer{store: store, logger: logger, locks: locks}
}

// WithStore returns a Maintainer over another store sharing the logger and
// locks.
func (m *Maintainer) WithStore(store provider.Store) *Maintainer {
	return &Maintainer{store: store, logger: m.logger, locks: m.locks}
}

// UpdateIndex adds item to the month file at monthKey. An item with the
// same manifest key already present makes the call a no-op; added reports
// whether the file changed. Items stay sorted by window start.
func (m *Maintainer) UpdateIndex(ctx context.Context, monthKey string, item manifest.IndexItem) (added bool, err error) {
	unlock := m.locks.Lock(monthKey)
	defer unlock()

	mf, err := m.ReadMonth(ctx, monthKey)
	if err != nil {
		return false, err
	}
	if mf == nil {
		period, _ := storekey.PeriodOf(monthKey)
		mf = &MonthFile{Owner: item.Owner, OwnerType: item.OwnerType, JobID: item.JobID, Period: period}
	}

	for _, existing := range mf.Items {
		if existing.ManifestKey == item.ManifestKey {
			return false, nil
		}
	}

	mf.Items = append(mf.Items, item)
	sortItems(mf.Items)

	if _, err := provider.PutJSON(ctx, m.store, monthKey, mf); err != nil {
		return false, fmt.Errorf("write month index %s: %w", monthKey, err)
	}
	return true, nil
}

// WriteLatest overwrites the latest pointer with item. Callers pass the
// chronologically latest item.
func (m *Maintainer) WriteLatest(ctx context.Context, latestKey string, item manifest.IndexItem) error {
	unlock := m.locks.Lock(latestKey)
	defer unlock()
	return m.writeLatest(ctx, latestKey, item)
}

// AdvanceLatest writes item as the latest pointer unless the current
// pointer already names a later slot. It reports whether it wrote. Runs of
// older slots, such as a manual run of last week, leave the pointer alone.
func (m *Maintainer) AdvanceLatest(ctx context.Context, latestKey string, item manifest.IndexItem) (bool, error) {
	unlock := m.locks.Lock(latestKey)
	defer unlock()

	cur, err := m.ReadLatest(ctx, latestKey)
	if err != nil {
		return false, err
	}
	if cur != nil && cur.Latest.SlotKey > item.SlotKey {
		return false, nil
	}
	return true, m.writeLatest(ctx, latestKey, item)
}

func (m *Maintainer) writeLatest(ctx context.Context, latestKey string, item manifest.IndexItem) error {
	ptr := LatestPointer{Owner: item.Owner, OwnerType: item.OwnerType, JobID: item.JobID, Latest: item}
	if _, err := provider.PutJSON(ctx, m.store, latestKey, ptr); err != nil {
		return fmt.Errorf("write latest %s: %w", latestKey, err)
	}
	return nil
}

// RemoveIndexItemBySlot removes the item for slotKey from the month file.
// A file left without items is deleted.
func (m *Maintainer) RemoveIndexItemBySlot(ctx context.Context, monthKey, slotKey string) (bool, error) {
	unlock := m.locks.Lock(monthKey)
	defer unlock()

	mf, err := m.ReadMonth(ctx, monthKey)
	if err != nil || mf == nil {
		return false, err
	}

	kept := mf.Items[:0]
	removed := false
	for _, it := range mf.Items {
		if it.SlotKey == slotKey {
			removed = true
			continue
		}
		kept = append(kept, it)
	}
	if !removed {
		return false, nil
	}

	if len(kept) == 0 {
		if err := m.store.Delete(ctx, monthKey); err != nil {
			return false, fmt.Errorf("delete month index %s: %w", monthKey, err)
		}
		return true, nil
	}

	mf.Items = kept
	if _, err := provider.PutJSON(ctx, m.store, monthKey, mf); err != nil {
		return false, fmt.Errorf("write month index %s: %w", monthKey, err)
	}
	return true, nil
}

// RecomputeLatest rebuilds the latest pointer from every month file under
// indexBase. The item with the greatest slot key wins regardless of
// status. With no items left the pointer is deleted and nil is returned.
func (m *Maintainer) RecomputeLatest(ctx context.Context, indexBase string) (*manifest.IndexItem, error) {
	latestKey := storekey.Latest(indexBase)
	unlock := m.locks.Lock(latestKey)
	defer unlock()

	items, err := m.ListItems(ctx, indexBase)
	if err != nil {
		return nil, err
	}

	if len(items) == 0 {
		if err := m.store.Delete(ctx, latestKey); err != nil {
			return nil, fmt.Errorf("delete latest %s: %w", latestKey, err)
		}
		return nil, nil
	}

	best := items[0]
	for _, it := range items[1:] {
		if it.SlotKey > best.SlotKey {
			best = it
		}
	}
	if err := m.writeLatest(ctx, latestKey, best); err != nil {
		return nil, err
	}
	return &best, nil
}

// ReadMonth returns the month file at key, or nil when it is absent or
// unreadable.
func (m *Maintainer) ReadMonth(ctx context.Context, key string) (*MonthFile, error) {
	data, err := provider.GetOptional(ctx, m.store, key)
	if err != nil || data == nil {
		return nil, err
	}
	if err := monthValidator.Validate(data); err != nil {
		m.logger.Warn("ignoring invalid month index", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	var mf MonthFile
	if err := json.Unmarshal(data, &mf); err != nil {
		m.logger.Warn("ignoring unreadable month index", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	return &mf, nil
}

// ReadLatest returns the latest pointer at key, or nil when it is absent or
// unreadable.
func (m *Maintainer) ReadLatest(ctx context.Context, key string) (*LatestPointer, error) {
	data, err := provider.GetOptional(ctx, m.store, key)
	if err != nil || data == nil {
		return nil, err
	}
	if err := latestValidator.Validate(data); err != nil {
		m.logger.Warn("ignoring invalid latest pointer", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	var lp LatestPointer
	if err := json.Unmarshal(data, &lp); err != nil {
		m.logger.Warn("ignoring unreadable latest pointer", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	return &lp, nil
}

// ListMonths returns the periods with a month file under indexBase, oldest
// first.
func (m *Maintainer) ListMonths(ctx context.Context, indexBase string) ([]string, error) {
	keys, err := m.store.List(ctx, strings.TrimSuffix(indexBase, "/")+"/")
	if err != nil {
		return nil, fmt.Errorf("list index %s: %w", indexBase, err)
	}
	var periods []string
	for _, k := range keys {
		// Only direct children; nested job ids share the prefix.
		if strings.Contains(strings.TrimPrefix(k, strings.TrimSuffix(indexBase, "/")+"/"), "/") {
			continue
		}
		if p, ok := storekey.PeriodOf(k); ok {
			periods = append(periods, p)
		}
	}
	sort.Strings(periods)
	return periods, nil
}

// ListItems unions the items of every month file under indexBase, sorted by
// window start.
func (m *Maintainer) ListItems(ctx context.Context, indexBase string) ([]manifest.IndexItem, error) {
	periods, err := m.ListMonths(ctx, indexBase)
	if err != nil {
		return nil, err
	}
	var items []manifest.IndexItem
	for _, p := range periods {
		mf, err := m.ReadMonth(ctx, storekey.MonthIndex(indexBase, p))
		if err != nil {
			return nil, err
		}
		if mf != nil {
			items = append(items, mf.Items...)
		}
	}
	sortItems(items)
	return items, nil
}

// FindItem returns the item for slotKey and the month key holding it.
func (m *Maintainer) FindItem(ctx context.Context, indexBase, slotKey string) (*manifest.IndexItem, string, error) {
	periods, err := m.ListMonths(ctx, indexBase)
	if err != nil {
		return nil, "", err
	}
	for _, p := range periods {
		key := storekey.MonthIndex(indexBase, p)
		mf, err := m.ReadMonth(ctx, key)
		if err != nil {
			return nil, "", err
		}
		if mf == nil {
			continue
		}
		for i := range mf.Items {
			if mf.Items[i].SlotKey == slotKey {
				return &mf.Items[i], key, nil
			}
		}
	}
	return nil, "", nil
}

func sortItems(items []manifest.IndexItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].Window.Start, items[j].Window.Start
		if !a.Equal(b) {
			return a.Before(b)
		}
		return items[i].SlotKey < items[j].SlotKey
	})
}
