package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/cadence/pkg/activity"
	"github.com/3leaps/cadence/pkg/generate"
	"github.com/3leaps/cadence/pkg/index"
	"github.com/3leaps/cadence/pkg/jobconfig"
	"github.com/3leaps/cadence/pkg/ledger"
	"github.com/3leaps/cadence/pkg/manifest"
	"github.com/3leaps/cadence/pkg/notify"
	"github.com/3leaps/cadence/pkg/provider"
	"github.com/3leaps/cadence/pkg/provider/memory"
	"github.com/3leaps/cadence/pkg/slot"
)

const prefix = "reports"

var now = time.Date(2024, 11, 5, 12, 0, 0, 0, time.UTC)

func dailyJob(mutate ...func(*jobconfig.Job)) *jobconfig.Job {
	f := &jobconfig.File{Jobs: []jobconfig.Job{
		{ID: "daily", Owner: "acme", Schedule: slot.Schedule{Type: slot.Daily}},
	}}
	for _, m := range mutate {
		m(&f.Jobs[0])
	}
	f.ApplyDefaults()
	return &f.Jobs[0]
}

func activityOn(days ...int) activity.Static {
	var items []activity.Item
	for _, d := range days {
		items = append(items, activity.Item{
			Kind:      activity.KindCommit,
			Repo:      "acme/api",
			Author:    "octocat",
			Title:     fmt.Sprintf("change on day %d", d),
			CreatedAt: time.Date(2024, 11, d, 10, 0, 0, 0, time.UTC),
		})
	}
	return activity.Static{Items: items}
}

type recordingStore struct {
	*memory.Provider
	mu   sync.Mutex
	puts []string
}

func (s *recordingStore) Put(ctx context.Context, key string, body []byte, ct string) (*provider.PutResult, error) {
	s.mu.Lock()
	s.puts = append(s.puts, key)
	s.mu.Unlock()
	return s.Provider.Put(ctx, key, body, ct)
}

type fakeLedger struct {
	mu   sync.Mutex
	runs []ledger.Run
}

func (l *fakeLedger) Record(_ context.Context, run ledger.Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs = append(l.runs, run)
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Payload
}

func (n *fakeNotifier) Send(_ context.Context, _ *jobconfig.NotifyConfig, p notify.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, p)
	return nil
}

type failingGenerator struct{ err error }

func (g failingGenerator) Generate(context.Context, generate.Input) (*generate.Generation, error) {
	return nil, g.err
}

type textGenerator string

func (g textGenerator) Generate(context.Context, generate.Input) (*generate.Generation, error) {
	return &generate.Generation{Text: string(g), ContentType: provider.ContentTypeJSON}, nil
}

type fixture struct {
	store    *memory.Provider
	runner   *Runner
	ledger   *fakeLedger
	notifier *fakeNotifier
}

func newFixture(t *testing.T, src activity.Source, gens generate.Set, cfg Config) *fixture {
	t.Helper()
	store := memory.New()
	return newFixtureWithStore(t, store, store, src, gens, cfg)
}

func newFixtureWithStore(t *testing.T, mem *memory.Provider, store provider.Store, src activity.Source, gens generate.Set, cfg Config) *fixture {
	t.Helper()
	f := &fixture{store: mem, ledger: &fakeLedger{}, notifier: &fakeNotifier{}}
	var seq atomic.Int64
	cfg.Prefix = prefix
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return now }
	}
	cfg.NewRunID = func() string { return fmt.Sprintf("run-%d", seq.Add(1)) }
	r, err := New(Deps{
		Store:      store,
		Sources:    map[jobconfig.Kind]activity.Source{jobconfig.KindActivity: src},
		Generators: gens,
		Notifier:   f.notifier,
		Ledger:     f.ledger,
	}, cfg, nil)
	require.NoError(t, err)
	f.runner = r
	return f
}

func (f *fixture) snapshot(t *testing.T) map[string]string {
	t.Helper()
	ctx := context.Background()
	keys, err := f.store.List(ctx, "")
	require.NoError(t, err)
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		b, err := f.store.Get(ctx, k)
		require.NoError(t, err)
		out[k] = string(b)
	}
	return out
}

func (f *fixture) readManifest(t *testing.T, key string) *manifest.Manifest {
	t.Helper()
	b, err := f.store.Get(context.Background(), key)
	require.NoError(t, err)
	m, err := manifest.Decode(b)
	require.NoError(t, err)
	return m
}

func currentSlot(job *jobconfig.Job) slot.Slot {
	return slot.Current(now, job.Schedule, job.Location())
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(Deps{}, Config{}, nil)
	assert.Error(t, err)
}

func TestRunSlot_WritesInOrder(t *testing.T) {
	ctx := context.Background()
	rec := &recordingStore{Provider: memory.New()}
	f := newFixtureWithStore(t, rec.Provider, rec, activityOn(4), generate.Set{}, Config{})
	job := dailyJob()
	sl := currentSlot(job)
	require.Equal(t, "2024-11-05T00-00Z", sl.Key)

	res := f.runner.RunSlot(ctx, job, sl, DefaultOptions())
	require.Equal(t, StatusSuccess, res.Status, res.Error)

	base := "reports/org/acme/daily/2024-11-05T00-00Z"
	assert.Equal(t, []string{
		base + "/output.md",
		base + "/manifest.json",
		base + "/summary.json",
		"reports/_index/org/acme/daily/2024-11.json",
		"reports/_index/org/acme/daily/latest.json",
		"reports/_index/org/acme/jobs.json",
	}, rec.puts)

	assert.Equal(t, base+"/output.md", res.OutputKey)
	assert.Equal(t, "memory://"+base+"/output.md", res.OutputURI)
	assert.Positive(t, res.OutputSize)

	m := f.readManifest(t, res.ManifestKey)
	assert.Equal(t, manifest.StatusSuccess, m.Status)
	assert.Equal(t, "run-1", m.RunID)
	assert.Equal(t, 1, m.Stats.Commits)
	require.NotNil(t, m.Output)
	assert.Equal(t, res.OutputKey, m.Output.Key)

	lp, err := f.runner.Index().ReadLatest(ctx, job.Keys(prefix).Latest())
	require.NoError(t, err)
	require.NotNil(t, lp)
	assert.Equal(t, sl.Key, lp.Latest.SlotKey)

	require.Len(t, f.ledger.runs, 1)
	assert.Equal(t, ledger.ModeScheduled, f.ledger.runs[0].Mode)
	assert.Equal(t, "success", f.ledger.runs[0].Status)
}

func TestRunSlot_Idempotency(t *testing.T) {
	ctx := context.Background()

	t.Run("idempotent job skips existing slot", func(t *testing.T) {
		f := newFixture(t, activityOn(4), generate.Set{}, Config{})
		job := dailyJob()
		sl := currentSlot(job)

		first := f.runner.RunSlot(ctx, job, sl, DefaultOptions())
		require.Equal(t, StatusSuccess, first.Status)
		before := f.snapshot(t)

		second := f.runner.RunSlot(ctx, job, sl, DefaultOptions())
		assert.Equal(t, StatusSkipped, second.Status)
		assert.Equal(t, ReasonExists, second.Reason)

		after := f.snapshot(t)
		delete(before, "reports/_index/org/acme/jobs.json")
		delete(after, "reports/_index/org/acme/jobs.json")
		assert.Equal(t, before, after)
	})

	t.Run("force and non-idempotent jobs replace the slot", func(t *testing.T) {
		for name, job := range map[string]*jobconfig.Job{
			"force":          dailyJob(),
			"non-idempotent": dailyJob(func(j *jobconfig.Job) { no := false; j.Idempotent = &no }),
		} {
			t.Run(name, func(t *testing.T) {
				f := newFixture(t, activityOn(4), generate.Set{}, Config{})
				sl := currentSlot(job)
				opts := DefaultOptions()
				opts.Force = name == "force"

				require.Equal(t, StatusSuccess, f.runner.RunSlot(ctx, job, sl, opts).Status)
				second := f.runner.RunSlot(ctx, job, sl, opts)
				require.Equal(t, StatusSuccess, second.Status)

				mf, err := f.runner.Index().ReadMonth(ctx, "reports/_index/org/acme/daily/2024-11.json")
				require.NoError(t, err)
				require.Len(t, mf.Items, 1)
				assert.Equal(t, manifest.StatusSuccess, mf.Items[0].Status)

				m := f.readManifest(t, second.ManifestKey)
				assert.Equal(t, second.RunID, m.RunID)
			})
		}
	})
}

func TestRunSlot_EmptyPolicies(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		policy     jobconfig.EmptyPolicy
		wantStatus Status
		wantOutput bool
		wantIndex  bool
	}{
		{jobconfig.EmptySkip, StatusSkipped, false, false},
		{jobconfig.EmptyManifestOnly, StatusSuccess, false, true},
		{jobconfig.EmptyPlaceholder, StatusSuccess, true, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			f := newFixture(t, activityOn(), generate.Set{}, Config{})
			job := dailyJob(func(j *jobconfig.Job) { j.EmptyPolicy = tt.policy })
			res := f.runner.RunSlot(ctx, job, currentSlot(job), DefaultOptions())

			assert.Equal(t, tt.wantStatus, res.Status)
			assert.True(t, res.Empty)
			assert.Equal(t, tt.wantOutput, res.OutputKey != "")

			items, err := f.runner.Index().ListItems(ctx, job.Keys(prefix).IndexBase())
			require.NoError(t, err)
			if !tt.wantIndex {
				assert.Empty(t, items)
				assert.Equal(t, ReasonEmpty, res.Reason)
				ok, err := f.store.Exists(ctx, res.ManifestKey)
				require.NoError(t, err)
				assert.False(t, ok)
				return
			}
			require.Len(t, items, 1)
			assert.True(t, items[0].Empty)
			assert.Equal(t, manifest.StatusSuccess, items[0].Status)

			m := f.readManifest(t, res.ManifestKey)
			assert.True(t, m.Empty)
			assert.Equal(t, tt.wantOutput, m.Output != nil)
		})
	}
}

func TestRunSlot_Failure(t *testing.T) {
	ctx := context.Background()
	boom := activity.SourceFunc(func(context.Context, *jobconfig.Job, slot.Window) (*activity.Result, error) {
		return nil, errors.New("forge unavailable")
	})

	t.Run("recorded", func(t *testing.T) {
		f := newFixture(t, boom, generate.Set{}, Config{})
		job := dailyJob()
		res := f.runner.RunSlot(ctx, job, currentSlot(job), DefaultOptions())

		require.Equal(t, StatusFailed, res.Status)
		assert.Contains(t, res.Error, "forge unavailable")
		assert.True(t, res.Failed())

		m := f.readManifest(t, res.ManifestKey)
		assert.Equal(t, manifest.StatusFailed, m.Status)
		assert.True(t, m.Empty)
		assert.Nil(t, m.Output)
		assert.Contains(t, m.Error, "forge unavailable")

		lp, err := f.runner.Index().ReadLatest(ctx, job.Keys(prefix).Latest())
		require.NoError(t, err)
		require.NotNil(t, lp)
		assert.Equal(t, manifest.StatusFailed, lp.Latest.Status)
	})

	t.Run("not recorded", func(t *testing.T) {
		f := newFixture(t, boom, generate.Set{}, Config{})
		job := dailyJob()
		opts := DefaultOptions()
		opts.RecordFailure = false
		res := f.runner.RunSlot(ctx, job, currentSlot(job), opts)

		require.Equal(t, StatusFailed, res.Status)
		keys, err := f.store.List(ctx, "reports/org/")
		require.NoError(t, err)
		assert.Empty(t, keys)
		items, err := f.runner.Index().ListItems(ctx, job.Keys(prefix).IndexBase())
		require.NoError(t, err)
		assert.Empty(t, items)
	})
}

func TestRunSlot_RejectsInvalidJSONOutput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, activityOn(4), generate.Set{Digest: textGenerator("{not json")}, Config{})
	job := dailyJob(func(j *jobconfig.Job) { j.Output.Format = "json" })

	res := f.runner.RunSlot(ctx, job, currentSlot(job), DefaultOptions())
	require.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "not valid JSON")
	assert.Empty(t, res.OutputKey)
}

func TestRunSlot_UnknownKind(t *testing.T) {
	f := newFixture(t, activityOn(4), generate.Set{}, Config{})
	job := dailyJob(func(j *jobconfig.Job) { j.Kind = jobconfig.KindAggregate })

	res := f.runner.RunSlot(context.Background(), job, currentSlot(job), DefaultOptions())
	require.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "no activity source")
}

func TestRunJob_Backfill(t *testing.T) {
	for _, conc := range []int{1, 3} {
		t.Run(fmt.Sprintf("concurrency %d", conc), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, activityOn(2, 3, 4), generate.Set{}, Config{Concurrency: conc})
			job := dailyJob(func(j *jobconfig.Job) { j.Backfill = 3 })

			results := f.runner.RunJob(ctx, job, now, DefaultOptions())
			require.Len(t, results, 3)
			var keys []string
			for _, r := range results {
				assert.Equal(t, StatusSuccess, r.Status, r.Error)
				keys = append(keys, r.SlotKey)
			}
			assert.Equal(t, []string{"2024-11-03T00-00Z", "2024-11-04T00-00Z", "2024-11-05T00-00Z"}, keys)

			items, err := f.runner.Index().ListItems(ctx, job.Keys(prefix).IndexBase())
			require.NoError(t, err)
			assert.Len(t, items, 3)

			lp, err := f.runner.Index().ReadLatest(ctx, job.Keys(prefix).Latest())
			require.NoError(t, err)
			assert.Equal(t, "2024-11-05T00-00Z", lp.Latest.SlotKey)

			entries, err := f.runner.Registry().List(ctx, "org", "acme")
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, 3, entries[0].TotalRuns)
		})
	}
}

func TestRunSlot_OlderSlotKeepsLatest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, activityOn(2, 4), generate.Set{}, Config{})
	job := dailyJob()

	require.Equal(t, StatusSuccess, f.runner.RunSlot(ctx, job, currentSlot(job), DefaultOptions()).Status)
	older, err := slot.FromKey("2024-11-03T00-00Z", job.Schedule, job.Location())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, f.runner.RunSlot(ctx, job, older, DefaultOptions()).Status)

	lp, err := f.runner.Index().ReadLatest(ctx, job.Keys(prefix).Latest())
	require.NoError(t, err)
	assert.Equal(t, "2024-11-05T00-00Z", lp.Latest.SlotKey)
}

func TestTick(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, activityOn(4), generate.Set{}, Config{})
	job := dailyJob()
	off := dailyJob(func(j *jobconfig.Job) { j.ID = "off"; no := false; j.Enabled = &no })

	out := f.runner.Tick(ctx, []*jobconfig.Job{job, off}, now)
	require.Len(t, out, 1)
	assert.True(t, out[0].Decision.Due)
	assert.Equal(t, "2024-11-05T00-00Z", out[0].Decision.SlotKey)
	require.Len(t, out[0].Results, 1)
	assert.Equal(t, StatusSuccess, out[0].Results[0].Status)

	out = f.runner.Tick(ctx, []*jobconfig.Job{job}, now.Add(6*time.Hour))
	require.Len(t, out, 1)
	assert.False(t, out[0].Decision.Due)
	assert.Equal(t, "2024-11-05T00-00Z", out[0].Decision.LastSlotKey)
	assert.Empty(t, out[0].Results)

	out = f.runner.Tick(ctx, []*jobconfig.Job{job}, now.Add(24*time.Hour))
	assert.True(t, out[0].Decision.Due)
	assert.Equal(t, "2024-11-06T00-00Z", out[0].Decision.SlotKey)
}

func TestRerun_FailureLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	gens := &switchGenerator{}
	f := newFixture(t, activityOn(4), generate.Set{Digest: gens}, Config{})
	job := dailyJob(func(j *jobconfig.Job) {
		j.Notify = &jobconfig.NotifyConfig{Webhook: "https://hooks.example/x", OnFailure: true}
	})
	sl := currentSlot(job)

	opts := DefaultOptions()
	opts.Notify = false
	require.Equal(t, StatusSuccess, f.runner.RunSlot(ctx, job, sl, opts).Status)
	before := f.snapshot(t)

	gens.fail.Store(true)
	ropts := DefaultOptions()
	res := f.runner.Rerun(ctx, job, sl, ropts)
	require.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "model overloaded")

	assert.Equal(t, before, f.snapshot(t))
	assert.Empty(t, f.notifier.sent, "no notification for a discarded rerun")

	last := f.ledger.runs[len(f.ledger.runs)-1]
	assert.Equal(t, ledger.ModeRerun, last.Mode)
	assert.Equal(t, "failed", last.Status)
}

func TestRerun_SuccessCommitsAndRemovesStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, activityOn(4), generate.Set{}, Config{})
	job := dailyJob(func(j *jobconfig.Job) {
		j.Notify = &jobconfig.NotifyConfig{Webhook: "https://hooks.example/x"}
	})
	sl := currentSlot(job)

	opts := DefaultOptions()
	opts.Notify = false
	first := f.runner.RunSlot(ctx, job, sl, opts)
	require.Equal(t, StatusSuccess, first.Status)

	job.Output.Format = "json"
	res := f.runner.Rerun(ctx, job, sl, DefaultOptions())
	require.Equal(t, StatusSuccess, res.Status, res.Error)

	base := "reports/org/acme/daily/2024-11-05T00-00Z"
	assert.Equal(t, []string{base + "/output.md"}, res.Removed)
	assert.Equal(t, "memory://"+base+"/output.json", res.OutputURI)

	keys, err := f.store.List(ctx, base+"/")
	require.NoError(t, err)
	assert.Equal(t, []string{base + "/manifest.json", base + "/output.json", base + "/summary.json"}, keys)

	m := f.readManifest(t, res.ManifestKey)
	assert.Equal(t, res.RunID, m.RunID)
	assert.Equal(t, base+"/output.json", m.Output.Key)

	items, err := f.runner.Index().ListItems(ctx, job.Keys(prefix).IndexBase())
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, notify.EventSucceeded, f.notifier.sent[0].Event)
	assert.Equal(t, res.OutputURI, f.notifier.sent[0].OutputURI)
}

func TestRerun_RecoversFailedSlot(t *testing.T) {
	ctx := context.Background()
	gens := &switchGenerator{}
	gens.fail.Store(true)
	f := newFixture(t, activityOn(4), generate.Set{Digest: gens}, Config{})
	job := dailyJob()
	sl := currentSlot(job)

	require.Equal(t, StatusFailed, f.runner.RunSlot(ctx, job, sl, DefaultOptions()).Status)
	assert.Equal(t, StatusSkipped, f.runner.RunSlot(ctx, job, sl, DefaultOptions()).Status)

	gens.fail.Store(false)
	res := f.runner.Rerun(ctx, job, sl, DefaultOptions())
	require.Equal(t, StatusSuccess, res.Status, res.Error)

	item, _, err := f.runner.Index().FindItem(ctx, job.Keys(prefix).IndexBase(), sl.Key)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, manifest.StatusSuccess, item.Status)
}

func TestDeleteSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, activityOn(3, 4), generate.Set{}, Config{})
	job := dailyJob(func(j *jobconfig.Job) { j.Backfill = 2 })
	for _, r := range f.runner.RunJob(ctx, job, now, DefaultOptions()) {
		require.Equal(t, StatusSuccess, r.Status)
	}

	out, err := f.runner.DeleteSlot(ctx, job, "2024-11-05T00-00Z")
	require.NoError(t, err)
	assert.True(t, out.IndexRemoved)
	assert.Len(t, out.Removed, 3)
	require.NotNil(t, out.Latest)
	assert.Equal(t, "2024-11-04T00-00Z", out.Latest.SlotKey)

	keys, err := f.store.List(ctx, "reports/org/acme/daily/2024-11-05T00-00Z/")
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = f.runner.DeleteSlot(ctx, job, "not-a-slot")
	assert.Error(t, err)
}

func TestNotifyOnFailureOnlyWhenAsked(t *testing.T) {
	ctx := context.Background()
	boom := activity.SourceFunc(func(context.Context, *jobconfig.Job, slot.Window) (*activity.Result, error) {
		return nil, errors.New("down")
	})
	for _, onFailure := range []bool{false, true} {
		t.Run(fmt.Sprintf("onFailure=%v", onFailure), func(t *testing.T) {
			f := newFixture(t, boom, generate.Set{}, Config{})
			job := dailyJob(func(j *jobconfig.Job) {
				j.Notify = &jobconfig.NotifyConfig{Webhook: "https://hooks.example/x", OnFailure: onFailure}
			})
			f.runner.RunSlot(ctx, job, currentSlot(job), DefaultOptions())
			if !onFailure {
				assert.Empty(t, f.notifier.sent)
				return
			}
			require.Len(t, f.notifier.sent, 1)
			assert.Equal(t, notify.EventFailed, f.notifier.sent[0].Event)
			assert.Contains(t, f.notifier.sent[0].Error, "down")
		})
	}
}

func TestRunSlot_SharedLocksAcrossRunners(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	locks := index.NewLocker()
	job := dailyJob(func(j *jobconfig.Job) { j.Backfill = 5 })

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		r, err := New(Deps{
			Store:   store,
			Sources: map[jobconfig.Kind]activity.Source{jobconfig.KindActivity: activityOn(1, 2, 3, 4)},
			Locks:   locks,
		}, Config{Prefix: prefix, Concurrency: 2, Now: func() time.Time { return now }}, nil)
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			opts := DefaultOptions()
			opts.Force = true
			r.RunJob(ctx, job, now, opts)
		}()
	}
	wg.Wait()

	items, err := index.New(store, nil, locks).ListItems(ctx, job.Keys(prefix).IndexBase())
	require.NoError(t, err)
	assert.Len(t, items, 5)
}

type switchGenerator struct {
	fail atomic.Bool
}

func (g *switchGenerator) Generate(ctx context.Context, in generate.Input) (*generate.Generation, error) {
	if g.fail.Load() {
		return nil, errors.New("model overloaded")
	}
	return generate.Digest{}.Generate(ctx, in)
}

// failingPutStore fails the next failures puts whose key ends in suffix.
type failingPutStore struct {
	*memory.Provider
	mu       sync.Mutex
	suffix   string
	failures int
}

func (s *failingPutStore) failNext(suffix string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suffix, s.failures = suffix, n
}

func (s *failingPutStore) Put(ctx context.Context, key string, body []byte, ct string) (*provider.PutResult, error) {
	s.mu.Lock()
	fail := s.failures > 0 && strings.HasSuffix(key, s.suffix)
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return nil, &provider.ProviderError{Op: "Put", Provider: provider.ProviderMemory, Key: key, Err: provider.ErrAccessDenied}
	}
	return s.Provider.Put(ctx, key, body, ct)
}

type settableGenerator struct{ text string }

func (g *settableGenerator) Generate(context.Context, generate.Input) (*generate.Generation, error) {
	return &generate.Generation{Text: g.text, ContentType: provider.ContentTypeMarkdown}, nil
}

func TestRunSlot_FailedPersistRollsBackOutput(t *testing.T) {
	ctx := context.Background()
	base := "reports/org/acme/daily/2024-11-05T00-00Z"
	outputKey := base + "/output.md"

	tests := []struct {
		name          string
		priorRun      bool
		failSuffix    string
		recordFailure bool
		wantOutput    string
		wantManifest  manifest.Status
	}{
		{"forced rerun restores previous output", true, "/manifest.json", false, "first", manifest.StatusSuccess},
		{"fresh slot leaves no output", false, "/manifest.json", false, "", ""},
		{"recorded failure drops output", false, "/summary.json", true, "", manifest.StatusFailed},
		{"recorded failure over success drops output", true, "/manifest.json", true, "", manifest.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &failingPutStore{Provider: memory.New()}
			gen := &settableGenerator{text: "first"}
			f := newFixtureWithStore(t, store.Provider, store, activityOn(4), generate.Set{Digest: gen}, Config{})
			job := dailyJob()
			sl := currentSlot(job)

			if tt.priorRun {
				require.Equal(t, StatusSuccess, f.runner.RunSlot(ctx, job, sl, DefaultOptions()).Status)
			}

			gen.text = "second"
			store.failNext(tt.failSuffix, 1)
			opts := DefaultOptions()
			opts.Force = true
			opts.RecordFailure = tt.recordFailure
			res := f.runner.RunSlot(ctx, job, sl, opts)
			require.Equal(t, StatusFailed, res.Status)
			assert.Empty(t, res.OutputKey)

			body, err := f.store.Get(ctx, outputKey)
			if tt.wantOutput == "" {
				assert.True(t, provider.IsNotFound(err), "output %s should be gone", outputKey)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantOutput, string(body))
			}

			ok, err := f.store.Exists(ctx, res.ManifestKey)
			require.NoError(t, err)
			if tt.wantManifest == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			m := f.readManifest(t, res.ManifestKey)
			assert.Equal(t, tt.wantManifest, m.Status)
			if m.Output != nil {
				assert.Equal(t, int64(len(body)), m.Output.Size, "manifest matches stored output")
			}
		})
	}
}
