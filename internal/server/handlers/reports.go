package handlers

import (
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/3leaps/cadence/internal/server/httperr"
	"github.com/3leaps/cadence/pkg/index"
	"github.com/3leaps/cadence/pkg/jobregistry"
	"github.com/3leaps/cadence/pkg/manifest"
	"github.com/3leaps/cadence/pkg/provider"
	"github.com/3leaps/cadence/pkg/slot"
	"github.com/3leaps/cadence/pkg/storekey"
)

var segmentRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Reports serves persisted artifacts read-only.
type Reports struct {
	store    provider.Store
	index    *index.Maintainer
	registry *jobregistry.Store
	prefix   string
	logger   *zap.Logger
}

// NewReports returns handlers over store, with keys under prefix.
func NewReports(store provider.Store, prefix string, logger *zap.Logger) *Reports {
	if logger == nil {
		logger = zap.NewNop()
	}
	locks := index.NewLocker()
	return &Reports{
		store:    store,
		index:    index.New(store, logger, locks),
		registry: jobregistry.NewStore(store, prefix, locks),
		prefix:   prefix,
		logger:   logger,
	}
}

// Mount registers the routes on r.
func (h *Reports) Mount(r chi.Router) {
	r.Route("/v1/{ownerType}/{owner}", func(r chi.Router) {
		r.Get("/jobs", h.Jobs)
		r.Route("/{jobId}", func(r chi.Router) {
			r.Get("/latest", h.Latest)
			r.Get("/index", h.Index)
			r.Get("/index/{period}", h.Month)
			r.Get("/slots/{slotKey}/manifest", h.Manifest)
			r.Get("/slots/{slotKey}/summary", h.Summary)
			r.Get("/slots/{slotKey}/output", h.Output)
		})
	})
}

func (h *Reports) owner(w http.ResponseWriter, r *http.Request) (ownerType, owner string, ok bool) {
	ownerType, owner = chi.URLParam(r, "ownerType"), chi.URLParam(r, "owner")
	if !segmentRe.MatchString(ownerType) || !segmentRe.MatchString(owner) {
		httperr.BadRequest(w, r, "invalid owner")
		return "", "", false
	}
	return ownerType, owner, true
}

func (h *Reports) job(w http.ResponseWriter, r *http.Request) (storekey.Job, bool) {
	ownerType, owner, ok := h.owner(w, r)
	if !ok {
		return storekey.Job{}, false
	}
	jobID := chi.URLParam(r, "jobId")
	if !segmentRe.MatchString(jobID) {
		httperr.BadRequest(w, r, "invalid job id")
		return storekey.Job{}, false
	}
	return storekey.Job{Prefix: h.prefix, OwnerType: ownerType, Owner: owner, JobID: jobID}, true
}

func (h *Reports) slotKeys(w http.ResponseWriter, r *http.Request) (storekey.Slot, bool) {
	job, ok := h.job(w, r)
	if !ok {
		return storekey.Slot{}, false
	}
	key := chi.URLParam(r, "slotKey")
	if _, err := slot.ParseSlotKey(key); err != nil {
		httperr.BadRequest(w, r, "invalid slot key")
		return storekey.Slot{}, false
	}
	return job.ForSlot(key), true
}

func (h *Reports) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("read failed", zap.String("path", r.URL.Path), zap.Error(err))
	httperr.Internal(w, r)
}

// Jobs serves the owner's job registry.
func (h *Reports) Jobs(w http.ResponseWriter, r *http.Request) {
	ownerType, owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	reg, err := h.registry.Get(r.Context(), ownerType, owner)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if reg == nil || len(reg.Jobs) == 0 {
		httperr.NotFound(w, r, "no jobs recorded for owner")
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// Latest serves the latest pointer.
func (h *Reports) Latest(w http.ResponseWriter, r *http.Request) {
	job, ok := h.job(w, r)
	if !ok {
		return
	}
	lp, err := h.index.ReadLatest(r.Context(), job.Latest())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if lp == nil {
		httperr.NotFound(w, r, "no runs recorded")
		return
	}
	writeJSON(w, http.StatusOK, lp)
}

// IndexResponse lists index items newest first.
type IndexResponse struct {
	Periods []string             `json:"periods"`
	Items   []manifest.IndexItem `json:"items"`
}

// Index serves every index item. Query parameters: status filters by run
// status, limit caps the number of items.
func (h *Reports) Index(w http.ResponseWriter, r *http.Request) {
	job, ok := h.job(w, r)
	if !ok {
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			httperr.BadRequest(w, r, "invalid limit")
			return
		}
		limit = n
	}
	status := manifest.Status(strings.TrimSpace(r.URL.Query().Get("status")))

	periods, err := h.index.ListMonths(r.Context(), job.IndexBase())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items, err := h.index.ListItems(r.Context(), job.IndexBase())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := IndexResponse{Periods: periods, Items: make([]manifest.IndexItem, 0, len(items))}
	for i := len(items) - 1; i >= 0; i-- {
		if status != "" && items[i].Status != status {
			continue
		}
		out.Items = append(out.Items, items[i])
		if limit > 0 && len(out.Items) == limit {
			break
		}
	}
	if out.Periods == nil {
		out.Periods = []string{}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out.Periods)))
	writeJSON(w, http.StatusOK, out)
}

// Month serves one monthly index file.
func (h *Reports) Month(w http.ResponseWriter, r *http.Request) {
	job, ok := h.job(w, r)
	if !ok {
		return
	}
	period := chi.URLParam(r, "period")
	if _, err := time.Parse("2006-01", period); err != nil {
		httperr.BadRequest(w, r, "invalid period, want YYYY-MM")
		return
	}
	mf, err := h.index.ReadMonth(r.Context(), storekey.MonthIndex(job.IndexBase(), period))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if mf == nil {
		httperr.NotFound(w, r, "no index for period")
		return
	}
	writeJSON(w, http.StatusOK, mf)
}

// Manifest serves a slot's manifest as stored.
func (h *Reports) Manifest(w http.ResponseWriter, r *http.Request) {
	keys, ok := h.slotKeys(w, r)
	if !ok {
		return
	}
	h.raw(w, r, keys.Manifest, provider.ContentTypeJSON)
}

// Summary serves a slot's summary as stored.
func (h *Reports) Summary(w http.ResponseWriter, r *http.Request) {
	keys, ok := h.slotKeys(w, r)
	if !ok {
		return
	}
	h.raw(w, r, keys.Summary, provider.ContentTypeJSON)
}

// Output serves the artifact the slot's manifest names.
func (h *Reports) Output(w http.ResponseWriter, r *http.Request) {
	keys, ok := h.slotKeys(w, r)
	if !ok {
		return
	}
	data, err := provider.GetOptional(r.Context(), h.store, keys.Manifest)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if data == nil {
		httperr.NotFound(w, r, "no manifest for slot")
		return
	}
	m, err := manifest.Decode(data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if m.Output == nil {
		httperr.NotFound(w, r, "slot has no output")
		return
	}
	h.raw(w, r, m.Output.Key, contentTypeFor(m.Output.Format))
}

func (h *Reports) raw(w http.ResponseWriter, r *http.Request, key, contentType string) {
	data, err := provider.GetOptional(r.Context(), h.store, key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if data == nil {
		httperr.NotFound(w, r, "not found")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func contentTypeFor(format string) string {
	switch format {
	case "json":
		return provider.ContentTypeJSON
	case "text":
		return provider.ContentTypeText
	default:
		return provider.ContentTypeMarkdown
	}
}
