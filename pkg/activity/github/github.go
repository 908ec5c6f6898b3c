// Package github fetches repository activity from the GitHub REST API
// through go-github.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	gh "github.com/google/go-github/v66/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/3leaps/cadence/pkg/activity"
	"github.com/3leaps/cadence/pkg/jobconfig"
	"github.com/3leaps/cadence/pkg/match"
	"github.com/3leaps/cadence/pkg/retry"
	"github.com/3leaps/cadence/pkg/slot"
)

const (
	DefaultBaseURL     = "https://api.github.com"
	DefaultConcurrency = 4
	perPage            = 100
)

// Config configures the client.
type Config struct {
	// BaseURL is the API root. GitHub Enterprise uses https://host/api/v3.
	BaseURL string

	// Token is a personal access or app installation token. Empty means
	// unauthenticated requests (60/hour).
	Token string

	// RateLimit caps requests per second. Zero disables client-side
	// limiting.
	RateLimit float64

	// Concurrency bounds repositories fetched in parallel.
	Concurrency int

	Retry retry.Policy

	// HTTPClient is used as the oauth2 base transport client.
	HTTPClient *http.Client
}

// Source implements activity.Source.
type Source struct {
	client      *gh.Client
	limiter     *rate.Limiter
	policy      retry.Policy
	concurrency int
	logger      *zap.Logger
}

var _ activity.Source = (*Source)(nil)

// New returns a GitHub activity source. A nil logger discards.
func New(cfg Config, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}

	ctx := context.Background()
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}
	client := cfg.HTTPClient
	if cfg.Token != "" {
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	api := gh.NewClient(client)
	if u, err := url.Parse(base + "/"); err == nil {
		api.BaseURL = u
	}

	s := &Source{
		client:      api,
		policy:      cfg.Retry,
		concurrency: cfg.Concurrency,
		logger:      logger,
	}
	if s.concurrency <= 0 {
		s.concurrency = DefaultConcurrency
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return s
}

// StatusError is a non-2xx API response.
type StatusError struct {
	Code int
	URL  string
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("github %s: status %d: %s", e.URL, e.Code, e.Body)
}

// ErrRateLimited marks responses rejected by the API rate limit.
var ErrRateLimited = errors.New("github rate limit exceeded")

// Fetch lists commits, pull requests and issues created inside window for
// every repository in the job's scope.
func (s *Source) Fetch(ctx context.Context, job *jobconfig.Job, window slot.Window) (*activity.Result, error) {
	repos, err := s.resolveRepos(ctx, job)
	if err != nil {
		return nil, err
	}
	authors, err := match.New(match.Config{Excludes: job.Scope.ExcludeAuthors})
	if err != nil {
		return nil, fmt.Errorf("exclude authors: %w", err)
	}

	var mu sync.Mutex
	var all []activity.Item

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, repo := range repos {
		g.Go(func() error {
			items, err := s.fetchRepo(gctx, repo, window)
			if err != nil {
				return fmt.Errorf("%s: %w", repo, err)
			}
			mu.Lock()
			all = append(all, items...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &activity.Result{Meta: activity.Meta{Total: len(all)}}
	for _, it := range all {
		if it.Author != "" && !authors.Match(it.Author) {
			res.Meta.Excluded++
			continue
		}
		res.Items = append(res.Items, it)
	}
	res.Meta.Filtered = len(res.Items)
	sort.SliceStable(res.Items, func(i, j int) bool {
		a, b := res.Items[i], res.Items[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.Repo != b.Repo {
			return a.Repo < b.Repo
		}
		return a.URL < b.URL
	})

	s.logger.Debug("github fetch complete",
		zap.String("job_id", job.ID),
		zap.Int("repos", len(repos)),
		zap.Int("items", res.Meta.Filtered),
		zap.Int("excluded", res.Meta.Excluded))
	return res, nil
}

// resolveRepos returns the full names in scope. When every include pattern
// is a literal the owner listing is skipped.
func (s *Source) resolveRepos(ctx context.Context, job *jobconfig.Job) ([]string, error) {
	includes := qualify(job.Owner, job.Scope.Repos)
	m, err := match.New(match.Config{Includes: includes, Excludes: qualify(job.Owner, job.Scope.Exclude)})
	if err != nil {
		return nil, fmt.Errorf("repo scope: %w", err)
	}

	literal := len(includes) > 0
	for _, p := range includes {
		if !match.IsLiteral(p) {
			literal = false
			break
		}
	}
	if literal {
		out := m.Filter(includes)
		sort.Strings(out)
		return out, nil
	}

	keep := func(r *gh.Repository) bool {
		if (r.GetFork() && !job.Scope.IncludeForks) || (r.GetArchived() && !job.Scope.IncludeArchived) {
			return false
		}
		return m.Match(r.GetFullName())
	}

	var out []string
	list := gh.ListOptions{PerPage: perPage}
	for {
		var page []*gh.Repository
		resp, err := s.call(ctx, func(ctx context.Context) (res *gh.Response, err error) {
			if job.OwnerType == "user" {
				page, res, err = s.client.Repositories.ListByUser(ctx, job.Owner, &gh.RepositoryListByUserOptions{Type: "all", ListOptions: list})
			} else {
				page, res, err = s.client.Repositories.ListByOrg(ctx, job.Owner, &gh.RepositoryListByOrgOptions{Type: "all", ListOptions: list})
			}
			return res, err
		})
		if err != nil {
			return nil, err
		}
		for _, r := range page {
			if keep(r) {
				out = append(out, r.GetFullName())
			}
		}
		if resp.NextPage == 0 {
			break
		}
		list.Page = resp.NextPage
	}
	sort.Strings(out)
	return out, nil
}

// qualify prefixes bare repository patterns with the owner.
func qualify(owner string, patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			p = owner + "/" + p
		}
		out = append(out, p)
	}
	return out
}

func (s *Source) fetchRepo(ctx context.Context, repo string, w slot.Window) ([]activity.Item, error) {
	owner, name, _ := strings.Cut(repo, "/")
	var items []activity.Item

	copts := &gh.CommitsListOptions{
		Since:       w.Start.UTC(),
		Until:       w.End.UTC(),
		ListOptions: gh.ListOptions{PerPage: perPage},
	}
	for {
		var page []*gh.RepositoryCommit
		resp, err := s.call(ctx, func(ctx context.Context) (res *gh.Response, err error) {
			page, res, err = s.client.Repositories.ListCommits(ctx, owner, name, copts)
			return res, err
		})
		if err != nil {
			var serr *StatusError
			// An empty repository answers 409.
			if errors.As(err, &serr) && serr.Code == http.StatusConflict {
				break
			}
			return nil, err
		}
		for _, c := range page {
			at := c.GetCommit().GetCommitter().GetDate().Time
			if !inWindow(at, w) {
				continue
			}
			author := c.GetCommit().GetAuthor().GetName()
			if login := c.GetAuthor().GetLogin(); login != "" {
				author = login
			}
			items = append(items, activity.Item{
				Kind:      activity.KindCommit,
				Repo:      repo,
				Author:    author,
				Title:     firstLine(c.GetCommit().GetMessage()),
				URL:       c.GetHTMLURL(),
				CreatedAt: at.UTC(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		copts.Page = resp.NextPage
	}

	iopts := &gh.IssueListByRepoOptions{
		Since:       w.Start.UTC(),
		State:       "all",
		Sort:        "created",
		Direction:   "asc",
		ListOptions: gh.ListOptions{PerPage: perPage},
	}
	for {
		var page []*gh.Issue
		resp, err := s.call(ctx, func(ctx context.Context) (res *gh.Response, err error) {
			page, res, err = s.client.Issues.ListByRepo(ctx, owner, name, iopts)
			return res, err
		})
		if err != nil {
			return nil, err
		}
		for _, is := range page {
			created := is.GetCreatedAt().Time
			if !inWindow(created, w) {
				continue
			}
			it := activity.Item{
				Kind:      activity.KindIssue,
				Repo:      repo,
				Author:    is.GetUser().GetLogin(),
				Title:     is.GetTitle(),
				URL:       is.GetHTMLURL(),
				Number:    is.GetNumber(),
				State:     is.GetState(),
				CreatedAt: created.UTC(),
			}
			if is.IsPullRequest() {
				it.Kind = activity.KindPullRequest
				if pr := is.GetPullRequestLinks(); pr.MergedAt != nil {
					it.State = "merged"
				}
			}
			items = append(items, it)
		}
		if resp.NextPage == 0 {
			break
		}
		iopts.Page = resp.NextPage
	}
	return items, nil
}

func inWindow(t time.Time, w slot.Window) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// call runs one API request under the rate limiter and retry policy.
func (s *Source) call(ctx context.Context, fn func(ctx context.Context) (*gh.Response, error)) (*gh.Response, error) {
	var resp *gh.Response
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return retry.Permanent(err)
			}
		}
		res, err := fn(ctx)
		if err != nil {
			return classify(err)
		}
		resp = res
		return nil
	})
	return resp, err
}

// classify maps go-github errors onto rate limiting, retryable server
// failures and permanent client failures.
func classify(err error) error {
	var (
		rl    *gh.RateLimitError
		abuse *gh.AbuseRateLimitError
		er    *gh.ErrorResponse
	)
	switch {
	case errors.As(err, &rl), errors.As(err, &abuse):
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	case errors.As(err, &er) && er.Response != nil:
		serr := &StatusError{Code: er.Response.StatusCode, Body: er.Message}
		if er.Response.Request != nil {
			serr.URL = er.Response.Request.URL.Path
		}
		switch {
		case serr.Code == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w", ErrRateLimited, serr)
		case serr.Code >= 500:
			return serr
		default:
			return retry.Permanent(serr)
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return retry.Permanent(err)
	default:
		return err
	}
}
