package activity

import (
	"sort"
	"strings"
)

// Stats are totals across a rollup.
type Stats struct {
	Repos        int `json:"repos"`
	Commits      int `json:"commits"`
	PullRequests int `json:"pullRequests"`
	Issues       int `json:"issues"`
	Contributors int `json:"contributors"`
}

// RepoStats are per-repository counts.
type RepoStats struct {
	Repo         string `json:"repo"`
	Commits      int    `json:"commits"`
	PullRequests int    `json:"pullRequests"`
	Issues       int    `json:"issues"`
	Contributors int    `json:"contributors"`
}

// ContributorStats are per-login counts.
type ContributorStats struct {
	Login        string `json:"login"`
	Commits      int    `json:"commits"`
	PullRequests int    `json:"pullRequests"`
	Issues       int    `json:"issues"`
}

// Rollup is the aggregated view of a set of items.
type Rollup struct {
	Stats        Stats              `json:"stats"`
	Repos        []RepoStats        `json:"repos,omitempty"`
	Contributors []ContributorStats `json:"contributors,omitempty"`
}

// Empty reports whether the rollup counts nothing.
func (r Rollup) Empty() bool {
	return r.Stats.Commits == 0 && r.Stats.PullRequests == 0 && r.Stats.Issues == 0
}

// Summarize aggregates items per repository and per contributor.
func Summarize(items []Item) Rollup {
	repos := map[string]*RepoStats{}
	repoAuthors := map[string]map[string]struct{}{}
	people := map[string]*ContributorStats{}

	for _, it := range items {
		rs := repos[it.Repo]
		if rs == nil {
			rs = &RepoStats{Repo: it.Repo}
			repos[it.Repo] = rs
			repoAuthors[it.Repo] = map[string]struct{}{}
		}
		var cs *ContributorStats
		if it.Author != "" {
			key := strings.ToLower(it.Author)
			cs = people[key]
			if cs == nil {
				cs = &ContributorStats{Login: it.Author}
				people[key] = cs
			}
			repoAuthors[it.Repo][key] = struct{}{}
		}
		add(rs, cs, it.Kind, 1)
	}

	out := Rollup{}
	for name, rs := range repos {
		rs.Contributors = len(repoAuthors[name])
		out.Repos = append(out.Repos, *rs)
	}
	for _, cs := range people {
		out.Contributors = append(out.Contributors, *cs)
	}
	out.finish()
	return out
}

func add(rs *RepoStats, cs *ContributorStats, kind Kind, n int) {
	switch kind {
	case KindCommit:
		rs.Commits += n
		if cs != nil {
			cs.Commits += n
		}
	case KindPullRequest:
		rs.PullRequests += n
		if cs != nil {
			cs.PullRequests += n
		}
	case KindIssue:
		rs.Issues += n
		if cs != nil {
			cs.Issues += n
		}
	}
}

// Merge sums rollups. Per-repo contributor counts take the maximum seen,
// since distinct logins cannot be recovered from counts alone.
func Merge(rs ...Rollup) Rollup {
	repos := map[string]*RepoStats{}
	people := map[string]*ContributorStats{}

	for _, r := range rs {
		for _, s := range r.Repos {
			cur := repos[s.Repo]
			if cur == nil {
				cp := s
				repos[s.Repo] = &cp
				continue
			}
			cur.Commits += s.Commits
			cur.PullRequests += s.PullRequests
			cur.Issues += s.Issues
			if s.Contributors > cur.Contributors {
				cur.Contributors = s.Contributors
			}
		}
		for _, c := range r.Contributors {
			key := strings.ToLower(c.Login)
			cur := people[key]
			if cur == nil {
				cp := c
				people[key] = &cp
				continue
			}
			cur.Commits += c.Commits
			cur.PullRequests += c.PullRequests
			cur.Issues += c.Issues
		}
	}

	out := Rollup{}
	for _, s := range repos {
		out.Repos = append(out.Repos, *s)
	}
	for _, c := range people {
		out.Contributors = append(out.Contributors, *c)
	}
	out.finish()
	return out
}

// finish sorts entries by activity and recomputes totals.
func (r *Rollup) finish() {
	sort.Slice(r.Repos, func(i, j int) bool {
		a, b := r.Repos[i], r.Repos[j]
		if ta, tb := a.Commits+a.PullRequests+a.Issues, b.Commits+b.PullRequests+b.Issues; ta != tb {
			return ta > tb
		}
		return a.Repo < b.Repo
	})
	sort.Slice(r.Contributors, func(i, j int) bool {
		a, b := r.Contributors[i], r.Contributors[j]
		if ta, tb := a.Commits+a.PullRequests+a.Issues, b.Commits+b.PullRequests+b.Issues; ta != tb {
			return ta > tb
		}
		return a.Login < b.Login
	})

	r.Stats = Stats{Repos: len(r.Repos), Contributors: len(r.Contributors)}
	for _, s := range r.Repos {
		r.Stats.Commits += s.Commits
		r.Stats.PullRequests += s.PullRequests
		r.Stats.Issues += s.Issues
	}
}
