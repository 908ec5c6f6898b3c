package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/3leaps/cadence/pkg/activity"
	"github.com/3leaps/cadence/pkg/provider"
)

// maxListed caps item lists in rendered digests.
const maxListed = 25

// Digest renders activity without a model. Output is a pure function of
// its input.
type Digest struct{}

func (Digest) Generate(ctx context.Context, in Input) (*Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch in.Job.Output.Format {
	case "json":
		b, err := digestJSON(in)
		if err != nil {
			return nil, err
		}
		return &Generation{Text: string(b), ContentType: provider.ContentTypeJSON}, nil
	case "text":
		return &Generation{Text: digestText(in), ContentType: provider.ContentTypeText}, nil
	default:
		return &Generation{Text: DigestMarkdown(in), ContentType: provider.ContentTypeMarkdown}, nil
	}
}

// Placeholder is the artifact written for an empty slot under the
// placeholder policy.
func Placeholder(in Input) *Generation {
	local := in.Slot.Window.Start.In(in.Job.Location()).Format("2006-01-02 15:04")
	switch in.Job.Output.Format {
	case "json":
		b, _ := json.Marshal(map[string]any{
			"jobId":   in.Job.ID,
			"slotKey": in.Slot.Key,
			"empty":   true,
		})
		return &Generation{Text: string(b) + "\n", ContentType: provider.ContentTypeJSON}
	case "text":
		return &Generation{
			Text:        fmt.Sprintf("%s: no activity since %s.\n", title(in), local),
			ContentType: provider.ContentTypeText,
		}
	default:
		return &Generation{
			Text:        fmt.Sprintf("# %s\n\nNo activity since %s.\n", title(in), local),
			ContentType: provider.ContentTypeMarkdown,
		}
	}
}

func title(in Input) string {
	return fmt.Sprintf("%s (%s)", in.Job.Name, in.Slot.Key)
}

// DigestMarkdown renders the markdown digest. The LLM generator uses it as
// model context.
func DigestMarkdown(in Input) string {
	var b strings.Builder
	loc := in.Job.Location()
	st := in.Rollup.Stats

	fmt.Fprintf(&b, "# %s\n\n", title(in))
	fmt.Fprintf(&b, "%s to %s (%s)\n\n",
		in.Slot.Window.Start.In(loc).Format("2006-01-02 15:04"),
		in.Slot.Window.End.In(loc).Format("2006-01-02 15:04"),
		in.Job.Timezone)
	fmt.Fprintf(&b, "- Repositories: %d\n- Commits: %d\n- Pull requests: %d\n- Issues: %d\n- Contributors: %d\n",
		st.Repos, st.Commits, st.PullRequests, st.Issues, st.Contributors)

	if len(in.Rollup.Repos) > 0 {
		b.WriteString("\n## Repositories\n\n| Repository | Commits | PRs | Issues | Contributors |\n|---|---|---|---|---|\n")
		for i, r := range in.Rollup.Repos {
			if i == maxListed {
				fmt.Fprintf(&b, "| ... %d more | | | | |\n", len(in.Rollup.Repos)-maxListed)
				break
			}
			fmt.Fprintf(&b, "| %s | %d | %d | %d | %d |\n", r.Repo, r.Commits, r.PullRequests, r.Issues, r.Contributors)
		}
	}
	if len(in.Rollup.Contributors) > 0 {
		b.WriteString("\n## Contributors\n\n")
		for i, c := range in.Rollup.Contributors {
			if i == maxListed {
				fmt.Fprintf(&b, "- ... %d more\n", len(in.Rollup.Contributors)-maxListed)
				break
			}
			fmt.Fprintf(&b, "- %s: %d commits, %d PRs, %d issues\n", c.Login, c.Commits, c.PullRequests, c.Issues)
		}
	}

	if in.Result != nil {
		if prs := itemsOf(in.Result.Items, activity.KindPullRequest); len(prs) > 0 {
			b.WriteString("\n## Pull requests\n\n")
			writeItems(&b, prs)
		}
		if issues := itemsOf(in.Result.Items, activity.KindIssue); len(issues) > 0 {
			b.WriteString("\n## Issues\n\n")
			writeItems(&b, issues)
		}
		if len(in.Result.Reports) > 0 {
			b.WriteString("\n## Included reports\n")
			for _, r := range in.Result.Reports {
				fmt.Fprintf(&b, "\n### %s\n\n%s\n", r.SlotKey, strings.TrimSpace(demote(r.Text)))
			}
		}
	}
	return b.String()
}

func digestText(in Input) string {
	st := in.Rollup.Stats
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", title(in))
	fmt.Fprintf(&b, "repos=%d commits=%d prs=%d issues=%d contributors=%d\n",
		st.Repos, st.Commits, st.PullRequests, st.Issues, st.Contributors)
	for i, r := range in.Rollup.Repos {
		if i == maxListed {
			break
		}
		fmt.Fprintf(&b, "  %s commits=%d prs=%d issues=%d\n", r.Repo, r.Commits, r.PullRequests, r.Issues)
	}
	return b.String()
}

type jsonDigest struct {
	JobID   string              `json:"jobId"`
	SlotKey string              `json:"slotKey"`
	Window  any                 `json:"window"`
	Rollup  activity.Rollup     `json:"rollup"`
	Items   []activity.Item     `json:"items,omitempty"`
	Reports []activity.Report   `json:"reports,omitempty"`
	Source  *activity.SourceRef `json:"source,omitempty"`
}

func digestJSON(in Input) ([]byte, error) {
	d := jsonDigest{
		JobID:   in.Job.ID,
		SlotKey: in.Slot.Key,
		Window:  in.Slot.Window,
		Rollup:  in.Rollup,
	}
	if in.Result != nil {
		d.Items = sortedItems(in.Result.Items)
		d.Reports = in.Result.Reports
		d.Source = in.Result.Source
	}
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render json digest: %w", err)
	}
	return append(b, '\n'), nil
}

func itemsOf(items []activity.Item, kind activity.Kind) []activity.Item {
	var out []activity.Item
	for _, it := range items {
		if it.Kind == kind {
			out = append(out, it)
		}
	}
	return sortedItems(out)
}

func sortedItems(items []activity.Item) []activity.Item {
	out := append([]activity.Item(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		if out[i].Repo != out[j].Repo {
			return out[i].Repo < out[j].Repo
		}
		return out[i].Number < out[j].Number
	})
	return out
}

func writeItems(b *strings.Builder, items []activity.Item) {
	for i, it := range items {
		if i == maxListed {
			fmt.Fprintf(b, "- ... %d more\n", len(items)-maxListed)
			return
		}
		ref := it.Repo
		if it.Number > 0 {
			ref = fmt.Sprintf("%s#%d", it.Repo, it.Number)
		}
		line := fmt.Sprintf("- %s %s", ref, it.Title)
		if it.Author != "" {
			line += " (@" + it.Author + ")"
		}
		if it.State != "" {
			line += " [" + it.State + "]"
		}
		b.WriteString(strings.TrimRight(line, " ") + "\n")
	}
}

// demote pushes markdown headings of an embedded report two levels down.
func demote(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if strings.HasPrefix(l, "#") {
			lines[i] = "##" + l
		}
	}
	return strings.Join(lines, "\n")
}
