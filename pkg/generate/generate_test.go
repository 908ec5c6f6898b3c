package generate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/cadence/pkg/activity"
	"github.com/3leaps/cadence/pkg/jobconfig"
	"github.com/3leaps/cadence/pkg/retry"
	"github.com/3leaps/cadence/pkg/slot"
)

func testInput(t *testing.T, format string) Input {
	t.Helper()
	f := &jobconfig.File{Jobs: []jobconfig.Job{{
		ID:       "acme-daily",
		Owner:    "acme",
		Schedule: slot.Schedule{Type: slot.Daily},
		Output:   jobconfig.OutputConfig{Format: format},
	}}}
	f.ApplyDefaults()
	job := &f.Jobs[0]

	sl := slot.Current(time.Date(2024, 11, 3, 0, 30, 0, 0, time.UTC), job.Schedule, time.UTC)
	at := sl.Window.Start.Add(time.Hour)
	res := &activity.Result{Items: []activity.Item{
		{Kind: activity.KindCommit, Repo: "acme/web", Author: "ana", CreatedAt: at},
		{Kind: activity.KindCommit, Repo: "acme/web", Author: "bo", CreatedAt: at},
		{Kind: activity.KindPullRequest, Repo: "acme/api", Author: "ana", Number: 7, Title: "Add slots", State: "merged", CreatedAt: at},
		{Kind: activity.KindIssue, Repo: "acme/api", Author: "cy", Number: 9, Title: "Crash on DST", State: "open", CreatedAt: at},
	}}
	return Input{Job: job, Slot: sl, Result: res, Rollup: res.Rollup()}
}

func TestDigest_Markdown(t *testing.T) {
	in := testInput(t, "markdown")
	gen, err := Digest{}.Generate(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "text/markdown; charset=utf-8", gen.ContentType)
	assert.Nil(t, gen.Usage)
	assert.True(t, strings.HasPrefix(gen.Text, "# acme-daily (2024-11-03T00-00Z)\n"))
	assert.Contains(t, gen.Text, "- Commits: 2\n")
	assert.Contains(t, gen.Text, "| acme/web | 2 | 0 | 0 | 2 |")
	assert.Contains(t, gen.Text, "- acme/api#7 Add slots (@ana) [merged]")
	assert.Contains(t, gen.Text, "## Issues")

	again, err := Digest{}.Generate(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, gen.Text, again.Text, "digest must be deterministic")
}

func TestDigest_JSONAndText(t *testing.T) {
	gen, err := Digest{}.Generate(context.Background(), testInput(t, "json"))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(gen.Text), &doc))
	assert.Equal(t, "2024-11-03T00-00Z", doc["slotKey"])
	assert.Len(t, doc["items"], 4)

	gen, err = Digest{}.Generate(context.Background(), testInput(t, "text"))
	require.NoError(t, err)
	assert.Contains(t, gen.Text, "repos=2 commits=2 prs=1 issues=1 contributors=3")
}

func TestDigest_IncludedReportsAreDemoted(t *testing.T) {
	in := testInput(t, "markdown")
	in.Result = &activity.Result{Reports: []activity.Report{{SlotKey: "2024-11-02T00-00Z", Text: "# Day\n\nquiet"}}}
	gen, err := Digest{}.Generate(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, gen.Text, "### 2024-11-02T00-00Z\n\n### Day\n\nquiet")
}

func TestPlaceholder(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"markdown", "# acme-daily (2024-11-03T00-00Z)\n\nNo activity since 2024-11-02 00:00.\n"},
		{"text", "acme-daily (2024-11-03T00-00Z): no activity since 2024-11-02 00:00.\n"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			assert.Equal(t, tt.want, Placeholder(testInput(t, tt.format)).Text)
		})
	}
	js := Placeholder(testInput(t, "json"))
	assert.JSONEq(t, `{"jobId":"acme-daily","slotKey":"2024-11-03T00-00Z","empty":true}`, js.Text)
}

func TestSet_For(t *testing.T) {
	in := testInput(t, "markdown")
	set := Set{}

	g, err := set.For(in.Job)
	require.NoError(t, err)
	assert.IsType(t, Digest{}, g)

	in.Job.Output.Generator = NameLLM
	_, err = set.For(in.Job)
	assert.ErrorContains(t, err, "not configured")

	in.Job.Output.Generator = "magic"
	_, err = set.For(in.Job)
	assert.ErrorContains(t, err, "unknown generator")
}

func TestOpenAI_Generate(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = io.WriteString(w, `{"model":"gpt-x","choices":[{"message":{"role":"assistant","content":"A busy day."}}],
			"usage":{"prompt_tokens":100,"completion_tokens":5,"total_tokens":105}}`)
	}))
	defer srv.Close()

	g, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "default-model", MaxTokens: 300})
	require.NoError(t, err)

	in := testInput(t, "markdown")
	in.Job.Output.Prompt = "Be brief."
	in.Job.Output.Model = "job-model"

	gen, err := g.Generate(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "A busy day.\n", gen.Text)
	require.NotNil(t, gen.Usage)
	assert.Equal(t, "gpt-x", gen.Usage.Model)
	assert.Equal(t, 105, gen.Usage.TotalTokens)

	assert.Equal(t, "job-model", got.Model)
	assert.Equal(t, 300, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "Be brief.", got.Messages[0].Content)
	assert.Contains(t, got.Messages[1].Content, "- Commits: 2")
}

func TestOpenAI_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	g, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, Model: "m", Retry: retry.Policy{MaxAttempts: 3, Initial: time.Millisecond}})
	require.NoError(t, err)

	gen, err := g.Generate(context.Background(), testInput(t, "markdown"))
	require.NoError(t, err)
	assert.Equal(t, "ok\n", gen.Text)
	assert.Equal(t, "m", gen.Usage.Model)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenAI_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	g, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, Model: "m", Retry: retry.Policy{MaxAttempts: 3, Initial: time.Millisecond}})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), testInput(t, "markdown"))
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusUnauthorized, serr.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewOpenAI_Validation(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{Model: "m"})
	assert.Error(t, err)
	_, err = NewOpenAI(OpenAIConfig{BaseURL: "http://x"})
	assert.Error(t, err)
}
