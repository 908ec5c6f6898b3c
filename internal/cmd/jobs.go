package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/cadence/pkg/index"
	"github.com/3leaps/cadence/pkg/jobregistry"
	"github.com/3leaps/cadence/pkg/slot"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List configured jobs with their recorded state",
	Long: `List every job in the jobs file with its schedule, the current slot,
whether that slot is due according to the latest pointer, and the state recorded in the owner's job
registry (total runs, last status, last slot).

Examples:
  cadence jobs
  cadence jobs --json`,
	Args: cobra.NoArgs,
	RunE: runJobs,
}

var jobsJSON bool

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.Flags().BoolVar(&jobsJSON, "json", false, "Output as JSON")
}

// JobStatus joins a job definition with its recorded state.
type JobStatus struct {
	JobID    string             `json:"jobId"`
	Owner    string             `json:"owner"`
	Kind     string             `json:"kind"`
	Enabled  bool               `json:"enabled"`
	Schedule string             `json:"schedule"`
	Timezone string             `json:"timezone"`
	Decision slot.Decision      `json:"decision"`
	Registry *jobregistry.Entry `json:"registry,omitempty"`
}

func runJobs(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := setup(cmd, setupOpts{})
	if err != nil {
		return err
	}
	defer a.close()

	reg := jobregistry.NewStore(a.store, a.cfg.Storage.Prefix, nil)
	ix := index.New(a.store, a.logger, nil)
	entries := map[string]map[string]jobregistry.Entry{}
	now := time.Now()

	out := make([]JobStatus, 0, len(a.jobs.Jobs))
	for i := range a.jobs.Jobs {
		job := &a.jobs.Jobs[i]
		owner := job.OwnerType + "/" + job.Owner
		if _, ok := entries[owner]; !ok {
			list, err := reg.List(ctx, job.OwnerType, job.Owner)
			if err != nil {
				return exitError(foundry.ExitExternalServiceUnavailable, "Failed to read job registry", err)
			}
			entries[owner] = make(map[string]jobregistry.Entry, len(list))
			for _, e := range list {
				entries[owner][e.JobID] = e
			}
		}
		st := JobStatus{
			JobID:    job.ID,
			Owner:    owner,
			Kind:     string(job.Kind),
			Enabled:  job.IsEnabled(),
			Schedule: job.Schedule.String(),
			Timezone: job.Timezone,
		}
		if e, ok := entries[owner][job.ID]; ok {
			st.Registry = &e
		}
		lp, err := ix.ReadLatest(ctx, job.Keys(a.cfg.Storage.Prefix).Latest())
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to read latest pointer", err)
		}
		last := ""
		if lp != nil {
			last = lp.Latest.SlotKey
		}
		st.Decision = slot.IsDue(job.Schedule, now, job.Location(), last)
		out = append(out, st)
	}

	if jobsJSON {
		return writeJSON(cmd.OutOrStdout(), out)
	}
	return writeJobsTable(cmd.OutOrStdout(), out)
}

func writeJobsTable(out io.Writer, jobs []JobStatus) error {
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(out, "No jobs defined")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "JOB ID\tOWNER\tKIND\tSCHEDULE\tCURRENT SLOT\tDUE\tRUNS\tLAST STATUS\tLAST SLOT")
	for _, j := range jobs {
		runs, status, last := "0", "-", "-"
		if j.Registry != nil {
			runs = fmt.Sprintf("%d", j.Registry.TotalRuns)
			status = j.Registry.LastStatus
			if j.Registry.LastSlotKey != "" {
				last = j.Registry.LastSlotKey
			}
		}
		due := fmt.Sprintf("%t", j.Decision.Due)
		if !j.Enabled {
			due = "disabled"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			j.JobID, j.Owner, j.Kind, j.Schedule, j.Decision.SlotKey, due, runs, status, last)
	}
	return w.Flush()
}
