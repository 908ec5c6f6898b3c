package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/cadence/pkg/ledger"
)

var historyCmd = &cobra.Command{
	Use:   "history [jobId]",
	Short: "Show recorded run attempts",
	Long: `Show run attempts from the local run ledger, newest first. Every
attempt is recorded, including skipped slots and reruns that were discarded,
so the ledger answers "what happened" where the index only answers "what is
stored".

Examples:
  cadence history
  cadence history acme-daily --status failed --since 168h
  cadence history --stats`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

var (
	historySlot   string
	historyStatus string
	historySince  time.Duration
	historyLimit  int
	historyStats  bool
	historyJSON   bool
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historySlot, "slot", "", "Only attempts for this slot key")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "Only attempts with this status (success|failed|skipped)")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "Only attempts started within this duration")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum attempts (0 = all)")
	historyCmd.Flags().BoolVar(&historyStats, "stats", false, "Show counts per status instead of attempts")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setup(cmd, setupOpts{ledger: true})
	if err != nil {
		return err
	}
	defer a.close()
	if a.ledger == nil {
		return exitError(foundry.ExitFileNotFound, "Run ledger is not available", fmt.Errorf("ledger.enabled is false or %s cannot be opened", a.cfg.Ledger.Path))
	}

	f := ledger.Filter{SlotKey: historySlot, Status: historyStatus, Limit: historyLimit}
	if len(args) == 1 {
		f.JobID = args[0]
	}
	if historySince > 0 {
		f.Since = time.Now().Add(-historySince)
	}

	if historyStats {
		st, err := a.ledger.Stats(ctx, f)
		if err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to read run ledger", err)
		}
		if historyJSON {
			return writeJSON(cmd.OutOrStdout(), st)
		}
		return writeStatsTable(cmd.OutOrStdout(), st)
	}

	runs, err := a.ledger.List(ctx, f)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read run ledger", err)
	}
	if historyJSON {
		if runs == nil {
			runs = []ledger.Run{}
		}
		return writeJSON(cmd.OutOrStdout(), runs)
	}
	return writeRunsTable(cmd.OutOrStdout(), runs)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeRunsTable(out io.Writer, runs []ledger.Run) error {
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(out, "No runs recorded")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STARTED\tJOB ID\tSLOT\tMODE\tSTATUS\tDURATION\tERROR")
	for _, r := range runs {
		errText := r.Error
		if errText == "" {
			errText = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%dms\t%s\n",
			r.StartedAt.Local().Format(time.DateTime), r.JobID, r.SlotKey, r.Mode, r.Status, r.DurationMs, errText)
	}
	return w.Flush()
}

func writeStatsTable(out io.Writer, st *ledger.Stats) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	statuses := make([]string, 0, len(st.ByStatus))
	for s := range st.ByStatus {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	_, _ = fmt.Fprintln(w, "STATUS\tRUNS")
	for _, s := range statuses {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", s, st.ByStatus[s])
	}
	_, _ = fmt.Fprintf(w, "total\t%d\n", st.Total)
	if !st.LastRunAt.IsZero() {
		_, _ = fmt.Fprintf(w, "last run\t%s\n", st.LastRunAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}
