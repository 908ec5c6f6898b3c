package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/cadence/pkg/jobconfig"
	"github.com/3leaps/cadence/pkg/output"
	"github.com/3leaps/cadence/pkg/slot"
)

var slotsCmd = &cobra.Command{
	Use:   "slots <jobId>",
	Short: "Preview the slots a run would cover",
	Long: `List the slots a run at --at (default: now) would cover, newest first,
without running anything. --check also reports whether each slot already
has a manifest.

Examples:
  cadence slots acme-daily --count 7
  cadence slots acme-monthly --at 2024-03-01 --output table --check`,
	Args: cobra.ExactArgs(1),
	RunE: runSlots,
}

var (
	slotsAt     string
	slotsCount  int
	slotsCheck  bool
	slotsOutput string
)

func init() {
	rootCmd.AddCommand(slotsCmd)
	slotsCmd.Flags().StringVar(&slotsAt, "at", "", "Resolve slots from this time instead of now")
	slotsCmd.Flags().IntVar(&slotsCount, "count", 0, "Number of slots (0 = job backfill)")
	slotsCmd.Flags().BoolVar(&slotsCheck, "check", false, "Report whether each slot has a manifest")
	slotsCmd.Flags().StringVar(&slotsOutput, "output", "jsonl", "Output format (jsonl|table)")
}

func runSlots(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if slotsOutput != "jsonl" && slotsOutput != "table" {
		return exitError(foundry.ExitInvalidArgument, "Invalid --output value", fmt.Errorf("expected jsonl or table"))
	}
	a, err := setup(cmd, setupOpts{})
	if err != nil {
		return err
	}
	defer a.close()

	job, err := a.job(args[0])
	if err != nil {
		return err
	}
	at, err := atFor(job, slotsAt)
	if err != nil {
		return err
	}
	count := slotsCount
	if count <= 0 {
		count = job.Backfill
	}

	recs := previewSlots(job, at, count)
	if slotsCheck {
		keys := job.Keys(a.cfg.Storage.Prefix)
		for _, rec := range recs {
			ok, err := a.store.Exists(ctx, keys.ForSlot(rec.SlotKey).Manifest)
			if err != nil {
				return exitError(foundry.ExitExternalServiceUnavailable, "Failed to check manifest", err)
			}
			rec.Exists = &ok
		}
	}

	if slotsOutput == "table" {
		return writeSlotsTable(cmd.OutOrStdout(), recs)
	}
	w := output.NewJSONLWriter(cmd.OutOrStdout(), a.invocationID, a.storeName)
	defer func() { _ = w.Close() }()
	for _, rec := range recs {
		if err := w.WritePreview(ctx, rec); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	return nil
}

func previewSlots(job *jobconfig.Job, at time.Time, count int) []*output.PreviewRecord {
	loc := job.Location()
	slots := slot.ListSlots(at, job.Schedule, loc, count)
	out := make([]*output.PreviewRecord, 0, len(slots))
	for _, sl := range slots {
		out = append(out, &output.PreviewRecord{
			JobID:       job.ID,
			SlotKey:     sl.Key,
			SlotType:    string(sl.Type),
			WindowStart: sl.Window.Start,
			WindowEnd:   sl.Window.End,
			Local:       sl.Window.Start.In(loc).Format("2006-01-02 15:04") + " - " + sl.Window.End.In(loc).Format("2006-01-02 15:04 MST"),
		})
	}
	return out
}

func writeSlotsTable(out io.Writer, recs []*output.PreviewRecord) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SLOT\tTYPE\tWINDOW (LOCAL)\tHOURS\tEXISTS")
	for _, r := range recs {
		exists := "-"
		if r.Exists != nil {
			exists = fmt.Sprintf("%t", *r.Exists)
		}
		hours := r.WindowEnd.Sub(r.WindowStart).Hours()
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%g\t%s\n", r.SlotKey, r.SlotType, r.Local, hours, exists)
	}
	return w.Flush()
}
