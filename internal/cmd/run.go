package cmd

import (
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/cadence/pkg/ledger"
	"github.com/3leaps/cadence/pkg/output"
	"github.com/3leaps/cadence/pkg/runner"
)

var runCmd = &cobra.Command{
	Use:   "run <jobId>",
	Short: "Run a job for its current slot and backfill",
	Long: `Run a job now, regardless of whether its slot is due.

The slot containing --at (default: now) is run together with the preceding
slots up to the job's backfill. Backfill counts slots, not days: a monthly
job with --backfill 3 covers three months. Slots run oldest first.

A date-only --at names a calendar day's report: for daily schedules it
resolves to the slot covering that day. Other forms are YYYY-MM-DDTHH:MM
(job timezone) and RFC 3339.

Idempotent jobs skip slots that already have a manifest unless --force is
given. One JSONL record is written per slot, then a summary. The command
exits non-zero when any slot failed.

Examples:
  cadence run acme-daily
  cadence run acme-daily --at 2024-11-04
  cadence run acme-monthly --backfill 6 --force`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runAt          string
	runNotify      bool
	runForce       bool
	runBackfill    int
	runNoRecordErr bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runAt, "at", "", "Resolve the slot from this time instead of now")
	runCmd.Flags().BoolVar(&runNotify, "notify", false, "Send the job's webhook notification")
	runCmd.Flags().BoolVar(&runForce, "force", false, "Run slots that already have a manifest")
	runCmd.Flags().IntVar(&runBackfill, "backfill", 0, "Number of slots to run, newest first (0 = job setting)")
	runCmd.Flags().BoolVar(&runNoRecordErr, "no-record-failure", false, "Do not persist a failed manifest when a slot fails")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setup(cmd, setupOpts{ledger: true, runner: true})
	if err != nil {
		return err
	}
	defer a.close()

	job, err := a.job(args[0])
	if err != nil {
		return err
	}
	at, err := atFor(job, runAt)
	if err != nil {
		return err
	}
	if runBackfill < 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --backfill value", fmt.Errorf("backfill must be >= 0"))
	}
	if runBackfill > 0 {
		j := *job
		j.Backfill = runBackfill
		job = &j
	}

	opts := runner.Options{
		Force:         runForce,
		RecordFailure: !runNoRecordErr,
		Notify:        runNotify,
		Mode:          ledger.ModeManual,
	}

	start := time.Now()
	a.logger.Info("Running job",
		zap.String("job_id", job.ID),
		zap.Time("at", at),
		zap.Int("backfill", job.Backfill),
		zap.Bool("force", runForce),
	)
	results := a.runner.RunJob(ctx, job, at, opts)

	w := output.NewJSONLWriter(cmd.OutOrStdout(), a.invocationID, a.storeName)
	defer func() { _ = w.Close() }()
	sum := &output.SummaryRecord{Jobs: 1}
	failed, err := writeResults(ctx, w, results, ledger.ModeManual, sum)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	if err := w.WriteSummary(ctx, finishSummary(sum, start)); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	if ctx.Err() != nil {
		return exitError(foundry.ExitSignalInt, "run cancelled", ctx.Err())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d slots failed", failed, len(results))
	}
	return nil
}
