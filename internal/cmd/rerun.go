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
	"github.com/3leaps/cadence/pkg/slot"
)

var rerunCmd = &cobra.Command{
	Use:   "rerun <jobId> --at <time>",
	Short: "Regenerate one slot without exposing a failed attempt",
	Long: `Regenerate the slot containing --at.

Every write of the attempt is buffered. A successful attempt replaces the
slot's manifest, summary, output and index entry, and removes objects the
new attempt did not produce (an output in an old format, say). A failed
attempt leaves the stored slot exactly as it was.

Examples:
  cadence rerun acme-daily --at 2024-11-04
  cadence rerun acme-weekly --at 2024-11-11T09:00 --notify`,
	Args: cobra.ExactArgs(1),
	RunE: runRerun,
}

var (
	rerunAt     string
	rerunNotify bool
)

func init() {
	rootCmd.AddCommand(rerunCmd)

	rerunCmd.Flags().StringVar(&rerunAt, "at", "", "Time inside the slot to regenerate (required)")
	rerunCmd.Flags().BoolVar(&rerunNotify, "notify", false, "Send the job's webhook notification after a commit")
	_ = rerunCmd.MarkFlagRequired("at")
}

func runRerun(cmd *cobra.Command, args []string) error {
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
	at, err := atFor(job, rerunAt)
	if err != nil {
		return err
	}
	sl := slot.Current(at, job.Schedule, job.Location())

	start := time.Now()
	a.logger.Info("Rerunning slot", zap.String("job_id", job.ID), zap.String("slot_key", sl.Key))
	res := a.runner.Rerun(ctx, job, sl, runner.Options{Notify: rerunNotify})

	w := output.NewJSONLWriter(cmd.OutOrStdout(), a.invocationID, a.storeName)
	defer func() { _ = w.Close() }()
	sum := &output.SummaryRecord{Jobs: 1}
	if _, err := writeResults(ctx, w, []runner.Result{res}, ledger.ModeRerun, sum); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	if err := w.WriteSummary(ctx, finishSummary(sum, start)); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	if res.Failed() {
		return fmt.Errorf("rerun of %s %s failed: %s", job.ID, sl.Key, res.Error)
	}
	return nil
}
