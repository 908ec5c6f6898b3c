package cmd

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/cadence/pkg/jobconfig"
	"github.com/3leaps/cadence/pkg/ledger"
	"github.com/3leaps/cadence/pkg/output"
	"github.com/3leaps/cadence/pkg/runner"
)

var tickCmd = &cobra.Command{
	Use:   "tick [job-pattern...]",
	Short: "Run every job whose current slot is due",
	Long: `Run each selected job whose current slot has not been recorded yet.

A job is due when its latest pointer names an older slot than the one
containing now, or when it has never run. Due jobs run with their backfill,
so missed slots are caught up. Patterns are glob patterns over job ids
(acme-*, **-weekly); none selects every enabled job.

Failures are reported per slot and never stop other jobs; the command exits
zero unless the configuration is invalid.

Examples:
  cadence tick
  cadence tick 'acme-*'`,
	RunE: runTick,
}

var tickAt string

func init() {
	rootCmd.AddCommand(tickCmd)
	tickCmd.Flags().StringVar(&tickAt, "at", "", "Evaluate schedules at this RFC 3339 time instead of now")
}

func runTick(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setup(cmd, setupOpts{ledger: true, runner: true})
	if err != nil {
		return err
	}
	defer a.close()

	jobs, err := a.jobs.Select(args)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid job selection", err)
	}
	now := time.Now()
	if tickAt != "" {
		if now, err = time.Parse(time.RFC3339, tickAt); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --at value", err)
		}
	}

	w := output.NewJSONLWriter(cmd.OutOrStdout(), a.invocationID, a.storeName)
	defer func() { _ = w.Close() }()
	if err := tickOnce(ctx, a.runner, jobs, now, w, a.logger); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return nil
}

// tickOnce runs one scheduling pass and reports it to w.
func tickOnce(ctx context.Context, r *runner.Runner, jobs []*jobconfig.Job, now time.Time, w output.Writer, logger *zap.Logger) error {
	start := time.Now()
	ticks := r.Tick(ctx, jobs, now)

	sum := &output.SummaryRecord{Jobs: len(jobs)}
	due := 0
	for _, t := range ticks {
		if t.Error != "" {
			if err := w.WriteError(ctx, &output.ErrorRecord{
				Code:    output.ErrCodeInternal,
				Message: t.Error,
				JobID:   t.JobID,
				SlotKey: t.Decision.SlotKey,
			}); err != nil {
				return err
			}
			continue
		}
		if t.Decision.Due {
			due++
		}
		if _, err := writeResults(ctx, w, t.Results, ledger.ModeScheduled, sum); err != nil {
			return err
		}
	}
	logger.Info("Tick complete",
		zap.Int("jobs", len(jobs)),
		zap.Int("due", due),
		zap.Int("success", sum.Success),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped),
	)
	return w.WriteSummary(ctx, finishSummary(sum, start))
}
