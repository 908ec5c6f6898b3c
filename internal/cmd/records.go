package cmd

import (
	"context"
	"time"

	"github.com/3leaps/cadence/pkg/ledger"
	"github.com/3leaps/cadence/pkg/output"
	"github.com/3leaps/cadence/pkg/runner"
)

func slotRecord(res runner.Result, mode ledger.Mode) *output.SlotRecord {
	return &output.SlotRecord{
		JobID:       res.JobID,
		SlotKey:     res.SlotKey,
		Status:      string(res.Status),
		Reason:      res.Reason,
		Error:       res.Error,
		RunID:       res.RunID,
		Mode:        string(mode),
		Empty:       res.Empty,
		ManifestKey: res.ManifestKey,
		OutputKey:   res.OutputKey,
		OutputSize:  res.OutputSize,
		DurationMs:  res.DurationMs,
	}
}

// writeResults emits one slot record per result and adds them to sum.
func writeResults(ctx context.Context, w output.Writer, results []runner.Result, mode ledger.Mode, sum *output.SummaryRecord) (failed int, err error) {
	for _, res := range results {
		sum.Add(string(res.Status))
		if res.Failed() {
			failed++
		}
		if err := w.WriteSlot(ctx, slotRecord(res, mode)); err != nil {
			return failed, err
		}
	}
	return failed, nil
}

func finishSummary(sum *output.SummaryRecord, start time.Time) *output.SummaryRecord {
	sum.Duration = time.Since(start)
	sum.DurationHuman = sum.Duration.Round(time.Millisecond).String()
	return sum
}
