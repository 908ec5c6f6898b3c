package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/cadence/pkg/index"
	"github.com/3leaps/cadence/pkg/manifest"
	"github.com/3leaps/cadence/pkg/output"
	"github.com/3leaps/cadence/pkg/storekey"
)

var listCmd = &cobra.Command{
	Use:   "list <jobId>",
	Short: "List a job's indexed slots",
	Long: `List the index entries of a job, newest first.

Examples:
  cadence list acme-daily
  cadence list acme-daily --status failed --output table
  cadence list acme-daily --period 2024-11`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

var (
	listStatus string
	listPeriod string
	listLimit  int
	listOutput string
)

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&listStatus, "status", "", "Only entries with this status (success|failed)")
	listCmd.Flags().StringVar(&listPeriod, "period", "", "Only entries of this month (YYYY-MM)")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum entries (0 = all)")
	listCmd.Flags().StringVar(&listOutput, "output", "jsonl", "Output format (jsonl|table)")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if listOutput != "jsonl" && listOutput != "table" {
		return exitError(foundry.ExitInvalidArgument, "Invalid --output value", fmt.Errorf("expected jsonl or table"))
	}
	if listLimit < 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid --limit value", fmt.Errorf("limit must be >= 0"))
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
	keys := job.Keys(a.cfg.Storage.Prefix)
	ix := index.New(a.store, a.logger, nil)

	items, err := ix.ListItems(ctx, keys.IndexBase())
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to read index", err)
	}
	loc := job.Location()
	periodOf := func(it manifest.IndexItem) string { return storekey.Period(it.Window.Start, loc) }
	selected := filterItems(items, manifest.Status(listStatus), listPeriod, periodOf, listLimit)

	if listOutput == "table" {
		return writeItemsTable(cmd.OutOrStdout(), selected)
	}
	w := output.NewJSONLWriter(cmd.OutOrStdout(), a.invocationID, a.storeName)
	defer func() { _ = w.Close() }()
	for _, it := range selected {
		raw, err := json.Marshal(it.item)
		if err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to encode index item", err)
		}
		if err := w.WriteIndex(ctx, &output.IndexRecord{Period: it.period, Item: raw}); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
	}
	return nil
}

type periodItem struct {
	period string
	item   manifest.IndexItem
}

// filterItems walks items (oldest first) newest first, keeping those that
// match status and period, up to limit.
func filterItems(items []manifest.IndexItem, status manifest.Status, period string, periodOf func(manifest.IndexItem) string, limit int) []periodItem {
	out := []periodItem{}
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		if status != "" && it.Status != status {
			continue
		}
		p := periodOf(it)
		if period != "" && p != period {
			continue
		}
		out = append(out, periodItem{period: p, item: it})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func writeItemsTable(out io.Writer, items []periodItem) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SLOT\tSTATUS\tEMPTY\tSIZE\tDURATION\tMANIFEST")
	for _, it := range items {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%dms\t%s\n",
			it.item.SlotKey, it.item.Status, it.item.Empty, it.item.OutputSize, it.item.DurationMs, it.item.ManifestKey)
	}
	return w.Flush()
}
