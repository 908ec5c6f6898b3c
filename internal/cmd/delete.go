package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/cadence/pkg/slot"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <jobId> (--slot <slotKey> | --at <time>)",
	Short: "Delete one slot's reports and index entry",
	Long: `Delete a slot: its index entry is removed and the latest pointer rebuilt
first, then every object under the slot's report base.

Examples:
  cadence delete acme-daily --slot 2024-11-05T00-00Z
  cadence delete acme-daily --at 2024-11-04 --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

var (
	deleteSlotKey string
	deleteAt      string
	deleteYes     bool
)

func init() {
	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().StringVar(&deleteSlotKey, "slot", "", "Slot key (YYYY-MM-DDTHH-MMZ)")
	deleteCmd.Flags().StringVar(&deleteAt, "at", "", "Time inside the slot to delete")
	deleteCmd.Flags().BoolVar(&deleteYes, "yes", false, "Confirm the deletion")
	deleteCmd.MarkFlagsMutuallyExclusive("slot", "at")
	deleteCmd.MarkFlagsOneRequired("slot", "at")
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if !deleteYes {
		return exitError(foundry.ExitInvalidArgument, "Refusing to delete without --yes", fmt.Errorf("pass --yes to confirm"))
	}
	a, err := setup(cmd, setupOpts{runner: true})
	if err != nil {
		return err
	}
	defer a.close()

	job, err := a.job(args[0])
	if err != nil {
		return err
	}
	key := deleteSlotKey
	if key == "" {
		at, err := atFor(job, deleteAt)
		if err != nil {
			return err
		}
		key = slot.Current(at, job.Schedule, job.Location()).Key
	} else if _, err := slot.ParseSlotKey(key); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --slot value", err)
	}

	res, err := a.runner.DeleteSlot(ctx, job, key)
	if err != nil {
		a.logger.Error("Delete failed", zap.String("job_id", job.ID), zap.String("slot_key", key), zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to delete slot", err)
	}
	return writeJSON(cmd.OutOrStdout(), res)
}
