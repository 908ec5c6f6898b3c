package cmd

import (
	"fmt"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
)

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		v := crucible.GetVersion()
		info := map[string]string{
			"version":   versionInfo.Version,
			"commit":    versionInfo.Commit,
			"buildDate": versionInfo.BuildDate,
			"go":        runtime.Version(),
			"gofulmen":  v.Gofulmen,
			"crucible":  v.Crucible,
		}
		if versionJSON {
			return writeJSON(cmd.OutOrStdout(), info)
		}
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "%s %s\n", GetAppIdentity().BinaryName, versionInfo.Version)
		_, _ = fmt.Fprintf(out, "  commit:     %s\n", versionInfo.Commit)
		_, _ = fmt.Fprintf(out, "  built:      %s\n", versionInfo.BuildDate)
		_, _ = fmt.Fprintf(out, "  go:         %s\n", runtime.Version())
		_, _ = fmt.Fprintf(out, "  gofulmen:   %s\n", v.Gofulmen)
		_, _ = fmt.Fprintf(out, "  crucible:   %s\n", v.Crucible)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "Output as JSON")
}
