// Package cmd implements the cadence command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/3leaps/cadence/internal/config"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// AppIdentity names the binary and its configuration surface.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

var appIdentity = &AppIdentity{
	BinaryName: "cadence",
	EnvPrefix:  config.EnvPrefix,
	ConfigName: config.AppName,
}

// GetAppIdentity returns the application identity.
func GetAppIdentity() *AppIdentity {
	return appIdentity
}

var (
	cfgFile   string
	jobsFile  string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "cadence",
	Short: "Scheduled repository activity reports",
	Long: `cadence runs recurring reporting jobs. Each job summarizes repository
activity for one schedule slot (an hour, day, week, month or year) into a
stored report with a manifest, a summary and a monthly index entry.

Jobs are defined in a jobs file (jobs.yaml by default). Application settings
come from cadence.yaml, CADENCE_* environment variables and flags.

Examples:
  cadence run acme-daily                  # current slot plus backfill
  cadence run acme-daily --at 2024-11-04  # the report for Nov 4
  cadence rerun acme-daily --at 2024-11-04
  cadence tick                            # every due job, once
  cadence daemon                          # tick on scheduler.tick
  cadence serve                           # read-only JSON API`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: ./cadence.yaml, then the user config directory)")
	pf.StringVar(&jobsFile, "jobs", "", "Jobs file (overrides jobs_file)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "", "Log format: console or json")
}

// Execute runs the root command and exits with the mapped exit code on
// failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// codedError carries a process exit code.
type codedError struct {
	code int
	msg  string
	err  error
}

func (e *codedError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s (exit code %d)", e.msg, e.code)
	}
	return fmt.Sprintf("%s: %v (exit code %d)", e.msg, e.err, e.code)
}

func (e *codedError) Unwrap() error { return e.err }

// exitError wraps err with a foundry exit code.
func exitError[C ~int](code C, msg string, err error) error {
	return &codedError{code: int(code), msg: msg, err: err}
}

func exitCode(err error) int {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 1
}

// flagOverrides turns root flags into config overrides.
func flagOverrides() map[string]any {
	o := map[string]any{}
	if jobsFile != "" {
		o["jobs_file"] = jobsFile
	}
	logging := map[string]any{}
	if logLevel != "" {
		logging["level"] = logLevel
	}
	if logFormat != "" {
		logging["format"] = logFormat
	}
	if len(logging) > 0 {
		o["logging"] = logging
	}
	return o
}
